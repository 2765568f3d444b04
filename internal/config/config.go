package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Telemetry struct {
	OTLPEndpoint   string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4317"`
	ServiceVersion string `envconfig:"SERVICE_VERSION" default:"0.1.0"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
}

type Orders struct {
	Telemetry
	Port              string        `envconfig:"PORT" default:"8081"`
	PostgresURL       string        `envconfig:"POSTGRES_URL" required:"true"`
	RedisURL          string        `envconfig:"REDIS_URL"`
	KafkaBrokers      []string      `envconfig:"KAFKA_BROKERS"`
	NotificationTopic string        `envconfig:"NOTIFICATION_TOPIC" default:"notification.requested"`
	JWTSecret         string        `envconfig:"JWT_SECRET" required:"true"`
	TransitionTimeout time.Duration `envconfig:"TRANSITION_TIMEOUT" default:"5s"`
	Timezone          string        `envconfig:"ORDER_TIMEZONE" default:"Asia/Dhaka"`
	NotifyQueueSize   int           `envconfig:"NOTIFY_QUEUE_SIZE" default:"256"`
	NotifyWorkers     int           `envconfig:"NOTIFY_WORKERS" default:"4"`
}

type SMTP struct {
	Host     string `envconfig:"SMTP_HOST"`
	Port     int    `envconfig:"SMTP_PORT" default:"587"`
	Username string `envconfig:"SMTP_USER"`
	Password string `envconfig:"SMTP_PASS"`
	From     string `envconfig:"SMTP_FROM" default:"EcoHaat <no-reply@ecohaat.com>"`
}

type API struct {
	Telemetry
	SMTP
	Port           string        `envconfig:"PORT" default:"8082"`
	PostgresURL    string        `envconfig:"POSTGRES_URL" required:"true"`
	RedisURL       string        `envconfig:"REDIS_URL" required:"true"`
	JWTSecret      string        `envconfig:"JWT_SECRET" required:"true"`
	AdminEmails    []string      `envconfig:"ADMIN_EMAILS"`
	FrontendURL    string        `envconfig:"FRONTEND_URL" default:"http://localhost:5173"`
	OTPTTL         time.Duration `envconfig:"OTP_TTL" default:"5m"`
	BroadcastLimit int           `envconfig:"BROADCAST_CONCURRENCY" default:"8"`
}

type Worker struct {
	Telemetry
	KafkaBrokers      []string      `envconfig:"KAFKA_BROKERS" required:"true"`
	NotificationTopic string        `envconfig:"NOTIFICATION_TOPIC" default:"notification.requested"`
	GroupID           string        `envconfig:"KAFKA_GROUP_ID" default:"notification-worker"`
	APIServiceURL     string        `envconfig:"API_SERVICE_URL" required:"true"`
	InternalToken     string        `envconfig:"WORKER_TOKEN" required:"true"`
	HTTPTimeout       time.Duration `envconfig:"HTTP_TIMEOUT" default:"10s"`
}

type Gateway struct {
	Telemetry
	Port             string `envconfig:"PORT" default:"8080"`
	OrdersServiceURL string `envconfig:"ORDERS_SERVICE_URL" required:"true"`
	APIServiceURL    string `envconfig:"API_SERVICE_URL" required:"true"`
}

type Migrate struct {
	PostgresURL    string `envconfig:"POSTGRES_URL" required:"true"`
	MigrationsPath string `envconfig:"MIGRATIONS_PATH" default:"file://migrations"`
}

// Load fills cfg from the environment after merging an optional .env file.
func Load(cfg any) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	if err := envconfig.Process("", cfg); err != nil {
		return fmt.Errorf("process env: %w", err)
	}
	return nil
}

func (t Telemetry) Level() slog.Level {
	switch strings.ToLower(t.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
