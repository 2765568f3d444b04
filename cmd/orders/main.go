package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	_ "github.com/lib/pq"
	rd "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/ecohaat/internal/auth"
	"github.com/joao-fontenele/ecohaat/internal/config"
	"github.com/joao-fontenele/ecohaat/internal/discount"
	"github.com/joao-fontenele/ecohaat/internal/idempotency"
	"github.com/joao-fontenele/ecohaat/internal/messaging"
	"github.com/joao-fontenele/ecohaat/internal/notify"
	"github.com/joao-fontenele/ecohaat/internal/orders"
	"github.com/joao-fontenele/ecohaat/internal/telemetry"
)

const serviceName = "orders"

func main() {
	var cfg config.Orders
	if err := config.Load(&cfg); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.OTLPEndpoint, serviceName, cfg.ServiceVersion)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(serviceName, cfg.ServiceVersion)
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(context.Background()) }()

	db, err := telemetry.OpenDB(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Error("invalid ORDER_TIMEZONE", "timezone", cfg.Timezone, "error", err)
		os.Exit(1)
	}

	var publisher messaging.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		producer := messaging.NewProducer(cfg.KafkaBrokers, cfg.NotificationTopic)
		defer func() { _ = producer.Close() }()
		publisher = producer
	} else {
		logger.Warn("KAFKA_BROKERS not set, notification emails are disabled")
	}

	notifyRepo := notify.NewRepository(db)
	dispatcher, err := notify.NewDispatcher(notifyRepo, publisher, logger, cfg.NotifyQueueSize, cfg.NotifyWorkers)
	if err != nil {
		logger.Error("failed to create notification dispatcher", "error", err)
		os.Exit(1)
	}
	// The dispatcher outlives ctx so notifications queued by requests still
	// draining during shutdown are delivered.
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	defer stopDispatch()
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		dispatcher.Run(dispatchCtx)
	}()

	service, err := orders.NewService(
		orders.NewOrderRepository(db),
		dispatcher,
		logger,
		orders.WithDiscounts(discount.NewValidator(discount.NewRepository(db))),
		orders.WithTimeout(cfg.TransitionTimeout),
		orders.WithLocation(loc),
	)
	if err != nil {
		logger.Error("failed to create order service", "error", err)
		os.Exit(1)
	}

	authn := auth.NewAuthenticator(cfg.JWTSecret)
	middleware := []func(http.Handler) http.Handler{authn.Middleware}

	if cfg.RedisURL != "" {
		opts, err := rd.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb := rd.NewClient(opts)
		defer func() { _ = rdb.Close() }()

		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, idempotency keys will be ignored until it recovers", "error", err)
		}

		store := idempotency.NewRedisStore(rdb, 2*cfg.TransitionTimeout)
		middleware = append(middleware, idempotency.Middleware(store, idempotency.DefaultTTL, logger))
	} else {
		logger.Warn("REDIS_URL not set, Idempotency-Key headers are ignored")
	}
	middleware = append(middleware, telemetry.WithHTTPRoute)

	mux := http.NewServeMux()
	orders.NewHandler(service, logger).Register(mux, middleware...)

	inbox := notify.NewHandler(notifyRepo, logger)
	mux.Handle("GET /api/notifications", authn.Middleware(telemetry.WithHTTPRoute(http.HandlerFunc(inbox.HandleList))))
	mux.Handle("POST /api/notifications/{id}/read", authn.Middleware(telemetry.WithHTTPRoute(http.HandlerFunc(inbox.HandleMarkRead))))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("GET /metrics", metricsHandler)

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: otelhttp.NewHandler(mux, serviceName,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting orders service", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	stopDispatch()
	<-dispatchDone
}
