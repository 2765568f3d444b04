package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	rd "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/ecohaat/internal/auth"
	"github.com/joao-fontenele/ecohaat/internal/config"
	"github.com/joao-fontenele/ecohaat/internal/discount"
	"github.com/joao-fontenele/ecohaat/internal/mailer"
	"github.com/joao-fontenele/ecohaat/internal/otp"
	"github.com/joao-fontenele/ecohaat/internal/telemetry"
)

const serviceName = "api"

func main() {
	var cfg config.API
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

	opts, err := rd.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := rd.NewClient(opts)
	defer func() { _ = rdb.Close() }()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	sender, err := mailer.NewSender(cfg.SMTP, logger)
	if err != nil {
		logger.Error("failed to create mail sender", "error", err)
		os.Exit(1)
	}
	renderer := mailer.NewRenderer(cfg.FrontendURL)

	mailHandler := mailer.NewHandler(sender, mailer.NewRepository(db), renderer, cfg.AdminEmails, cfg.BroadcastLimit, logger)
	discountHandler := discount.NewHandler(discount.NewRepository(db), logger)
	otpHandler := otp.NewHandler(otp.NewService(otp.NewRedisStore(rdb), sender, renderer, cfg.OTPTTL, logger), logger)

	authn := auth.NewAuthenticator(cfg.JWTSecret)

	mux := http.NewServeMux()
	public := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, telemetry.WithHTTPRoute(h))
	}
	authed := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, authn.Middleware(telemetry.WithHTTPRoute(h)))
	}
	admin := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, authn.Middleware(auth.RequireAdmin(telemetry.WithHTTPRoute(h))))
	}

	public("POST /api/auth/send-otp", otpHandler.HandleSend)
	public("POST /api/auth/verify-otp", otpHandler.HandleVerify)
	public("POST /api/discount/validate", discountHandler.HandleValidate)
	public("POST /api/newsletter/subscribe", mailHandler.HandleSubscribe)

	authed("POST /api/discount/apply", discountHandler.HandleApply)

	admin("POST /api/notifications/order-status", mailHandler.HandleBuyerOrderStatus)
	admin("POST /api/notifications/seller/order-status", mailHandler.HandleSellerOrderStatus)
	admin("POST /api/notifications/seller/payout", mailHandler.HandleSellerPayout)
	admin("POST /api/notifications/admin/order-status", mailHandler.HandleAdminOrderStatus)
	admin("POST /api/notifications/admin/send", mailHandler.HandleAdminSend)
	admin("POST /api/newsletter/broadcast", mailHandler.HandleBroadcast)
	admin("GET /api/newsletter/subscribers/count", mailHandler.HandleSubscriberCount)

	admin("GET /api/admin/discounts", discountHandler.HandleList)
	admin("POST /api/admin/discounts", discountHandler.HandleCreate)
	admin("GET /api/admin/discounts/{id}", discountHandler.HandleGet)
	admin("PUT /api/admin/discounts/{id}", discountHandler.HandleUpdate)
	admin("DELETE /api/admin/discounts/{id}", discountHandler.HandleDelete)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := rdb.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
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
		ReadTimeout: 10 * time.Second,
		// newsletter broadcasts can run long
		WriteTimeout: 2 * time.Minute,
	}

	go func() {
		logger.Info("starting api service", "port", cfg.Port)
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
		os.Exit(1)
	}
}
