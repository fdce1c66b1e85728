package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq" // postgres driver
	"github.com/soheilhy/cmux"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/nyashahama/dinnerhelp-backend/internal/api"
	"github.com/nyashahama/dinnerhelp-backend/internal/auth"
	"github.com/nyashahama/dinnerhelp-backend/internal/cache"
	"github.com/nyashahama/dinnerhelp-backend/internal/config"
	"github.com/nyashahama/dinnerhelp-backend/internal/db"
	"github.com/nyashahama/dinnerhelp-backend/internal/email"
	"github.com/nyashahama/dinnerhelp-backend/internal/events"
	"github.com/nyashahama/dinnerhelp-backend/internal/notify"
	"github.com/nyashahama/dinnerhelp-backend/internal/payments"
	"github.com/nyashahama/dinnerhelp-backend/internal/push"
	"github.com/nyashahama/dinnerhelp-backend/internal/store"
	stripeinternal "github.com/nyashahama/dinnerhelp-backend/internal/stripe"
	"github.com/nyashahama/dinnerhelp-backend/internal/telemetry"
	"github.com/nyashahama/dinnerhelp-backend/internal/worker"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// ── Config ────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("fatal", "error", err)
		os.Exit(1)
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// JSON in production, pretty text in development.
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("config loaded", "env", cfg.Env, "port", cfg.Port, "version", version)

	// Root context cancelled by OS signal. Worker and servers all respect it.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Tracing ───────────────────────────────────────────────────────────────
	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("telemetry: shutdown", "error", err)
		}
	}()
	if cfg.OTLPEndpoint != "" {
		logger.Info("tracing: exporting spans", "endpoint", cfg.OTLPEndpoint)
	}

	// ── Database ──────────────────────────────────────────────────────────────
	pool, err := openDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()
	queries := db.New(pool)
	logger.Info("database connected")

	// ── Store (atomic multi-step writes) ──────────────────────────────────────
	st := store.New(pool, queries)

	// ── Stripe ────────────────────────────────────────────────────────────────
	stripeClient := stripeinternal.NewClient(cfg.StripeSecretKey, stripeinternal.Options{
		CallTimeout: cfg.StripeTimeout,
		MaxAttempts: cfg.StripeMaxAttempts,
	})

	// ── Email ─────────────────────────────────────────────────────────────────
	// Postmark is primary. SendGrid takes over when SENDGRID_API_KEY is set.
	var mailer email.Sender = email.NewPostmarkClient(cfg.PostmarkServerToken, cfg.EmailFromAddr, cfg.EmailFromName)
	if cfg.SendGridAPIKey != "" {
		secondary := email.NewSendGridClient(cfg.SendGridAPIKey, cfg.EmailFromAddr, cfg.EmailFromName)
		mailer = email.NewFallbackSender(mailer, secondary, logger)
		logger.Info("email: using Postmark with SendGrid fallback")
	} else {
		logger.Info("email: using Postmark only")
	}

	// ── Push ──────────────────────────────────────────────────────────────────
	pusher := push.NewOneSignalClient(cfg.OneSignalAppID, cfg.OneSignalAPIKey)

	// ── Redis (optional) ──────────────────────────────────────────────────────
	// Webhook dedup fast path and the cross-replica sweep lock. Without Redis
	// Postgres alone deduplicates and every replica runs every sweep.
	var dedup, sweepLock cache.Deduper
	if cfg.RedisURL != "" {
		webhookCache, err := cache.NewRedisDeduper(cfg.RedisURL, "dinnerhelp:webhook:")
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer webhookCache.Close()
		lockCache, err := cache.NewRedisDeduper(cfg.RedisURL, "dinnerhelp:lock:")
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer lockCache.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = webhookCache.Ping(pingCtx)
		cancel()
		if err != nil {
			// Not fatal: both callers fall back when Redis errors.
			logger.Warn("redis: ping failed, continuing", "error", err)
		} else {
			logger.Info("redis connected")
		}
		dedup, sweepLock = webhookCache, lockCache
	}

	// ── Kafka (optional) ──────────────────────────────────────────────────────
	var publisher events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		logger.Info("kafka: publishing payment events", "brokers", strings.Join(cfg.KafkaBrokers, ","), "topic", cfg.KafkaTopic)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("kafka: close publisher", "error", err)
		}
	}()

	// ── Services ──────────────────────────────────────────────────────────────
	notifier := notify.NewService(queries, mailer, pusher, logger, notify.Options{
		Location: cfg.Location(),
		FeeRates: cfg.FeeRates(),
	})

	bookingPolicy, paymentPolicy, err := cfg.RefundPolicies()
	if err != nil {
		return err
	}
	if cfg.RefundPolicyOverride != "" {
		logger.Warn("refund policy override active", "policy", cfg.RefundPolicyOverride)
	}
	paymentSvc := payments.NewService(queries, st, stripeClient, notifier, publisher, dedup, logger, payments.Options{
		Location:      cfg.Location(),
		FeeRates:      cfg.FeeRates(),
		Currency:      strings.ToLower(cfg.Currency),
		BookingPolicy: bookingPolicy,
		PaymentPolicy: paymentPolicy,
	})

	// ── Worker ────────────────────────────────────────────────────────────────
	runner := worker.NewRunner(
		worker.Sweeps(notifier, paymentSvc, worker.Intervals{
			NotificationQueue:  cfg.NotificationQueueInterval,
			ReservationCleanup: cfg.ReservationCleanupInterval,
			PaymentActions:     cfg.PaymentActionsInterval,
		}, logger),
		sweepLock,
		worker.RunnerConfig{SweepTimeout: cfg.SweepTimeout},
		logger,
	)

	// ── HTTP server ───────────────────────────────────────────────────────────
	handler := api.NewServer(
		paymentSvc,
		notifier,
		stripeClient,
		auth.NewVerifier(cfg.JWTSecret),
		api.Config{
			StripeWebhookSecret: cfg.StripeWebhookSecret,
			Env:                 cfg.Env,
			RequestTimeout:      cfg.RequestTimeout,
			Ready:               pool.PingContext,
		},
		logger,
	)

	srv := &http.Server{
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 15*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// ── gRPC health ───────────────────────────────────────────────────────────
	// Served on the same port as HTTP so orchestrators can use native gRPC
	// health probes.
	grpcSrv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	mux := cmux.New(lis)
	grpcL := mux.MatchWithWriters(cmux.HTTP2MatchHeaderFieldSendSettings("content-type", "application/grpc"))
	httpL := mux.Match(cmux.Any())

	// Start the sweeps in a background goroutine. Start blocks until ctx is done.
	workerDone := make(chan struct{})
	if cfg.SweepsEnabled {
		go func() {
			runner.Start(ctx)
			close(workerDone)
		}()
	} else {
		logger.Info("worker: sweeps disabled")
		close(workerDone)
	}

	serverErr := make(chan error, 3)
	go func() {
		if err := grpcSrv.Serve(grpcL); err != nil && !isClosed(err) {
			serverErr <- fmt.Errorf("grpc: %w", err)
		}
	}()
	go func() {
		if err := srv.Serve(httpL); err != nil && !isClosed(err) {
			serverErr <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		logger.Info("server listening", "addr", lis.Addr().String())
		if err := mux.Serve(); err != nil && !isClosed(err) {
			serverErr <- fmt.Errorf("cmux: %w", err)
		}
	}()

	// Block until either a signal arrives or a server dies unexpectedly.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		stop()
		<-workerDone
		return fmt.Errorf("server error: %w", err)
	}

	healthSrv.Shutdown()

	// Give in-flight HTTP requests time to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	grpcSrv.GracefulStop()
	mux.Close()

	// Sweeps stop at their next context check.
	<-workerDone
	logger.Info("shutdown complete")
	return nil
}

// openDB opens the connection pool and verifies the database is reachable
// before anything else starts.
func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	pool, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	// Tune the connection pool.
	pool.SetMaxOpenConns(cfg.DBMaxOpenConns)
	pool.SetMaxIdleConns(cfg.DBMaxIdleConns)
	pool.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	pool.SetConnMaxIdleTime(2 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := pool.PingContext(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// isClosed reports whether err is the expected result of shutting a
// listener or server down.
func isClosed(err error) bool {
	return errors.Is(err, http.ErrServerClosed) ||
		errors.Is(err, grpc.ErrServerStopped) ||
		errors.Is(err, cmux.ErrListenerClosed) ||
		errors.Is(err, cmux.ErrServerClosed) ||
		errors.Is(err, net.ErrClosed)
}
