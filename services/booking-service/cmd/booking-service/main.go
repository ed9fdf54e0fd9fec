package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/chairbook/libs/auth"
	"github.com/md-rashed-zaman/chairbook/libs/config"
	"github.com/md-rashed-zaman/chairbook/libs/httpx"
	"github.com/md-rashed-zaman/chairbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/chairbook/libs/otel"
	"github.com/md-rashed-zaman/chairbook/libs/runtime"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/seed"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/slots"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/tenants"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	grpcPort, err := config.Port("GRPC_PORT", "9093")
	if err != nil {
		panic(err)
	}
	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service, config.String("LOG_LEVEL", "info"))
	slog.SetDefault(logger)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	m := metrics.New()

	st, err := openStore(ctx, logger)
	if err != nil {
		logger.Error("store init failed", "err", err)
		panic(err)
	}
	defer func() { _ = st.store.Close() }()

	checks := []runtime.ReadyCheck{{Name: "store", Check: st.store.Ping}}

	var rdb *redis.Client
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
		defer func() { _ = rdb.Close() }()
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	var cacheClient redis.Cmdable
	if rdb != nil {
		cacheClient = rdb
	}
	tenantCache := tenants.NewCache(st.store, cacheClient, config.Seconds("TENANT_CACHE_TTL_SECONDS", tenants.DefaultTTL), logger)

	if path := config.String("SEED_FILE", ""); path != "" {
		if err := applySeed(ctx, path, st, tenantCache, logger); err != nil {
			logger.Error("seed failed", "path", path, "err", err)
			panic(err)
		}
	}

	brokers := kafkax.SplitBrokers(config.String("KAFKA_BROKERS", ""))
	if len(brokers) > 0 {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	publisher := outbox.NewPublisher(st.pool, st.outbox, logger, m, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: config.Seconds("OUTBOX_POLL_SECONDS", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go publisher.Run(ctx)

	avail := availability.NewService(tenantCache, st.store, availability.Options{
		Granularity: config.Minutes("SLOT_GRANULARITY_MINUTES", slots.DefaultGranularity),
		Logger:      logger,
		Metrics:     m,
	})
	guard := booking.NewGuard(st.store, avail, booking.Options{Logger: logger, Metrics: m})

	var limiter httpx.Limiter
	perMinute := config.Int("RATE_LIMIT_PER_MINUTE", 60)
	if rdb != nil {
		limiter = httpx.NewRedisLimiter(rdb, perMinute, time.Minute, "chairbook:rl")
	} else {
		limiter = httpx.NewMemoryLimiter(perMinute)
	}

	mux := runtime.NewBaseMux(checks...)
	mux.Handle("GET /metrics", m.Handler())
	handlers.NewPublicHandler(tenantCache, st.store, avail, guard, logger).Register(mux,
		httpx.RateLimit(limiter, httpx.ClientKey(config.Bool("TRUST_PROXY", false)), logger, true),
		httpx.WithBodyLimit(64<<10),
		httpx.WithTimeout(config.Seconds("REQUEST_TIMEOUT_SECONDS", 10*time.Second)),
	)
	handlers.NewStaffHandler(st.store, guard, logger).Register(mux, auth.RequireStaff(jwtSecret))

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.PublicWidgetCORS(config.List("CORS_ALLOWED_ORIGINS", ""))),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if err := startGrpcServer(ctx, logger, grpcPort, checks); err != nil {
		logger.Error("grpc server init failed", "err", err)
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "store", st.driver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

func applySeed(ctx context.Context, path string, st *stores, cache *tenants.Cache, logger *slog.Logger) error {
	f, err := seed.LoadFile(path)
	if err != nil {
		return err
	}
	applied, err := seed.Apply(ctx, st.store, f)
	if err != nil {
		return err
	}
	for _, t := range applied {
		if err := cache.Invalidate(ctx, t); err != nil {
			logger.Warn("tenant cache invalidate failed", "tenant_id", t.ID, "err", err)
		}
	}
	logger.Info("seed applied", "path", path, "tenants", len(applied))
	return nil
}
