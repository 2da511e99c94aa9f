package main

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/davidriudor/citaflow/libs/auth"
	"github.com/davidriudor/citaflow/libs/config"
	"github.com/davidriudor/citaflow/libs/db"
	"github.com/davidriudor/citaflow/libs/httpx"
	"github.com/davidriudor/citaflow/libs/kafkax"
	otelx "github.com/davidriudor/citaflow/libs/otel"
	"github.com/davidriudor/citaflow/libs/runtime"
	"github.com/davidriudor/citaflow/services/booking-service/internal/availability"
	"github.com/davidriudor/citaflow/services/booking-service/internal/consumer"
	"github.com/davidriudor/citaflow/services/booking-service/internal/gcal"
	"github.com/davidriudor/citaflow/services/booking-service/internal/handlers"
	"github.com/davidriudor/citaflow/services/booking-service/internal/inbox"
	"github.com/davidriudor/citaflow/services/booking-service/internal/outbox"
	"github.com/davidriudor/citaflow/services/booking-service/internal/payments"
	"github.com/davidriudor/citaflow/services/booking-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

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

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	jwtSecret, err := config.RequiredString("ADMIN_JWT_SECRET")
	if err != nil {
		panic(err)
	}

	bookingRepo := storage.NewBookingRepository(pool)
	practitionerRepo := storage.NewPractitionerRepository(pool)
	seriesRepo := storage.NewSeriesRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	var calendar *gcal.Client
	if clientID := config.String("GOOGLE_CLIENT_ID", ""); clientID != "" {
		calendar = gcal.New(clientID, config.String("GOOGLE_CLIENT_SECRET", ""), practitionerRepo)
		logger.Info("google calendar integration enabled")
	} else {
		logger.Warn("google calendar integration disabled (no GOOGLE_CLIENT_ID)")
	}

	planner := availability.NewPlanner(
		storage.PlannerStore{Bookings: bookingRepo, Practitioners: practitionerRepo},
		calendarOrNil(calendar),
		logger,
	)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:    config.String("KAFKA_BROKERS", ""),
		FlushEvery: 2 * time.Second,
		BatchSize:  50,
	})
	go outboxPublisher.Run(ctx)

	if brokers := config.String("KAFKA_BROKERS", ""); strings.TrimSpace(brokers) != "" {
		confirmer := payments.NewConfirmer(bookingRepo, outboxRepo, calendarConfirmerOrNil(calendar), logger)
		paymentConsumer := consumer.New(logger, inbox.NewRepository(pool), consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", "booking-service"),
			Topic:   config.String("KAFKA_CONSUME_TOPIC", "billing.payment.completed.v1"),
		}, confirmer.Handle)
		go paymentConsumer.Run(ctx)
	}

	slotsHandler := handlers.NewSlotsHandler(planner, practitionerRepo, logger)
	bookingHandler := handlers.NewBookingHandler(bookingRepo, practitionerRepo, outboxRepo, handlerCalendarOrNil(calendar), logger)
	rulesHandler := handlers.NewRulesHandler(practitionerRepo, logger)
	seriesHandler := handlers.NewSeriesHandler(seriesRepo, bookingRepo, practitionerRepo, outboxRepo, handlerCalendarOrNil(calendar), logger)

	publicLimit := publicRateLimiter(logger)
	admin := auth.RequireHS256(jwtSecret)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.Handle("/api/v1/public/slots", publicLimit(http.HandlerFunc(slotsHandler.Month)))
	mux.Handle("/api/v1/public/book", publicLimit(http.HandlerFunc(bookingHandler.Create)))
	mux.Handle("/api/v1/bookings/cancel", publicLimit(http.HandlerFunc(bookingHandler.Cancel)))
	mux.Handle("/api/v1/bookings", admin(http.HandlerFunc(bookingHandler.List)))
	mux.Handle("/api/v1/availability/rules", admin(http.HandlerFunc(rulesHandler.Serve)))
	mux.Handle("/api/v1/series", admin(http.HandlerFunc(seriesHandler.Create)))
	mux.Handle("/api/v1/series/cancel", admin(http.HandlerFunc(seriesHandler.Cancel)))

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
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

// publicRateLimiter protects the unauthenticated endpoints. Redis keeps the
// window shared across instances; without Redis an in-memory limiter covers
// single-instance deployments.
func publicRateLimiter(logger *slog.Logger) httpx.Middleware {
	limitPerMinute := 60
	if v, err := strconv.Atoi(config.String("RATE_LIMIT_PER_MINUTE", "60")); err == nil && v > 0 {
		limitPerMinute = v
	}
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		redisDB := 0
		if v, err := strconv.Atoi(config.String("REDIS_DB", "0")); err == nil && v >= 0 {
			redisDB = v
		}
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       redisDB,
		})
		rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl"))
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute, "redis_addr", addr)
		return rl.Middleware(logger, config.String("RATE_LIMIT_FAIL_OPEN", "true") == "true")
	}
	rl := httpx.NewRateLimiter(limitPerMinute, time.Minute)
	logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
	return rl.Middleware()
}

// The typed-nil wrappers keep the interface fields genuinely nil when the
// calendar integration is off.
func calendarOrNil(c *gcal.Client) availability.Calendar {
	if c == nil {
		return nil
	}
	return c
}

func handlerCalendarOrNil(c *gcal.Client) handlers.Calendar {
	if c == nil {
		return nil
	}
	return c
}

func calendarConfirmerOrNil(c *gcal.Client) payments.CalendarConfirmer {
	if c == nil {
		return nil
	}
	return c
}
