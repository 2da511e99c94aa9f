package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/davidriudor/citaflow/libs/config"
	"github.com/davidriudor/citaflow/libs/db"
	"github.com/davidriudor/citaflow/libs/httpx"
	otelx "github.com/davidriudor/citaflow/libs/otel"
	"github.com/davidriudor/citaflow/libs/runtime"
	"github.com/davidriudor/citaflow/services/scheduler-service/internal/bookingapi"
	"github.com/davidriudor/citaflow/services/scheduler-service/internal/series"
)

func main() {
	service := config.String("SERVICE_NAME", "scheduler-service")
	port, err := config.Port("PORT", "8087")
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
	bookingBaseURL, err := config.RequiredString("BOOKING_BASE_URL")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	seriesRepo := series.NewRepository(pool)
	extender := series.NewExtender(seriesRepo, bookingapi.New(bookingBaseURL), logger)

	intervalSeconds, err := strconv.Atoi(config.String("EXTENSION_INTERVAL_SECONDS", "30"))
	if err != nil || intervalSeconds <= 0 {
		intervalSeconds = 30
	}
	backoffSeconds, err := strconv.Atoi(config.String("EXTENSION_BACKOFF_SECONDS", "3600"))
	if err != nil || backoffSeconds <= 0 {
		backoffSeconds = 3600
	}
	worker := series.NewWorker(pool, seriesRepo, extender, logger, series.WorkerConfig{
		Interval:  time.Duration(intervalSeconds) * time.Second,
		BatchSize: 50,
		Backoff:   time.Duration(backoffSeconds) * time.Second,
	})
	go worker.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "scheduler")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
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
