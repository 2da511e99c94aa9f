package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/davidriudor/citaflow/libs/auth"
	"github.com/davidriudor/citaflow/libs/config"
	"github.com/davidriudor/citaflow/libs/db"
	"github.com/davidriudor/citaflow/libs/httpx"
	"github.com/davidriudor/citaflow/libs/kafkax"
	otelx "github.com/davidriudor/citaflow/libs/otel"
	"github.com/davidriudor/citaflow/libs/runtime"
	"github.com/davidriudor/citaflow/services/billing-service/internal/charges"
	"github.com/davidriudor/citaflow/services/billing-service/internal/consumer"
	"github.com/davidriudor/citaflow/services/billing-service/internal/handlers"
	"github.com/davidriudor/citaflow/services/billing-service/internal/inbox"
	"github.com/davidriudor/citaflow/services/billing-service/internal/invoicing"
	"github.com/davidriudor/citaflow/services/billing-service/internal/outbox"
	"github.com/davidriudor/citaflow/services/billing-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "billing-service")
	port, err := config.Port("PORT", "8084")
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

	repo := storage.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	chargeSvc := charges.New(repo, outboxRepo, logger, charges.Config{
		StripeSecretKey:    config.String("STRIPE_SECRET_KEY", ""),
		CheckoutSuccessURL: config.String("CHECKOUT_SUCCESS_URL", ""),
		CheckoutCancelURL:  config.String("CHECKOUT_CANCEL_URL", ""),
	})

	brokers := config.String("KAFKA_BROKERS", "")
	if brokers != "" {
		inboxRepo := inbox.NewRepository(pool)
		createdConsumer := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", "billing-service"),
			Topic:   config.String("BOOKING_CREATED_TOPIC", "booking.created.v1"),
		}, chargeSvc.HandleBookingCreated)
		go createdConsumer.Run(ctx)

		cancelledConsumer := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", "billing-service"),
			Topic:   config.String("BOOKING_CANCELLED_TOPIC", "booking.cancelled.v1"),
		}, chargeSvc.HandleBookingCancelled)
		go cancelledConsumer.Run(ctx)
	} else {
		logger.Warn("booking event consumers disabled (no kafka brokers configured)")
	}

	invoiceIntervalSeconds, _ := strconv.Atoi(config.String("INVOICE_INTERVAL_SECONDS", "21600"))
	invoiceDaysUntilDue, _ := strconv.Atoi(config.String("INVOICE_DAYS_UNTIL_DUE", "14"))
	invoicer := invoicing.NewWorker(pool, repo, outboxRepo, logger, invoicing.WorkerConfig{
		StripeSecretKey: config.String("STRIPE_SECRET_KEY", ""),
		Interval:        time.Duration(invoiceIntervalSeconds) * time.Second,
		DaysUntilDue:    invoiceDaysUntilDue,
	})
	go invoicer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)

	tolSeconds, err := strconv.Atoi(config.String("STRIPE_WEBHOOK_TOLERANCE_SECONDS", "300"))
	if err != nil || tolSeconds <= 0 {
		tolSeconds = 300
	}
	h := handlers.New(repo, outboxRepo, logger, handlers.Config{
		StripeWebhookSecret:           config.String("STRIPE_WEBHOOK_SECRET", ""),
		StripeWebhookToleranceSeconds: tolSeconds,
	})

	requireAuth := auth.RequireHS256(jwtSecret)
	mux.HandleFunc("/api/v1/billing/webhooks/stripe", h.StripeWebhook)
	mux.Handle("/api/v1/billing/charges", requireAuth(http.HandlerFunc(h.ListCharges)))

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "billing")
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
