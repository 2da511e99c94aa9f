// Package invoicing rolls accrued charges into monthly Stripe invoices.
// A period is invoiced once it has closed: charges for March are billed
// from April 1st onward.
package invoicing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/customer"
	"github.com/stripe/stripe-go/v79/invoice"
	"github.com/stripe/stripe-go/v79/invoiceitem"

	"github.com/davidriudor/citaflow/libs/db"
	"github.com/davidriudor/citaflow/services/billing-service/internal/outbox"
	"github.com/davidriudor/citaflow/services/billing-service/internal/storage"
)

type Worker struct {
	pool            *db.Pool
	repo            *storage.Repository
	outboxRepo      *outbox.Repository
	logger          *slog.Logger
	stripeSecretKey string
	interval        time.Duration
	batchSize       int
	daysUntilDue    int
}

type WorkerConfig struct {
	StripeSecretKey string
	Interval        time.Duration
	BatchSize       int
	DaysUntilDue    int
}

func NewWorker(pool *db.Pool, repo *storage.Repository, outboxRepo *outbox.Repository, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 6 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.DaysUntilDue <= 0 {
		cfg.DaysUntilDue = 14
	}
	return &Worker{
		pool:            pool,
		repo:            repo,
		outboxRepo:      outboxRepo,
		logger:          logger,
		stripeSecretKey: strings.TrimSpace(cfg.StripeSecretKey),
		interval:        cfg.Interval,
		batchSize:       cfg.BatchSize,
		daysUntilDue:    cfg.DaysUntilDue,
	}
}

func (w *Worker) Run(ctx context.Context) {
	if w.stripeSecretKey == "" {
		w.logger.Warn("invoicing worker disabled (STRIPE_SECRET_KEY missing)")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.processBatch(ctx); err != nil {
				w.logger.Error("invoice batch failed", "err", err)
			}
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) error {
	currentPeriod := time.Now().UTC().Format("2006-01")
	groups, err := w.repo.ListClosedAccrualGroups(ctx, currentPeriod, w.batchSize)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		return nil
	}

	issued := 0
	for _, g := range groups {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.invoiceGroup(ctx, g); err != nil {
			w.logger.Error("invoice group failed",
				"err", err,
				"practitioner_id", g.PractitionerID,
				"client_email", g.ClientEmail,
				"period", g.PeriodMonth)
			continue
		}
		issued++
	}

	w.logger.Info("invoice batch done", "groups", len(groups), "issued", issued)
	return nil
}

func (w *Worker) invoiceGroup(ctx context.Context, g storage.AccrualGroup) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	charges, err := w.repo.LockAccruedCharges(ctx, tx, g)
	if err != nil {
		return err
	}
	if len(charges) == 0 {
		// Another run holds or already invoiced this group.
		return tx.Commit(ctx)
	}

	stripe.Key = w.stripeSecretKey

	customerID, err := w.ensureCustomer(ctx, g)
	if err != nil {
		return err
	}

	var total int64
	var ids []int64
	currency := charges[0].Currency
	for _, c := range charges {
		itemParams := &stripe.InvoiceItemParams{
			Customer:    stripe.String(customerID),
			Amount:      stripe.Int64(c.AmountCents),
			Currency:    stripe.String(c.Currency),
			Description: stripe.String(c.Description),
		}
		itemParams.IdempotencyKey = stripe.String(fmt.Sprintf("invoiceitem:%d", c.ID))
		if _, err := invoiceitem.New(itemParams); err != nil {
			return fmt.Errorf("create invoice item for charge %d: %w", c.ID, err)
		}
		total += c.AmountCents
		ids = append(ids, c.ID)
	}

	invParams := &stripe.InvoiceParams{
		Customer:                    stripe.String(customerID),
		CollectionMethod:            stripe.String(string(stripe.InvoiceCollectionMethodSendInvoice)),
		DaysUntilDue:                stripe.Int64(int64(w.daysUntilDue)),
		PendingInvoiceItemsBehavior: stripe.String("include"),
		AutoAdvance:                 stripe.Bool(true),
		Metadata: map[string]string{
			"practitioner_id": g.PractitionerID,
			"period":          g.PeriodMonth,
		},
	}
	invParams.IdempotencyKey = stripe.String("invoice:" + g.PractitionerID + ":" + g.ClientEmail + ":" + g.PeriodMonth)

	inv, err := invoice.New(invParams)
	if err != nil {
		return fmt.Errorf("create invoice: %w", err)
	}

	if err := w.repo.MarkChargesInvoiced(ctx, tx, ids, inv.ID); err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]any{
		"practitioner_id":   g.PractitionerID,
		"client_email":      g.ClientEmail,
		"period":            g.PeriodMonth,
		"amount_cents":      total,
		"currency":          currency,
		"charge_count":      len(ids),
		"stripe_invoice_id": inv.ID,
	})
	if err != nil {
		return err
	}
	if err := w.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "invoice",
		AggregateID:   inv.ID,
		EventType:     outbox.InvoiceIssued,
		Payload:       payload,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	w.logger.Info("invoice issued",
		"practitioner_id", g.PractitionerID,
		"client_email", g.ClientEmail,
		"period", g.PeriodMonth,
		"amount_cents", total,
		"stripe_invoice_id", inv.ID)
	return nil
}

func (w *Worker) ensureCustomer(ctx context.Context, g storage.AccrualGroup) (string, error) {
	id, err := w.repo.GetStripeCustomer(ctx, g.PractitionerID, g.ClientEmail)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(g.ClientEmail),
		Metadata: map[string]string{
			"practitioner_id": g.PractitionerID,
		},
	}
	params.IdempotencyKey = stripe.String("customer:" + g.PractitionerID + ":" + g.ClientEmail)
	cust, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	if err := w.repo.SaveStripeCustomer(ctx, g.PractitionerID, g.ClientEmail, cust.ID); err != nil {
		return "", err
	}
	return cust.ID, nil
}
