// Package charges turns booking lifecycle events into billable charges.
// Per-booking practitioners get a Stripe Checkout session per booking;
// monthly practitioners accrue charges that the invoicing worker rolls up.
package charges

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"

	"github.com/davidriudor/citaflow/services/billing-service/internal/outbox"
	"github.com/davidriudor/citaflow/services/billing-service/internal/storage"
)

const provider = "stripe"

type Service struct {
	repo               *storage.Repository
	outboxRepo         *outbox.Repository
	logger             *slog.Logger
	stripeSecretKey    string
	checkoutSuccessURL string
	checkoutCancelURL  string
}

type Config struct {
	StripeSecretKey    string
	CheckoutSuccessURL string
	CheckoutCancelURL  string
}

func New(repo *storage.Repository, outboxRepo *outbox.Repository, logger *slog.Logger, cfg Config) *Service {
	return &Service{
		repo:               repo,
		outboxRepo:         outboxRepo,
		logger:             logger,
		stripeSecretKey:    strings.TrimSpace(cfg.StripeSecretKey),
		checkoutSuccessURL: strings.TrimSpace(cfg.CheckoutSuccessURL),
		checkoutCancelURL:  strings.TrimSpace(cfg.CheckoutCancelURL),
	}
}

type bookingCreatedEvent struct {
	BookingID      string `json:"booking_id"`
	PractitionerID string `json:"practitioner_id"`
	ClientName     string `json:"client_name"`
	ClientEmail    string `json:"client_email"`
	StartTime      string `json:"start_time"`
	EndTime        string `json:"end_time"`
	PriceCents     int64  `json:"price_cents"`
	Currency       string `json:"currency"`
	BillingMode    string `json:"billing_mode"`
}

// HandleBookingCreated opens a charge for a new booking. Per-booking mode
// creates a Checkout session and leaves the charge pending until the
// payment webhook settles it; monthly mode accrues the charge for the
// invoice run. A zero price settles immediately so the booking confirms.
func (s *Service) HandleBookingCreated(ctx context.Context, msg kafka.Message) error {
	var evt bookingCreatedEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		return fmt.Errorf("decode booking.created payload: %w", err)
	}
	if evt.BookingID == "" || evt.PractitionerID == "" {
		return fmt.Errorf("booking.created payload missing ids")
	}

	startTime, err := time.Parse(time.RFC3339, evt.StartTime)
	if err != nil {
		return fmt.Errorf("parse start_time: %w", err)
	}

	charge := storage.Charge{
		BookingID:      evt.BookingID,
		PractitionerID: evt.PractitionerID,
		ClientEmail:    evt.ClientEmail,
		Description:    chargeDescription(evt.ClientName, startTime),
		AmountCents:    evt.PriceCents,
		Currency:       strings.ToLower(evt.Currency),
		PeriodMonth:    startTime.UTC().Format("2006-01"),
	}

	switch {
	case evt.PriceCents <= 0 && evt.BillingMode == storage.KindPerBooking:
		return s.settleFreeBooking(ctx, charge)
	case evt.BillingMode == storage.KindPerBooking:
		return s.openCheckoutCharge(ctx, charge)
	default:
		return s.accrueCharge(ctx, charge)
	}
}

func (s *Service) openCheckoutCharge(ctx context.Context, charge storage.Charge) error {
	if s.stripeSecretKey == "" {
		return fmt.Errorf("stripe checkout not configured (STRIPE_SECRET_KEY missing)")
	}

	stripe.Key = s.stripeSecretKey

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(s.checkoutSuccessURL),
		CancelURL:  stripe.String(s.checkoutCancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(charge.Currency),
					UnitAmount: stripe.Int64(charge.AmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(charge.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		CustomerEmail: stripe.String(charge.ClientEmail),
		Metadata: map[string]string{
			"booking_id":      charge.BookingID,
			"practitioner_id": charge.PractitionerID,
		},
	}
	params.AddExpand("url")
	// Deterministic key: redelivered events reuse the same session.
	params.IdempotencyKey = stripe.String("checkout:" + charge.BookingID)

	sess, err := checkoutsession.New(params)
	if err != nil {
		return fmt.Errorf("create checkout session: %w", err)
	}

	charge.Kind = storage.KindPerBooking
	charge.Status = storage.StatusPending
	charge.StripeSessionID = sess.ID

	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	inserted, err := s.repo.InsertCharge(ctx, tx, charge)
	if err != nil {
		return err
	}
	if !inserted {
		s.logger.Info("charge already open for booking", "booking_id", charge.BookingID)
		return tx.Commit(ctx)
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.logger.Info("checkout session opened",
		"booking_id", charge.BookingID,
		"practitioner_id", charge.PractitionerID,
		"amount_cents", charge.AmountCents,
		"stripe_session_id", sess.ID)
	return nil
}

func (s *Service) accrueCharge(ctx context.Context, charge storage.Charge) error {
	charge.Kind = storage.KindAccrued
	charge.Status = storage.StatusAccrued

	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	inserted, err := s.repo.InsertCharge(ctx, tx, charge)
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	if inserted {
		s.logger.Info("charge accrued",
			"booking_id", charge.BookingID,
			"practitioner_id", charge.PractitionerID,
			"amount_cents", charge.AmountCents,
			"period", charge.PeriodMonth)
	}
	return nil
}

// settleFreeBooking records a zero-amount charge as paid and emits the
// payment event so the booking service confirms without a checkout.
func (s *Service) settleFreeBooking(ctx context.Context, charge storage.Charge) error {
	charge.Kind = storage.KindPerBooking
	charge.Status = storage.StatusPaid

	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	inserted, err := s.repo.InsertCharge(ctx, tx, charge)
	if err != nil {
		return err
	}
	if !inserted {
		return tx.Commit(ctx)
	}

	payload, err := paymentCompletedPayload(charge)
	if err != nil {
		return err
	}
	if err := s.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "charge",
		AggregateID:   charge.BookingID,
		EventType:     outbox.PaymentCompleted,
		Payload:       payload,
	}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.logger.Info("zero-amount booking settled", "booking_id", charge.BookingID)
	return nil
}

type bookingCancelledEvent struct {
	BookingID string `json:"booking_id"`
}

// HandleBookingCancelled voids the booking's charge if it has not been
// settled. Paid charges stay on record for refund handling.
func (s *Service) HandleBookingCancelled(ctx context.Context, msg kafka.Message) error {
	var evt bookingCancelledEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		return fmt.Errorf("decode booking.cancelled payload: %w", err)
	}
	if evt.BookingID == "" {
		return fmt.Errorf("booking.cancelled payload missing booking_id")
	}

	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	voided, err := s.repo.VoidChargeForBooking(ctx, tx, evt.BookingID)
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	if voided {
		s.logger.Info("charge voided", "booking_id", evt.BookingID)
	}
	return nil
}

func paymentCompletedPayload(charge storage.Charge) ([]byte, error) {
	return json.Marshal(map[string]any{
		"booking_id":      charge.BookingID,
		"practitioner_id": charge.PractitionerID,
		"amount_cents":    charge.AmountCents,
		"currency":        charge.Currency,
		"provider":        provider,
	})
}

func chargeDescription(clientName string, start time.Time) string {
	name := strings.TrimSpace(clientName)
	if name == "" {
		name = "client"
	}
	return fmt.Sprintf("Consultation for %s on %s", name, start.UTC().Format("2006-01-02 15:04 MST"))
}
