// Package payments reacts to billing events: a completed payment promotes
// the pending booking to confirmed and firms up its calendar mirror.
package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/davidriudor/citaflow/services/booking-service/internal/model"
	"github.com/davidriudor/citaflow/services/booking-service/internal/outbox"
	"github.com/davidriudor/citaflow/services/booking-service/internal/storage"
)

// PaymentCompleted is the payload of billing.payment.completed.v1.
type PaymentCompleted struct {
	BookingID      string `json:"booking_id"`
	PractitionerID string `json:"practitioner_id"`
	AmountCents    int64  `json:"amount_cents"`
	Currency       string `json:"currency"`
	Provider       string `json:"provider"`
}

type CalendarConfirmer interface {
	ConfirmEvent(ctx context.Context, practitionerID, eventID string) error
}

type Confirmer struct {
	bookings *storage.BookingRepository
	outbox   *outbox.Repository
	calendar CalendarConfirmer
	logger   *slog.Logger
}

func NewConfirmer(bookings *storage.BookingRepository, outboxRepo *outbox.Repository, calendar CalendarConfirmer, logger *slog.Logger) *Confirmer {
	return &Confirmer{bookings: bookings, outbox: outboxRepo, calendar: calendar, logger: logger}
}

// Handle processes one payment-completed message. The status change and
// the confirmed event share a transaction; the calendar patch happens
// after commit and only logs on failure, since the calendar mirror is
// advisory next to the booking row.
func (c *Confirmer) Handle(ctx context.Context, msg kafka.Message) error {
	var evt PaymentCompleted
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		return fmt.Errorf("decode payment event: %w", err)
	}
	if evt.BookingID == "" {
		return fmt.Errorf("payment event without booking_id")
	}

	tx, err := c.bookings.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	booking, err := c.bookings.Confirm(ctx, tx, evt.BookingID)
	if err != nil {
		if storage.IsNotFound(err) {
			c.logger.Warn("payment for unknown booking", "booking_id", evt.BookingID)
			return nil
		}
		return err
	}
	if booking.Status == model.StatusCancelled {
		// Paid after cancellation: keep the booking cancelled and let
		// billing reconcile the refund from the confirmed event's absence.
		c.logger.Warn("payment for cancelled booking", "booking_id", booking.ID)
		return tx.Commit(ctx)
	}

	payload, err := json.Marshal(map[string]any{
		"booking_id":      booking.ID,
		"practitioner_id": booking.PractitionerID,
		"start_time":      booking.StartTime,
		"end_time":        booking.EndTime,
	})
	if err != nil {
		return err
	}
	if err := c.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "booking",
		AggregateID:   booking.ID,
		EventType:     outbox.BookingConfirmed,
		Payload:       payload,
	}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	c.logger.Info("booking confirmed", "booking_id", booking.ID, "practitioner_id", booking.PractitionerID)

	if c.calendar != nil && booking.CalendarEventID != "" {
		if err := c.calendar.ConfirmEvent(ctx, booking.PractitionerID, booking.CalendarEventID); err != nil {
			c.logger.Warn("calendar confirm failed", "booking_id", booking.ID, "err", err)
		}
	}
	return nil
}
