package charges

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/davidriudor/citaflow/services/billing-service/internal/storage"
)

func TestChargeDescription(t *testing.T) {
	start := time.Date(2026, time.March, 23, 9, 0, 0, 0, time.UTC)
	got := chargeDescription("Ana Ruiz", start)
	want := "Consultation for Ana Ruiz on 2026-03-23 09:00 UTC"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	got = chargeDescription("  ", start)
	want = "Consultation for client on 2026-03-23 09:00 UTC"
	if got != want {
		t.Fatalf("blank name: got %q, want %q", got, want)
	}
}

func TestPaymentCompletedPayload(t *testing.T) {
	raw, err := paymentCompletedPayload(storage.Charge{
		BookingID:      "b-1",
		PractitionerID: "p-1",
		AmountCents:    6000,
		Currency:       "eur",
	})
	if err != nil {
		t.Fatalf("paymentCompletedPayload failed: %v", err)
	}

	var got struct {
		BookingID      string `json:"booking_id"`
		PractitionerID string `json:"practitioner_id"`
		AmountCents    int64  `json:"amount_cents"`
		Currency       string `json:"currency"`
		Provider       string `json:"provider"`
	}
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if got.BookingID != "b-1" || got.PractitionerID != "p-1" {
		t.Fatalf("unexpected ids: %+v", got)
	}
	if got.AmountCents != 6000 || got.Currency != "eur" {
		t.Fatalf("unexpected amount: %+v", got)
	}
	if got.Provider != "stripe" {
		t.Fatalf("unexpected provider %q", got.Provider)
	}
}

func TestBookingCreatedEventDecode(t *testing.T) {
	raw := []byte(`{
		"booking_id": "b-9",
		"practitioner_id": "p-2",
		"client_name": "Marc Soler",
		"client_email": "marc@example.com",
		"start_time": "2026-03-23T09:00:00Z",
		"end_time": "2026-03-23T09:30:00Z",
		"price_cents": 4500,
		"currency": "EUR",
		"billing_mode": "monthly"
	}`)

	var evt bookingCreatedEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if evt.BookingID != "b-9" || evt.BillingMode != "monthly" {
		t.Fatalf("unexpected event: %+v", evt)
	}
	start, err := time.Parse(time.RFC3339, evt.StartTime)
	if err != nil {
		t.Fatalf("start_time should parse: %v", err)
	}
	if got := start.UTC().Format("2006-01"); got != "2026-03" {
		t.Fatalf("period month: got %q, want 2026-03", got)
	}
}
