package handlers

import (
	"testing"

	"github.com/davidriudor/citaflow/services/booking-service/internal/model"
)

func TestInitialStatusByBillingMode(t *testing.T) {
	perBooking := model.Practitioner{BillingMode: model.BillingPerBooking}
	if got := initialStatus(perBooking); got != model.StatusPendingPayment {
		t.Fatalf("per_booking practitioner: got %q, want %q", got, model.StatusPendingPayment)
	}
	monthly := model.Practitioner{BillingMode: model.BillingMonthly}
	if got := initialStatus(monthly); got != model.StatusConfirmed {
		t.Fatalf("monthly practitioner: got %q, want %q", got, model.StatusConfirmed)
	}
}

func TestPriceForFirstConsultation(t *testing.T) {
	p := model.Practitioner{
		PriceCents:                  6000,
		FirstConsultationPriceCents: 9000,
	}

	if got := priceFor(p, nil); got != 6000 {
		t.Fatalf("standalone booking: got %d, want 6000", got)
	}

	zero := 0
	if got := priceFor(p, &zero); got != 9000 {
		t.Fatalf("first occurrence: got %d, want 9000", got)
	}

	third := 3
	if got := priceFor(p, &third); got != 6000 {
		t.Fatalf("later occurrence: got %d, want 6000", got)
	}

	// No first-consultation price configured: every occurrence uses the base price.
	p.FirstConsultationPriceCents = 0
	if got := priceFor(p, &zero); got != 6000 {
		t.Fatalf("first occurrence without override: got %d, want 6000", got)
	}
}

func TestFallbackWindow(t *testing.T) {
	p := model.Practitioner{}
	w, err := fallbackWindow(p)
	if err != nil {
		t.Fatalf("empty window fields should not error: %v", err)
	}
	if w != nil {
		t.Fatal("expected nil window when fields are empty")
	}

	p.FallbackWindowFrom = "09:00"
	p.FallbackWindowTo = "17:00"
	w, err = fallbackWindow(p)
	if err != nil {
		t.Fatalf("fallbackWindow failed: %v", err)
	}
	if w == nil {
		t.Fatal("expected a window")
	}

	p.FallbackWindowTo = "08:00"
	if _, err := fallbackWindow(p); err == nil {
		t.Fatal("expected error for inverted window")
	}
}
