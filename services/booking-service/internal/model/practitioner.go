package model

const (
	// BillingPerBooking charges each booking up front through a checkout
	// session; the booking stays pending until the payment completes.
	BillingPerBooking = "per_booking"
	// BillingMonthly accrues charges and invoices them once a month;
	// bookings confirm immediately.
	BillingMonthly = "monthly"
)

type Practitioner struct {
	ID                          string `json:"id"`
	DisplayName                 string `json:"display_name"`
	Timezone                    string `json:"timezone"`
	SlotDurationMinutes         int    `json:"slot_duration_minutes"`
	FallbackWindowFrom          string `json:"fallback_window_from,omitempty"`
	FallbackWindowTo            string `json:"fallback_window_to,omitempty"`
	PriceCents                  int64  `json:"price_cents"`
	FirstConsultationPriceCents int64  `json:"first_consultation_price_cents"`
	Currency                    string `json:"currency"`
	BillingMode                 string `json:"billing_mode"`
}
