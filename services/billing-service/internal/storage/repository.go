package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/davidriudor/citaflow/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// Charge kinds and statuses. A per-booking charge waits on its checkout
// session; an accrued charge waits for the monthly invoice run.
const (
	KindPerBooking = "per_booking"
	KindAccrued    = "accrued"

	StatusPending  = "pending"
	StatusPaid     = "paid"
	StatusAccrued  = "accrued"
	StatusInvoiced = "invoiced"
	StatusVoid     = "void"
)

type Charge struct {
	ID              int64
	BookingID       string
	PractitionerID  string
	ClientEmail     string
	Description     string
	AmountCents     int64
	Currency        string
	Kind            string
	Status          string
	StripeSessionID string
	StripeInvoiceID string
	PeriodMonth     string // YYYY-MM of the booking's start, for accrual grouping
	CreatedAt       time.Time
	PaidAt          *time.Time
}

// InsertCharge records a charge once per booking. A replayed booking event
// hits the unique booking_id constraint and is absorbed.
func (r *Repository) InsertCharge(ctx context.Context, tx pgx.Tx, c Charge) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO charges
			(booking_id, practitioner_id, client_email, description, amount_cents,
			 currency, kind, status, stripe_session_id, period_month)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (booking_id) DO NOTHING
	`, c.BookingID, c.PractitionerID, c.ClientEmail, c.Description, c.AmountCents,
		c.Currency, c.Kind, c.Status, nullIfEmptyStr(c.StripeSessionID), c.PeriodMonth)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkChargePaidBySession settles the pending charge attached to a checkout
// session and returns it. pgx.ErrNoRows means the session is unknown or the
// charge was already settled.
func (r *Repository) MarkChargePaidBySession(ctx context.Context, tx pgx.Tx, sessionID string, paidAt time.Time) (Charge, error) {
	row := tx.QueryRow(ctx, `
		UPDATE charges
		SET status = $2, paid_at = $3, updated_at = now()
		WHERE stripe_session_id = $1 AND status = $4
		RETURNING id, booking_id::text, practitioner_id::text, client_email,
			description, amount_cents, currency, kind, status,
			COALESCE(stripe_session_id, ''), COALESCE(stripe_invoice_id, ''),
			period_month, created_at, paid_at
	`, sessionID, StatusPaid, paidAt, StatusPending)
	return scanCharge(row)
}

// VoidChargeForBooking drops an unsettled charge when its booking is
// cancelled. Paid and invoiced charges are left for manual reconciliation.
func (r *Repository) VoidChargeForBooking(ctx context.Context, tx pgx.Tx, bookingID string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE charges
		SET status = $2, updated_at = now()
		WHERE booking_id = $1 AND status IN ($3, $4)
	`, bookingID, StatusVoid, StatusPending, StatusAccrued)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// VoidChargeBySession drops the pending charge of an expired checkout
// session so a fresh booking attempt can start over.
func (r *Repository) VoidChargeBySession(ctx context.Context, tx pgx.Tx, sessionID string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE charges
		SET status = $2, updated_at = now()
		WHERE stripe_session_id = $1 AND status = $3
	`, sessionID, StatusVoid, StatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkInvoicePaid settles every invoiced charge on a Stripe invoice and
// returns how many rows it touched.
func (r *Repository) MarkInvoicePaid(ctx context.Context, tx pgx.Tx, invoiceID string, paidAt time.Time) (int64, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE charges
		SET status = $2, paid_at = $3, updated_at = now()
		WHERE stripe_invoice_id = $1 AND status = $4
	`, invoiceID, StatusPaid, paidAt, StatusInvoiced)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// AccrualGroup identifies one monthly invoice: a practitioner's accrued
// charges for one client in one closed period.
type AccrualGroup struct {
	PractitionerID string
	ClientEmail    string
	PeriodMonth    string
}

// ListClosedAccrualGroups lists distinct (practitioner, client, period)
// combinations with accrued charges in periods strictly before the given
// month key, oldest first.
func (r *Repository) ListClosedAccrualGroups(ctx context.Context, currentPeriod string, limit int) ([]AccrualGroup, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT practitioner_id::text, client_email, period_month
		FROM charges
		WHERE status = $1 AND period_month < $2
		ORDER BY period_month, practitioner_id::text, client_email
		LIMIT $3
	`, StatusAccrued, currentPeriod, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []AccrualGroup
	for rows.Next() {
		var g AccrualGroup
		if err := rows.Scan(&g.PractitionerID, &g.ClientEmail, &g.PeriodMonth); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return groups, nil
}

// LockAccruedCharges claims the group's charges for invoicing. SKIP LOCKED
// keeps concurrent invoice runs from double-billing a group.
func (r *Repository) LockAccruedCharges(ctx context.Context, tx pgx.Tx, g AccrualGroup) ([]Charge, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, booking_id::text, practitioner_id::text, client_email,
			description, amount_cents, currency, kind, status,
			COALESCE(stripe_session_id, ''), COALESCE(stripe_invoice_id, ''),
			period_month, created_at, paid_at
		FROM charges
		WHERE practitioner_id = $1 AND client_email = $2 AND period_month = $3 AND status = $4
		ORDER BY id
		FOR UPDATE SKIP LOCKED
	`, g.PractitionerID, g.ClientEmail, g.PeriodMonth, StatusAccrued)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var charges []Charge
	for rows.Next() {
		c, err := scanCharge(rows)
		if err != nil {
			return nil, err
		}
		charges = append(charges, c)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return charges, nil
}

func (r *Repository) MarkChargesInvoiced(ctx context.Context, tx pgx.Tx, ids []int64, invoiceID string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE charges
		SET status = $2, stripe_invoice_id = $3, updated_at = now()
		WHERE id = ANY($1)
	`, ids, StatusInvoiced, invoiceID)
	return err
}

func (r *Repository) ListChargesByPractitioner(ctx context.Context, practitionerID string, limit int) ([]Charge, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, booking_id::text, practitioner_id::text, client_email,
			description, amount_cents, currency, kind, status,
			COALESCE(stripe_session_id, ''), COALESCE(stripe_invoice_id, ''),
			period_month, created_at, paid_at
		FROM charges
		WHERE practitioner_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, practitionerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var charges []Charge
	for rows.Next() {
		c, err := scanCharge(rows)
		if err != nil {
			return nil, err
		}
		charges = append(charges, c)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return charges, nil
}

func scanCharge(row pgx.Row) (Charge, error) {
	var c Charge
	var paidAt *time.Time
	err := row.Scan(
		&c.ID,
		&c.BookingID,
		&c.PractitionerID,
		&c.ClientEmail,
		&c.Description,
		&c.AmountCents,
		&c.Currency,
		&c.Kind,
		&c.Status,
		&c.StripeSessionID,
		&c.StripeInvoiceID,
		&c.PeriodMonth,
		&c.CreatedAt,
		&paidAt,
	)
	if err != nil {
		return Charge{}, err
	}
	c.PaidAt = paidAt
	return c, nil
}

// GetStripeCustomer maps (practitioner, client email) to a Stripe customer
// id; empty when none exists yet.
func (r *Repository) GetStripeCustomer(ctx context.Context, practitionerID, clientEmail string) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		SELECT stripe_customer_id
		FROM stripe_customers
		WHERE practitioner_id = $1 AND client_email = $2
	`, practitionerID, clientEmail).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) SaveStripeCustomer(ctx context.Context, practitionerID, clientEmail, customerID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO stripe_customers (practitioner_id, client_email, stripe_customer_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (practitioner_id, client_email) DO UPDATE
		SET stripe_customer_id = EXCLUDED.stripe_customer_id,
			updated_at = now()
	`, practitionerID, clientEmail, customerID)
	return err
}

type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
}

var ErrDuplicateProviderEvent = errors.New("duplicate provider event")

func (r *Repository) InsertProviderEvent(ctx context.Context, tx pgx.Tx, evt ProviderEvent) error {
	var payload any
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		// keep raw JSON error as a hard failure: webhook should be well-formed.
		return err
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO provider_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
	`, evt.Provider, evt.ProviderEventID, evt.EventType, payload)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateProviderEvent
	}
	return nil
}

type AuditEvent struct {
	EventType      string
	ActorType      string
	ActorID        string
	PractitionerID string
	Metadata       []byte
}

func (r *Repository) InsertAuditEvent(ctx context.Context, tx pgx.Tx, evt AuditEvent) error {
	var payload any
	if len(evt.Metadata) == 0 {
		payload = map[string]any{}
	} else if err := json.Unmarshal(evt.Metadata, &payload); err != nil {
		return err
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO audit_events (event_type, actor_type, actor_id, practitioner_id, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`, evt.EventType, evt.ActorType, nullIfEmpty(evt.ActorID), nullIfEmpty(evt.PractitionerID), payload)
	return err
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func nullIfEmptyStr(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
