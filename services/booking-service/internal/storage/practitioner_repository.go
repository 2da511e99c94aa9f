package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/davidriudor/citaflow/libs/db"
	"github.com/davidriudor/citaflow/services/booking-service/internal/availability"
	"github.com/davidriudor/citaflow/services/booking-service/internal/model"
)

type PractitionerRepository struct {
	pool *db.Pool
}

func NewPractitionerRepository(pool *db.Pool) *PractitionerRepository {
	return &PractitionerRepository{pool: pool}
}

func (r *PractitionerRepository) Get(ctx context.Context, practitionerID string) (model.Practitioner, error) {
	var p model.Practitioner
	err := r.pool.QueryRow(ctx, `
		SELECT id, display_name, timezone, slot_duration_minutes,
			COALESCE(fallback_window_from, ''), COALESCE(fallback_window_to, ''),
			price_cents, first_consultation_price_cents, currency, billing_mode
		FROM practitioners
		WHERE id = $1
	`, practitionerID).Scan(
		&p.ID,
		&p.DisplayName,
		&p.Timezone,
		&p.SlotDurationMinutes,
		&p.FallbackWindowFrom,
		&p.FallbackWindowTo,
		&p.PriceCents,
		&p.FirstConsultationPriceCents,
		&p.Currency,
		&p.BillingMode,
	)
	if err != nil {
		return model.Practitioner{}, err
	}
	return p, nil
}

// WeeklyRules loads the practitioner's stored availability rules in
// weekday order. A practitioner with no rows has no explicit schedule and
// falls back to their default window.
func (r *PractitionerRepository) WeeklyRules(ctx context.Context, practitionerID string) ([]availability.Rule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT weekday, window_from, window_to
		FROM availability_rules
		WHERE practitioner_id = $1
		ORDER BY weekday ASC, window_from ASC
	`, practitionerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []availability.Rule
	for rows.Next() {
		var weekday int
		var from, to string
		if err := rows.Scan(&weekday, &from, &to); err != nil {
			return nil, err
		}
		w, err := availability.ParseWindow(from, to)
		if err != nil {
			return nil, err
		}
		rules = append(rules, availability.Rule{
			Weekday: time.Weekday(weekday),
			Window:  w,
		})
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return rules, nil
}

// ReplaceWeeklyRules swaps the practitioner's schedule atomically: the
// old rule set is gone the instant the new one is visible.
func (r *PractitionerRepository) ReplaceWeeklyRules(ctx context.Context, practitionerID string, rules []availability.Rule) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		DELETE FROM availability_rules WHERE practitioner_id = $1
	`, practitionerID); err != nil {
		return err
	}

	for _, rule := range rules {
		if _, err := tx.Exec(ctx, `
			INSERT INTO availability_rules (practitioner_id, weekday, window_from, window_to)
			VALUES ($1, $2, $3, $4)
		`, practitionerID, int(rule.Weekday), rule.Window.From.String(), rule.Window.To.String()); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// CalendarToken holds a practitioner's stored Google OAuth credentials.
type CalendarToken struct {
	PractitionerID string
	AccessToken    string
	RefreshToken   string
	Expiry         time.Time
	CalendarID     string
}

func (r *PractitionerRepository) CalendarToken(ctx context.Context, practitionerID string) (CalendarToken, error) {
	var t CalendarToken
	var raw []byte
	err := r.pool.QueryRow(ctx, `
		SELECT practitioner_id::text, token_payload, COALESCE(calendar_id, 'primary')
		FROM calendar_credentials
		WHERE practitioner_id = $1
	`, practitionerID).Scan(&t.PractitionerID, &raw, &t.CalendarID)
	if err != nil {
		return CalendarToken{}, err
	}
	var payload struct {
		AccessToken  string    `json:"access_token"`
		RefreshToken string    `json:"refresh_token"`
		Expiry       time.Time `json:"expiry"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return CalendarToken{}, err
	}
	t.AccessToken = payload.AccessToken
	t.RefreshToken = payload.RefreshToken
	t.Expiry = payload.Expiry
	return t, nil
}

func (r *PractitionerRepository) SaveCalendarToken(ctx context.Context, t CalendarToken) error {
	payload, err := json.Marshal(struct {
		AccessToken  string    `json:"access_token"`
		RefreshToken string    `json:"refresh_token"`
		Expiry       time.Time `json:"expiry"`
	}{t.AccessToken, t.RefreshToken, t.Expiry})
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO calendar_credentials (practitioner_id, token_payload, calendar_id, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (practitioner_id) DO UPDATE
		SET token_payload = EXCLUDED.token_payload,
			calendar_id = EXCLUDED.calendar_id,
			updated_at = now()
	`, t.PractitionerID, payload, t.CalendarID)
	return err
}

// HasCalendarToken lets callers decide between live calendar lookups and
// booking-only availability before opening a calendar client.
func (r *PractitionerRepository) HasCalendarToken(ctx context.Context, practitionerID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM calendar_credentials WHERE practitioner_id = $1
		)
	`, practitionerID).Scan(&exists)
	return exists, err
}
