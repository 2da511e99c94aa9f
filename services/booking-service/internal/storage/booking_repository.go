package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/davidriudor/citaflow/libs/db"
	"github.com/davidriudor/citaflow/services/booking-service/internal/availability"
	"github.com/davidriudor/citaflow/services/booking-service/internal/model"
)

type BookingRepository struct {
	pool *db.Pool
}

func NewBookingRepository(pool *db.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

func (r *BookingRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

type IdempotencyRecord struct {
	PractitionerID  string
	IdempotencyKey  string
	BookingID       string
	StatusCode      int
	ResponsePayload []byte
}

func (r *BookingRepository) LockIdempotencyKey(ctx context.Context, tx pgx.Tx, practitionerID, key string) (IdempotencyRecord, bool, error) {
	rec, err := r.selectIdempotencyForUpdate(ctx, tx, practitionerID, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (practitioner_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (practitioner_id, idempotency_key) DO NOTHING
	`, practitionerID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec, err = r.selectIdempotencyForUpdate(ctx, tx, practitionerID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

func (r *BookingRepository) FinalizeIdempotency(ctx context.Context, tx pgx.Tx, practitionerID, key, bookingID string, statusCode int, response []byte) error {
	_, err := tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET booking_id = $3,
			status_code = $4,
			response_payload = $5,
			updated_at = now()
		WHERE practitioner_id = $1 AND idempotency_key = $2
	`, practitionerID, key, bookingID, statusCode, response)
	return err
}

func (r *BookingRepository) Create(ctx context.Context, tx pgx.Tx, b *model.Booking) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO bookings
			(practitioner_id, client_name, client_email, start_time, end_time,
			 status, price_cents, currency, series_id, occurrence_index)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, b.PractitionerID, b.ClientName, b.ClientEmail, b.StartTime, b.EndTime,
		b.Status, b.PriceCents, b.Currency, nullIfEmpty(b.SeriesID), b.OccurrenceIndex).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *BookingRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, practitionerID, bookingID string) (model.Booking, error) {
	row := tx.QueryRow(ctx, selectBooking+`
		WHERE id = $1 AND practitioner_id = $2
		FOR UPDATE
	`, bookingID, practitionerID)
	return scanBooking(row)
}

func (r *BookingRepository) GetByID(ctx context.Context, bookingID string) (model.Booking, error) {
	row := r.pool.QueryRow(ctx, selectBooking+`
		WHERE id = $1
	`, bookingID)
	return scanBooking(row)
}

func (r *BookingRepository) SetCalendarEventID(ctx context.Context, tx pgx.Tx, bookingID, eventID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE bookings
		SET calendar_event_id = $2
		WHERE id = $1
	`, bookingID, eventID)
	return err
}

// Confirm moves a pending booking to confirmed once its payment completed.
// Already-confirmed bookings are left untouched so payment events can replay.
func (r *BookingRepository) Confirm(ctx context.Context, tx pgx.Tx, bookingID string) (model.Booking, error) {
	_, err := tx.Exec(ctx, `
		UPDATE bookings
		SET status = $2
		WHERE id = $1 AND status = $3
	`, bookingID, model.StatusConfirmed, model.StatusPendingPayment)
	if err != nil {
		return model.Booking{}, err
	}
	row := tx.QueryRow(ctx, selectBooking+`
		WHERE id = $1
	`, bookingID)
	return scanBooking(row)
}

func (r *BookingRepository) Cancel(ctx context.Context, tx pgx.Tx, practitionerID, bookingID, reason string) (time.Time, error) {
	var cancelledAt time.Time
	err := tx.QueryRow(ctx, `
		UPDATE bookings
		SET status = 'cancelled',
			cancelled_at = now(),
			cancellation_reason = $3
		WHERE id = $1 AND practitioner_id = $2
		RETURNING cancelled_at
	`, bookingID, practitionerID, reason).Scan(&cancelledAt)
	return cancelledAt, err
}

// BookedIntervals is the planner's bulk per-month booking fetch: all
// non-cancelled bookings overlapping [start, end), as bare UTC intervals.
func (r *BookingRepository) BookedIntervals(ctx context.Context, practitionerID string, start, end time.Time) ([]availability.Interval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT start_time, end_time
		FROM bookings
		WHERE practitioner_id = $1
			AND status <> 'cancelled'
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC
	`, practitionerID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var intervals []availability.Interval
	for rows.Next() {
		var iv availability.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		intervals = append(intervals, iv)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return intervals, nil
}

// SystemEventIDs lists the calendar event ids attached to this
// practitioner's bookings; the planner drops externally mirrored copies
// of those events so a booking never blocks its own slot twice.
func (r *BookingRepository) SystemEventIDs(ctx context.Context, practitionerID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT calendar_event_id
		FROM bookings
		WHERE practitioner_id = $1 AND calendar_event_id IS NOT NULL
	`, practitionerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return ids, nil
}

func (r *BookingRepository) ListByPractitioner(ctx context.Context, practitionerID string, limit int) ([]model.Booking, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, selectBooking+`
		WHERE practitioner_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, practitionerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return bookings, nil
}

// MaxOccurrenceIndex returns the highest occurrence index materialized for
// a series, or -1 when none exist yet. Cancelled occurrences still count:
// an index, once used, is never reissued.
func (r *BookingRepository) MaxOccurrenceIndex(ctx context.Context, seriesID string) (int, error) {
	var max int
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(occurrence_index), -1)
		FROM bookings
		WHERE series_id = $1
	`, seriesID).Scan(&max)
	if err != nil {
		return 0, err
	}
	return max, nil
}

const selectBooking = `
	SELECT id, practitioner_id, client_name, client_email,
		start_time, end_time, status, price_cents, currency,
		COALESCE(calendar_event_id, ''), COALESCE(series_id::text, ''), occurrence_index,
		cancelled_at, COALESCE(cancellation_reason, ''), created_at
	FROM bookings
`

func scanBooking(row pgx.Row) (model.Booking, error) {
	var b model.Booking
	var cancelledAt *time.Time
	var occurrenceIndex *int
	err := row.Scan(
		&b.ID,
		&b.PractitionerID,
		&b.ClientName,
		&b.ClientEmail,
		&b.StartTime,
		&b.EndTime,
		&b.Status,
		&b.PriceCents,
		&b.Currency,
		&b.CalendarEventID,
		&b.SeriesID,
		&occurrenceIndex,
		&cancelledAt,
		&b.CancelReason,
		&b.CreatedAt,
	)
	if err != nil {
		return model.Booking{}, err
	}
	b.CancelledAt = cancelledAt
	b.OccurrenceIndex = occurrenceIndex
	return b, nil
}

// IsConflict reports a booking-overlap rejection from the exclusion
// constraint on (practitioner_id, [start_time, end_time)).
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

// IsDuplicateIndex reports a unique violation on (series_id,
// occurrence_index): another run already materialized this occurrence.
func IsDuplicateIndex(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func (r *BookingRepository) selectIdempotencyForUpdate(ctx context.Context, tx pgx.Tx, practitionerID, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var responseText string
	err := tx.QueryRow(ctx, `
		SELECT practitioner_id::text,
			idempotency_key,
			COALESCE(booking_id::text, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM booking_idempotency_keys
		WHERE practitioner_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, practitionerID, key).Scan(
		&rec.PractitionerID,
		&rec.IdempotencyKey,
		&rec.BookingID,
		&rec.StatusCode,
		&responseText,
	)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
