package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/davidriudor/citaflow/libs/db"
	"github.com/davidriudor/citaflow/services/booking-service/internal/model"
)

type SeriesRepository struct {
	pool *db.Pool
}

func NewSeriesRepository(pool *db.Pool) *SeriesRepository {
	return &SeriesRepository{pool: pool}
}

func (r *SeriesRepository) Create(ctx context.Context, tx pgx.Tx, s *model.Series) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO booking_series
			(practitioner_id, client_name, client_email, timezone, start_local,
			 duration_minutes, interval_weeks, weekday, status, next_run_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, s.PractitionerID, s.ClientName, s.ClientEmail, s.Timezone, s.StartLocal,
		s.DurationMin, s.IntervalWeeks, int(s.Weekday), s.Status, s.NextRunAt).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *SeriesRepository) Get(ctx context.Context, practitionerID, seriesID string) (model.Series, error) {
	row := r.pool.QueryRow(ctx, selectSeries+`
		WHERE id = $1 AND practitioner_id = $2
	`, seriesID, practitionerID)
	return scanSeries(row)
}

// End marks the series ended so the extension loop stops producing new
// occurrences. Occurrences already booked are cancelled separately.
func (r *SeriesRepository) End(ctx context.Context, tx pgx.Tx, practitionerID, seriesID string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE booking_series
		SET status = $3, updated_at = now()
		WHERE id = $1 AND practitioner_id = $2 AND status = $4
	`, seriesID, practitionerID, model.SeriesEnded, model.SeriesActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// CancelFutureOccurrences cancels every not-yet-started booking of the
// series and returns the affected booking ids with their calendar events
// so the caller can clean the mirrored calendar entries up.
func (r *SeriesRepository) CancelFutureOccurrences(ctx context.Context, tx pgx.Tx, seriesID, reason string, after time.Time) ([]model.Booking, error) {
	rows, err := tx.Query(ctx, `
		UPDATE bookings
		SET status = 'cancelled',
			cancelled_at = now(),
			cancellation_reason = $2
		WHERE series_id = $1
			AND start_time > $3
			AND status <> 'cancelled'
		RETURNING id, COALESCE(calendar_event_id, '')
	`, seriesID, reason, after)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cancelled []model.Booking
	for rows.Next() {
		var b model.Booking
		if err := rows.Scan(&b.ID, &b.CalendarEventID); err != nil {
			return nil, err
		}
		b.SeriesID = seriesID
		cancelled = append(cancelled, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return cancelled, nil
}

const selectSeries = `
	SELECT id, practitioner_id, client_name, client_email, timezone,
		start_local, duration_minutes, interval_weeks, weekday, status,
		COALESCE(calendar_master_event_id, ''), next_run_at, created_at
	FROM booking_series
`

func scanSeries(row pgx.Row) (model.Series, error) {
	var s model.Series
	var weekday int
	err := row.Scan(
		&s.ID,
		&s.PractitionerID,
		&s.ClientName,
		&s.ClientEmail,
		&s.Timezone,
		&s.StartLocal,
		&s.DurationMin,
		&s.IntervalWeeks,
		&weekday,
		&s.Status,
		&s.CalendarMasterEventID,
		&s.NextRunAt,
		&s.CreatedAt,
	)
	if err != nil {
		return model.Series{}, err
	}
	s.Weekday = time.Weekday(weekday)
	return s, nil
}
