package series

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/davidriudor/citaflow/libs/db"
)

// Series is the scheduler's view of a recurring booking rule.
type Series struct {
	ID             string
	PractitionerID string
	ClientName     string
	ClientEmail    string
	Timezone       string
	StartLocal     time.Time
	DurationMin    int
	IntervalWeeks  int
	Weekday        time.Weekday
	NextRunAt      time.Time
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// FetchDue claims active series whose extension is due. SKIP LOCKED keeps
// concurrent scheduler instances off each other's rows; the unique index on
// (series_id, occurrence_index) backstops any claim that slips through.
func (r *Repository) FetchDue(ctx context.Context, tx pgx.Tx, limit int) ([]Series, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, practitioner_id, client_name, client_email, timezone,
			start_local, duration_minutes, interval_weeks, weekday, next_run_at
		FROM booking_series
		WHERE status = 'active' AND next_run_at <= now()
		ORDER BY next_run_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Series
	for rows.Next() {
		var s Series
		var weekday int
		if err := rows.Scan(&s.ID, &s.PractitionerID, &s.ClientName, &s.ClientEmail, &s.Timezone,
			&s.StartLocal, &s.DurationMin, &s.IntervalWeeks, &weekday, &s.NextRunAt); err != nil {
			return nil, err
		}
		s.Weekday = time.Weekday(weekday)
		out = append(out, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// MaxOccurrenceIndex returns the highest occurrence index already booked for
// the series, or -1 when no occurrence exists. Cancelled bookings count.
func (r *Repository) MaxOccurrenceIndex(ctx context.Context, seriesID string) (int, error) {
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

func (r *Repository) AdvanceNextRun(ctx context.Context, tx pgx.Tx, seriesID string, nextRunAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE booking_series
		SET next_run_at = $2, updated_at = now()
		WHERE id = $1
	`, seriesID, nextRunAt)
	return err
}
