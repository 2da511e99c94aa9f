package series

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/davidriudor/citaflow/libs/db"
)

// Worker drives the weekly extension loop: claim due series, extend each by
// one occurrence, push next_run_at forward. Failures are isolated per
// series; one bad rule never blocks the batch.
type Worker struct {
	pool      *db.Pool
	repo      *Repository
	extender  *Extender
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	advance   time.Duration
	backoff   time.Duration
}

type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
	Advance   time.Duration
	Backoff   time.Duration
}

func NewWorker(pool *db.Pool, repo *Repository, extender *Extender, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Advance <= 0 {
		cfg.Advance = 7 * 24 * time.Hour
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 1 * time.Hour
	}
	return &Worker{
		pool:      pool,
		repo:      repo,
		extender:  extender,
		logger:    logger,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		advance:   cfg.Advance,
		backoff:   cfg.Backoff,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.processBatch(ctx); err != nil {
				w.logger.Error("series extension batch failed", "err", err)
			}
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	due, err := w.repo.FetchDue(ctx, tx, w.batchSize)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return tx.Commit(ctx)
	}

	now := time.Now().UTC()
	var extended, skipped, failed int
	for _, s := range due {
		if _, err := w.extender.ExtendByOne(ctx, s); err != nil {
			if errors.Is(err, ErrOutsideWindow) {
				// Misconfigured rule: log, push forward, keep the series
				// from hot-looping without silently ending it.
				w.logger.Warn("series rule produced no occurrence", "series_id", s.ID, "err", err)
				skipped++
			} else {
				w.logger.Error("series extension failed", "series_id", s.ID, "err", err)
				failed++
				if err := w.repo.AdvanceNextRun(ctx, tx, s.ID, now.Add(w.backoff)); err != nil {
					return err
				}
				continue
			}
		} else {
			extended++
		}
		if err := w.repo.AdvanceNextRun(ctx, tx, s.ID, s.NextRunAt.Add(w.advance)); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	w.logger.Info("series extension batch done",
		"due", len(due), "extended", extended, "skipped", skipped, "failed", failed)
	return nil
}
