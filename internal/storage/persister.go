// internal/storage/persister.go
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github-star-crawler/internal/metrics"
	"github-star-crawler/internal/model"
)

// PersisterOptions tunes the streaming consumer.
type PersisterOptions struct {
	// BatchSize is the number of records accumulated before a flush.
	BatchSize int
	// MaxWriteAttempts bounds retries of a failed batch write. Writes are
	// idempotent (upsert + timestamp-keyed snapshots), so retrying is safe.
	MaxWriteAttempts int
	// WriteRetryDelay is the pause between write attempts.
	WriteRetryDelay time.Duration
}

// Persister drains the record queue, accumulates fixed-size batches and
// writes each batch in one transaction. It is the single storage consumer;
// producers block on the bounded queue when writes fall behind.
type Persister struct {
	store  Store
	opts   PersisterOptions
	clock  Clock
	logger *slog.Logger
}

// NewPersister creates a Persister.
func NewPersister(store Store, opts PersisterOptions, clock Clock, logger *slog.Logger) *Persister {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.MaxWriteAttempts <= 0 {
		opts.MaxWriteAttempts = 3
	}
	if opts.WriteRetryDelay <= 0 {
		opts.WriteRetryDelay = time.Second
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Persister{store: store, opts: opts, clock: clock, logger: logger}
}

// Run consumes records until the channel closes, flushing every BatchSize
// records and once more for the final partial batch. It returns the number
// of records durably written. A write failure that survives the bounded
// retries aborts the run; silently dropping a batch would break the
// append-only snapshot history.
func (p *Persister) Run(ctx context.Context, records <-chan model.Repository) (int, error) {
	batch := make([]model.Repository, 0, p.opts.BatchSize)
	written := 0

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		case rec, ok := <-records:
			if !ok {
				if len(batch) > 0 {
					if err := p.flush(ctx, batch); err != nil {
						return written, err
					}
					written += len(batch)
				}
				return written, nil
			}
			batch = append(batch, rec)
			if len(batch) >= p.opts.BatchSize {
				if err := p.flush(ctx, batch); err != nil {
					return written, err
				}
				written += len(batch)
				batch = batch[:0]
			}
		}
	}
}

// flush writes one batch, stamped with a single fetch timestamp, retrying up
// to MaxWriteAttempts times.
func (p *Persister) flush(ctx context.Context, batch []model.Repository) error {
	fetchedAt := p.clock.Now()

	var lastErr error
	for attempt := 1; attempt <= p.opts.MaxWriteAttempts; attempt++ {
		start := time.Now()
		err := p.store.SaveBatch(ctx, batch, fetchedAt)
		if err == nil {
			metrics.ObserveBatchFlush(len(batch), time.Since(start))
			p.logger.Debug("Flushed batch", "records", len(batch), "fetched_at", fetchedAt)
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.Warn("Batch write failed",
			"attempt", attempt, "max_attempts", p.opts.MaxWriteAttempts,
			"records", len(batch), "error", err)
		if attempt < p.opts.MaxWriteAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.opts.WriteRetryDelay):
			}
		}
	}
	return fmt.Errorf("batch write failed after %d attempts: %w", p.opts.MaxWriteAttempts, lastErr)
}
