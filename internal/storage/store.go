// internal/storage/store.go

// Package storage persists crawled repository records into Postgres and
// implements the streaming batch consumer that feeds it.
package storage

import (
	"context"
	"time"

	"github-star-crawler/internal/model"
)

// Store is the write/read surface the crawl pipeline depends on. A batch
// write must be transactionally atomic: canonical upserts and snapshot
// inserts either all commit or all roll back.
type Store interface {
	SaveBatch(ctx context.Context, records []model.Repository, fetchedAt time.Time) error
}

// Clock returns the current time. Injected so tests control batch timestamps.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
