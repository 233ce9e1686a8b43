// internal/crawler/crawler.go

// Package crawler orchestrates a crawl run: plan creation-time windows,
// fetch them concurrently and stream records into storage.
package crawler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github-star-crawler/internal/model"
	"github-star-crawler/internal/planner"
	"github-star-crawler/internal/storage"
)

// ErrDegraded marks a run that finished but failed windows, hit truncation
// or fell short of its target. The process must not exit cleanly while
// reachable records were silently dropped.
var ErrDegraded = errors.New("crawl completed with degraded coverage")

// Fetcher is the remote query surface the orchestrator drives. Count is the
// planner's oracle; FetchPage pages through one window. Both share the
// client's global concurrency gate.
type Fetcher interface {
	planner.Counter
	FetchPage(ctx context.Context, start, end time.Time, page int) ([]model.Repository, int, error)
}

// Options configures a crawl run.
type Options struct {
	// Target is the total number of repositories to collect.
	Target int
	// ResultCap is the API's hard per-query enumeration limit.
	ResultCap int
	// Concurrency bounds simultaneous window producers.
	Concurrency int
	// QueueSize is the bounded record queue capacity between producers and
	// the persister; full means producers block (backpressure).
	QueueSize int
	// RangeStart is the lower bound of the creation-time axis.
	RangeStart time.Time
}

// Result summarizes a finished crawl.
type Result struct {
	Windows       int
	Fetched       int
	Persisted     int
	FailedWindows int
	Truncated     int
	FinishedAt    time.Time
}

// Crawler wires the planner, the fetch client and the persister together.
type Crawler struct {
	client    Fetcher
	persister *storage.Persister
	opts      Options
	clock     storage.Clock
	logger    *slog.Logger

	seenMu sync.Mutex
	seen   map[int64]struct{}
}

// New creates a Crawler.
func New(client Fetcher, persister *storage.Persister, opts Options, clock storage.Clock, logger *slog.Logger) *Crawler {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 12
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 2000
	}
	if clock == nil {
		clock = storage.SystemClock{}
	}
	return &Crawler{
		client:    client,
		persister: persister,
		opts:      opts,
		clock:     clock,
		logger:    logger,
		seen:      make(map[int64]struct{}),
	}
}

// Run executes one crawl: plan windows over [RangeStart, now), fetch every
// window under the shared gate and stream records through the bounded queue
// into the persister. A failed window is reported, not fatal; a persistence
// failure is fatal for the run.
func (c *Crawler) Run(ctx context.Context) (Result, error) {
	now := c.clock.Now()

	pl, err := planner.New(c.client, c.opts.ResultCap, c.logger)
	if err != nil {
		return Result{}, err
	}

	c.logger.Info("Planning crawl windows",
		"target", c.opts.Target,
		"range_start", c.opts.RangeStart.Format(time.RFC3339),
		"range_end", now.Format(time.RFC3339))

	windows, stats, err := pl.Plan(ctx, c.opts.RangeStart, now, c.opts.Target)
	if err != nil {
		return Result{}, err
	}
	c.logger.Info("Prepared crawl windows",
		"windows", len(windows), "allocated", stats.Allocated, "truncated", stats.Truncated)

	records := make(chan model.Repository, c.opts.QueueSize)

	// Producers run under a context the persister can cancel: if the write
	// side dies, blocked queue pushes must not hang the run.
	produceCtx, stopProducers := context.WithCancel(ctx)
	defer stopProducers()

	// Single persister consumer; its return carries the durable write count.
	type persistOutcome struct {
		written int
		err     error
	}
	persistDone := make(chan persistOutcome, 1)
	go func() {
		written, perr := c.persister.Run(ctx, records)
		if perr != nil {
			stopProducers()
		}
		persistDone <- persistOutcome{written: written, err: perr}
	}()

	var (
		fetched       atomic.Int64
		failedWindows atomic.Int64
	)

	g, gctx := errgroup.WithContext(produceCtx)
	g.SetLimit(c.opts.Concurrency)
	for _, w := range windows {
		w := w
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			n, ferr := c.produceWindow(gctx, w, records)
			fetched.Add(int64(n))
			if ferr != nil && !errors.Is(ferr, context.Canceled) {
				failedWindows.Add(1)
				c.logger.Error("Window fetch failed",
					"start", w.Start.Format(time.RFC3339),
					"end", w.End.Format(time.RFC3339),
					"fetched", n, "error", ferr)
			}
			// Window failures never interrupt unrelated windows.
			return nil
		})
	}

	_ = g.Wait()
	close(records)
	outcome := <-persistDone

	result := Result{
		Windows:       len(windows),
		Fetched:       int(fetched.Load()),
		Persisted:     outcome.written,
		FailedWindows: int(failedWindows.Load()),
		Truncated:     stats.Truncated,
		FinishedAt:    c.clock.Now(),
	}

	if outcome.err != nil && !errors.Is(outcome.err, context.Canceled) {
		return result, outcome.err
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	if result.FailedWindows > 0 || result.Truncated > 0 {
		return result, ErrDegraded
	}
	return result, nil
}

// produceWindow pages sequentially through one window, forwarding records in
// arrival order until the window's quota is exhausted or pages run out. The
// push blocks when the queue is full.
func (c *Crawler) produceWindow(ctx context.Context, w planner.Window, records chan<- model.Repository) (int, error) {
	remaining := w.Take
	page := 1
	produced := 0

	for remaining > 0 {
		repos, nextPage, err := c.client.FetchPage(ctx, w.Start, w.End, page)
		if err != nil {
			return produced, err
		}
		if len(repos) == 0 {
			break
		}
		for _, r := range repos {
			if remaining <= 0 {
				break
			}
			if !c.markSeen(r.GithubID) {
				continue
			}
			select {
			case <-ctx.Done():
				return produced, ctx.Err()
			case records <- r:
				remaining--
				produced++
			}
		}
		if nextPage == 0 {
			break
		}
		page = nextPage
	}

	c.logger.Debug("Window produced",
		"start", w.Start.Format(time.RFC3339),
		"end", w.End.Format(time.RFC3339),
		"records", produced)
	return produced, nil
}

// markSeen reports whether the repository was first observed by this run.
// Windows are disjoint, but search index drift near boundaries can surface a
// repository twice; forwarding it once keeps per-run snapshots unique.
func (c *Crawler) markSeen(githubID int64) bool {
	c.seenMu.Lock()
	defer c.seenMu.Unlock()
	if _, ok := c.seen[githubID]; ok {
		return false
	}
	c.seen[githubID] = struct{}{}
	return true
}
