// internal/planner/planner.go

// Package planner subdivides the repository-creation-time axis into search
// windows small enough to enumerate exhaustively under the API's per-query
// result cap.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github-star-crawler/internal/metrics"
)

// minSplitSpan is the smallest interval that can still be bisected. The
// search qualifier has second granularity, so a window narrower than two
// seconds cannot produce two non-empty halves.
const minSplitSpan = 2 * time.Second

// Counter reports how many repositories were created in [start, end).
// Implemented by the fetch client; count queries share its concurrency gate.
type Counter interface {
	Count(ctx context.Context, start, end time.Time) (int, error)
}

// Window is a half-open creation-time interval [Start, End) whose result
// count fits under the search cap. Take is the slice of the crawl target
// assigned to this window.
type Window struct {
	Start time.Time
	End   time.Time
	Count int
	Take  int
}

// Span returns the window's duration.
func (w Window) Span() time.Duration {
	return w.End.Sub(w.Start)
}

// Stats summarizes a planning pass.
type Stats struct {
	// Allocated is the total quota assigned across emitted windows.
	Allocated int
	// Truncated counts records known to be unreachable because a window at
	// minimum granularity still exceeded the cap.
	Truncated int
}

// Planner creates search windows that respect the per-query result cap.
type Planner struct {
	counter Counter
	cap     int
	logger  *slog.Logger
}

// ErrNoCounter is returned when a Planner is constructed without an oracle.
var ErrNoCounter = errors.New("planner requires a count oracle")

// New creates a Planner. The cap must be positive.
func New(counter Counter, resultCap int, logger *slog.Logger) (*Planner, error) {
	if counter == nil {
		return nil, ErrNoCounter
	}
	if resultCap <= 0 {
		return nil, fmt.Errorf("search result cap must be > 0, got %d", resultCap)
	}
	return &Planner{counter: counter, cap: resultCap, logger: logger}, nil
}

// candidate is a stack entry: an interval with an optionally pre-computed count.
type candidate struct {
	start, end time.Time
	count      int
	known      bool
}

// Plan walks [start, end) with an explicit work stack, emitting windows whose
// counts fit under the cap until the target is fully allocated or the
// interval is exhausted. Emitted windows are pairwise disjoint; together with
// the discarded zero-count intervals they tile the portion of the input the
// planner visited before the target was met.
func (p *Planner) Plan(ctx context.Context, start, end time.Time, target int) ([]Window, Stats, error) {
	if target <= 0 {
		return nil, Stats{}, fmt.Errorf("target count must be > 0, got %d", target)
	}
	if start.After(end) {
		return nil, Stats{}, fmt.Errorf("interval start %s is after end %s",
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	if start.Equal(end) {
		return nil, Stats{}, nil
	}

	var (
		windows   []Window
		stats     Stats
		remaining = target
		stack     = []candidate{{start: start, end: end}}
	)

	for len(stack) > 0 && remaining > 0 {
		if err := ctx.Err(); err != nil {
			return nil, Stats{}, err
		}

		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		count := cur.count
		if !cur.known {
			var err error
			count, err = p.counter.Count(ctx, cur.start, cur.end)
			if err != nil {
				return nil, Stats{}, fmt.Errorf("count window %s..%s: %w",
					cur.start.Format(time.RFC3339), cur.end.Format(time.RFC3339), err)
			}
		}
		if count == 0 {
			continue
		}

		if count > p.cap {
			mid, splittable := bisect(cur.start, cur.end)
			if !splittable {
				overflow := count - p.cap
				stats.Truncated += overflow
				metrics.ObserveTruncated(overflow)
				p.logger.Warn("Window at minimum granularity still exceeds the search cap; records beyond the cap are unreachable",
					"start", cur.start.Format(time.RFC3339),
					"end", cur.end.Format(time.RFC3339),
					"count", count, "cap", p.cap, "dropped", overflow)
				count = p.cap
			} else {
				olderCount, newerCount, err := p.countHalves(ctx, cur.start, mid, cur.end)
				if err != nil {
					return nil, Stats{}, err
				}
				available := min(count, p.cap)
				if olderCount+newerCount < available {
					// The oracle is not self-consistent (counts drift while
					// the index updates). Enumerating the parent up to the
					// cap recovers more than the halves would.
					count = available
				} else {
					stack = append(stack,
						candidate{start: cur.start, end: mid, count: olderCount, known: true},
						candidate{start: mid, end: cur.end, count: newerCount, known: true},
					)
					continue
				}
			}
		}

		take := min(count, remaining)
		windows = append(windows, Window{Start: cur.start, End: cur.end, Count: count, Take: take})
		remaining -= take
		stats.Allocated += take
	}

	return windows, stats, nil
}

// countHalves queries both halves of a bisected interval concurrently. The
// client's shared gate bounds the underlying API calls.
func (p *Planner) countHalves(ctx context.Context, start, mid, end time.Time) (int, int, error) {
	var older, newer int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := p.counter.Count(gctx, start, mid)
		older = n
		return err
	})
	g.Go(func() error {
		n, err := p.counter.Count(gctx, mid, end)
		newer = n
		return err
	})
	if err := g.Wait(); err != nil {
		return 0, 0, fmt.Errorf("count bisected window %s..%s: %w",
			start.Format(time.RFC3339), end.Format(time.RFC3339), err)
	}
	return older, newer, nil
}

// bisect returns the temporal midpoint of [start, end), rounded down to whole
// seconds so both halves remain expressible in the search qualifier. The
// second return is false when the interval cannot shrink any further.
func bisect(start, end time.Time) (time.Time, bool) {
	span := end.Sub(start)
	if span < minSplitSpan {
		return time.Time{}, false
	}
	half := (span / 2).Truncate(time.Second)
	if half < time.Second {
		return time.Time{}, false
	}
	return start.Add(half), true
}
