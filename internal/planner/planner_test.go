// internal/planner/planner_test.go
package planner

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countFunc adapts a function to the Counter interface.
type countFunc func(ctx context.Context, start, end time.Time) (int, error)

func (f countFunc) Count(ctx context.Context, start, end time.Time) (int, error) {
	return f(ctx, start, end)
}

// pointOracle counts fixed creation timestamps inside [start, end). It is a
// self-consistent oracle: child counts always sum to the parent count.
func pointOracle(points []time.Time) countFunc {
	return func(_ context.Context, start, end time.Time) (int, error) {
		n := 0
		for _, p := range points {
			if !p.Before(start) && p.Before(end) {
				n++
			}
		}
		return n, nil
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testInterval() (time.Time, time.Time) {
	start := time.Date(2008, 1, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(10, 0, 0)
}

// uniformPoints spreads n timestamps evenly across [start, end).
func uniformPoints(start, end time.Time, n int) []time.Time {
	step := end.Sub(start) / time.Duration(n)
	points := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		points = append(points, start.Add(step*time.Duration(i)))
	}
	return points
}

func sortWindows(windows []Window) {
	sort.Slice(windows, func(i, j int) bool { return windows[i].Start.Before(windows[j].Start) })
}

func TestNew(t *testing.T) {
	t.Run("rejects non-positive cap", func(t *testing.T) {
		_, err := New(pointOracle(nil), 0, testLogger())
		assert.Error(t, err)

		_, err = New(pointOracle(nil), -5, testLogger())
		assert.Error(t, err)
	})

	t.Run("rejects nil counter", func(t *testing.T) {
		_, err := New(nil, 100, testLogger())
		assert.ErrorIs(t, err, ErrNoCounter)
	})
}

func TestPlan_SingleWindow(t *testing.T) {
	start, end := testInterval()
	points := uniformPoints(start, end, 800)

	p, err := New(pointOracle(points), 1000, testLogger())
	require.NoError(t, err)

	windows, stats, err := p.Plan(context.Background(), start, end, 10000)
	require.NoError(t, err)

	require.Len(t, windows, 1, "count under the cap must not be split")
	assert.True(t, windows[0].Start.Equal(start))
	assert.True(t, windows[0].End.Equal(end))
	assert.Equal(t, 800, windows[0].Count)
	assert.Equal(t, 800, windows[0].Take)
	assert.Equal(t, 800, stats.Allocated)
	assert.Zero(t, stats.Truncated)
}

func TestPlan_CountAtCapIsNotSplit(t *testing.T) {
	start, end := testInterval()
	points := uniformPoints(start, end, 1000)

	p, err := New(pointOracle(points), 1000, testLogger())
	require.NoError(t, err)

	windows, _, err := p.Plan(context.Background(), start, end, 10000)
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, 1000, windows[0].Count)
}

func TestPlan_BisectsOverCapWindows(t *testing.T) {
	start, end := testInterval()
	points := uniformPoints(start, end, 2500)

	p, err := New(pointOracle(points), 1000, testLogger())
	require.NoError(t, err)

	windows, stats, err := p.Plan(context.Background(), start, end, math.MaxInt)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(windows), 3, "2500 results under a 1000 cap need at least 3 windows")
	total := 0
	for _, w := range windows {
		assert.LessOrEqual(t, w.Count, 1000)
		assert.Positive(t, w.Count, "zero-count windows must be discarded")
		total += w.Count
	}
	assert.Equal(t, 2500, total)
	assert.Equal(t, 2500, stats.Allocated)
	assert.Zero(t, stats.Truncated)
}

func TestPlan_WindowsDisjointAndCoverProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	start, end := testInterval()
	span := end.Sub(start)

	for trial := 0; trial < 25; trial++ {
		n := 1 + rng.Intn(3000)
		points := make([]time.Time, 0, n)
		for i := 0; i < n; i++ {
			points = append(points, start.Add(time.Duration(rng.Int63n(int64(span)))))
		}
		cap := 1 + rng.Intn(500)

		p, err := New(pointOracle(points), cap, testLogger())
		require.NoError(t, err)

		windows, stats, err := p.Plan(context.Background(), start, end, math.MaxInt)
		require.NoError(t, err)

		sortWindows(windows)
		for i := 1; i < len(windows); i++ {
			assert.False(t, windows[i].Start.Before(windows[i-1].End),
				"trial %d: windows %d and %d overlap", trial, i-1, i)
		}

		// Every point lands in exactly one window (no gaps, no duplicates),
		// unless truncation legitimately dropped coverage.
		if stats.Truncated == 0 {
			covered := 0
			for _, pt := range points {
				hits := 0
				for _, w := range windows {
					if !pt.Before(w.Start) && pt.Before(w.End) {
						hits++
					}
				}
				assert.LessOrEqual(t, hits, 1, "trial %d: point covered twice", trial)
				covered += hits
			}
			assert.Equal(t, len(points), covered, "trial %d: all points must be covered", trial)
		}

		for _, w := range windows {
			assert.LessOrEqual(t, w.Count, cap, "trial %d: window exceeds cap", trial)
			assert.False(t, w.Start.Before(start) || w.End.After(end),
				"trial %d: window escapes the input interval", trial)
		}
	}
}

func TestPlan_StopsAtTarget(t *testing.T) {
	start, end := testInterval()
	points := uniformPoints(start, end, 2500)

	p, err := New(pointOracle(points), 1000, testLogger())
	require.NoError(t, err)

	windows, stats, err := p.Plan(context.Background(), start, end, 800)
	require.NoError(t, err)

	assert.Equal(t, 800, stats.Allocated)
	sum := 0
	for _, w := range windows {
		sum += w.Take
		assert.LessOrEqual(t, w.Take, w.Count)
	}
	assert.Equal(t, 800, sum)
}

func TestPlan_TruncatesUnsplittableWindow(t *testing.T) {
	start := time.Date(2015, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Second)

	// 3000 results per one-second slice: both halves exceed the cap and
	// cannot shrink further.
	oracle := countFunc(func(_ context.Context, s, e time.Time) (int, error) {
		return int(e.Sub(s)/time.Second) * 3000, nil
	})

	p, err := New(oracle, 1000, testLogger())
	require.NoError(t, err)

	windows, stats, err := p.Plan(context.Background(), start, end, math.MaxInt)
	require.NoError(t, err)

	require.Len(t, windows, 2)
	for _, w := range windows {
		assert.Equal(t, 1000, w.Count, "unsplittable window must be clamped to the cap")
	}
	assert.Equal(t, 4000, stats.Truncated)
}

func TestPlan_InconsistentOracleClampsParent(t *testing.T) {
	start, end := testInterval()
	mid, ok := bisect(start, end)
	require.True(t, ok)

	// The parent claims 1500 results but the halves only account for 400:
	// the index drifted. Enumerating the parent up to the cap wins.
	oracle := countFunc(func(_ context.Context, s, e time.Time) (int, error) {
		if s.Equal(start) && e.Equal(end) {
			return 1500, nil
		}
		if e.Equal(mid) || s.Equal(mid) {
			return 200, nil
		}
		return 0, nil
	})

	p, err := New(oracle, 1000, testLogger())
	require.NoError(t, err)

	windows, _, err := p.Plan(context.Background(), start, end, math.MaxInt)
	require.NoError(t, err)

	require.Len(t, windows, 1)
	assert.True(t, windows[0].Start.Equal(start))
	assert.True(t, windows[0].End.Equal(end))
	assert.Equal(t, 1000, windows[0].Count)
}

func TestPlan_EmptyAndInvalidIntervals(t *testing.T) {
	at := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	p, err := New(pointOracle(nil), 1000, testLogger())
	require.NoError(t, err)

	t.Run("empty interval yields empty plan", func(t *testing.T) {
		windows, stats, err := p.Plan(context.Background(), at, at, 100)
		require.NoError(t, err)
		assert.Empty(t, windows)
		assert.Zero(t, stats.Allocated)
	})

	t.Run("inverted interval is an error", func(t *testing.T) {
		_, _, err := p.Plan(context.Background(), at, at.Add(-time.Hour), 100)
		assert.Error(t, err)
	})

	t.Run("non-positive target is an error", func(t *testing.T) {
		_, _, err := p.Plan(context.Background(), at, at.Add(time.Hour), 0)
		assert.Error(t, err)
	})
}

func TestPlan_ZeroCountIntervalDiscarded(t *testing.T) {
	start, end := testInterval()

	p, err := New(pointOracle(nil), 1000, testLogger())
	require.NoError(t, err)

	windows, stats, err := p.Plan(context.Background(), start, end, 100)
	require.NoError(t, err)
	assert.Empty(t, windows)
	assert.Zero(t, stats.Allocated)
}

func TestPlan_CountErrorAborts(t *testing.T) {
	start, end := testInterval()
	oracleErr := errors.New("search exploded")
	oracle := countFunc(func(_ context.Context, _, _ time.Time) (int, error) {
		return 0, oracleErr
	})

	p, err := New(oracle, 1000, testLogger())
	require.NoError(t, err)

	_, _, err = p.Plan(context.Background(), start, end, 100)
	assert.ErrorIs(t, err, oracleErr)
}

func TestBisect(t *testing.T) {
	base := time.Date(2019, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("splits wide intervals at the midpoint", func(t *testing.T) {
		mid, ok := bisect(base, base.Add(time.Hour))
		require.True(t, ok)
		assert.True(t, mid.Equal(base.Add(30*time.Minute)))
	})

	t.Run("splits the two-second minimum", func(t *testing.T) {
		mid, ok := bisect(base, base.Add(2*time.Second))
		require.True(t, ok)
		assert.True(t, mid.After(base))
		assert.True(t, mid.Before(base.Add(2*time.Second)))
	})

	t.Run("refuses sub-minimum intervals", func(t *testing.T) {
		_, ok := bisect(base, base.Add(time.Second))
		assert.False(t, ok)

		_, ok = bisect(base, base.Add(1500*time.Millisecond))
		assert.False(t, ok)
	})
}
