// internal/gh/retry_test.go
package gh

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/stretchr/testify/assert"
)

func ghError(status int) *github.ErrorResponse {
	return &github.ErrorResponse{
		Response: &http.Response{
			StatusCode: status,
			Request:    &http.Request{Method: http.MethodGet},
		},
	}
}

type timeoutError struct{ timeout bool }

func (e timeoutError) Error() string { return "dial timeout" }
func (e timeoutError) Timeout() bool { return e.timeout }
func (e timeoutError) Temporary() bool { return e.timeout }

func TestShouldRetry(t *testing.T) {
	p := DefaultRetryPolicy()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"rate limit", &github.RateLimitError{}, true},
		{"abuse rate limit", &github.AbuseRateLimitError{}, true},
		{"wrapped rate limit", fmt.Errorf("search: %w", &github.RateLimitError{}), true},
		{"server error", ghError(http.StatusInternalServerError), true},
		{"bad gateway", ghError(http.StatusBadGateway), true},
		{"unauthorized", ghError(http.StatusUnauthorized), false},
		{"forbidden", ghError(http.StatusForbidden), false},
		{"not found", ghError(http.StatusNotFound), false},
		{"unprocessable query", ghError(http.StatusUnprocessableEntity), false},
		{"context canceled", context.Canceled, false},
		{"context deadline", context.DeadlineExceeded, false},
		{"network timeout", timeoutError{timeout: true}, true},
		{"non-timeout net error", timeoutError{timeout: false}, false},
		{"unclassified error", errors.New("connection reset by peer"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, p.ShouldRetry(tc.err, 1))
		})
	}

	t.Run("attempt budget exhausted", func(t *testing.T) {
		assert.False(t, p.ShouldRetry(&github.RateLimitError{}, p.MaxAttempts))
		assert.False(t, p.ShouldRetry(&github.RateLimitError{}, p.MaxAttempts+1))
	})
}

func TestBackoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 6, BaseDelay: time.Second, MaxDelay: 30 * time.Second}

	t.Run("grows with attempts and stays within bounds", func(t *testing.T) {
		err := errors.New("transient")
		for attempt := 1; attempt <= 10; attempt++ {
			d := p.Backoff(err, attempt)
			assert.Positive(t, d, "attempt %d", attempt)
			assert.LessOrEqual(t, d, p.MaxDelay, "attempt %d", attempt)
		}
		// Attempt 4 schedules at least the un-jittered half of 16s.
		assert.GreaterOrEqual(t, p.Backoff(err, 4), 8*time.Second)
	})

	t.Run("honors the rate limit reset hint", func(t *testing.T) {
		err := &github.RateLimitError{
			Rate: github.Rate{Reset: github.Timestamp{Time: time.Now().Add(5 * time.Second)}},
		}
		d := p.Backoff(err, 1)
		assert.Greater(t, d, 4*time.Second)
		assert.LessOrEqual(t, d, 5*time.Second+100*time.Millisecond)
	})

	t.Run("caps hints at MaxDelay", func(t *testing.T) {
		err := &github.RateLimitError{
			Rate: github.Rate{Reset: github.Timestamp{Time: time.Now().Add(10 * time.Minute)}},
		}
		assert.Equal(t, p.MaxDelay, p.Backoff(err, 1))
	})

	t.Run("honors abuse retry-after", func(t *testing.T) {
		after := 3 * time.Second
		err := &github.AbuseRateLimitError{RetryAfter: &after}
		assert.Equal(t, after, p.Backoff(err, 1))
	})

	t.Run("stale hint falls back to the schedule", func(t *testing.T) {
		err := &github.RateLimitError{
			Rate: github.Rate{Reset: github.Timestamp{Time: time.Now().Add(-time.Minute)}},
		}
		d := p.Backoff(err, 1)
		assert.Positive(t, d)
		assert.LessOrEqual(t, d, p.MaxDelay)
	})
}
