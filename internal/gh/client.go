// internal/gh/client.go
package gh

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github-star-crawler/internal/metrics"
	"github-star-crawler/internal/model"
)

// searchTimeFormat is the second-granularity layout the search qualifier accepts.
const searchTimeFormat = "2006-01-02T15:04:05Z"

// Options configures a Client.
type Options struct {
	// Token is a personal access token; empty means unauthenticated.
	Token string
	// BaseURL overrides the API endpoint (GitHub Enterprise or test servers).
	BaseURL string
	// Concurrency bounds in-flight API calls across all windows and call
	// kinds. Count and page fetches share this budget.
	Concurrency int
	// PageSize is the number of repositories requested per search page.
	PageSize int
	// RequestsPerSecond enables a client-side token bucket when > 0.
	RequestsPerSecond float64
	Retry             RetryPolicy
}

// Client wraps the go-github search API with a global concurrency gate,
// optional rate limiting and retry-with-backoff.
type Client struct {
	gh       *github.Client
	sem      *semaphore.Weighted
	limiter  *rate.Limiter
	retry    RetryPolicy
	pageSize int
	logger   *slog.Logger
}

// NewClient creates and configures a new Client instance.
// The provided token is used to create an authenticated http.Client.
func NewClient(opts Options, logger *slog.Logger) (*Client, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 12
	}
	if opts.PageSize <= 0 || opts.PageSize > 100 {
		opts.PageSize = 100
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryPolicy()
	}

	var ghc *github.Client
	if opts.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token})
		ghc = github.NewClient(oauth2.NewClient(context.Background(), ts))
	} else {
		ghc = github.NewClient(nil)
	}
	if opts.BaseURL != "" {
		var err error
		ghc, err = ghc.WithEnterpriseURLs(opts.BaseURL, opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("configure API base URL: %w", err)
		}
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Concurrency)
	}

	return &Client{
		gh:       ghc,
		sem:      semaphore.NewWeighted(int64(opts.Concurrency)),
		limiter:  limiter,
		retry:    opts.Retry,
		pageSize: opts.PageSize,
		logger:   logger,
	}, nil
}

// PageSize reports the configured search page size.
func (c *Client) PageSize() int {
	return c.pageSize
}

// Count returns the number of public repositories created in [start, end).
func (c *Client) Count(ctx context.Context, start, end time.Time) (int, error) {
	var total int
	err := c.call(ctx, "count", func(ctx context.Context) error {
		result, _, err := c.gh.Search.Repositories(ctx, searchQuery(start, end), &github.SearchOptions{
			ListOptions: github.ListOptions{PerPage: 1},
		})
		if err != nil {
			return err
		}
		total = result.GetTotal()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count repositories created %s..%s: %w",
			start.UTC().Format(searchTimeFormat), end.UTC().Format(searchTimeFormat), err)
	}
	return total, nil
}

// FetchPage fetches one search page for repositories created in [start, end).
// It returns the records plus the next page number; 0 means no more pages.
func (c *Client) FetchPage(ctx context.Context, start, end time.Time, page int) ([]model.Repository, int, error) {
	var (
		repos    []model.Repository
		nextPage int
	)
	err := c.call(ctx, "page", func(ctx context.Context) error {
		result, resp, err := c.gh.Search.Repositories(ctx, searchQuery(start, end), &github.SearchOptions{
			ListOptions: github.ListOptions{PerPage: c.pageSize, Page: page},
		})
		if err != nil {
			return err
		}
		repos = repos[:0]
		for _, r := range result.Repositories {
			repos = append(repos, toRepository(r))
		}
		nextPage = resp.NextPage
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("fetch page %d for %s..%s: %w",
			page, start.UTC().Format(searchTimeFormat), end.UTC().Format(searchTimeFormat), err)
	}
	metrics.ObserveFetched(len(repos))
	return repos, nextPage, nil
}

// call runs one API call under the concurrency gate, retrying transient
// failures per the policy. The gate is held only while a request is in
// flight, never across backoff sleeps. Backoff state is per call.
func (c *Client) call(ctx context.Context, kind string, fn func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := c.gated(ctx, fn)
		if err == nil {
			metrics.ObserveAPICall(kind, "ok")
			return nil
		}
		if !c.retry.ShouldRetry(err, attempt) {
			metrics.ObserveAPICall(kind, "error")
			return err
		}

		delay := c.retry.Backoff(err, attempt-1)
		c.logger.Warn("Retrying search API call",
			"kind", kind, "attempt", attempt, "delay", delay.String(), "error", err)
		metrics.ObserveRetry()
		metrics.ObserveRateLimitWait(delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (c *Client) gated(ctx context.Context, fn func(context.Context) error) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait: %w", err)
		}
	}
	return fn(ctx)
}

// searchQuery builds the qualifier for a half-open creation-time interval.
func searchQuery(start, end time.Time) string {
	return fmt.Sprintf("created:>=%s created:<%s is:public sort:created-asc",
		start.UTC().Format(searchTimeFormat), end.UTC().Format(searchTimeFormat))
}

// toRepository translates a search result into our internal model.
func toRepository(r *github.Repository) model.Repository {
	return model.Repository{
		GithubID:        r.GetID(),
		NodeID:          r.GetNodeID(),
		Owner:           r.GetOwner().GetLogin(),
		Name:            r.GetName(),
		FullName:        r.GetFullName(),
		Description:     r.Description,
		URL:             r.GetHTMLURL(),
		Language:        r.Language,
		IsFork:          r.GetFork(),
		IsArchived:      r.GetArchived(),
		StarsCount:      r.GetStargazersCount(),
		ForksCount:      r.GetForksCount(),
		OpenIssuesCount: r.GetOpenIssuesCount(),
		WatchersCount:   r.GetWatchersCount(),
		RepoCreatedAt:   r.GetCreatedAt().Time,
		RepoUpdatedAt:   r.GetUpdatedAt().Time,
		RepoPushedAt:    r.GetPushedAt().Time,
	}
}
