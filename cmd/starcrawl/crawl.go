// cmd/starcrawl/crawl.go
package main

import (
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github-star-crawler/internal/crawler"
	"github-star-crawler/internal/gh"
	"github-star-crawler/internal/metrics"
	"github-star-crawler/internal/storage"
)

func newCrawlCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Fetch repositories and write them to Postgres",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			if count > 0 {
				cfg.TargetRepoCount = count
			}
			if cfg.GithubToken == "" {
				return errors.New("GITHUB_TOKEN is required for crawling")
			}

			metrics.Init()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			client, err := gh.NewClient(gh.Options{
				Token:             cfg.GithubToken,
				BaseURL:           cfg.GithubAPIURL,
				Concurrency:       cfg.Concurrency,
				PageSize:          cfg.PageSize,
				RequestsPerSecond: cfg.RequestsPerSecond,
				Retry: gh.RetryPolicy{
					MaxAttempts: cfg.MaxRetries,
					BaseDelay:   cfg.BackoffInitial,
					MaxDelay:    cfg.BackoffMax,
				},
			}, logger)
			if err != nil {
				return err
			}

			clock := storage.SystemClock{}
			persister := storage.NewPersister(storage.NewPGStore(pool), storage.PersisterOptions{
				BatchSize: cfg.BatchSize,
			}, clock, logger)

			c := crawler.New(client, persister, crawler.Options{
				Target:      cfg.TargetRepoCount,
				ResultCap:   cfg.SearchResultLimit,
				Concurrency: cfg.Concurrency,
				QueueSize:   cfg.QueueSize,
				RangeStart:  cfg.RangeStart,
			}, clock, logger)

			started := time.Now()
			result, err := c.Run(ctx)
			logger.Info("Crawl finished",
				"windows", result.Windows,
				"fetched", result.Fetched,
				"persisted", result.Persisted,
				"failed_windows", result.FailedWindows,
				"truncated", result.Truncated,
				"duration", time.Since(started).String())
			return err
		},
	}

	cmd.Flags().IntVar(&count, "count", 0, "number of repositories to crawl (overrides TARGET_REPO_COUNT)")
	return cmd
}
