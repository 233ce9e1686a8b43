// cmd/starcrawl/dump.go
package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github-star-crawler/internal/model"
	"github-star-crawler/internal/storage"
)

var csvHeader = []string{
	"github_id", "node_id", "owner", "name", "full_name", "language",
	"stars_count", "forks_count", "open_issues_count", "watchers_count",
	"is_fork", "is_archived", "repo_created_at", "repo_updated_at",
}

func newDumpCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Export repository data to CSV, most-starred first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if output == "" {
				return errors.New("--output is required")
			}
			cfg, logger, err := setup()
			if err != nil {
				return err
			}

			pool, err := openPool(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer f.Close()

			w := csv.NewWriter(f)
			if err := w.Write(csvHeader); err != nil {
				return fmt.Errorf("failed to write CSV header: %w", err)
			}

			rows := 0
			store := storage.NewPGStore(pool)
			err = store.StreamRepositories(cmd.Context(), func(r model.Repository) error {
				rows++
				return w.Write(csvRow(r))
			})
			if err != nil {
				return fmt.Errorf("failed to export repositories: %w", err)
			}

			w.Flush()
			if err := w.Error(); err != nil {
				return fmt.Errorf("failed to flush CSV output: %w", err)
			}

			logger.Info("Dump complete", "rows", rows, "output", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "destination CSV file")
	return cmd
}

func csvRow(r model.Repository) []string {
	return []string{
		strconv.FormatInt(r.GithubID, 10),
		r.NodeID,
		r.Owner,
		r.Name,
		r.FullName,
		derefString(r.Language),
		strconv.Itoa(r.StarsCount),
		strconv.Itoa(r.ForksCount),
		strconv.Itoa(r.OpenIssuesCount),
		strconv.Itoa(r.WatchersCount),
		strconv.FormatBool(r.IsFork),
		strconv.FormatBool(r.IsArchived),
		r.RepoCreatedAt.UTC().Format(time.RFC3339),
		r.RepoUpdatedAt.UTC().Format(time.RFC3339),
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
