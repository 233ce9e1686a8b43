// internal/storage/postgres.go
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github-star-crawler/internal/model"
)

const upsertRepositorySQL = `
	INSERT INTO repositories (
		github_id, node_id, owner, name, full_name, description, url, language,
		is_fork, is_archived, stars_count, forks_count, open_issues_count,
		watchers_count, repo_created_at, repo_updated_at, repo_pushed_at, fetched_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18
	)
	ON CONFLICT (github_id) DO UPDATE SET
		node_id = EXCLUDED.node_id,
		owner = EXCLUDED.owner,
		name = EXCLUDED.name,
		full_name = EXCLUDED.full_name,
		description = EXCLUDED.description,
		url = EXCLUDED.url,
		language = EXCLUDED.language,
		is_fork = EXCLUDED.is_fork,
		is_archived = EXCLUDED.is_archived,
		stars_count = EXCLUDED.stars_count,
		forks_count = EXCLUDED.forks_count,
		open_issues_count = EXCLUDED.open_issues_count,
		watchers_count = EXCLUDED.watchers_count,
		repo_updated_at = EXCLUDED.repo_updated_at,
		repo_pushed_at = EXCLUDED.repo_pushed_at,
		fetched_at = EXCLUDED.fetched_at`

const insertSnapshotSQL = `
	INSERT INTO repo_snapshots (
		github_id, fetched_at, stars_count, forks_count, open_issues_count, watchers_count
	) VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (github_id, fetched_at) DO NOTHING`

const selectRepositorySQL = `
	SELECT github_id, node_id, owner, name, full_name, description, url, language,
		is_fork, is_archived, stars_count, forks_count, open_issues_count,
		watchers_count, repo_created_at, repo_updated_at, repo_pushed_at
	FROM repositories`

// PGStore implements Store on top of a pgx connection pool.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wraps an existing connection pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// SaveBatch writes one batch inside a single transaction: an upsert into the
// canonical table plus one snapshot row per record, all stamped fetchedAt.
func (s *PGStore) SaveBatch(ctx context.Context, records []model.Repository, fetchedAt time.Time) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch transaction: %w", err)
	}
	defer tx.Rollback(ctx) // no-op once committed

	b := &pgx.Batch{}
	for _, r := range records {
		b.Queue(upsertRepositorySQL,
			r.GithubID, r.NodeID, r.Owner, r.Name, r.FullName, r.Description,
			r.URL, r.Language, r.IsFork, r.IsArchived, r.StarsCount,
			r.ForksCount, r.OpenIssuesCount, r.WatchersCount,
			r.RepoCreatedAt, r.RepoUpdatedAt, r.RepoPushedAt, fetchedAt)
		b.Queue(insertSnapshotSQL,
			r.GithubID, fetchedAt, r.StarsCount, r.ForksCount,
			r.OpenIssuesCount, r.WatchersCount)
	}

	br := tx.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("exec batch statement %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch results: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// TopRepositories returns the most-starred repositories.
func (s *PGStore) TopRepositories(ctx context.Context, limit int) ([]model.Repository, error) {
	rows, err := s.pool.Query(ctx, selectRepositorySQL+" ORDER BY stars_count DESC, github_id LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("query top repositories: %w", err)
	}
	defer rows.Close()
	return scanRepositories(rows)
}

// GetRepository looks up one repository by owner and name.
func (s *PGStore) GetRepository(ctx context.Context, owner, name string) (model.Repository, error) {
	row := s.pool.QueryRow(ctx, selectRepositorySQL+" WHERE owner = $1 AND name = $2", owner, name)
	var r model.Repository
	if err := scanRepository(row, &r); err != nil {
		return model.Repository{}, err
	}
	return r, nil
}

// Snapshots returns a repository's counter history, newest first.
func (s *PGStore) Snapshots(ctx context.Context, githubID int64) ([]model.Snapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT github_id, fetched_at, stars_count, forks_count, open_issues_count, watchers_count
		FROM repo_snapshots
		WHERE github_id = $1
		ORDER BY fetched_at DESC`, githubID)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []model.Snapshot
	for rows.Next() {
		var sn model.Snapshot
		if err := rows.Scan(&sn.GithubID, &sn.FetchedAt, &sn.StarsCount,
			&sn.ForksCount, &sn.OpenIssuesCount, &sn.WatchersCount); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snapshots = append(snapshots, sn)
	}
	return snapshots, rows.Err()
}

// StreamRepositories invokes fn for every canonical row ordered by stars
// descending. Used by the CSV dump.
func (s *PGStore) StreamRepositories(ctx context.Context, fn func(model.Repository) error) error {
	rows, err := s.pool.Query(ctx, selectRepositorySQL+" ORDER BY stars_count DESC, github_id")
	if err != nil {
		return fmt.Errorf("query repositories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r model.Repository
		if err := scanRepository(rows, &r); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

func scanRepositories(rows pgx.Rows) ([]model.Repository, error) {
	var repos []model.Repository
	for rows.Next() {
		var r model.Repository
		if err := scanRepository(rows, &r); err != nil {
			return nil, err
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

func scanRepository(row pgx.Row, r *model.Repository) error {
	if err := row.Scan(&r.GithubID, &r.NodeID, &r.Owner, &r.Name, &r.FullName,
		&r.Description, &r.URL, &r.Language, &r.IsFork, &r.IsArchived,
		&r.StarsCount, &r.ForksCount, &r.OpenIssuesCount, &r.WatchersCount,
		&r.RepoCreatedAt, &r.RepoUpdatedAt, &r.RepoPushedAt); err != nil {
		return fmt.Errorf("scan repository: %w", err)
	}
	return nil
}
