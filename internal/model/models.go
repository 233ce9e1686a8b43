// internal/model/models.go
package model

import "time"

// Repository is the normalized representation of a GitHub repository as
// observed by one crawl. Identity is GithubID; counters and the mutable
// timestamps may change between crawls.
type Repository struct {
	GithubID        int64
	NodeID          string
	Owner           string
	Name            string
	FullName        string
	Description     *string
	URL             string
	Language        *string
	IsFork          bool
	IsArchived      bool
	StarsCount      int
	ForksCount      int
	OpenIssuesCount int
	WatchersCount   int
	RepoCreatedAt   time.Time
	RepoUpdatedAt   time.Time
	RepoPushedAt    time.Time
}

// Snapshot is one immutable point-in-time observation of a repository's
// counters. Rows are append-only; (GithubID, FetchedAt) identifies one.
type Snapshot struct {
	GithubID        int64
	FetchedAt       time.Time
	StarsCount      int
	ForksCount      int
	OpenIssuesCount int
	WatchersCount   int
}
