package catalog

import (
	"context"
	"time"
)

// UpsertParams is the full set of fields written by a single version upsert.
type UpsertParams struct {
	RunID             string
	At                time.Time
	Server            ServerRecord
	Official          OfficialMeta
	PublisherProvided []byte
	Ragmap            Enrichment
	Hidden            bool
}

// ListLatestParams controls listLatest pagination and filtering.
type ListLatestParams struct {
	Cursor       string
	Limit        int
	UpdatedSince *time.Time
}

// ListLatestResult is a single page of the latest-snapshot projection.
type ListLatestResult struct {
	Entries    []CatalogEntry
	NextCursor string
}

// ReachabilityUpdate carries the fields setReachability is allowed to touch.
type ReachabilityUpdate struct {
	Reachable bool
	CheckedAt time.Time
	Status    *int
	Method    *ReachabilityMethod
}

// HealthStatus reflects whether the underlying durable store is reachable.
type HealthStatus struct {
	OK     bool
	Detail string
}

// Store is the persistence contract shared by ingestion, the reachability
// scheduler, and the query engine. Both the in-memory and durable
// implementations satisfy the invariants in the data model: exactly one
// entry per (name, version) write, listLatest never returns hidden
// servers, hideServersNotSeen hides only servers absent from the given run
// (and unhides servers seen in it), and setReachability is an atomic partial update of enrichment only.
type Store interface {
	BeginRun(ctx context.Context, mode RunMode) (string, error)

	GetLastSuccessfulIngestAt(ctx context.Context) (*time.Time, error)
	SetLastSuccessfulIngestAt(ctx context.Context, t time.Time) error
	GetLastReachabilityRunAt(ctx context.Context) (*time.Time, error)
	SetLastReachabilityRunAt(ctx context.Context, t time.Time) error

	MarkServerSeen(ctx context.Context, runID string, name ServerName, at time.Time) error
	UpsertServerVersion(ctx context.Context, p UpsertParams) error
	HideServersNotSeen(ctx context.Context, runID string) (int, error)

	ListLatest(ctx context.Context, p ListLatestParams) (ListLatestResult, error)
	ListVersions(ctx context.Context, name ServerName) ([]CatalogEntry, error)
	GetVersion(ctx context.Context, name ServerName, version string) (*CatalogEntry, error)
	ListCategories(ctx context.Context) ([]string, error)

	SetReachability(ctx context.Context, name ServerName, u ReachabilityUpdate) error

	HealthCheck(ctx context.Context) HealthStatus
}

// LatestVersionSentinel is the version string GetVersion accepts to mean
// "whichever version is currently marked latest for this name".
const LatestVersionSentinel = "latest"
