// Package ingest orchestrates a single ingestion run: it pages the
// upstream client, enriches and embeds each entry, and upserts the result
// into the catalog store.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/khalidsaidi/ragmap/internal/catalog"
	"github.com/khalidsaidi/ragmap/internal/embedding"
	"github.com/khalidsaidi/ragmap/internal/enrich"
	"github.com/khalidsaidi/ragmap/internal/upstream"
)

// RunStats summarizes the outcome of a single coordinator run.
type RunStats struct {
	Mode                 catalog.RunMode `json:"mode"`
	RunID                string          `json:"runId"`
	StartedAt            time.Time       `json:"startedAt"`
	FinishedAt           time.Time       `json:"finishedAt"`
	Fetched              int             `json:"fetched"`
	Upserted             int             `json:"upserted"`
	Hidden               int             `json:"hidden"`
	ReachabilityChecked  *int            `json:"reachabilityChecked,omitempty"`
	DurationMs           int64           `json:"durationMs"`
}

// Reachability is invoked after a full ingest, mirroring the optional
// "launch the reachability scheduler" step in the coordinator algorithm.
type Reachability interface {
	Refresh(ctx context.Context, limit int) (int, error)
}

// UpstreamFetcher is the subset of upstream.Client the coordinator needs.
type UpstreamFetcher interface {
	FetchPage(ctx context.Context, p upstream.FetchPageParams) (upstream.Page, error)
}

// rawServer is the upstream entry shape the coordinator decodes enough of
// to drive normalization; everything else round-trips as opaque blobs.
type rawServer struct {
	Name              string          `json:"name"`
	Version           string          `json:"version"`
	Description       string          `json:"description"`
	Title             string          `json:"title"`
	RepositoryURL     string          `json:"repositoryUrl"`
	WebsiteURL        string          `json:"websiteUrl"`
	Remotes           []catalog.Remote  `json:"remotes"`
	Packages          []catalog.Package `json:"packages"`
	Meta              json.RawMessage `json:"_meta"`
	PublisherProvided json.RawMessage `json:"publisherProvided"`
}

// Coordinator runs ingestion, applying at-most-one-concurrent-run
// semantics via singleflight.
type Coordinator struct {
	upstream     UpstreamFetcher
	store        catalog.Store
	embedder     embedding.Provider
	reachability Reachability
	baseURL      string
	logger       *slog.Logger

	flight singleflight.Group
}

// New constructs an ingestion coordinator. reachability may be nil, in
// which case full runs skip the optional trigger.
func New(upstreamClient UpstreamFetcher, store catalog.Store, embedder embedding.Provider, reachability Reachability, baseURL string, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		upstream:     upstreamClient,
		store:        store,
		embedder:     embedder,
		reachability: reachability,
		baseURL:      baseURL,
		logger:       logger,
	}
}

// Run executes one ingestion run end to end.
func (c *Coordinator) Run(ctx context.Context, mode catalog.RunMode) (RunStats, error) {
	v, err, _ := c.flight.Do("ingest", func() (any, error) {
		return c.run(ctx, mode)
	})
	if err != nil {
		return RunStats{}, err
	}
	return v.(RunStats), nil
}

func (c *Coordinator) run(ctx context.Context, mode catalog.RunMode) (RunStats, error) {
	startedAt := time.Now()
	stats := RunStats{Mode: mode, StartedAt: startedAt}

	runID, err := c.store.BeginRun(ctx, mode)
	if err != nil {
		return stats, fmt.Errorf("ingest: begin run: %w", err)
	}
	stats.RunID = runID

	var updatedSince *time.Time
	if mode == catalog.RunModeIncremental {
		updatedSince, err = c.store.GetLastSuccessfulIngestAt(ctx)
		if err != nil {
			return stats, fmt.Errorf("ingest: get last successful ingest: %w", err)
		}
	}

	cursor := ""
	for {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}

		page, err := c.upstream.FetchPage(ctx, upstream.FetchPageParams{
			BaseURL:      c.baseURL,
			Cursor:       cursor,
			Limit:        100,
			UpdatedSince: updatedSince,
		})
		if err != nil {
			return stats, fmt.Errorf("ingest: fetch page: %w", err)
		}

		for _, raw := range page.Entries {
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			default:
			}

			stats.Fetched++

			var rs rawServer
			if err := json.Unmarshal(raw, &rs); err != nil {
				c.logger.Warn("ingest: skipping malformed entry", "error", err)
				continue
			}
			if rs.Name == "" || rs.Version == "" {
				continue
			}

			official := catalog.OfficialMeta{Raw: rs.Meta}
			hidden := strings.EqualFold(official.Status(), "deleted")

			server := catalog.ServerRecord{
				Name:          catalog.ServerName(rs.Name),
				Version:       catalog.Version(rs.Version),
				Description:   rs.Description,
				Title:         rs.Title,
				RepositoryURL: rs.RepositoryURL,
				WebsiteURL:    rs.WebsiteURL,
				Remotes:       rs.Remotes,
				Packages:      rs.Packages,
				Official:      official,
			}

			ragmap := enrich.Enrich(server)

			if c.embedder != nil {
				if emb, err := c.embedder.Embed(ctx, enrich.TextBlob(server)); err == nil {
					ragmap.Embedding = emb
				} else {
					c.logger.Debug("ingest: embedding skipped", "name", rs.Name, "error", err)
				}
			}

			now := time.Now()
			if err := c.store.MarkServerSeen(ctx, runID, server.Name, now); err != nil {
				return stats, fmt.Errorf("ingest: mark server seen: %w", err)
			}
			if err := c.store.UpsertServerVersion(ctx, catalog.UpsertParams{
				RunID:             runID,
				At:                now,
				Server:            server,
				Official:          official,
				PublisherProvided: rs.PublisherProvided,
				Ragmap:            ragmap,
				Hidden:            hidden,
			}); err != nil {
				return stats, fmt.Errorf("ingest: upsert server version: %w", err)
			}
			stats.Upserted++
		}

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	if mode == catalog.RunModeFull {
		hiddenCount, err := c.store.HideServersNotSeen(ctx, runID)
		if err != nil {
			return stats, fmt.Errorf("ingest: hide servers not seen: %w", err)
		}
		stats.Hidden = hiddenCount

		if c.reachability != nil {
			checked, err := c.reachability.Refresh(ctx, 500)
			if err != nil {
				c.logger.Warn("ingest: post-run reachability refresh failed", "error", err)
			} else {
				stats.ReachabilityChecked = &checked
			}
		}
	}

	finishedAt := time.Now()
	if err := c.store.SetLastSuccessfulIngestAt(ctx, finishedAt); err != nil {
		return stats, fmt.Errorf("ingest: set last successful ingest: %w", err)
	}

	stats.FinishedAt = finishedAt
	stats.DurationMs = finishedAt.Sub(startedAt).Milliseconds()
	return stats, nil
}
