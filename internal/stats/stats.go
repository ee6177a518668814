// Package stats folds the full listLatest projection into the aggregate
// counters exposed by the stats endpoint (Component J).
package stats

import (
	"context"
	"time"

	"github.com/khalidsaidi/ragmap/internal/catalog"
	"github.com/khalidsaidi/ragmap/internal/reachability"
)

const pageSize = 200

// Stats is the aggregate projection over the latest-snapshot catalog.
type Stats struct {
	TotalLatestServers     int        `json:"totalLatestServers"`
	CountRagScoreGte1      int        `json:"countRagScoreGte1"`
	CountRagScoreGte25     int        `json:"countRagScoreGte25"`
	ReachabilityCandidates int        `json:"reachabilityCandidates"`
	ReachabilityKnown      int        `json:"reachabilityKnown"`
	ReachabilityTrue       int        `json:"reachabilityTrue"`
	ReachabilityUnknown    int        `json:"reachabilityUnknown"`
	LastSuccessfulIngestAt *time.Time `json:"lastSuccessfulIngestAt,omitempty"`
	LastReachabilityRunAt  *time.Time `json:"lastReachabilityRunAt,omitempty"`
}

// Project pages through the full latest-snapshot catalog and folds it into
// Stats. It never observes hidden servers, since listLatest already
// excludes them.
func Project(ctx context.Context, store catalog.Store) (Stats, error) {
	var s Stats

	cursor := ""
	for {
		page, err := store.ListLatest(ctx, catalog.ListLatestParams{Cursor: cursor, Limit: pageSize})
		if err != nil {
			return Stats{}, err
		}
		for _, entry := range page.Entries {
			fold(&s, entry)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	lastIngest, err := store.GetLastSuccessfulIngestAt(ctx)
	if err != nil {
		return Stats{}, err
	}
	s.LastSuccessfulIngestAt = lastIngest

	lastReachability, err := store.GetLastReachabilityRunAt(ctx)
	if err != nil {
		return Stats{}, err
	}
	s.LastReachabilityRunAt = lastReachability

	return s, nil
}

func fold(s *Stats, entry catalog.CatalogEntry) {
	s.TotalLatestServers++

	score := entry.Ragmap.RagScore
	if score >= 1 {
		s.CountRagScoreGte1++
	}
	if score >= 25 {
		s.CountRagScoreGte25++
	}

	if !entry.Ragmap.HasRemote || reachability.ProbeURL(entry) == "" {
		return
	}
	s.ReachabilityCandidates++

	if entry.Ragmap.Reachable == nil {
		s.ReachabilityUnknown++
		return
	}
	s.ReachabilityKnown++
	if *entry.Ragmap.Reachable {
		s.ReachabilityTrue++
	}
}
