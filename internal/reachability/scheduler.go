package reachability

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/khalidsaidi/ragmap/internal/catalog"
)

const (
	perProbeTimeout  = 5 * time.Second
	interProbeDelay  = 800 * time.Millisecond
	listPageSize     = 200
	tierAShare       = 0.7
	minLimit         = 1
	maxLimit         = 500
)

type candidate struct {
	name               catalog.ServerName
	url                string
	ragScore           int
	serverKind         catalog.ServerKind
	updatedAtMs        int64
	reachableCheckedAt *int64
}

// Scheduler bucket-selects and serially probes latest catalog entries.
type Scheduler struct {
	store  catalog.Store
	prober *Prober
	policy Policy
	logger *slog.Logger

	flight singleflight.Group
}

// NewScheduler constructs a reachability scheduler.
func NewScheduler(store catalog.Store, prober *Prober, policy Policy, logger *slog.Logger) *Scheduler {
	return &Scheduler{store: store, prober: prober, policy: policy, logger: logger}
}

// Refresh selects up to limit candidates (clamped to [1,500]) and probes
// each one serially, at most once concurrently across the process.
func (s *Scheduler) Refresh(ctx context.Context, limit int) (int, error) {
	v, err, _ := s.flight.Do("reachability", func() (any, error) {
		return s.refresh(ctx, limit)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (s *Scheduler) refresh(ctx context.Context, limit int) (int, error) {
	if limit < minLimit {
		limit = minLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	candidates, err := s.enumerateCandidates(ctx)
	if err != nil {
		return 0, fmt.Errorf("reachability: enumerate candidates: %w", err)
	}

	tierA, tierB, tierC := bucket(candidates)
	sortTierA(tierA)
	sortTierB(tierB)
	shuffleTierC(tierC)

	selected := selectCandidates(tierA, tierB, tierC, limit)

	checked := 0
	for i, c := range selected {
		select {
		case <-ctx.Done():
			return checked, ctx.Err()
		default:
		}

		result := s.prober.Probe(ctx, c.url, perProbeTimeout, s.policy)
		var method *catalog.ReachabilityMethod
		if result.Method != nil {
			m := catalog.ReachabilityMethod(*result.Method)
			method = &m
		}
		if err := s.store.SetReachability(ctx, c.name, catalog.ReachabilityUpdate{
			Reachable: result.OK,
			CheckedAt: time.Now(),
			Status:    result.Status,
			Method:    method,
		}); err != nil {
			s.logger.Warn("reachability: write failed", "name", c.name, "error", err)
		}
		checked++

		if i < len(selected)-1 {
			select {
			case <-ctx.Done():
				return checked, ctx.Err()
			case <-time.After(interProbeDelay):
			}
		}
	}

	if err := s.store.SetLastReachabilityRunAt(ctx, time.Now()); err != nil {
		return checked, fmt.Errorf("reachability: set last run at: %w", err)
	}
	return checked, nil
}

func (s *Scheduler) enumerateCandidates(ctx context.Context) ([]candidate, error) {
	var out []candidate
	cursor := ""
	for {
		page, err := s.store.ListLatest(ctx, catalog.ListLatestParams{Cursor: cursor, Limit: listPageSize})
		if err != nil {
			return nil, err
		}
		for _, entry := range page.Entries {
			if explicitlyNoRemote(entry) {
				continue
			}
			url := ProbeURL(entry)
			if url == "" {
				continue
			}
			c := candidate{
				name:       entry.Server.Name,
				url:        url,
				ragScore:   entry.Ragmap.RagScore,
				serverKind: entry.Ragmap.ServerKind,
			}
			if ua := entry.Official.UpdatedAt(); ua != nil {
				c.updatedAtMs = ua.UnixMilli()
			}
			if entry.Ragmap.ReachableCheckedAt != nil {
				ms := entry.Ragmap.ReachableCheckedAt.UnixMilli()
				c.reachableCheckedAt = &ms
			}
			out = append(out, c)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return out, nil
}

func explicitlyNoRemote(entry catalog.CatalogEntry) bool {
	return !entry.Ragmap.HasRemote
}

// ProbeURL derives the streamable-HTTP URL a probe would hit for entry, or
// "" if none of its remotes or package transports are streamable-http.
func ProbeURL(entry catalog.CatalogEntry) string {
	for _, r := range entry.Server.Remotes {
		if r.Type == catalog.TransportStreamableHTTP && r.URL != "" {
			return r.URL
		}
	}
	for _, pkg := range entry.Server.Packages {
		if pkg.Transport != nil && pkg.Transport.Type == catalog.TransportStreamableHTTP && pkg.Transport.URL != "" {
			return pkg.Transport.URL
		}
	}
	return ""
}

func bucket(candidates []candidate) (a, b, c []candidate) {
	for _, cand := range candidates {
		switch {
		case cand.serverKind == catalog.ServerKindRetriever && cand.ragScore >= 10:
			a = append(a, cand)
		case cand.serverKind == catalog.ServerKindRetriever && cand.ragScore >= 1:
			b = append(b, cand)
		default:
			c = append(c, cand)
		}
	}
	return
}

// sortTierA: unknown-first, then ascending checked-at (oldest first), then
// score desc, updatedAt desc, name asc.
func sortTierA(a []candidate) {
	sort.SliceStable(a, func(i, j int) bool {
		ci, cj := a[i], a[j]
		if (ci.reachableCheckedAt == nil) != (cj.reachableCheckedAt == nil) {
			return ci.reachableCheckedAt == nil
		}
		if ci.reachableCheckedAt != nil && cj.reachableCheckedAt != nil && *ci.reachableCheckedAt != *cj.reachableCheckedAt {
			return *ci.reachableCheckedAt < *cj.reachableCheckedAt
		}
		if ci.ragScore != cj.ragScore {
			return ci.ragScore > cj.ragScore
		}
		if ci.updatedAtMs != cj.updatedAtMs {
			return ci.updatedAtMs > cj.updatedAtMs
		}
		return ci.name < cj.name
	})
}

func sortTierB(b []candidate) {
	sort.SliceStable(b, func(i, j int) bool {
		ci, cj := b[i], b[j]
		if ci.ragScore != cj.ragScore {
			return ci.ragScore > cj.ragScore
		}
		if ci.updatedAtMs != cj.updatedAtMs {
			return ci.updatedAtMs > cj.updatedAtMs
		}
		return ci.name < cj.name
	})
}

func shuffleTierC(c []candidate) {
	rand.Shuffle(len(c), func(i, j int) { c[i], c[j] = c[j], c[i] })
}

func selectCandidates(a, b, c []candidate, limit int) []candidate {
	fromA := int(math.Ceil(float64(limit) * tierAShare))
	if fromA > len(a) {
		fromA = len(a)
	}
	selected := append([]candidate{}, a[:fromA]...)

	remaining := limit - len(selected)
	if remaining > 0 {
		take := remaining
		if take > len(b) {
			take = len(b)
		}
		selected = append(selected, b[:take]...)
		remaining -= take
	}
	if remaining > 0 {
		take := remaining
		if take > len(c) {
			take = len(c)
		}
		selected = append(selected, c[:take]...)
	}
	return selected
}
