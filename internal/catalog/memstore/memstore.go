// Package memstore is the volatile in-memory implementation of
// catalog.Store, used for development and tests. It serializes all writers
// behind a single mutex and keeps readers consistent by never exposing
// partially-mutated entries.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/khalidsaidi/ragmap/internal/catalog"
)

type versionRecord struct {
	entry         catalog.CatalogEntry
	hidden        bool
	lastSeenRunID string
}

type nameRecord struct {
	hidden        bool
	lastSeenRunID string
	lastSeenAt    time.Time
	latestVersion catalog.Version
	firstVersion  catalog.Version
	versionOrder  []catalog.Version
	versions      map[catalog.Version]*versionRecord
}

func (n *nameRecord) recomputeLatest() {
	for _, v := range n.versionOrder {
		if vr := n.versions[v]; vr != nil && vr.entry.Official.IsLatest() {
			n.latestVersion = v
			return
		}
	}
	n.latestVersion = n.firstVersion
}

func (n *nameRecord) visible(v catalog.Version) bool {
	if n.hidden {
		return false
	}
	vr, ok := n.versions[v]
	return ok && !vr.hidden
}

// Store is the in-memory catalog.Store implementation.
type Store struct {
	mu    sync.RWMutex
	names map[catalog.ServerName]*nameRecord

	lastSuccessfulIngestAt *time.Time
	lastReachabilityRunAt  *time.Time

	categoriesCache    []string
	categoriesCachedAt time.Time
	cacheTTL           time.Duration
}

// New returns an empty in-memory store. cacheTTL of zero disables caching
// of listCategories.
func New(cacheTTL time.Duration) *Store {
	return &Store{
		names:    make(map[catalog.ServerName]*nameRecord),
		cacheTTL: cacheTTL,
	}
}

func (s *Store) invalidateCachesLocked() {
	s.categoriesCache = nil
	s.categoriesCachedAt = time.Time{}
}

// BeginRun returns a fresh run id and clears derived caches.
func (s *Store) BeginRun(_ context.Context, _ catalog.RunMode) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidateCachesLocked()
	return uuid.NewString(), nil
}

func (s *Store) GetLastSuccessfulIngestAt(_ context.Context) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSuccessfulIngestAt, nil
}

func (s *Store) SetLastSuccessfulIngestAt(_ context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSuccessfulIngestAt = &t
	return nil
}

func (s *Store) GetLastReachabilityRunAt(_ context.Context) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastReachabilityRunAt, nil
}

func (s *Store) SetLastReachabilityRunAt(_ context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastReachabilityRunAt = &t
	return nil
}

func (s *Store) MarkServerSeen(_ context.Context, runID string, name catalog.ServerName, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.names[name]
	if n == nil {
		n = &nameRecord{versions: make(map[catalog.Version]*versionRecord)}
		s.names[name] = n
	}
	n.lastSeenRunID = runID
	n.lastSeenAt = at
	return nil
}

func (s *Store) UpsertServerVersion(_ context.Context, p catalog.UpsertParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.names[p.Server.Name]
	if n == nil {
		n = &nameRecord{versions: make(map[catalog.Version]*versionRecord)}
		s.names[p.Server.Name] = n
	}

	if _, exists := n.versions[p.Server.Version]; !exists {
		n.versionOrder = append(n.versionOrder, p.Server.Version)
		if n.firstVersion == "" {
			n.firstVersion = p.Server.Version
		}
	}

	n.versions[p.Server.Version] = &versionRecord{
		entry: catalog.CatalogEntry{
			Server:            p.Server,
			Official:          p.Official,
			PublisherProvided: p.PublisherProvided,
			Ragmap:            p.Ragmap,
		},
		hidden:        p.Hidden,
		lastSeenRunID: p.RunID,
	}
	n.recomputeLatest()
	s.invalidateCachesLocked()
	return nil
}

func (s *Store) HideServersNotSeen(_ context.Context, runID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, n := range s.names {
		if n.lastSeenRunID == runID {
			n.hidden = false
			continue
		}
		if !n.hidden {
			n.hidden = true
			count++
		}
	}
	s.invalidateCachesLocked()
	return count, nil
}

func (s *Store) ListLatest(_ context.Context, p catalog.ListLatestParams) (catalog.ListLatestResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := p.Limit
	if limit <= 0 || limit > 200 {
		limit = 200
	}

	names := make([]catalog.ServerName, 0, len(s.names))
	for name, n := range s.names {
		if !n.visible(n.latestVersion) {
			continue
		}
		if p.UpdatedSince != nil {
			vr := n.versions[n.latestVersion]
			ua := vr.entry.Official.UpdatedAt()
			if ua == nil || !ua.After(*p.UpdatedSince) {
				continue
			}
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	start := 0
	if p.Cursor != "" {
		idx := sort.Search(len(names), func(i int) bool { return string(names[i]) > p.Cursor })
		start = idx
	}

	end := start + limit
	if end > len(names) {
		end = len(names)
	}

	result := catalog.ListLatestResult{}
	for _, name := range names[start:end] {
		n := s.names[name]
		result.Entries = append(result.Entries, n.versions[n.latestVersion].entry)
	}
	if end < len(names) {
		result.NextCursor = string(names[end-1])
	}
	return result, nil
}

func (s *Store) ListVersions(_ context.Context, name catalog.ServerName) ([]catalog.CatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.names[name]
	if !ok {
		return nil, catalog.ErrNotFound
	}

	var entries []catalog.CatalogEntry
	for _, v := range n.versionOrder {
		if !n.visible(v) {
			continue
		}
		entries = append(entries, n.versions[v].entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Official.IsLatest() != b.Official.IsLatest() {
			return a.Official.IsLatest()
		}
		pa, pb := a.Official.PublishedAt(), b.Official.PublishedAt()
		switch {
		case pa == nil && pb == nil:
			return false
		case pa == nil:
			return false
		case pb == nil:
			return true
		default:
			return pa.After(*pb)
		}
	})
	return entries, nil
}

func (s *Store) GetVersion(_ context.Context, name catalog.ServerName, version string) (*catalog.CatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.names[name]
	if !ok {
		return nil, catalog.ErrNotFound
	}

	v := catalog.Version(version)
	if version == catalog.LatestVersionSentinel {
		v = n.latestVersion
	}
	if v == "" || !n.visible(v) {
		return nil, catalog.ErrNotFound
	}
	entry := n.versions[v].entry
	return &entry, nil
}

func (s *Store) ListCategories(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.categoriesCache != nil && s.cacheTTL > 0 && time.Since(s.categoriesCachedAt) < s.cacheTTL {
		return s.categoriesCache, nil
	}

	set := make(map[string]struct{})
	for _, n := range s.names {
		if !n.visible(n.latestVersion) {
			continue
		}
		for _, c := range n.versions[n.latestVersion].entry.Ragmap.Categories {
			set[c] = struct{}{}
		}
	}
	cats := make([]string, 0, len(set))
	for c := range set {
		cats = append(cats, c)
	}
	sort.Strings(cats)

	s.categoriesCache = cats
	s.categoriesCachedAt = time.Now()
	return cats, nil
}

func (s *Store) SetReachability(_ context.Context, name catalog.ServerName, u catalog.ReachabilityUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.names[name]
	if !ok {
		return nil
	}
	vr, ok := n.versions[n.latestVersion]
	if !ok {
		return nil
	}

	ok2 := u.Reachable
	vr.entry.Ragmap.Reachable = &ok2
	vr.entry.Ragmap.ReachableCheckedAt = &u.CheckedAt
	vr.entry.Ragmap.ReachableStatus = u.Status
	vr.entry.Ragmap.ReachableMethod = u.Method
	if u.Reachable {
		vr.entry.Ragmap.LastReachableAt = &u.CheckedAt
	}
	s.invalidateCachesLocked()
	return nil
}

func (s *Store) HealthCheck(_ context.Context) catalog.HealthStatus {
	return catalog.HealthStatus{OK: true}
}
