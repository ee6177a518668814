package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khalidsaidi/ragmap/internal/catalog"
	"github.com/khalidsaidi/ragmap/internal/catalog/memstore"
	"github.com/khalidsaidi/ragmap/internal/upstream"
)

type fakeUpstream struct {
	pages []upstream.Page
	calls int
}

func (f *fakeUpstream) FetchPage(_ context.Context, _ upstream.FetchPageParams) (upstream.Page, error) {
	p := f.pages[f.calls]
	f.calls++
	return p, nil
}

func rawEntry(t *testing.T, name, status string) json.RawMessage {
	t.Helper()
	meta, err := json.Marshal(map[string]any{"status": status, "isLatest": true})
	require.NoError(t, err)
	entry, err := json.Marshal(map[string]any{"name": name, "version": "1.0.0", "_meta": json.RawMessage(meta)})
	require.NoError(t, err)
	return entry
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRun_FullModeHidesNotSeenServers(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(0)

	// Seed a server that will not appear in this run's page.
	require.NoError(t, store.MarkServerSeen(ctx, "prior-run", "stale", time.Now()))
	require.NoError(t, store.UpsertServerVersion(ctx, catalog.UpsertParams{
		RunID:    "prior-run",
		Server:   catalog.ServerRecord{Name: "stale", Version: "1.0.0"},
		Official: catalog.OfficialMeta{Raw: json.RawMessage(`{"isLatest":true}`)},
	}))

	fu := &fakeUpstream{pages: []upstream.Page{
		{Entries: []json.RawMessage{rawEntry(t, "fresh", "active")}},
	}}

	coord := New(fu, store, nil, nil, "https://example.com", testLogger())
	stats, err := coord.Run(ctx, catalog.RunModeFull)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Fetched)
	assert.Equal(t, 1, stats.Upserted)
	assert.Equal(t, 1, stats.Hidden)

	res, err := store.ListLatest(ctx, catalog.ListLatestParams{Limit: 10})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, catalog.ServerName("fresh"), res.Entries[0].Server.Name)
}

func TestRun_DeletedStatusHidesTheVersion(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(0)
	fu := &fakeUpstream{pages: []upstream.Page{
		{Entries: []json.RawMessage{rawEntry(t, "gone", "deleted")}},
	}}

	coord := New(fu, store, nil, nil, "https://example.com", testLogger())
	_, err := coord.Run(ctx, catalog.RunModeFull)
	require.NoError(t, err)

	_, err = store.GetVersion(ctx, "gone", catalog.LatestVersionSentinel)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestRun_IncrementalModeNeverHides(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(0)
	require.NoError(t, store.MarkServerSeen(ctx, "prior", "old", time.Now()))
	require.NoError(t, store.UpsertServerVersion(ctx, catalog.UpsertParams{
		RunID:    "prior",
		Server:   catalog.ServerRecord{Name: "old", Version: "1.0.0"},
		Official: catalog.OfficialMeta{Raw: json.RawMessage(`{"isLatest":true}`)},
	}))

	fu := &fakeUpstream{pages: []upstream.Page{
		{Entries: []json.RawMessage{rawEntry(t, "new", "active")}},
	}}
	coord := New(fu, store, nil, nil, "https://example.com", testLogger())
	stats, err := coord.Run(ctx, catalog.RunModeIncremental)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Hidden)

	res, err := store.ListLatest(ctx, catalog.ListLatestParams{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, res.Entries, 2)
}

func TestRun_PagesUntilNextCursorEmpty(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(0)
	fu := &fakeUpstream{pages: []upstream.Page{
		{Entries: []json.RawMessage{rawEntry(t, "a", "active")}, NextCursor: "p2"},
		{Entries: []json.RawMessage{rawEntry(t, "b", "active")}},
	}}
	coord := New(fu, store, nil, nil, "https://example.com", testLogger())
	stats, err := coord.Run(ctx, catalog.RunModeFull)
	require.NoError(t, err)
	assert.Equal(t, 2, fu.calls)
	assert.Equal(t, 2, stats.Fetched)
}
