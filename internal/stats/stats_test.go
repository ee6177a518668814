package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khalidsaidi/ragmap/internal/catalog"
	"github.com/khalidsaidi/ragmap/internal/catalog/memstore"
)

func official(isLatest bool) catalog.OfficialMeta {
	status := "active"
	raw := []byte(`{"status":"` + status + `","isLatest":` + boolStr(isLatest) + `}`)
	return catalog.OfficialMeta{Raw: raw}
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func upsert(t *testing.T, s *memstore.Store, name, version string, ragScore int, hasRemote bool, reachable *bool) {
	t.Helper()
	upsertWithRemotes(t, s, name, version, ragScore, hasRemote, reachable, probeableRemotes(hasRemote))
}

// probeableRemotes returns a streamable-http remote when hasRemote is true,
// so the entry also has a derivable probe URL (the common case exercised by
// most test cases in this file).
func probeableRemotes(hasRemote bool) []catalog.Remote {
	if !hasRemote {
		return nil
	}
	return []catalog.Remote{{Type: catalog.TransportStreamableHTTP, URL: "https://remote.example/mcp"}}
}

func upsertWithRemotes(t *testing.T, s *memstore.Store, name, version string, ragScore int, hasRemote bool, reachable *bool, remotes []catalog.Remote) {
	t.Helper()
	runID, err := s.BeginRun(context.Background(), catalog.RunModeFull)
	require.NoError(t, err)
	require.NoError(t, s.MarkServerSeen(context.Background(), runID, catalog.ServerName(name), time.Now()))
	require.NoError(t, s.UpsertServerVersion(context.Background(), catalog.UpsertParams{
		RunID:    runID,
		At:       time.Now(),
		Server:   catalog.ServerRecord{Name: catalog.ServerName(name), Version: catalog.Version(version), Remotes: remotes},
		Official: official(true),
		Ragmap:   catalog.Enrichment{RagScore: ragScore, HasRemote: hasRemote, Reachable: reachable},
	}))
}

func TestProject_CountsAndReachabilityBuckets(t *testing.T) {
	s := memstore.New(0)

	trueVal := true
	falseVal := false

	upsert(t, s, "low-score", "1.0.0", 0, false, nil)
	upsert(t, s, "mid-score", "1.0.0", 5, true, nil)
	upsert(t, s, "high-score-reachable", "1.0.0", 30, true, &trueVal)
	upsert(t, s, "high-score-unreachable", "1.0.0", 30, true, &falseVal)

	got, err := Project(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, 4, got.TotalLatestServers)
	assert.Equal(t, 3, got.CountRagScoreGte1)
	assert.Equal(t, 2, got.CountRagScoreGte25)
	assert.Equal(t, 3, got.ReachabilityCandidates)
	assert.Equal(t, 2, got.ReachabilityKnown)
	assert.Equal(t, 1, got.ReachabilityTrue)
	assert.Equal(t, 1, got.ReachabilityUnknown)
}

func TestProject_SSEOnlyRemoteIsNotAReachabilityCandidate(t *testing.T) {
	s := memstore.New(0)

	upsertWithRemotes(t, s, "sse-only", "1.0.0", 5, true, nil,
		[]catalog.Remote{{Type: catalog.TransportSSE, URL: "https://sse.example"}})

	got, err := Project(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalLatestServers)
	assert.Equal(t, 0, got.ReachabilityCandidates, "hasRemote alone is not enough without a derivable probe URL")
}

func TestProject_EmptyCatalogYieldsZeroedStats(t *testing.T) {
	s := memstore.New(0)
	got, err := Project(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, 0, got.TotalLatestServers)
	assert.Nil(t, got.LastSuccessfulIngestAt)
	assert.Nil(t, got.LastReachabilityRunAt)
}

func TestProject_SurfacesRunTimestamps(t *testing.T) {
	s := memstore.New(0)
	now := time.Now().Truncate(time.Second)
	require.NoError(t, s.SetLastSuccessfulIngestAt(context.Background(), now))
	require.NoError(t, s.SetLastReachabilityRunAt(context.Background(), now))

	got, err := Project(context.Background(), s)
	require.NoError(t, err)
	require.NotNil(t, got.LastSuccessfulIngestAt)
	assert.True(t, got.LastSuccessfulIngestAt.Equal(now))
	require.NotNil(t, got.LastReachabilityRunAt)
	assert.True(t, got.LastReachabilityRunAt.Equal(now))
}

func TestProject_PagesThroughMultiplePages(t *testing.T) {
	s := memstore.New(0)
	for i := 0; i < 450; i++ {
		upsert(t, s, "svc-"+itoa(i), "1.0.0", 1, false, nil)
	}
	got, err := Project(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, 450, got.TotalLatestServers)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := []byte{}
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	return string(digits)
}
