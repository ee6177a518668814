package reachability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khalidsaidi/ragmap/internal/catalog"
)

func ms(y int, m time.Month, d int) int64 {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).UnixMilli()
}

func msPtr(y int, m time.Month, d int) *int64 {
	v := ms(y, m, d)
	return &v
}

func TestPriorityARotation_ExactOrder(t *testing.T) {
	candidates := []candidate{
		{name: "unknown", serverKind: catalog.ServerKindRetriever, ragScore: 10, updatedAtMs: ms(2026, 3, 1), reachableCheckedAt: nil},
		{name: "oldest", serverKind: catalog.ServerKindRetriever, ragScore: 5000, updatedAtMs: ms(2026, 1, 1), reachableCheckedAt: msPtr(2026, 1, 15)},
		{name: "high-newer", serverKind: catalog.ServerKindRetriever, ragScore: 9000, updatedAtMs: ms(2026, 3, 1), reachableCheckedAt: msPtr(2026, 2, 1)},
		{name: "same-check-high-updated", serverKind: catalog.ServerKindRetriever, ragScore: 100, updatedAtMs: ms(2026, 3, 10), reachableCheckedAt: msPtr(2026, 2, 10)},
		{name: "same-check-high-old", serverKind: catalog.ServerKindRetriever, ragScore: 100, updatedAtMs: ms(2026, 3, 1), reachableCheckedAt: msPtr(2026, 2, 10)},
	}

	a, b, c := bucket(candidates)
	require.Len(t, a, 5)
	assert.Empty(t, b)
	assert.Empty(t, c)

	sortTierA(a)
	selected := selectCandidates(a, b, c, 8)

	var names []catalog.ServerName
	for _, s := range selected {
		names = append(names, s.name)
	}
	assert.Equal(t, []catalog.ServerName{
		"unknown", "oldest", "high-newer", "same-check-high-updated", "same-check-high-old",
	}, names)
}

func TestBucket_ClassifiesByKindAndScore(t *testing.T) {
	candidates := []candidate{
		{name: "a", serverKind: catalog.ServerKindRetriever, ragScore: 10},
		{name: "b", serverKind: catalog.ServerKindRetriever, ragScore: 1},
		{name: "c", serverKind: catalog.ServerKindRetriever, ragScore: 0},
		{name: "d", serverKind: catalog.ServerKindIndexer, ragScore: 50},
	}
	a, b, c := bucket(candidates)
	require.Len(t, a, 1)
	assert.Equal(t, catalog.ServerName("a"), a[0].name)
	require.Len(t, b, 1)
	assert.Equal(t, catalog.ServerName("b"), b[0].name)
	require.Len(t, c, 2)
}

func TestSortTierB_ScoreDescThenUpdatedAtDescThenName(t *testing.T) {
	b := []candidate{
		{name: "z", ragScore: 5, updatedAtMs: ms(2026, 1, 1)},
		{name: "a", ragScore: 5, updatedAtMs: ms(2026, 1, 1)},
		{name: "m", ragScore: 10, updatedAtMs: ms(2026, 1, 1)},
	}
	sortTierB(b)
	assert.Equal(t, catalog.ServerName("m"), b[0].name)
	assert.Equal(t, catalog.ServerName("a"), b[1].name)
	assert.Equal(t, catalog.ServerName("z"), b[2].name)
}

func TestSelectCandidates_FillsFromBThenC(t *testing.T) {
	a := []candidate{{name: "a1"}, {name: "a2"}}
	b := []candidate{{name: "b1"}, {name: "b2"}}
	c := []candidate{{name: "c1"}}

	selected := selectCandidates(a, b, c, 4)
	require.Len(t, selected, 4)
	assert.Equal(t, catalog.ServerName("a1"), selected[0].name)
	assert.Equal(t, catalog.ServerName("a2"), selected[1].name)
}

func TestProbeURL_PrefersRemoteOverPackageTransport(t *testing.T) {
	entry := catalog.CatalogEntry{
		Server: catalog.ServerRecord{
			Remotes: []catalog.Remote{{Type: catalog.TransportStreamableHTTP, URL: "https://remote.example"}},
			Packages: []catalog.Package{
				{Transport: &catalog.PackageTransport{Type: catalog.TransportStreamableHTTP, URL: "https://pkg.example"}},
			},
		},
	}
	assert.Equal(t, "https://remote.example", ProbeURL(entry))
}

func TestExplicitlyNoRemote_SkipsCandidate(t *testing.T) {
	entry := catalog.CatalogEntry{Ragmap: catalog.Enrichment{HasRemote: false}}
	assert.True(t, explicitlyNoRemote(entry))
}
