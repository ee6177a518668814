package httpapi_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khalidsaidi/ragmap/internal/catalog"
	"github.com/khalidsaidi/ragmap/internal/catalog/memstore"
	"github.com/khalidsaidi/ragmap/internal/embedding"
	"github.com/khalidsaidi/ragmap/internal/httpapi"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedServer(t *testing.T, store *memstore.Store, name string) {
	t.Helper()
	ctx := context.Background()
	runID, err := store.BeginRun(ctx, catalog.RunModeFull)
	require.NoError(t, err)
	require.NoError(t, store.MarkServerSeen(ctx, runID, catalog.ServerName(name), time.Now()))
	require.NoError(t, store.UpsertServerVersion(ctx, catalog.UpsertParams{
		RunID: runID,
		At:    time.Now(),
		Server: catalog.ServerRecord{
			Name: catalog.ServerName(name), Version: "1.0.0", Description: "a rag pipeline",
			Packages: []catalog.Package{{RegistryType: "npm", Identifier: "example-mcp"}},
		},
		Official: catalog.OfficialMeta{Raw: []byte(`{"status":"active","isLatest":true}`)},
		Ragmap:   catalog.Enrichment{RagScore: 50, Categories: []string{"retrieval"}, ServerKind: catalog.ServerKindRetriever},
	}))
}

func newTestServer(t *testing.T, store *memstore.Store, ingestToken string) *httptest.Server {
	t.Helper()
	srv := httpapi.New(httpapi.Config{
		Store:        store,
		StorageKind:  "memory",
		Embedder:     embedding.NewNoopProvider(8),
		IngestToken:  ingestToken,
		Port:         0,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		Logger:       testLogger(),
	})
	return httptest.NewServer(srv.Handler())
}

func TestHandleHealth(t *testing.T) {
	store := memstore.New(time.Minute)
	ts := newTestServer(t, store, "")
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "memory", body["storageKind"])
}

func TestHandleListServersAndSearch(t *testing.T) {
	store := memstore.New(time.Minute)
	seedServer(t, store, "svc-a")
	ts := newTestServer(t, store, "")
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v0.1/servers")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	searchResp, err := http.Get(ts.URL + "/rag/search?q=rag")
	require.NoError(t, err)
	defer searchResp.Body.Close()
	assert.Equal(t, http.StatusOK, searchResp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(searchResp.Body).Decode(&body))
	results, ok := body["results"].([]any)
	require.True(t, ok)
	assert.NotEmpty(t, results)
}

func TestHandleOpenAPISpec(t *testing.T) {
	store := memstore.New(time.Minute)
	ts := newTestServer(t, store, "")
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/openapi.yaml")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "RAGMap")
}

func TestIngestRunRequiresToken(t *testing.T) {
	store := memstore.New(time.Minute)
	ts := newTestServer(t, store, "secret")
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/internal/ingest/run", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/internal/ingest/run", nil)
	require.NoError(t, err)
	req.Header.Set("X-Ingest-Token", "secret")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.NotEqual(t, http.StatusUnauthorized, resp2.StatusCode)
}

func TestHandleListVersions_NameWithSlashMatchesLiteralAndPercentEncoded(t *testing.T) {
	store := memstore.New(time.Minute)
	seedServer(t, store, "foo/bar")
	ts := newTestServer(t, store, "")
	defer ts.Close()

	literal, err := http.Get(ts.URL + "/v0.1/servers/foo/bar/versions")
	require.NoError(t, err)
	defer literal.Body.Close()
	assert.Equal(t, http.StatusOK, literal.StatusCode)

	encoded, err := http.Get(ts.URL + "/v0.1/servers/foo%2Fbar/versions")
	require.NoError(t, err)
	defer encoded.Body.Close()
	assert.Equal(t, http.StatusOK, encoded.StatusCode)

	var literalBody, encodedBody map[string]any
	require.NoError(t, json.NewDecoder(literal.Body).Decode(&literalBody))
	require.NoError(t, json.NewDecoder(encoded.Body).Decode(&encodedBody))
	assert.Equal(t, literalBody, encodedBody)
}

func TestHandleGetVersion_NameWithSlash(t *testing.T) {
	store := memstore.New(time.Minute)
	seedServer(t, store, "foo/bar")
	ts := newTestServer(t, store, "")
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v0.1/servers/foo%2Fbar/versions/1.0.0")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleExplain_NameWithSlash(t *testing.T) {
	store := memstore.New(time.Minute)
	seedServer(t, store, "foo/bar")
	ts := newTestServer(t, store, "")
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/rag/servers/foo%2Fbar/explain")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWellKnownRedirect(t *testing.T) {
	store := memstore.New(time.Minute)
	ts := newTestServer(t, store, "")
	defer ts.Close()

	client := &http.Client{CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Get(ts.URL + "/foo/.well-known/agent.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
	assert.Equal(t, "/.well-known/agent.json", resp.Header.Get("Location"))
}
