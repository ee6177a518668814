package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/khalidsaidi/ragmap/internal/catalog"
	"github.com/khalidsaidi/ragmap/internal/embedding"
	"github.com/khalidsaidi/ragmap/internal/ingest"
	"github.com/khalidsaidi/ragmap/internal/install"
	"github.com/khalidsaidi/ragmap/internal/query"
	"github.com/khalidsaidi/ragmap/internal/reachability"
	"github.com/khalidsaidi/ragmap/internal/stats"
	"github.com/khalidsaidi/ragmap/internal/telemetry"
)

const version = "0.1.0"

type handlers struct {
	store        catalog.Store
	storageKind  string
	coordinator  *ingest.Coordinator
	scheduler    *reachability.Scheduler
	embedder     embedding.Provider
	hasEmbedding bool
	ingestToken  string
	metrics      *telemetry.Metrics
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"version":     version,
		"storageKind": h.storageKind,
		"embeddings":  h.hasEmbedding,
		"ts":          time.Now().UTC(),
	})
}

func (h *handlers) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := h.store.HealthCheck(r.Context())
	if !status.OK {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready", "detail": status.Detail})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

var agentCard = map[string]any{
	"name":        "ragmap",
	"description": "Curated RAG-relevance subregistry over the Model Context Protocol server registry.",
	"version":     version,
}

func (h *handlers) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, agentCard)
}

// wellKnownRedirect 301-redirects any path ending in a canonical
// .well-known suffix to that exact canonical path, preserving the query
// string, per spec.md §6.
func wellKnownRedirect(canonical string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == canonical {
			next(w, r)
			return
		}
		target := canonical
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}
		http.Redirect(w, r, target, http.StatusMovedPermanently)
	}
}

func (h *handlers) handleListServers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := parseLimit(q.Get("limit"), 200, 200)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var updatedSince *time.Time
	if v := q.Get("updated_since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid updated_since: must be RFC3339")
			return
		}
		updatedSince = &t
	}

	page, err := h.store.ListLatest(r.Context(), catalog.ListLatestParams{
		Cursor:       q.Get("cursor"),
		Limit:        limit,
		UpdatedSince: updatedSince,
	})
	if err != nil {
		writeErrorFromErr(w, r, err)
		return
	}

	meta := map[string]any{"count": len(page.Entries)}
	if page.NextCursor != "" {
		meta["nextCursor"] = page.NextCursor
	}
	writeJSON(w, http.StatusOK, map[string]any{"servers": page.Entries, "metadata": meta})
}

// handleServersByTail dispatches GET /v0.1/servers/{tail...} to the
// versions-list or single-version handler. tail is the full remainder of
// the path after "/v0.1/servers/", which keeps a server name containing
// "/" as a single token regardless of whether the slash arrived literal
// or percent-encoded (net/http decodes both identically before the mux
// ever sees the path).
func (h *handlers) handleServersByTail(w http.ResponseWriter, r *http.Request) {
	name, version, ok := splitVersionsTail(r.PathValue("tail"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	if version == "" {
		h.handleListVersions(w, r, name)
		return
	}
	h.handleGetVersion(w, r, name, version)
}

// splitVersionsTail parses "<name>/versions" or "<name>/versions/<version>"
// out of tail. version is "" for the bare versions-list form.
func splitVersionsTail(tail string) (name, version string, ok bool) {
	const suffix = "/versions"
	if strings.HasSuffix(tail, suffix) && len(tail) > len(suffix) {
		return tail[:len(tail)-len(suffix)], "", true
	}
	const infix = "/versions/"
	if idx := strings.LastIndex(tail, infix); idx > 0 {
		name, version = tail[:idx], tail[idx+len(infix):]
		if name != "" && version != "" {
			return name, version, true
		}
	}
	return "", "", false
}

func (h *handlers) handleListVersions(w http.ResponseWriter, r *http.Request, name string) {
	entries, err := h.store.ListVersions(r.Context(), catalog.ServerName(name))
	if err != nil {
		if err == catalog.ErrNotFound {
			writeError(w, r, http.StatusNotFound, "unknown server")
			return
		}
		writeErrorFromErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"servers": entries, "metadata": map[string]any{"count": len(entries)}})
}

func (h *handlers) handleGetVersion(w http.ResponseWriter, r *http.Request, name, ver string) {
	entry, err := h.store.GetVersion(r.Context(), catalog.ServerName(name), ver)
	if err != nil {
		if err == catalog.ErrNotFound {
			writeError(w, r, http.StatusNotFound, "unknown server version")
			return
		}
		writeErrorFromErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *handlers) handleCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.store.ListCategories(r.Context())
	if err != nil {
		writeErrorFromErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": categories})
}

func (h *handlers) loadItems(r *http.Request) ([]query.Item, error) {
	var items []query.Item
	cursor := ""
	for {
		page, err := h.store.ListLatest(r.Context(), catalog.ListLatestParams{Cursor: cursor, Limit: 200})
		if err != nil {
			return nil, err
		}
		for _, e := range page.Entries {
			items = append(items, query.BuildItem(e))
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return items, nil
}

func parseFilters(q map[string][]string) query.Filters {
	get := func(k string) string {
		if v, ok := q[k]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}
	var f query.Filters
	if v := get("minScore"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.MinScore = &n
		}
	}
	if v := get("categories"); v != "" {
		f.Categories = strings.Split(v, ",")
	}
	f.Transport = get("transport")
	f.RegistryType = get("registryType")
	if v := get("hasRemote"); v != "" {
		b := v == "true"
		f.HasRemote = &b
	}
	if v := get("reachable"); v != "" {
		b := v == "true"
		f.Reachable = &b
	}
	if v := get("citations"); v != "" {
		b := v == "true"
		f.Citations = &b
	}
	if v := get("localOnly"); v != "" {
		b := v == "true"
		f.LocalOnly = &b
	}
	if v := get("serverKind"); v != "" {
		k := catalog.ServerKind(v)
		f.ServerKind = &k
	}
	return f
}

func (h *handlers) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		q = "rag"
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"), 10, 50)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	items, err := h.loadItems(r)
	if err != nil {
		writeErrorFromErr(w, r, err)
		return
	}
	filters := parseFilters(r.URL.Query())

	var results []query.Result
	kind := "keyword"
	if h.hasEmbedding {
		vec, embedErr := h.embedder.Embed(r.Context(), q)
		if embedErr == nil && vec != nil {
			results = query.Hybrid(items, q, vec.Vector, filters, limit)
			kind = "hybrid"
		}
	}
	if results == nil {
		results = query.Keyword(items, q, filters)
		if len(results) > limit {
			results = results[:limit]
		}
	}
	h.metrics.RecordQuery(r.Context(), kind)

	writeJSON(w, http.StatusOK, map[string]any{"query": q, "results": results, "metadata": map[string]any{"count": len(results)}})
}

func (h *handlers) handleTop(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"), 10, 50)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	rawQuery := r.URL.Query()
	filters := parseFilters(rawQuery)
	if _, ok := rawQuery["serverKind"]; !ok {
		k := catalog.ServerKindRetriever
		filters.ServerKind = &k
	}
	if _, ok := rawQuery["minScore"]; !ok {
		min := 10
		filters.MinScore = &min
	}

	items, err := h.loadItems(r)
	if err != nil {
		writeErrorFromErr(w, r, err)
		return
	}
	results := query.Top(items, filters, limit)
	h.metrics.RecordQuery(r.Context(), "top")
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "metadata": map[string]any{"count": len(results)}})
}

func (h *handlers) handleInstall(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return
	}
	entry, err := h.store.GetVersion(r.Context(), catalog.ServerName(name), catalog.LatestVersionSentinel)
	if err != nil {
		if err == catalog.ErrNotFound {
			writeError(w, r, http.StatusNotFound, "unknown server")
			return
		}
		writeErrorFromErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, install.Project(*entry))
}

// handleRagServerExplainByTail strips the trailing "/explain" segment from
// GET /rag/servers/{tail...}, keeping a slash-containing server name intact
// the same way handleServersByTail does.
func (h *handlers) handleRagServerExplainByTail(w http.ResponseWriter, r *http.Request) {
	const suffix = "/explain"
	tail := r.PathValue("tail")
	if !strings.HasSuffix(tail, suffix) || len(tail) <= len(suffix) {
		http.NotFound(w, r)
		return
	}
	h.handleExplain(w, r, tail[:len(tail)-len(suffix)])
}

func (h *handlers) handleExplain(w http.ResponseWriter, r *http.Request, name string) {
	entry, err := h.store.GetVersion(r.Context(), catalog.ServerName(name), catalog.LatestVersionSentinel)
	if err != nil {
		if err == catalog.ErrNotFound {
			writeError(w, r, http.StatusNotFound, "unknown server")
			return
		}
		writeErrorFromErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":       entry.Server.Name,
		"version":    entry.Server.Version,
		"ragScore":   entry.Ragmap.RagScore,
		"categories": entry.Ragmap.Categories,
		"reasons":    entry.Ragmap.Reasons,
	})
}

func (h *handlers) handleStats(w http.ResponseWriter, r *http.Request) {
	s, err := stats.Project(r.Context(), h.store)
	if err != nil {
		writeErrorFromErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

type ingestRunRequest struct {
	Mode string `json:"mode"`
}

func (h *handlers) handleIngestRun(w http.ResponseWriter, r *http.Request) {
	var body ingestRunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	mode := catalog.RunModeIncremental
	if body.Mode == "full" {
		mode = catalog.RunModeFull
	}

	result, err := h.coordinator.Run(r.Context(), mode)
	if err != nil {
		writeErrorFromErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type reachabilityRunRequest struct {
	Limit int `json:"limit"`
}

func (h *handlers) handleReachabilityRun(w http.ResponseWriter, r *http.Request) {
	var body reachabilityRunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	limit := body.Limit
	if limit <= 0 {
		limit = 200
	}

	checked, err := h.scheduler.Refresh(r.Context(), limit)
	if err != nil {
		writeErrorFromErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"checked": checked})
}

func parseLimit(raw string, def, max int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errInvalidLimit
	}
	if n <= 0 || n > max {
		return 0, errInvalidLimit
	}
	return n, nil
}

var errInvalidLimit = &limitError{}

type limitError struct{}

func (e *limitError) Error() string { return "limit must be a positive integer within the allowed range" }
