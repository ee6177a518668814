// Package mcpadapter bridges the Model Context Protocol to the query and
// install projections, so MCP-compatible agents can search the catalog and
// generate install configs without going through the HTTP API.
package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/khalidsaidi/ragmap/internal/catalog"
	"github.com/khalidsaidi/ragmap/internal/embedding"
	"github.com/khalidsaidi/ragmap/internal/install"
	"github.com/khalidsaidi/ragmap/internal/query"
)

const serverInstructions = `You have access to ragmap, a curated catalog of Model Context Protocol
servers ranked by relevance to retrieval-augmented-generation workloads.

TOOLS:
- ragmap_search: hybrid keyword + semantic search over the catalog
- ragmap_top: the highest quality-signal servers for a server kind
- ragmap_install: the copy-ready install configuration for one server

Call ragmap_search or ragmap_top to find a candidate server, then
ragmap_install with its name to get the exact command or remote
configuration to add to an MCP client.`

// Server wraps the mcp-go server with the catalog's read operations.
type Server struct {
	mcpServer *mcpserver.MCPServer
	store     catalog.Store
	embedder  embedding.Provider
	logger    *slog.Logger
}

// New builds and registers an MCP server exposing the search/top/install
// tools over the given catalog.Store.
func New(store catalog.Store, embedder embedding.Provider, logger *slog.Logger, version string) *Server {
	s := &Server{store: store, embedder: embedder, logger: logger}

	s.mcpServer = mcpserver.NewMCPServer(
		"ragmap",
		version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithInstructions(serverInstructions),
	)

	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcpServer }

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{mcplib.TextContent{Type: "text", Text: msg}},
		IsError: true,
	}
}

func jsonResult(v any) *mcplib.CallToolResult {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal result: %v", err))
	}
	return &mcplib.CallToolResult{Content: []mcplib.Content{mcplib.TextContent{Type: "text", Text: string(b)}}}
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("ragmap_search",
			mcplib.WithDescription("Hybrid keyword + semantic search over the MCP server catalog. Defaults to RAG-relevant servers when the query is empty."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("q", mcplib.Description("Search query. Defaults to \"rag\" when omitted.")),
			mcplib.WithNumber("limit", mcplib.Description("Maximum results (<= 50)."), mcplib.Min(1), mcplib.Max(50), mcplib.DefaultNumber(10)),
			mcplib.WithString("serverKind", mcplib.Description("Filter by classification: retriever, evaluator, indexer, router, other.")),
		),
		s.handleSearch,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("ragmap_top",
			mcplib.WithDescription("The highest quality-signal servers (reachable, then rag score, then recency), defaulting to retrievers with a minimum score of 10."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithNumber("limit", mcplib.Description("Maximum results (<= 50)."), mcplib.Min(1), mcplib.Max(50), mcplib.DefaultNumber(10)),
			mcplib.WithString("serverKind", mcplib.Description("Filter by classification. Defaults to retriever.")),
			mcplib.WithNumber("minScore", mcplib.Description("Minimum rag score. Defaults to 10.")),
		),
		s.handleTop,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("ragmap_install",
			mcplib.WithDescription("The copy-ready install configuration for one server's latest version."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("name", mcplib.Description("Exact server name."), mcplib.Required()),
		),
		s.handleInstall,
	)
}

func (s *Server) loadItems(ctx context.Context) ([]query.Item, error) {
	var items []query.Item
	cursor := ""
	for {
		page, err := s.store.ListLatest(ctx, catalog.ListLatestParams{Cursor: cursor, Limit: 200})
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

func (s *Server) handleSearch(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	q := request.GetString("q", "rag")
	if q == "" {
		q = "rag"
	}
	limit := request.GetInt("limit", 10)

	items, err := s.loadItems(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("search failed: %v", err)), nil
	}

	var filters query.Filters
	if kind := request.GetString("serverKind", ""); kind != "" {
		k := catalog.ServerKind(kind)
		filters.ServerKind = &k
	}

	var results []query.Result
	if s.embedder != nil {
		if vec, embedErr := s.embedder.Embed(ctx, q); embedErr == nil && vec != nil {
			results = query.Hybrid(items, q, vec.Vector, filters, limit)
		}
	}
	if results == nil {
		results = query.Keyword(items, q, filters)
		if len(results) > limit {
			results = results[:limit]
		}
	}

	return jsonResult(map[string]any{"query": q, "results": results}), nil
}

func (s *Server) handleTop(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	limit := request.GetInt("limit", 10)

	items, err := s.loadItems(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("top failed: %v", err)), nil
	}

	filters := query.Filters{}
	kind := catalog.ServerKind(request.GetString("serverKind", string(catalog.ServerKindRetriever)))
	filters.ServerKind = &kind
	minScore := request.GetInt("minScore", 10)
	filters.MinScore = &minScore

	results := query.Top(items, filters, limit)
	return jsonResult(map[string]any{"results": results}), nil
}

func (s *Server) handleInstall(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	name := request.GetString("name", "")
	if name == "" {
		return errorResult("name is required"), nil
	}

	entry, err := s.store.GetVersion(ctx, catalog.ServerName(name), catalog.LatestVersionSentinel)
	if err != nil {
		if err == catalog.ErrNotFound {
			return errorResult(fmt.Sprintf("unknown server %q", name)), nil
		}
		return errorResult(fmt.Sprintf("install failed: %v", err)), nil
	}

	return jsonResult(install.Project(*entry)), nil
}
