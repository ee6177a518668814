package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/khalidsaidi/ragmap/api"
	"github.com/khalidsaidi/ragmap/internal/authtoken"
	"github.com/khalidsaidi/ragmap/internal/catalog"
	"github.com/khalidsaidi/ragmap/internal/embedding"
	"github.com/khalidsaidi/ragmap/internal/ingest"
	"github.com/khalidsaidi/ragmap/internal/reachability"
	"github.com/khalidsaidi/ragmap/internal/telemetry"
)

// Config holds all dependencies and settings for constructing a Server.
type Config struct {
	Store       catalog.Store
	StorageKind string
	Coordinator *ingest.Coordinator
	Scheduler   *reachability.Scheduler
	Embedder    embedding.Provider
	// MCPServer, if non-nil, is mounted at /mcp using the StreamableHTTP transport.
	MCPServer *mcpserver.MCPServer
	// Metrics is nil-safe; a nil value silently disables instrument recording.
	Metrics *telemetry.Metrics
	// JWTVerifier, if non-nil, accepts a valid bearer token as an alternative
	// to IngestToken on protected run-trigger endpoints.
	JWTVerifier *authtoken.Verifier

	IngestToken string

	Port               int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	CORSAllowedOrigins []string
	Logger             *slog.Logger
}

// Server is the RAGMap read API and protected run-trigger HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root handler, for use in tests.
func (s *Server) Handler() http.Handler { return s.handler }

// New builds a Server with all routes wired.
func New(cfg Config) *Server {
	_, isNoop := cfg.Embedder.(*embedding.NoopProvider)
	h := &handlers{
		store:        cfg.Store,
		storageKind:  cfg.StorageKind,
		coordinator:  cfg.Coordinator,
		scheduler:    cfg.Scheduler,
		embedder:     cfg.Embedder,
		hasEmbedding: cfg.Embedder != nil && !isNoop,
		ingestToken:  cfg.IngestToken,
		metrics:      cfg.Metrics,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /readyz", h.handleReadyz)

	mux.HandleFunc("GET /.well-known/agent.json", h.handleAgentCard)
	mux.HandleFunc("GET /.well-known/agent-card.json", h.handleAgentCard)
	mux.HandleFunc("GET /openapi.yaml", handleOpenAPISpec)
	mux.HandleFunc("GET /{path...}", wellKnownCatchAll(h))

	mux.HandleFunc("GET /v0.1/servers", h.handleListServers)
	// {tail...} is greedy so a server name containing "/" (literal or
	// %2F-encoded — net/http decodes both to the same URL.Path before
	// matching) stays intact; handleServersByTail splits it back into
	// name and versions/version itself.
	mux.HandleFunc("GET /v0.1/servers/{tail...}", h.handleServersByTail)

	mux.HandleFunc("GET /rag/categories", h.handleCategories)
	mux.HandleFunc("GET /rag/search", h.handleSearch)
	mux.HandleFunc("GET /rag/top", h.handleTop)
	mux.HandleFunc("GET /rag/install", h.handleInstall)
	mux.HandleFunc("GET /rag/servers/{tail...}", h.handleRagServerExplainByTail)
	mux.HandleFunc("GET /rag/stats", h.handleStats)

	mux.Handle("POST /internal/ingest/run", requireIngestToken(cfg.IngestToken, cfg.JWTVerifier, http.HandlerFunc(h.handleIngestRun)))
	mux.Handle("POST /internal/reachability/run", requireIngestToken(cfg.IngestToken, cfg.JWTVerifier, http.HandlerFunc(h.handleReachabilityRun)))

	if cfg.MCPServer != nil {
		// Registered per method: a method-less "/mcp" pattern conflicts with
		// the "GET /{path...}" catch-all and makes the mux panic.
		mcpHandler := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("GET /mcp", mcpHandler)
		mux.Handle("POST /mcp", mcpHandler)
		mux.Handle("DELETE /mcp", mcpHandler)
	}

	// Middleware chain (outermost executes first):
	// requestID → security headers → CORS → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = corsMiddleware(cfg.CORSAllowedOrigins, handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  2 * cfg.ReadTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

func handleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(api.OpenAPISpec)
}

// wellKnownCatchAll implements the §6 redirect rule: any request path
// ending in a canonical .well-known suffix, but not exactly that path,
// 301-redirects to the canonical path with the query string preserved.
// Registered as the mux's catch-all route so exact matches above take
// priority via net/http's longest-pattern-wins rule.
func wellKnownCatchAll(h *handlers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case hasSuffixPath(r.URL.Path, "/.well-known/agent.json"):
			wellKnownRedirect("/.well-known/agent.json", h.handleAgentCard)(w, r)
		case hasSuffixPath(r.URL.Path, "/.well-known/agent-card.json"):
			wellKnownRedirect("/.well-known/agent-card.json", h.handleAgentCard)(w, r)
		default:
			http.NotFound(w, r)
		}
	}
}

func hasSuffixPath(path, suffix string) bool {
	return len(path) >= len(suffix) && path[len(path)-len(suffix):] == suffix
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
