// Package pgstore is the durable PostgreSQL+pgvector implementation of
// catalog.Store, backing production deployments where memstore's volatility
// is unacceptable across restarts.
package pgstore

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/khalidsaidi/ragmap/internal/catalog"
)

// Store is the pgxpool-backed catalog.Store implementation. It registers
// pgvector's wire types on every new connection so embedding columns
// round-trip as []float32 without manual encoding.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a connection pool against dsn and verifies connectivity.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse dsn: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if err := pgxvector.RegisterTypes(ctx, conn); err != nil {
			logger.Debug("pgstore: pgvector types not registered (extension may not exist yet)", "error", err)
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgstore: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}

	return &Store{pool: pool, logger: logger}, nil
}

// Pool exposes the underlying pool for callers that need raw access (tests,
// migrations).
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close shuts down the connection pool.
func (s *Store) Close() { s.pool.Close() }

// RunMigrations executes every .sql file in migrationsFS in lexical order.
// Forward-only, matching the scale of a single-schema service.
func (s *Store) RunMigrations(ctx context.Context, migrationsFS fs.FS) error {
	entries, err := fs.ReadDir(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("pgstore: read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		content, err := fs.ReadFile(migrationsFS, entry.Name())
		if err != nil {
			return fmt.Errorf("pgstore: read migration %s: %w", entry.Name(), err)
		}
		s.logger.Info("running migration", "file", entry.Name())
		if _, err := s.pool.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("pgstore: execute migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// HealthCheck pings the pool.
func (s *Store) HealthCheck(ctx context.Context) catalog.HealthStatus {
	if err := s.pool.Ping(ctx); err != nil {
		return catalog.HealthStatus{OK: false, Detail: err.Error()}
	}
	return catalog.HealthStatus{OK: true}
}
