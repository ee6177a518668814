package pgstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/khalidsaidi/ragmap/internal/catalog"
)

// SetReachability atomically updates the reachability fields of the latest
// version's enrichment, leaving every other field untouched. Unknown server
// names are a silent no-op, matching memstore's behavior for probes that
// race a concurrent hide.
func (s *Store) SetReachability(ctx context.Context, name catalog.ServerName, u catalog.ReachabilityUpdate) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgstore: begin reachability tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var latestVersion *string
	if err := tx.QueryRow(ctx, `SELECT latest_version FROM servers WHERE name = $1`, string(name)).Scan(&latestVersion); err != nil {
		if err == pgx.ErrNoRows {
			return nil
		}
		return fmt.Errorf("pgstore: lookup latest version: %w", err)
	}
	if latestVersion == nil {
		return nil
	}

	var raw []byte
	err = tx.QueryRow(ctx,
		`SELECT ragmap FROM server_versions WHERE name = $1 AND version = $2 FOR UPDATE`,
		string(name), *latestVersion).Scan(&raw)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil
		}
		return fmt.Errorf("pgstore: lock ragmap row: %w", err)
	}

	var enrichment catalog.Enrichment
	if err := json.Unmarshal(raw, &enrichment); err != nil {
		return fmt.Errorf("pgstore: unmarshal enrichment for reachability update: %w", err)
	}

	reachable := u.Reachable
	enrichment.Reachable = &reachable
	enrichment.ReachableCheckedAt = &u.CheckedAt
	enrichment.ReachableStatus = u.Status
	enrichment.ReachableMethod = u.Method
	if u.Reachable {
		enrichment.LastReachableAt = &u.CheckedAt
	}

	updated, err := json.Marshal(enrichment)
	if err != nil {
		return fmt.Errorf("pgstore: marshal updated enrichment: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE server_versions SET ragmap = $1 WHERE name = $2 AND version = $3`,
		updated, string(name), *latestVersion); err != nil {
		return fmt.Errorf("pgstore: write updated enrichment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgstore: commit reachability update: %w", err)
	}
	return nil
}
