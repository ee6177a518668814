package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/khalidsaidi/ragmap/internal/catalog"
)

func (s *Store) MarkServerSeen(ctx context.Context, runID string, name catalog.ServerName, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO servers (name, last_seen_run_id, last_seen_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE SET last_seen_run_id = EXCLUDED.last_seen_run_id, last_seen_at = EXCLUDED.last_seen_at`,
		string(name), runID, at)
	if err != nil {
		return fmt.Errorf("pgstore: mark server seen: %w", err)
	}
	return nil
}

func (s *Store) UpsertServerVersion(ctx context.Context, p catalog.UpsertParams) error {
	serverRecord, err := json.Marshal(p.Server)
	if err != nil {
		return fmt.Errorf("pgstore: marshal server record: %w", err)
	}
	official, err := json.Marshal(p.Official)
	if err != nil {
		return fmt.Errorf("pgstore: marshal official meta: %w", err)
	}
	ragmap, err := json.Marshal(p.Ragmap)
	if err != nil {
		return fmt.Errorf("pgstore: marshal enrichment: %w", err)
	}
	var publisherProvided any
	if len(p.PublisherProvided) > 0 {
		publisherProvided = p.PublisherProvided
	}

	var embeddingArg any
	if p.Ragmap.Embedding != nil && len(p.Ragmap.Embedding.Vector) > 0 {
		v := pgvector.NewVector(p.Ragmap.Embedding.Vector)
		embeddingArg = &v
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgstore: begin upsert tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO servers (name, last_seen_run_id, last_seen_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO NOTHING`,
		string(p.Server.Name), p.RunID, p.At); err != nil {
		return fmt.Errorf("pgstore: ensure server row: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO server_versions
		 (name, version, hidden, last_seen_run_id, official_is_latest, official_updated_at, official_published_at,
		  server_record, official, publisher_provided, ragmap, embedding_vector)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (name, version) DO UPDATE SET
		   hidden = EXCLUDED.hidden,
		   last_seen_run_id = EXCLUDED.last_seen_run_id,
		   official_is_latest = EXCLUDED.official_is_latest,
		   official_updated_at = EXCLUDED.official_updated_at,
		   official_published_at = EXCLUDED.official_published_at,
		   server_record = EXCLUDED.server_record,
		   official = EXCLUDED.official,
		   publisher_provided = EXCLUDED.publisher_provided,
		   ragmap = EXCLUDED.ragmap,
		   embedding_vector = EXCLUDED.embedding_vector`,
		string(p.Server.Name), string(p.Server.Version), p.Hidden, p.RunID,
		p.Official.IsLatest(), p.Official.UpdatedAt(), p.Official.PublishedAt(),
		serverRecord, official, publisherProvided, ragmap, embeddingArg,
	); err != nil {
		return fmt.Errorf("pgstore: upsert server version: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE servers SET first_version = fv.version
		 FROM (SELECT version FROM server_versions WHERE name = $1 ORDER BY seq ASC LIMIT 1) fv
		 WHERE servers.name = $1 AND servers.first_version IS NULL`,
		string(p.Server.Name)); err != nil {
		return fmt.Errorf("pgstore: set first version: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE servers SET latest_version = COALESCE(
		   (SELECT version FROM server_versions WHERE name = $1 AND official_is_latest ORDER BY seq ASC LIMIT 1),
		   (SELECT version FROM server_versions WHERE name = $1 ORDER BY seq ASC LIMIT 1)
		 ) WHERE name = $1`,
		string(p.Server.Name)); err != nil {
		return fmt.Errorf("pgstore: recompute latest version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgstore: commit upsert: %w", err)
	}
	return nil
}

func (s *Store) HideServersNotSeen(ctx context.Context, runID string) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("pgstore: begin hide tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE servers SET hidden = false WHERE last_seen_run_id = $1`, runID); err != nil {
		return 0, fmt.Errorf("pgstore: unhide seen servers: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE servers SET hidden = true WHERE last_seen_run_id IS DISTINCT FROM $1 AND hidden = false`, runID)
	if err != nil {
		return 0, fmt.Errorf("pgstore: hide unseen servers: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("pgstore: commit hide: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
