package pgstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/khalidsaidi/ragmap/internal/catalog"
)

func scanEntry(row interface {
	Scan(dest ...any) error
}) (catalog.CatalogEntry, error) {
	var entry catalog.CatalogEntry
	var serverRecord, official, ragmap []byte
	var publisherProvided []byte
	if err := row.Scan(&serverRecord, &official, &publisherProvided, &ragmap); err != nil {
		return entry, err
	}
	if err := json.Unmarshal(serverRecord, &entry.Server); err != nil {
		return entry, fmt.Errorf("pgstore: unmarshal server record: %w", err)
	}
	if err := json.Unmarshal(official, &entry.Official); err != nil {
		return entry, fmt.Errorf("pgstore: unmarshal official meta: %w", err)
	}
	if err := json.Unmarshal(ragmap, &entry.Ragmap); err != nil {
		return entry, fmt.Errorf("pgstore: unmarshal enrichment: %w", err)
	}
	if len(publisherProvided) > 0 {
		entry.PublisherProvided = publisherProvided
	}
	return entry, nil
}

func (s *Store) ListLatest(ctx context.Context, p catalog.ListLatestParams) (catalog.ListLatestResult, error) {
	limit := p.Limit
	if limit <= 0 || limit > 200 {
		limit = 200
	}

	rows, err := s.pool.Query(ctx,
		`SELECT s.name, sv.server_record, sv.official, sv.publisher_provided, sv.ragmap
		 FROM servers s
		 JOIN server_versions sv ON sv.name = s.name AND sv.version = s.latest_version
		 WHERE s.hidden = false
		   AND ($1 = '' OR s.name > $1)
		   AND ($2::timestamptz IS NULL OR sv.official_updated_at > $2)
		 ORDER BY s.name ASC
		 LIMIT $3`,
		p.Cursor, p.UpdatedSince, limit+1)
	if err != nil {
		return catalog.ListLatestResult{}, fmt.Errorf("pgstore: list latest: %w", err)
	}
	defer rows.Close()

	var names []string
	var entries []catalog.CatalogEntry
	for rows.Next() {
		var name string
		var serverRecord, official, ragmap []byte
		var publisherProvided []byte
		if err := rows.Scan(&name, &serverRecord, &official, &publisherProvided, &ragmap); err != nil {
			return catalog.ListLatestResult{}, fmt.Errorf("pgstore: scan list latest row: %w", err)
		}
		var entry catalog.CatalogEntry
		if err := json.Unmarshal(serverRecord, &entry.Server); err != nil {
			return catalog.ListLatestResult{}, fmt.Errorf("pgstore: unmarshal server record: %w", err)
		}
		if err := json.Unmarshal(official, &entry.Official); err != nil {
			return catalog.ListLatestResult{}, fmt.Errorf("pgstore: unmarshal official meta: %w", err)
		}
		if err := json.Unmarshal(ragmap, &entry.Ragmap); err != nil {
			return catalog.ListLatestResult{}, fmt.Errorf("pgstore: unmarshal enrichment: %w", err)
		}
		if len(publisherProvided) > 0 {
			entry.PublisherProvided = publisherProvided
		}
		names = append(names, name)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return catalog.ListLatestResult{}, fmt.Errorf("pgstore: iterate list latest: %w", err)
	}

	result := catalog.ListLatestResult{}
	if len(entries) > limit {
		result.Entries = entries[:limit]
		result.NextCursor = names[limit-1]
	} else {
		result.Entries = entries
	}
	return result, nil
}

func (s *Store) ListVersions(ctx context.Context, name catalog.ServerName) ([]catalog.CatalogEntry, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM servers WHERE name = $1)`, string(name)).Scan(&exists); err != nil {
		return nil, fmt.Errorf("pgstore: check server exists: %w", err)
	}
	if !exists {
		return nil, catalog.ErrNotFound
	}

	rows, err := s.pool.Query(ctx,
		`SELECT sv.server_record, sv.official, sv.publisher_provided, sv.ragmap
		 FROM server_versions sv
		 JOIN servers s ON s.name = sv.name
		 WHERE sv.name = $1 AND s.hidden = false AND sv.hidden = false
		 ORDER BY sv.official_is_latest DESC, sv.official_published_at DESC NULLS LAST`,
		string(name))
	if err != nil {
		return nil, fmt.Errorf("pgstore: list versions: %w", err)
	}
	defer rows.Close()

	var entries []catalog.CatalogEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("pgstore: scan version row: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) GetVersion(ctx context.Context, name catalog.ServerName, version string) (*catalog.CatalogEntry, error) {
	var hidden bool
	var latestVersion *string
	err := s.pool.QueryRow(ctx, `SELECT hidden, latest_version FROM servers WHERE name = $1`, string(name)).Scan(&hidden, &latestVersion)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("pgstore: get server: %w", err)
	}
	if hidden {
		return nil, catalog.ErrNotFound
	}

	v := version
	if version == catalog.LatestVersionSentinel {
		if latestVersion == nil {
			return nil, catalog.ErrNotFound
		}
		v = *latestVersion
	}
	if v == "" {
		return nil, catalog.ErrNotFound
	}

	row := s.pool.QueryRow(ctx,
		`SELECT server_record, official, publisher_provided, ragmap
		 FROM server_versions WHERE name = $1 AND version = $2 AND hidden = false`,
		string(name), v)
	entry, err := scanEntry(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("pgstore: get version: %w", err)
	}
	return &entry, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT jsonb_array_elements_text(sv.ragmap -> 'categories')
		 FROM servers s
		 JOIN server_versions sv ON sv.name = s.name AND sv.version = s.latest_version
		 WHERE s.hidden = false
		 ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list categories: %w", err)
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("pgstore: scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}
