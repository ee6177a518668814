package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/khalidsaidi/ragmap/internal/catalog"
)

// BeginRun mints a fresh run id. Run bookkeeping lives entirely in the
// servers/server_versions rows each run touches, so no row is written here.
func (s *Store) BeginRun(_ context.Context, _ catalog.RunMode) (string, error) {
	return uuid.NewString(), nil
}

func (s *Store) getWatermark(ctx context.Context, key string) (*time.Time, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx, `SELECT value FROM process_meta WHERE key = $1`, key).Scan(&t)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("pgstore: get watermark %s: %w", key, err)
	}
	return &t, nil
}

func (s *Store) setWatermark(ctx context.Context, key string, t time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO process_meta (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, t)
	if err != nil {
		return fmt.Errorf("pgstore: set watermark %s: %w", key, err)
	}
	return nil
}

const (
	watermarkLastSuccessfulIngest = "last_successful_ingest_at"
	watermarkLastReachabilityRun  = "last_reachability_run_at"
)

func (s *Store) GetLastSuccessfulIngestAt(ctx context.Context) (*time.Time, error) {
	return s.getWatermark(ctx, watermarkLastSuccessfulIngest)
}

func (s *Store) SetLastSuccessfulIngestAt(ctx context.Context, t time.Time) error {
	return s.setWatermark(ctx, watermarkLastSuccessfulIngest, t)
}

func (s *Store) GetLastReachabilityRunAt(ctx context.Context) (*time.Time, error) {
	return s.getWatermark(ctx, watermarkLastReachabilityRun)
}

func (s *Store) SetLastReachabilityRunAt(ctx context.Context, t time.Time) error {
	return s.setWatermark(ctx, watermarkLastReachabilityRun, t)
}
