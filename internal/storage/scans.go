package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/memoryd/internal/model"
)

// ScanStore is the Postgres-backed persistence for entanglement scan
// snapshots: append-only, retrieved newest-first (spec.md §6).
type ScanStore struct{ db *DB }

// scanPayload is the JSON shape stored in scan_snapshots.payload, everything
// but the id/scanned_at columns that get their own indexed columns.
type scanPayload struct {
	Clusters   []model.Cluster   `json:"clusters"`
	Bridges    []model.Bridge    `json:"bridges"`
	LooseEnds  []string          `json:"loose_ends"`
	Resonances []model.Resonance `json:"resonances"`
}

func (s *ScanStore) Put(ctx context.Context, snap model.ScanSnapshot) error {
	payload, err := json.Marshal(scanPayload{
		Clusters: snap.Clusters, Bridges: snap.Bridges, LooseEnds: snap.LooseEnds, Resonances: snap.Resonances,
	})
	if err != nil {
		return fmt.Errorf("storage: marshal scan payload: %w", err)
	}
	_, err = s.db.pool.Exec(ctx,
		`INSERT INTO scan_snapshots (id, scanned_at, payload) VALUES ($1,$2,$3) ON CONFLICT (id) DO NOTHING`,
		snap.ID, snap.ScannedAt, payload)
	if err != nil {
		return fmt.Errorf("storage: put scan snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recent scan snapshot, or ErrNotFound if none exist.
func (s *ScanStore) Latest(ctx context.Context) (model.ScanSnapshot, error) {
	row := s.db.pool.QueryRow(ctx, `SELECT id, scanned_at, payload FROM scan_snapshots ORDER BY scanned_at DESC LIMIT 1`)
	return scanScanSnapshot(row)
}

func scanScanSnapshot(row interface {
	Scan(dest ...any) error
}) (model.ScanSnapshot, error) {
	var snap model.ScanSnapshot
	var payload []byte
	if err := row.Scan(&snap.ID, &snap.ScannedAt, &payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ScanSnapshot{}, ErrNotFound
		}
		return model.ScanSnapshot{}, fmt.Errorf("storage: scan snapshot: %w", err)
	}
	var p scanPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return model.ScanSnapshot{}, fmt.Errorf("storage: unmarshal scan payload: %w", err)
	}
	snap.Clusters, snap.Bridges, snap.LooseEnds, snap.Resonances = p.Clusters, p.Bridges, p.LooseEnds, p.Resonances
	return snap, nil
}

// List returns scan snapshots newest-first, bounded by limit.
func (s *ScanStore) List(ctx context.Context, limit int) ([]model.ScanSnapshot, error) {
	rows, err := s.db.pool.Query(ctx, `SELECT id, scanned_at, payload FROM scan_snapshots ORDER BY scanned_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list scan snapshots: %w", err)
	}
	defer rows.Close()

	var out []model.ScanSnapshot
	for rows.Next() {
		snap, err := scanScanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
