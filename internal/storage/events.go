package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ashita-ai/memoryd/internal/model"
)

// EventStore is the Postgres-backed eventlog.Store implementation.
type EventStore struct{ db *DB }

func (s *EventStore) Append(ctx context.Context, e model.Event) error {
	ids, err := json.Marshal(e.IDs)
	if err != nil {
		return fmt.Errorf("storage: marshal event ids: %w", err)
	}
	_, err = s.db.pool.Exec(ctx, `
		INSERT INTO events (id, kind, operation, ids, ts) VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, string(e.Kind), e.Operation, ids, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("storage: append event: %w", err)
	}
	return nil
}

func (s *EventStore) ListByTimeRange(ctx context.Context, from, to time.Time) ([]model.Event, error) {
	rows, err := s.db.pool.Query(ctx,
		`SELECT id, kind, operation, ids, ts FROM events WHERE ts >= $1 AND ts < $2 ORDER BY ts ASC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("storage: list events: %w", err)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var e model.Event
		var kind string
		var ids []byte
		if err := rows.Scan(&e.ID, &kind, &e.Operation, &ids, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("storage: scan event: %w", err)
		}
		e.Kind = model.EventKind(kind)
		if err := json.Unmarshal(ids, &e.IDs); err != nil {
			return nil, fmt.Errorf("storage: unmarshal event ids: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
