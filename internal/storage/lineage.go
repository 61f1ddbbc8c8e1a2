package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/memoryd/internal/model"
)

// LineageStore is the Postgres-backed persistence for lineage edges. It is
// the system-of-record copy; graph traversal (ancestors/descendants/trace,
// cycle rejection) lives in internal/lineage and operates over edges loaded
// from here (or, per SPEC_FULL §6, from a Neo4j-backed equivalent).
type LineageStore struct{ db *DB }

func (s *LineageStore) Put(ctx context.Context, e model.LineageEdge) error {
	carried, err := json.Marshal(e.DecisionsCarried)
	if err != nil {
		return fmt.Errorf("storage: marshal decisions_carried: %w", err)
	}
	dropped, err := json.Marshal(e.DecisionsDropped)
	if err != nil {
		return fmt.Errorf("storage: marshal decisions_dropped: %w", err)
	}
	threadsCarried, err := json.Marshal(e.ThreadsCarried)
	if err != nil {
		return fmt.Errorf("storage: marshal threads_carried: %w", err)
	}
	threadsResolved, err := json.Marshal(e.ThreadsResolved)
	if err != nil {
		return fmt.Errorf("storage: marshal threads_resolved: %w", err)
	}

	_, err = s.db.pool.Exec(ctx, `
		INSERT INTO lineage_edges (id, source_conversation, target_conversation, compression_tag,
			decisions_carried, decisions_dropped, threads_carried, threads_resolved, cross_project, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, e.SourceConversation, e.TargetConversation, string(e.CompressionTag),
		carried, dropped, threadsCarried, threadsResolved, e.CrossProject, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: put lineage edge: %w", err)
	}
	return nil
}

const lineageColumns = `id, source_conversation, target_conversation, compression_tag,
			decisions_carried, decisions_dropped, threads_carried, threads_resolved, cross_project, created_at`

func scanLineageEdge(row pgx.Row) (model.LineageEdge, error) {
	var e model.LineageEdge
	var tag string
	var carried, dropped, threadsCarried, threadsResolved []byte

	err := row.Scan(&e.ID, &e.SourceConversation, &e.TargetConversation, &tag,
		&carried, &dropped, &threadsCarried, &threadsResolved, &e.CrossProject, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.LineageEdge{}, ErrNotFound
		}
		return model.LineageEdge{}, fmt.Errorf("storage: scan lineage edge: %w", err)
	}
	e.CompressionTag = model.CompressionTag(tag)
	if err := json.Unmarshal(carried, &e.DecisionsCarried); err != nil {
		return model.LineageEdge{}, fmt.Errorf("storage: unmarshal decisions_carried: %w", err)
	}
	if err := json.Unmarshal(dropped, &e.DecisionsDropped); err != nil {
		return model.LineageEdge{}, fmt.Errorf("storage: unmarshal decisions_dropped: %w", err)
	}
	if err := json.Unmarshal(threadsCarried, &e.ThreadsCarried); err != nil {
		return model.LineageEdge{}, fmt.Errorf("storage: unmarshal threads_carried: %w", err)
	}
	if err := json.Unmarshal(threadsResolved, &e.ThreadsResolved); err != nil {
		return model.LineageEdge{}, fmt.Errorf("storage: unmarshal threads_resolved: %w", err)
	}
	return e, nil
}

// ListAll loads every lineage edge, the substrate internal/lineage builds its
// in-memory graph from on startup (lineage.Graph.Load).
func (s *LineageStore) ListAll(ctx context.Context) ([]model.LineageEdge, error) {
	rows, err := s.db.pool.Query(ctx, `SELECT `+lineageColumns+` FROM lineage_edges`)
	if err != nil {
		return nil, fmt.Errorf("storage: list lineage edges: %w", err)
	}
	defer rows.Close()

	var out []model.LineageEdge
	for rows.Next() {
		e, err := scanLineageEdge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *LineageStore) ListBySource(ctx context.Context, conversation string) ([]model.LineageEdge, error) {
	return s.listByColumn(ctx, "source_conversation", conversation)
}

func (s *LineageStore) ListByTarget(ctx context.Context, conversation string) ([]model.LineageEdge, error) {
	return s.listByColumn(ctx, "target_conversation", conversation)
}

func (s *LineageStore) listByColumn(ctx context.Context, column, conversation string) ([]model.LineageEdge, error) {
	rows, err := s.db.pool.Query(ctx, `SELECT `+lineageColumns+` FROM lineage_edges WHERE `+column+` = $1`, conversation)
	if err != nil {
		return nil, fmt.Errorf("storage: list lineage edges by %s: %w", column, err)
	}
	defer rows.Close()

	var out []model.LineageEdge
	for rows.Next() {
		e, err := scanLineageEdge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
