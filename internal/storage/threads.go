package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/memoryd/internal/model"
)

// ThreadStore is the Postgres-backed threads.Store implementation.
type ThreadStore struct{ db *DB }

func (s *ThreadStore) Put(ctx context.Context, t model.Thread) error {
	blockers, err := json.Marshal(t.BlockedBy)
	if err != nil {
		return fmt.Errorf("storage: marshal blocked_by: %w", err)
	}
	var emb *pgvector.Vector
	if len(t.Embedding) > 0 {
		v := pgvector.NewVector(t.Embedding)
		emb = &v
	}

	err = s.db.withRetry(ctx, func() error {
		_, err := s.db.pool.Exec(ctx, `
			INSERT INTO threads (id, project, local_id, title, description, status, priority,
				blocked_by, resolution, hops_since_validated, source_conversation, embedding, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
			ON CONFLICT (id) DO UPDATE SET
				title = EXCLUDED.title, description = EXCLUDED.description,
				status = EXCLUDED.status, priority = EXCLUDED.priority,
				blocked_by = EXCLUDED.blocked_by, resolution = EXCLUDED.resolution,
				hops_since_validated = EXCLUDED.hops_since_validated,
				source_conversation = EXCLUDED.source_conversation,
				embedding = EXCLUDED.embedding, updated_at = EXCLUDED.updated_at`,
			t.ID, t.Project, t.LocalID, t.Title, t.Description, string(t.Status), string(t.Priority),
			blockers, t.Resolution, t.HopsSinceValidated, t.SourceConversation, emb, t.CreatedAt, t.UpdatedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: put thread: %w", err)
	}
	return nil
}

const threadColumns = `id, project, local_id, title, description, status, priority,
			blocked_by, resolution, hops_since_validated, source_conversation, embedding, created_at, updated_at`

func scanThread(row pgx.Row) (model.Thread, error) {
	var t model.Thread
	var blockers []byte
	var status, priority string
	var emb *pgvector.Vector

	err := row.Scan(&t.ID, &t.Project, &t.LocalID, &t.Title, &t.Description, &status, &priority,
		&blockers, &t.Resolution, &t.HopsSinceValidated, &t.SourceConversation, &emb, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Thread{}, ErrNotFound
		}
		return model.Thread{}, fmt.Errorf("storage: scan thread: %w", err)
	}
	t.Kind = model.KindThread
	t.Status = model.ThreadStatus(status)
	t.Priority = model.ThreadPriority(priority)
	if err := json.Unmarshal(blockers, &t.BlockedBy); err != nil {
		return model.Thread{}, fmt.Errorf("storage: unmarshal blocked_by: %w", err)
	}
	if emb != nil {
		t.Embedding = emb.Slice()
	}
	return t, nil
}

func (s *ThreadStore) Get(ctx context.Context, project, id string) (model.Thread, error) {
	row := s.db.pool.QueryRow(ctx, `SELECT `+threadColumns+` FROM threads WHERE id = $1 AND project = $2`, id, project)
	return scanThread(row)
}

func (s *ThreadStore) GetByLocalID(ctx context.Context, project, localID string) (model.Thread, bool, error) {
	row := s.db.pool.QueryRow(ctx, `SELECT `+threadColumns+` FROM threads WHERE project = $1 AND local_id = $2`, project, localID)
	t, err := scanThread(row)
	if errors.Is(err, ErrNotFound) {
		return model.Thread{}, false, nil
	}
	if err != nil {
		return model.Thread{}, false, err
	}
	return t, true, nil
}

// ListActiveBySourceConversation lists every non-resolved thread whose
// source_conversation is currently sourceConversation.
func (s *ThreadStore) ListActiveBySourceConversation(ctx context.Context, sourceConversation string) ([]model.Thread, error) {
	rows, err := s.db.pool.Query(ctx, `SELECT `+threadColumns+` FROM threads WHERE source_conversation = $1 AND status != $2`,
		sourceConversation, string(model.ThreadResolved))
	if err != nil {
		return nil, fmt.Errorf("storage: list active threads: %w", err)
	}
	defer rows.Close()

	var out []model.Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
