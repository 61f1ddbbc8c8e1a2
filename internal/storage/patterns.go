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

// PatternStore is the Postgres-backed patterns.Store implementation.
type PatternStore struct{ db *DB }

func (s *PatternStore) Put(ctx context.Context, p model.Pattern) error {
	variants, err := json.Marshal(p.Variants)
	if err != nil {
		return fmt.Errorf("storage: marshal variants: %w", err)
	}
	var emb *pgvector.Vector
	if len(p.Embedding) > 0 {
		v := pgvector.NewVector(p.Embedding)
		emb = &v
	}

	_, err = s.db.pool.Exec(ctx, `
		INSERT INTO patterns (id, project, text, confidence, merge_count, variants, last_merged_at, embedding, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			text = EXCLUDED.text, confidence = EXCLUDED.confidence, merge_count = EXCLUDED.merge_count,
			variants = EXCLUDED.variants, last_merged_at = EXCLUDED.last_merged_at,
			embedding = EXCLUDED.embedding, updated_at = EXCLUDED.updated_at`,
		p.ID, p.Project, p.Text, p.Confidence, p.MergeCount, variants, p.LastMergedAt, emb, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: put pattern: %w", err)
	}
	return nil
}

func (s *PatternStore) Get(ctx context.Context, project, id string) (model.Pattern, error) {
	var p model.Pattern
	var variants []byte
	var emb *pgvector.Vector

	err := s.db.pool.QueryRow(ctx,
		`SELECT id, project, text, confidence, merge_count, variants, last_merged_at, embedding, created_at, updated_at
		 FROM patterns WHERE id = $1 AND project = $2`, id, project,
	).Scan(&p.ID, &p.Project, &p.Text, &p.Confidence, &p.MergeCount, &variants, &p.LastMergedAt, &emb, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Pattern{}, ErrNotFound
		}
		return model.Pattern{}, fmt.Errorf("storage: get pattern: %w", err)
	}
	p.Kind = model.KindPattern
	if err := json.Unmarshal(variants, &p.Variants); err != nil {
		return model.Pattern{}, fmt.Errorf("storage: unmarshal variants: %w", err)
	}
	if emb != nil {
		p.Embedding = emb.Slice()
	}
	return p, nil
}
