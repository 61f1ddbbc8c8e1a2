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

// DecisionStore is the Postgres-backed decisions.Store implementation.
type DecisionStore struct{ db *DB }

// Put inserts or updates a decision, keyed by id (idempotent upsert,
// spec.md §8).
func (s *DecisionStore) Put(ctx context.Context, d model.Decision) error {
	alts, err := json.Marshal(d.AlternativesRejected)
	if err != nil {
		return fmt.Errorf("storage: marshal alternatives_rejected: %w", err)
	}
	conflicts, err := json.Marshal(d.ConflictsWith)
	if err != nil {
		return fmt.Errorf("storage: marshal conflicts_with: %w", err)
	}
	var emb *pgvector.Vector
	if len(d.Embedding) > 0 {
		v := pgvector.NewVector(d.Embedding)
		emb = &v
	}

	err = s.db.withRetry(ctx, func() error {
		_, err := s.db.pool.Exec(ctx, `
			INSERT INTO decisions (id, project, local_id, text, rationale, alternatives_rejected,
				epistemic_tier, status, conflicts_with, hops_since_validated, last_validated_at_hop,
				source_conversation, embedding, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
			ON CONFLICT (id) DO UPDATE SET
				text = EXCLUDED.text, rationale = EXCLUDED.rationale,
				alternatives_rejected = EXCLUDED.alternatives_rejected,
				epistemic_tier = EXCLUDED.epistemic_tier, status = EXCLUDED.status,
				conflicts_with = EXCLUDED.conflicts_with,
				hops_since_validated = EXCLUDED.hops_since_validated,
				last_validated_at_hop = EXCLUDED.last_validated_at_hop,
				source_conversation = EXCLUDED.source_conversation,
				embedding = EXCLUDED.embedding, updated_at = EXCLUDED.updated_at`,
			d.ID, d.Project, d.LocalID, d.Text, d.Rationale, alts,
			d.EpistemicTier, string(d.Status), conflicts, d.HopsSinceValidated, d.LastValidatedAtHop,
			d.SourceConversation, emb, d.CreatedAt, d.UpdatedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: put decision: %w", err)
	}
	return nil
}

func scanDecision(row pgx.Row) (model.Decision, error) {
	var d model.Decision
	var alts, conflicts []byte
	var status string
	var emb *pgvector.Vector

	err := row.Scan(&d.ID, &d.Project, &d.LocalID, &d.Text, &d.Rationale, &alts,
		&d.EpistemicTier, &status, &conflicts, &d.HopsSinceValidated, &d.LastValidatedAtHop,
		&d.SourceConversation, &emb, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Decision{}, ErrNotFound
		}
		return model.Decision{}, fmt.Errorf("storage: scan decision: %w", err)
	}

	d.Kind = model.KindDecision
	d.Status = model.DecisionStatus(status)
	if err := json.Unmarshal(alts, &d.AlternativesRejected); err != nil {
		return model.Decision{}, fmt.Errorf("storage: unmarshal alternatives_rejected: %w", err)
	}
	if err := json.Unmarshal(conflicts, &d.ConflictsWith); err != nil {
		return model.Decision{}, fmt.Errorf("storage: unmarshal conflicts_with: %w", err)
	}
	if emb != nil {
		d.Embedding = emb.Slice()
	}
	return d, nil
}

const decisionColumns = `id, project, local_id, text, rationale, alternatives_rejected,
			epistemic_tier, status, conflicts_with, hops_since_validated, last_validated_at_hop,
			source_conversation, embedding, created_at, updated_at`

// Get fetches a decision by id, scoped to project.
func (s *DecisionStore) Get(ctx context.Context, project, id string) (model.Decision, error) {
	row := s.db.pool.QueryRow(ctx, `SELECT `+decisionColumns+` FROM decisions WHERE id = $1 AND project = $2`, id, project)
	return scanDecision(row)
}

// GetByLocalID fetches a decision by its human-facing local id within project.
func (s *DecisionStore) GetByLocalID(ctx context.Context, project, localID string) (model.Decision, bool, error) {
	row := s.db.pool.QueryRow(ctx, `SELECT `+decisionColumns+` FROM decisions WHERE project = $1 AND local_id = $2`, project, localID)
	d, err := scanDecision(row)
	if errors.Is(err, ErrNotFound) {
		return model.Decision{}, false, nil
	}
	if err != nil {
		return model.Decision{}, false, err
	}
	return d, true, nil
}

// ListActiveBySourceConversation lists every active decision whose
// source_conversation is currently sourceConversation (compression advances
// it along the lineage chain), used by BumpHopsOnCompression (spec.md §4.3).
func (s *DecisionStore) ListActiveBySourceConversation(ctx context.Context, sourceConversation string) ([]model.Decision, error) {
	rows, err := s.db.pool.Query(ctx, `SELECT `+decisionColumns+` FROM decisions WHERE source_conversation = $1 AND status = $2`,
		sourceConversation, string(model.DecisionActive))
	if err != nil {
		return nil, fmt.Errorf("storage: list active decisions: %w", err)
	}
	defer rows.Close()

	var out []model.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
