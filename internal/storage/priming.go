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

// PrimingStore is the Postgres-backed priming.BlockStore implementation.
type PrimingStore struct{ db *DB }

func (s *PrimingStore) Put(ctx context.Context, p model.PrimingBlock) error {
	keys, err := json.Marshal(p.TerritoryKeys)
	if err != nil {
		return fmt.Errorf("storage: marshal territory_keys: %w", err)
	}
	expeditions, err := json.Marshal(p.SourceExpeditions)
	if err != nil {
		return fmt.Errorf("storage: marshal source_expeditions: %w", err)
	}
	var emb *pgvector.Vector
	if len(p.Embedding) > 0 {
		v := pgvector.NewVector(p.Embedding)
		emb = &v
	}

	_, err = s.db.pool.Exec(ctx, `
		INSERT INTO priming_blocks (id, project, territory_name, territory_keys, confidence_floor,
			source_expeditions, compiled_text, embedding, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			territory_keys = EXCLUDED.territory_keys, confidence_floor = EXCLUDED.confidence_floor,
			source_expeditions = EXCLUDED.source_expeditions, compiled_text = EXCLUDED.compiled_text,
			embedding = EXCLUDED.embedding, updated_at = EXCLUDED.updated_at`,
		p.ID, p.Project, p.TerritoryName, keys, p.ConfidenceFloor, expeditions, p.CompiledText, emb, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: put priming block: %w", err)
	}
	return nil
}

const primingColumns = `id, project, territory_name, territory_keys, confidence_floor,
			source_expeditions, compiled_text, embedding, created_at, updated_at`

func scanPriming(row pgx.Row) (model.PrimingBlock, error) {
	var p model.PrimingBlock
	var keys, expeditions []byte
	var emb *pgvector.Vector

	err := row.Scan(&p.ID, &p.Project, &p.TerritoryName, &keys, &p.ConfidenceFloor,
		&expeditions, &p.CompiledText, &emb, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PrimingBlock{}, ErrNotFound
		}
		return model.PrimingBlock{}, fmt.Errorf("storage: scan priming block: %w", err)
	}
	p.Kind = model.KindPriming
	p.Text = p.CompiledText
	if err := json.Unmarshal(keys, &p.TerritoryKeys); err != nil {
		return model.PrimingBlock{}, fmt.Errorf("storage: unmarshal territory_keys: %w", err)
	}
	if err := json.Unmarshal(expeditions, &p.SourceExpeditions); err != nil {
		return model.PrimingBlock{}, fmt.Errorf("storage: unmarshal source_expeditions: %w", err)
	}
	if emb != nil {
		p.Embedding = emb.Slice()
	}
	return p, nil
}

func (s *PrimingStore) Get(ctx context.Context, project, id string) (model.PrimingBlock, error) {
	row := s.db.pool.QueryRow(ctx, `SELECT `+primingColumns+` FROM priming_blocks WHERE id = $1 AND project = $2`, id, project)
	return scanPriming(row)
}

func (s *PrimingStore) ListByProject(ctx context.Context, project string) ([]model.PrimingBlock, error) {
	rows, err := s.db.pool.Query(ctx, `SELECT `+primingColumns+` FROM priming_blocks WHERE project = $1`, project)
	if err != nil {
		return nil, fmt.Errorf("storage: list priming blocks: %w", err)
	}
	defer rows.Close()

	var out []model.PrimingBlock
	for rows.Next() {
		p, err := scanPriming(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FlagStore is the Postgres-backed priming.FlagRecordStore implementation.
type FlagStore struct{ db *DB }

func (s *FlagStore) Put(ctx context.Context, f model.ExpeditionFlag) error {
	var emb *pgvector.Vector
	if len(f.Embedding) > 0 {
		v := pgvector.NewVector(f.Embedding)
		emb = &v
	}

	_, err := s.db.pool.Exec(ctx, `
		INSERT INTO expedition_flags (id, project, category, description, status, embedding, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status, embedding = EXCLUDED.embedding, updated_at = EXCLUDED.updated_at`,
		f.ID, f.Project, string(f.Category), f.Description, string(f.Status), emb, f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: put flag: %w", err)
	}
	return nil
}

const flagColumns = `id, project, category, description, status, embedding, created_at, updated_at`

func scanFlag(row pgx.Row) (model.ExpeditionFlag, error) {
	var f model.ExpeditionFlag
	var category, status string
	var emb *pgvector.Vector

	err := row.Scan(&f.ID, &f.Project, &category, &f.Description, &status, &emb, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ExpeditionFlag{}, ErrNotFound
		}
		return model.ExpeditionFlag{}, fmt.Errorf("storage: scan flag: %w", err)
	}
	f.Kind = model.KindFlag
	f.Text = f.Description
	f.Category = model.FlagCategory(category)
	f.Status = model.FlagStatus(status)
	if emb != nil {
		f.Embedding = emb.Slice()
	}
	return f, nil
}

func (s *FlagStore) Get(ctx context.Context, project, id string) (model.ExpeditionFlag, error) {
	row := s.db.pool.QueryRow(ctx, `SELECT `+flagColumns+` FROM expedition_flags WHERE id = $1 AND project = $2`, id, project)
	return scanFlag(row)
}

func (s *FlagStore) ListByProjectAndStatus(ctx context.Context, project string, status model.FlagStatus) ([]model.ExpeditionFlag, error) {
	rows, err := s.db.pool.Query(ctx, `SELECT `+flagColumns+` FROM expedition_flags WHERE project = $1 AND status = $2`,
		project, string(status))
	if err != nil {
		return nil, fmt.Errorf("storage: list flags: %w", err)
	}
	defer rows.Close()

	var out []model.ExpeditionFlag
	for rows.Next() {
		f, err := scanFlag(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
