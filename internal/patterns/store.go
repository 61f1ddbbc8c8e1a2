// Package patterns implements the pattern store: insert with
// similarity-based merge and confidence accumulation (spec.md §4.6).
package patterns

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashita-ai/memoryd/internal/apperr"
	"github.com/ashita-ai/memoryd/internal/embedding"
	"github.com/ashita-ai/memoryd/internal/eventlog"
	"github.com/ashita-ai/memoryd/internal/identity"
	"github.com/ashita-ai/memoryd/internal/model"
	"github.com/ashita-ai/memoryd/internal/vectorstore"
)

// neighborK is the candidate-finder fan-out width for merge checking
// (spec.md §4.6 step 1).
const neighborK = 5

// mergeThreshold is the similarity at or above which an incoming pattern
// merges into its top neighbor instead of being inserted as new.
const mergeThreshold = 0.85

// Store is the persistence contract the pattern store writes through.
type Store interface {
	Put(ctx context.Context, p model.Pattern) error
	Get(ctx context.Context, project, id string) (model.Pattern, error)
}

// PatternStore is the pattern store (named to avoid colliding with the
// Store interface above).
type PatternStore struct {
	store    Store
	index    vectorstore.Store
	embedder embedding.Provider
	events   *eventlog.Log
	logger   *slog.Logger
}

// New constructs a PatternStore.
func New(store Store, index vectorstore.Store, embedder embedding.Provider, events *eventlog.Log, logger *slog.Logger) *PatternStore {
	return &PatternStore{store: store, index: index, embedder: embedder, events: events, logger: logger}
}

// RegisterResult reports whether the incoming pattern merged into an
// existing one or was inserted fresh.
type RegisterResult struct {
	Pattern model.Pattern
	Merged  bool
}

// Register runs the §4.6 algorithm: embed, search top-5, merge into the top
// neighbor if similarity >= 0.85, else insert as new.
func (ps *PatternStore) Register(ctx context.Context, project, text string, confidence float64) (RegisterResult, error) {
	if project == "" || text == "" {
		return RegisterResult{}, apperr.New(apperr.InvalidArgument, "project and text are required")
	}
	if confidence < 0 || confidence > 1 {
		return RegisterResult{}, apperr.New(apperr.InvalidArgument, "confidence must be in [0,1]")
	}

	vec, err := ps.embedder.Embed(ctx, text)
	if err != nil {
		return RegisterResult{}, apperr.Wrap(apperr.Unavailable, err, "embed pattern text")
	}

	sameProject := project
	candidates, err := ps.index.Search(ctx, vectorstore.CollectionPatterns, vec, neighborK, model.QueryFilters{Project: &sameProject})
	if err != nil {
		return RegisterResult{}, apperr.Wrap(apperr.Unavailable, err, "search pattern neighbors")
	}

	now := time.Now()
	if len(candidates) > 0 && candidates[0].Similarity >= mergeThreshold {
		existing, err := ps.store.Get(ctx, project, candidates[0].ID)
		if err != nil {
			return RegisterResult{}, apperr.Wrap(apperr.Internal, err, "load merge target %q", candidates[0].ID)
		}
		merged := mergeInto(existing, text, confidence, now)
		if err := ps.store.Put(ctx, merged); err != nil {
			return RegisterResult{}, apperr.Wrap(apperr.Internal, err, "persist merged pattern")
		}
		if err := ps.writeThrough(ctx, merged); err != nil {
			ps.logger.Warn("patterns: vector index write-through failed", "id", merged.ID, "error", err)
		}
		ps.events.Append(ctx, model.EventWrite, "patterns.merge", []string{merged.ID})
		return RegisterResult{Pattern: merged, Merged: true}, nil
	}

	p := model.Pattern{
		Header: model.Header{
			ID: identity.ContentID("pattern", project, text), Kind: model.KindPattern, Project: project,
			Text: text, Embedding: vec, CreatedAt: now, UpdatedAt: now,
		},
		Confidence:   confidence,
		MergeCount:   0,
		LastMergedAt: now,
	}
	if err := ps.store.Put(ctx, p); err != nil {
		return RegisterResult{}, apperr.Wrap(apperr.Internal, err, "persist pattern")
	}
	if err := ps.writeThrough(ctx, p); err != nil {
		ps.logger.Warn("patterns: vector index write-through failed", "id", p.ID, "error", err)
	}
	ps.events.Append(ctx, model.EventWrite, "patterns.register", []string{p.ID})
	return RegisterResult{Pattern: p, Merged: false}, nil
}

// mergeInto applies the §4.6 step-2 merge formula, preserving the existing
// text as a variant. Confidence convergence (spec.md §8 "pattern merge
// convergence"): repeated merges of the same incoming text monotonically
// push confidence toward 1 since the 0.05 bonus term dominates once
// existing and incoming are both already high.
func mergeInto(existing model.Pattern, incomingText string, incomingConfidence float64, now time.Time) model.Pattern {
	existing.Variants = append(existing.Variants, existing.Text)
	existing.Text = incomingText
	existing.Confidence = min(1.0, 0.7*existing.Confidence+0.3*incomingConfidence+0.05)
	existing.MergeCount++
	existing.LastMergedAt = now
	existing.UpdatedAt = now
	return existing
}

func (ps *PatternStore) writeThrough(ctx context.Context, p model.Pattern) error {
	return ps.index.Upsert(ctx, vectorstore.CollectionPatterns, []vectorstore.Record{{
		ID: p.ID, Project: p.Project, Category: "pattern", Text: p.Text,
		CreatedAtUnix: p.CreatedAt.Unix(), Embedding: p.Embedding,
		Scalar: map[string]float64{"confidence": p.Confidence, "merge_count": float64(p.MergeCount)},
	}})
}
