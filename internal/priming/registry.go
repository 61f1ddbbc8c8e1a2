// Package priming implements the priming-block and expedition-flag
// registries: plain insert/query CRUD keyed by project and status
// (spec.md §4.7).
package priming

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

// BlockStore is the persistence contract for priming blocks.
type BlockStore interface {
	Put(ctx context.Context, p model.PrimingBlock) error
	Get(ctx context.Context, project, id string) (model.PrimingBlock, error)
	ListByProject(ctx context.Context, project string) ([]model.PrimingBlock, error)
}

// FlagRecordStore is the persistence contract for expedition flags.
type FlagRecordStore interface {
	Put(ctx context.Context, f model.ExpeditionFlag) error
	Get(ctx context.Context, project, id string) (model.ExpeditionFlag, error)
	ListByProjectAndStatus(ctx context.Context, project string, status model.FlagStatus) ([]model.ExpeditionFlag, error)
}

// Registry manages priming blocks and expedition flags, sharing the same
// embedder/vector-store wiring as the other registries.
type Registry struct {
	blocks   BlockStore
	flags    FlagRecordStore
	index    vectorstore.Store
	embedder embedding.Provider
	events   *eventlog.Log
	logger   *slog.Logger
}

// New constructs a Registry.
func New(blocks BlockStore, flags FlagRecordStore, index vectorstore.Store, embedder embedding.Provider, events *eventlog.Log, logger *slog.Logger) *Registry {
	return &Registry{blocks: blocks, flags: flags, index: index, embedder: embedder, events: events, logger: logger}
}

// CompileInput is the payload for CompilePriming.
type CompileInput struct {
	Project           string
	TerritoryName     string
	TerritoryKeys     []string
	ConfidenceFloor   float64
	SourceExpeditions []string
	CompiledText      string
}

// CompilePriming inserts a new priming block.
func (r *Registry) CompilePriming(ctx context.Context, in CompileInput) (model.PrimingBlock, error) {
	if in.Project == "" || in.TerritoryName == "" || in.CompiledText == "" {
		return model.PrimingBlock{}, apperr.New(apperr.InvalidArgument, "project, territory_name, and compiled_text are required")
	}

	vec, err := r.embedder.Embed(ctx, in.CompiledText)
	if err != nil {
		return model.PrimingBlock{}, apperr.Wrap(apperr.Unavailable, err, "embed priming text")
	}

	now := time.Now()
	block := model.PrimingBlock{
		Header: model.Header{
			ID: identity.ContentID("priming", in.Project, in.TerritoryName, in.CompiledText),
			Kind: model.KindPriming, Project: in.Project, Text: in.CompiledText,
			Embedding: vec, CreatedAt: now, UpdatedAt: now,
		},
		TerritoryName:     in.TerritoryName,
		TerritoryKeys:     in.TerritoryKeys,
		ConfidenceFloor:   in.ConfidenceFloor,
		SourceExpeditions: in.SourceExpeditions,
		CompiledText:      in.CompiledText,
	}

	if err := r.blocks.Put(ctx, block); err != nil {
		return model.PrimingBlock{}, apperr.Wrap(apperr.Internal, err, "persist priming block")
	}
	if err := r.index.Upsert(ctx, vectorstore.CollectionPriming, []vectorstore.Record{{
		ID: block.ID, Project: block.Project, Category: "priming", Text: block.Text,
		CreatedAtUnix: now.Unix(), Embedding: vec,
	}}); err != nil {
		r.logger.Warn("priming: vector index write-through failed", "id", block.ID, "error", err)
	}
	r.events.Append(ctx, model.EventWrite, "priming.compile", []string{block.ID})
	return block, nil
}

// ListPriming returns every priming block registered for a project.
func (r *Registry) ListPriming(ctx context.Context, project string) ([]model.PrimingBlock, error) {
	return r.blocks.ListByProject(ctx, project)
}

// RaiseFlag inserts a new expedition flag in pending status.
func (r *Registry) RaiseFlag(ctx context.Context, project, description string, category model.FlagCategory) (model.ExpeditionFlag, error) {
	if project == "" || description == "" {
		return model.ExpeditionFlag{}, apperr.New(apperr.InvalidArgument, "project and description are required")
	}
	switch category {
	case model.FlagInversion, model.FlagIsomorphism, model.FlagFSD, model.FlagManifestation, model.FlagTrap, model.FlagGeneral:
	default:
		return model.ExpeditionFlag{}, apperr.New(apperr.InvalidArgument, "unknown flag category %q", category)
	}

	vec, err := r.embedder.Embed(ctx, description)
	if err != nil {
		return model.ExpeditionFlag{}, apperr.Wrap(apperr.Unavailable, err, "embed flag description")
	}

	now := time.Now()
	flag := model.ExpeditionFlag{
		Header: model.Header{
			ID: identity.ContentID("flag", project, string(category), description),
			Kind: model.KindFlag, Project: project, Text: description,
			Embedding: vec, CreatedAt: now, UpdatedAt: now,
		},
		Category: category,
		Description: description,
		Status:      model.FlagPending,
	}

	if err := r.flags.Put(ctx, flag); err != nil {
		return model.ExpeditionFlag{}, apperr.Wrap(apperr.Internal, err, "persist flag")
	}
	if err := r.index.Upsert(ctx, vectorstore.CollectionFlags, []vectorstore.Record{{
		ID: flag.ID, Project: flag.Project, Status: string(flag.Status), Category: string(flag.Category),
		Text: flag.Text, CreatedAtUnix: now.Unix(), Embedding: vec,
	}}); err != nil {
		r.logger.Warn("priming: flag vector index write-through failed", "id", flag.ID, "error", err)
	}
	r.events.Append(ctx, model.EventWrite, "priming.flag", []string{flag.ID})
	return flag, nil
}

// CompileFlag marks a pending flag compiled (it has been folded into a
// priming block).
func (r *Registry) CompileFlag(ctx context.Context, project, id string) (model.ExpeditionFlag, error) {
	return r.transitionFlag(ctx, project, id, model.FlagCompiled)
}

// DiscardFlag marks a pending flag discarded.
func (r *Registry) DiscardFlag(ctx context.Context, project, id string) (model.ExpeditionFlag, error) {
	return r.transitionFlag(ctx, project, id, model.FlagDiscarded)
}

func (r *Registry) transitionFlag(ctx context.Context, project, id string, status model.FlagStatus) (model.ExpeditionFlag, error) {
	flag, err := r.flags.Get(ctx, project, id)
	if err != nil {
		return model.ExpeditionFlag{}, apperr.Wrap(apperr.NotFound, err, "flag %q", id)
	}
	flag.Status = status
	flag.UpdatedAt = time.Now()
	if err := r.flags.Put(ctx, flag); err != nil {
		return model.ExpeditionFlag{}, apperr.Wrap(apperr.Internal, err, "persist flag transition")
	}
	r.events.Append(ctx, model.EventWrite, "priming.flag_transition", []string{id})
	return flag, nil
}

// PendingFlags lists every flag still pending in a project (used by alerts,
// spec.md §6).
func (r *Registry) PendingFlags(ctx context.Context, project string) ([]model.ExpeditionFlag, error) {
	return r.flags.ListByProjectAndStatus(ctx, project, model.FlagPending)
}
