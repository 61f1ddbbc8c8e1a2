// Package threads implements the thread registry: CRUD plus the
// open/blocked/resolved state machine and compression-hop staleness
// (spec.md §4.4).
package threads

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashita-ai/memoryd/internal/apperr"
	"github.com/ashita-ai/memoryd/internal/embedding"
	"github.com/ashita-ai/memoryd/internal/eventlog"
	"github.com/ashita-ai/memoryd/internal/identity"
	"github.com/ashita-ai/memoryd/internal/model"
	"github.com/ashita-ai/memoryd/internal/vectorstore"
)

// Store is the persistence contract the registry writes threads through.
type Store interface {
	Put(ctx context.Context, t model.Thread) error
	Get(ctx context.Context, project, id string) (model.Thread, error)
	GetByLocalID(ctx context.Context, project, localID string) (model.Thread, bool, error)
	ListActiveBySourceConversation(ctx context.Context, sourceConversation string) ([]model.Thread, error)
}

// Registry is the thread registry. Mirrors the decision registry's
// concurrency model (spec.md §5): a mutex-protected local-id index plus a
// write-through path to the vector store.
type Registry struct {
	store    Store
	index    vectorstore.Store
	embedder embedding.Provider
	events   *eventlog.Log
	logger   *slog.Logger

	mu       sync.Mutex
	localIDs map[string]map[string]string // project -> local_id -> record id
}

// New constructs a Registry.
func New(store Store, index vectorstore.Store, embedder embedding.Provider, events *eventlog.Log, logger *slog.Logger) *Registry {
	return &Registry{
		store:    store,
		index:    index,
		embedder: embedder,
		events:   events,
		logger:   logger,
		localIDs: make(map[string]map[string]string),
	}
}

// OpenInput is the payload for Open.
type OpenInput struct {
	Project            string
	LocalID            string
	Title              string
	Description        string
	Priority           model.ThreadPriority
	SourceConversation string
}

// Open registers a new thread in the open state.
func (r *Registry) Open(ctx context.Context, in OpenInput) (model.Thread, error) {
	if in.Project == "" || in.LocalID == "" || in.Title == "" {
		return model.Thread{}, apperr.New(apperr.InvalidArgument, "project, local_id, and title are required")
	}
	switch in.Priority {
	case model.PriorityHigh, model.PriorityMedium, model.PriorityLow:
	default:
		return model.Thread{}, apperr.New(apperr.InvalidArgument, "priority must be high, medium, or low")
	}

	r.mu.Lock()
	if r.localIDs[in.Project] == nil {
		r.localIDs[in.Project] = make(map[string]string)
	}
	if _, exists := r.localIDs[in.Project][in.LocalID]; exists {
		r.mu.Unlock()
		return model.Thread{}, apperr.New(apperr.Conflict, "local_id %q already registered in project %q", in.LocalID, in.Project)
	}
	r.mu.Unlock()

	text := in.Title
	if in.Description != "" {
		text = in.Title + ": " + in.Description
	}
	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return model.Thread{}, apperr.Wrap(apperr.Unavailable, err, "embed thread text")
	}

	id := identity.ContentID("thread", in.Project, in.LocalID, in.Title)
	now := time.Now()
	thread := model.Thread{
		Header: model.Header{
			ID: id, Kind: model.KindThread, Project: in.Project, Text: text,
			Embedding: vec, SourceConversation: in.SourceConversation,
			CreatedAt: now, UpdatedAt: now,
		},
		LocalID:     in.LocalID,
		Title:       in.Title,
		Description: in.Description,
		Status:      model.ThreadOpen,
		Priority:    in.Priority,
	}

	if err := r.store.Put(ctx, thread); err != nil {
		return model.Thread{}, apperr.Wrap(apperr.Internal, err, "persist thread")
	}
	if err := r.writeThrough(ctx, thread); err != nil {
		r.logger.Warn("threads: vector index write-through failed", "id", id, "error", err)
	}

	r.mu.Lock()
	r.localIDs[in.Project][in.LocalID] = id
	r.mu.Unlock()

	r.events.Append(ctx, model.EventWrite, "threads.open", []string{id})
	return thread, nil
}

// Resolve transitions a thread to resolved. Invariant: resolution must be
// non-empty (spec.md §3, §8).
func (r *Registry) Resolve(ctx context.Context, project, id, resolution string) (model.Thread, error) {
	if resolution == "" {
		return model.Thread{}, apperr.New(apperr.InvalidArgument, "resolution is required to resolve a thread")
	}
	t, err := r.store.Get(ctx, project, id)
	if err != nil {
		return model.Thread{}, apperr.Wrap(apperr.NotFound, err, "thread %q", id)
	}
	if t.Status == model.ThreadResolved {
		return model.Thread{}, apperr.New(apperr.InvalidArgument, "thread %q is already resolved; open a new thread to revisit", id)
	}
	t.Status = model.ThreadResolved
	t.Resolution = resolution
	t.UpdatedAt = time.Now()

	if err := r.store.Put(ctx, t); err != nil {
		return model.Thread{}, apperr.Wrap(apperr.Internal, err, "persist resolved thread")
	}
	if err := r.writeThrough(ctx, t); err != nil {
		r.logger.Warn("threads: vector index write-through failed", "id", id, "error", err)
	}
	r.events.Append(ctx, model.EventWrite, "threads.resolve", []string{id})
	return t, nil
}

// Block transitions an open thread to blocked, recording the blockers.
func (r *Registry) Block(ctx context.Context, project, id string, blockers []string) (model.Thread, error) {
	t, err := r.store.Get(ctx, project, id)
	if err != nil {
		return model.Thread{}, apperr.Wrap(apperr.NotFound, err, "thread %q", id)
	}
	if t.Status == model.ThreadResolved {
		return model.Thread{}, apperr.New(apperr.InvalidArgument, "thread %q is resolved (terminal); cannot block", id)
	}
	t.Status = model.ThreadBlocked
	t.BlockedBy = blockers
	t.UpdatedAt = time.Now()

	if err := r.store.Put(ctx, t); err != nil {
		return model.Thread{}, apperr.Wrap(apperr.Internal, err, "persist blocked thread")
	}
	if err := r.writeThrough(ctx, t); err != nil {
		r.logger.Warn("threads: vector index write-through failed", "id", id, "error", err)
	}
	r.events.Append(ctx, model.EventWrite, "threads.block", []string{id})
	return t, nil
}

// Reopen transitions a blocked thread back to open.
func (r *Registry) Reopen(ctx context.Context, project, id string) (model.Thread, error) {
	t, err := r.store.Get(ctx, project, id)
	if err != nil {
		return model.Thread{}, apperr.Wrap(apperr.NotFound, err, "thread %q", id)
	}
	if t.Status != model.ThreadBlocked {
		return model.Thread{}, apperr.New(apperr.InvalidArgument, "thread %q is not blocked", id)
	}
	t.Status = model.ThreadOpen
	t.BlockedBy = nil
	t.UpdatedAt = time.Now()

	if err := r.store.Put(ctx, t); err != nil {
		return model.Thread{}, apperr.Wrap(apperr.Internal, err, "persist reopened thread")
	}
	if err := r.writeThrough(ctx, t); err != nil {
		r.logger.Warn("threads: vector index write-through failed", "id", id, "error", err)
	}
	r.events.Append(ctx, model.EventWrite, "threads.reopen", []string{id})
	return t, nil
}

// BumpHopsOnCompression mirrors decisions.Registry.BumpHopsOnCompression
// (spec.md §4.4): every thread active in sourceConversation gets
// hops_since_validated incremented, or reset to 0 if it appears in
// revalidated; either way its source_conversation advances to
// targetConversation so the next edge in the chain still finds it.
func (r *Registry) BumpHopsOnCompression(ctx context.Context, sourceConversation, targetConversation string, revalidated []string) error {
	revalidatedSet := make(map[string]struct{}, len(revalidated))
	for _, id := range revalidated {
		revalidatedSet[id] = struct{}{}
	}

	active, err := r.store.ListActiveBySourceConversation(ctx, sourceConversation)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "list active threads for %q", sourceConversation)
	}
	for _, t := range active {
		if _, ok := revalidatedSet[t.ID]; ok {
			t.HopsSinceValidated = 0
		} else {
			t.HopsSinceValidated++
		}
		t.SourceConversation = targetConversation
		t.UpdatedAt = time.Now()
		if err := r.store.Put(ctx, t); err != nil {
			return apperr.Wrap(apperr.Internal, err, "persist hop bump for %q", t.ID)
		}
	}
	return nil
}

func (r *Registry) writeThrough(ctx context.Context, t model.Thread) error {
	return r.index.Upsert(ctx, vectorstore.CollectionThreads, []vectorstore.Record{{
		ID: t.ID, Project: t.Project, Status: string(t.Status), Category: "thread",
		SourceConversation: t.SourceConversation, Text: t.Text,
		CreatedAtUnix: t.CreatedAt.Unix(), Embedding: t.Embedding,
		Scalar: map[string]float64{"hops_since_validated": float64(t.HopsSinceValidated)},
	}})
}
