// Package decisions implements the decision registry: CRUD plus two-signal
// conflict detection and staleness tagging (spec.md §4.3).
package decisions

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashita-ai/memoryd/internal/apperr"
	"github.com/ashita-ai/memoryd/internal/conflicts"
	"github.com/ashita-ai/memoryd/internal/embedding"
	"github.com/ashita-ai/memoryd/internal/eventlog"
	"github.com/ashita-ai/memoryd/internal/identity"
	"github.com/ashita-ai/memoryd/internal/model"
	"github.com/ashita-ai/memoryd/internal/vectorstore"
)

// neighborK is the candidate-finder fan-out width for conflict checking
// (spec.md §4.3 step 2).
const neighborK = 8

// Store is the persistence contract the registry writes decisions through,
// separate from the vector index (which holds only the derived search copy).
type Store interface {
	Put(ctx context.Context, d model.Decision) error
	Get(ctx context.Context, project, id string) (model.Decision, error)
	GetByLocalID(ctx context.Context, project, localID string) (model.Decision, bool, error)
	ListActiveBySourceConversation(ctx context.Context, sourceConversation string) ([]model.Decision, error)
}

// Registry is the decision registry. It owns a mutex-protected local-id
// uniqueness index in addition to its write-through path to the vector
// store, matching the concurrency model of spec.md §5.
type Registry struct {
	store     Store
	index     vectorstore.Store
	embedder  embedding.Provider
	events    *eventlog.Log
	logger    *slog.Logger
	detector  conflicts.Classifier

	mu        sync.Mutex // local-id uniqueness per project
	localIDs  map[string]map[string]string // project -> local_id -> record id
}

// New constructs a Registry. detector may be nil, in which case the
// canonical pure two-signal detector (conflicts.Evaluate) is used directly
// rather than through the Classifier indirection.
func New(store Store, index vectorstore.Store, embedder embedding.Provider, events *eventlog.Log, logger *slog.Logger, detector conflicts.Classifier) *Registry {
	return &Registry{
		store:    store,
		index:    index,
		embedder: embedder,
		events:   events,
		logger:   logger,
		detector: detector,
		localIDs: make(map[string]map[string]string),
	}
}

// RegisterInput is the payload for Register.
type RegisterInput struct {
	Project              string
	LocalID              string
	Text                 string
	Rationale            string
	AlternativesRejected []string
	EpistemicTier        float64
	SourceConversation   string
}

// Register runs the §4.3 algorithm: embed, find active neighbors within
// project and cross-project, run the conflict detector against each, insert
// with only confirmed conflicts recorded, then append to the event log.
func (r *Registry) Register(ctx context.Context, in RegisterInput) (model.Decision, error) {
	if in.Project == "" || in.LocalID == "" || in.Text == "" {
		return model.Decision{}, apperr.New(apperr.InvalidArgument, "project, local_id, and text are required")
	}
	if in.EpistemicTier < 0 || in.EpistemicTier > 1 {
		return model.Decision{}, apperr.New(apperr.InvalidArgument, "epistemic_tier must be in [0,1]")
	}

	r.mu.Lock()
	if r.localIDs[in.Project] == nil {
		r.localIDs[in.Project] = make(map[string]string)
	}
	if _, exists := r.localIDs[in.Project][in.LocalID]; exists {
		r.mu.Unlock()
		return model.Decision{}, apperr.New(apperr.Conflict, "local_id %q already registered in project %q", in.LocalID, in.Project)
	}
	r.mu.Unlock()

	vec, err := r.embedder.Embed(ctx, in.Text)
	if err != nil {
		return model.Decision{}, apperr.Wrap(apperr.Unavailable, err, "embed decision text")
	}

	id := identity.ContentID("decision", in.Project, in.LocalID, in.Text)
	now := time.Now()

	conflictsWith, err := r.findConflicts(ctx, id, in.Project, in.Text, vec)
	if err != nil {
		return model.Decision{}, err
	}

	decision := model.Decision{
		Header: model.Header{
			ID: id, Kind: model.KindDecision, Project: in.Project, Text: in.Text,
			Embedding: vec, SourceConversation: in.SourceConversation,
			CreatedAt: now, UpdatedAt: now,
		},
		LocalID:              in.LocalID,
		Rationale:            in.Rationale,
		AlternativesRejected: in.AlternativesRejected,
		EpistemicTier:        in.EpistemicTier,
		Status:               model.DecisionActive,
		ConflictsWith:        conflictsWith,
	}

	if err := r.store.Put(ctx, decision); err != nil {
		return model.Decision{}, apperr.Wrap(apperr.Internal, err, "persist decision")
	}

	// Conflict symmetry (spec.md §8): every neighbor we just confirmed must
	// also carry this decision's id in its own conflicts_with.
	for _, neighborID := range conflictsWith {
		if err := r.addSymmetricConflict(ctx, in.Project, neighborID, id); err != nil {
			r.logger.Warn("decisions: failed to record symmetric conflict", "neighbor", neighborID, "error", err)
		}
	}

	if err := r.writeThrough(ctx, decision); err != nil {
		r.logger.Warn("decisions: vector index write-through failed", "id", id, "error", err)
	}

	r.mu.Lock()
	r.localIDs[in.Project][in.LocalID] = id
	r.mu.Unlock()

	r.events.Append(ctx, model.EventWrite, "decisions.register", []string{id})
	return decision, nil
}

// findConflicts runs §4.3 steps 2-3: neighbor search within project and
// across projects, then the two-signal check on each sufficiently close
// neighbor. A decision's own revision chain (reached via supersede) is
// excluded by construction since a brand-new decision has none yet.
func (r *Registry) findConflicts(ctx context.Context, selfID, project, text string, vec []float32) ([]string, error) {
	active := string(model.DecisionActive)
	sameProject := project

	candidates, err := r.index.Search(ctx, vectorstore.CollectionDecisions, vec, neighborK, model.QueryFilters{
		Status: &active, Project: &sameProject,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, err, "search decision neighbors (same project)")
	}
	crossProject, err := r.index.Search(ctx, vectorstore.CollectionDecisions, vec, neighborK, model.QueryFilters{
		Status: &active,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, err, "search decision neighbors (cross project)")
	}

	seen := map[string]struct{}{selfID: {}}
	var confirmed []string
	for _, c := range append(candidates, crossProject...) {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		if c.Similarity < conflicts.SemanticProximityThreshold {
			continue
		}
		neighborText, _ := c.Metadata["text"].(string)
		if neighborText == "" {
			continue
		}
		var isConflict bool
		if r.detector != nil {
			isConflict, err = r.detector.Classify(ctx, text, neighborText)
			if err != nil {
				return nil, apperr.Wrap(apperr.Unavailable, err, "classify decision neighbor %q", c.ID)
			}
		} else {
			isConflict = conflicts.Evaluate(c.Similarity, text, neighborText).Conflict
		}
		if isConflict {
			confirmed = append(confirmed, c.ID)
		}
	}
	return confirmed, nil
}

func (r *Registry) addSymmetricConflict(ctx context.Context, project, id, conflictID string) error {
	d, err := r.store.Get(ctx, project, id)
	if err != nil {
		return err
	}
	for _, existing := range d.ConflictsWith {
		if existing == conflictID {
			return nil
		}
	}
	d.ConflictsWith = append(d.ConflictsWith, conflictID)
	d.UpdatedAt = time.Now()
	return r.store.Put(ctx, d)
}

// Supersede marks oldID superseded by newID: status flips, both ids gain a
// symmetric conflicts_with entry, and newID's staleness clock resets.
func (r *Registry) Supersede(ctx context.Context, project, oldID, newID string) error {
	old, err := r.store.Get(ctx, project, oldID)
	if err != nil {
		return apperr.Wrap(apperr.NotFound, err, "old decision %q", oldID)
	}
	newer, err := r.store.Get(ctx, project, newID)
	if err != nil {
		return apperr.Wrap(apperr.NotFound, err, "new decision %q", newID)
	}

	old.Status = model.DecisionSuperseded
	old.ConflictsWith = addUnique(old.ConflictsWith, newID)
	old.UpdatedAt = time.Now()

	newer.ConflictsWith = addUnique(newer.ConflictsWith, oldID)
	newer.HopsSinceValidated = 0
	newer.UpdatedAt = time.Now()

	if err := r.store.Put(ctx, old); err != nil {
		return apperr.Wrap(apperr.Internal, err, "persist superseded decision")
	}
	if err := r.store.Put(ctx, newer); err != nil {
		return apperr.Wrap(apperr.Internal, err, "persist superseding decision")
	}
	r.events.Append(ctx, model.EventWrite, "decisions.supersede", []string{oldID, newID})
	return nil
}

// Validate resets hops_since_validated and records the hop it was validated
// at (the caller supplies the current lineage hop count).
func (r *Registry) Validate(ctx context.Context, project, id string, currentHop int) error {
	d, err := r.store.Get(ctx, project, id)
	if err != nil {
		return apperr.Wrap(apperr.NotFound, err, "decision %q", id)
	}
	d.HopsSinceValidated = 0
	d.LastValidatedAtHop = currentHop
	d.UpdatedAt = time.Now()
	if err := r.store.Put(ctx, d); err != nil {
		return apperr.Wrap(apperr.Internal, err, "persist validated decision")
	}
	r.events.Append(ctx, model.EventWrite, "decisions.validate", []string{id})
	return nil
}

// BumpHopsOnCompression increments hops_since_validated by one for every
// active decision in sourceConversation, unless its id appears in
// revalidated (the lineage edge's explicit revalidation marker), in which
// case the hop count resets to 0 instead. Compression carries a decision
// forward whether or not it was explicitly revalidated — source_conversation
// is advanced to targetConversation either way, so the next add_edge along
// the chain finds it again and the hop count accumulates across the whole
// lineage descent rather than resetting to a single nominal source (spec.md
// §8 scenario 5).
func (r *Registry) BumpHopsOnCompression(ctx context.Context, sourceConversation, targetConversation string, revalidated []string) error {
	revalidatedSet := make(map[string]struct{}, len(revalidated))
	for _, id := range revalidated {
		revalidatedSet[id] = struct{}{}
	}

	active, err := r.store.ListActiveBySourceConversation(ctx, sourceConversation)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "list active decisions for %q", sourceConversation)
	}
	for _, d := range active {
		if _, ok := revalidatedSet[d.ID]; ok {
			d.HopsSinceValidated = 0
		} else {
			d.HopsSinceValidated++
		}
		d.SourceConversation = targetConversation
		d.UpdatedAt = time.Now()
		if err := r.store.Put(ctx, d); err != nil {
			return apperr.Wrap(apperr.Internal, err, "persist hop bump for %q", d.ID)
		}
	}
	return nil
}

func (r *Registry) writeThrough(ctx context.Context, d model.Decision) error {
	return r.index.Upsert(ctx, vectorstore.CollectionDecisions, []vectorstore.Record{{
		ID:                 d.ID,
		Project:            d.Project,
		Status:             string(d.Status),
		Category:           "decision",
		SourceConversation: d.SourceConversation,
		Text:               d.Text,
		CreatedAtUnix:      d.CreatedAt.Unix(),
		Embedding:          d.Embedding,
		Scalar: map[string]float64{
			"epistemic_tier":       d.EpistemicTier,
			"hops_since_validated": float64(d.HopsSinceValidated),
			"conflict_count":       float64(len(d.ConflictsWith)),
		},
	}})
}

func addUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

