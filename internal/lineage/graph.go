// Package lineage implements the compression-hop DAG over conversations
// (spec.md §4.5): add_edge with acyclicity enforcement, and
// ancestor/descendant/trace traversal. The graph is updated under a single
// writer lock (spec.md §5) since acyclicity is a whole-graph invariant that
// a per-edge mutex cannot protect.
package lineage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ashita-ai/memoryd/internal/apperr"
	"github.com/ashita-ai/memoryd/internal/identity"
	"github.com/ashita-ai/memoryd/internal/model"
)

// ConversationExistence lets the graph check that add_edge's endpoints exist
// without owning the decisions/threads registries itself.
type ConversationExistence interface {
	ConversationExists(ctx context.Context, conversation string) (bool, error)
}

// Store is the persistence contract the graph writes through to.
type Store interface {
	Put(ctx context.Context, e model.LineageEdge) error
	ListAll(ctx context.Context) ([]model.LineageEdge, error)
}

// HopCounter is implemented by the decisions and threads registries; add_edge
// bumps hop counts for whatever carried forward and resets them for whatever
// was revalidated, per spec.md §4.5's "hop counts in §4.3/§4.4 are updated on
// add_edge".
type HopCounter interface {
	BumpHopsOnCompression(ctx context.Context, sourceConversation, targetConversation string, revalidated []string) error
}

// Graph is the in-memory adjacency representation, kept in sync with Store
// on every add_edge and rebuildable from Store.ListAll at startup.
type Graph struct {
	mu       sync.Mutex
	store    Store
	existence ConversationExistence
	decisions HopCounter
	threads   HopCounter

	// outEdges/inEdges index edges by conversation for O(1) traversal.
	outEdges map[string][]model.LineageEdge
	inEdges  map[string][]model.LineageEdge
}

// New constructs an empty Graph. Call Load to hydrate it from Store.
func New(store Store, existence ConversationExistence, decisions, threads HopCounter) *Graph {
	return &Graph{
		store: store, existence: existence, decisions: decisions, threads: threads,
		outEdges: make(map[string][]model.LineageEdge),
		inEdges:  make(map[string][]model.LineageEdge),
	}
}

// Load hydrates the in-memory adjacency from the store, for use at startup.
func (g *Graph) Load(ctx context.Context) error {
	edges, err := g.store.ListAll(ctx)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "load lineage edges")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, e := range edges {
		g.index(e)
	}
	return nil
}

func (g *Graph) index(e model.LineageEdge) {
	g.outEdges[e.SourceConversation] = append(g.outEdges[e.SourceConversation], e)
	g.inEdges[e.TargetConversation] = append(g.inEdges[e.TargetConversation], e)
}

// AddEdgeInput is the add_edge payload.
type AddEdgeInput struct {
	SourceConversation string
	TargetConversation string
	CompressionTag     model.CompressionTag
	DecisionsCarried   []string
	DecisionsDropped   []string
	ThreadsCarried     []string
	ThreadsResolved    []string
	SourceProject      string
	TargetProject      string
}

// AddEdge validates preconditions (endpoints exist, source != target,
// acyclicity), persists the edge, indexes it, and bumps hop counts for
// whatever carried forward.
func (g *Graph) AddEdge(ctx context.Context, in AddEdgeInput) (model.LineageEdge, error) {
	if in.SourceConversation == "" || in.TargetConversation == "" {
		return model.LineageEdge{}, apperr.New(apperr.InvalidArgument, "source_conversation and target_conversation are required")
	}
	if in.SourceConversation == in.TargetConversation {
		return model.LineageEdge{}, apperr.New(apperr.InvalidArgument, "source and target conversation must differ")
	}

	if g.existence != nil {
		for _, conv := range []string{in.SourceConversation, in.TargetConversation} {
			ok, err := g.existence.ConversationExists(ctx, conv)
			if err != nil {
				return model.LineageEdge{}, apperr.Wrap(apperr.Internal, err, "check conversation %q exists", conv)
			}
			if !ok {
				return model.LineageEdge{}, apperr.New(apperr.InvalidArgument, "conversation %q does not exist", conv)
			}
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Acyclicity: the new edge source->target must not create a cycle, i.e.
	// target must not already be able to reach source.
	if g.reaches(in.TargetConversation, in.SourceConversation) {
		return model.LineageEdge{}, apperr.New(apperr.Conflict, "edge %q -> %q would create a cycle", in.SourceConversation, in.TargetConversation)
	}

	now := time.Now()
	edge := model.LineageEdge{
		ID:                 identity.ContentID("lineage", in.SourceConversation, in.TargetConversation, string(in.CompressionTag)),
		SourceConversation:  in.SourceConversation,
		TargetConversation:  in.TargetConversation,
		CompressionTag:      in.CompressionTag,
		DecisionsCarried:    in.DecisionsCarried,
		DecisionsDropped:    in.DecisionsDropped,
		ThreadsCarried:      in.ThreadsCarried,
		ThreadsResolved:     in.ThreadsResolved,
		CrossProject:        in.SourceProject != "" && in.TargetProject != "" && in.SourceProject != in.TargetProject,
		CreatedAt:           now,
	}

	if err := g.store.Put(ctx, edge); err != nil {
		return model.LineageEdge{}, apperr.Wrap(apperr.Internal, err, "persist lineage edge")
	}
	g.index(edge)

	if g.decisions != nil {
		if err := g.decisions.BumpHopsOnCompression(ctx, in.SourceConversation, in.TargetConversation, in.DecisionsCarried); err != nil {
			return model.LineageEdge{}, apperr.Wrap(apperr.Internal, err, "bump decision hops")
		}
	}
	if g.threads != nil {
		if err := g.threads.BumpHopsOnCompression(ctx, in.SourceConversation, in.TargetConversation, in.ThreadsCarried); err != nil {
			return model.LineageEdge{}, apperr.Wrap(apperr.Internal, err, "bump thread hops")
		}
	}
	return edge, nil
}

// reaches reports whether from can reach to via a DFS over outEdges. Caller
// holds g.mu.
func (g *Graph) reaches(from, to string) bool {
	if from == to {
		return true
	}
	visited := make(map[string]bool)
	var dfs func(node string) bool
	dfs = func(node string) bool {
		if visited[node] {
			return false
		}
		visited[node] = true
		for _, e := range g.outEdges[node] {
			if e.TargetConversation == to {
				return true
			}
			if dfs(e.TargetConversation) {
				return true
			}
		}
		return false
	}
	return dfs(from)
}

// Ancestors returns the edge chain toward the root in traversal order,
// bounded by limit (0 means unbounded).
func (g *Graph) Ancestors(id string, limit int) []model.LineageEdge {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.walk(id, limit, g.inEdges, func(e model.LineageEdge) string { return e.SourceConversation })
}

// Descendants returns the edge chain toward the leaves in traversal order,
// bounded by limit (0 means unbounded).
func (g *Graph) Descendants(id string, limit int) []model.LineageEdge {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.walk(id, limit, g.outEdges, func(e model.LineageEdge) string { return e.TargetConversation })
}

func (g *Graph) walk(start string, limit int, index map[string][]model.LineageEdge, next func(model.LineageEdge) string) []model.LineageEdge {
	var out []model.LineageEdge
	queue := []string{start}
	visited := map[string]bool{start: true}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		edges := append([]model.LineageEdge(nil), index[node]...)
		sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })
		for _, e := range edges {
			if limit > 0 && len(out) >= limit {
				return out
			}
			out = append(out, e)
			nextNode := next(e)
			if !visited[nextNode] {
				visited[nextNode] = true
				queue = append(queue, nextNode)
			}
		}
	}
	return out
}

// Trace returns both the ancestor and descendant neighborhood of a
// conversation in one structure.
func (g *Graph) Trace(id string, limit int) model.Trace {
	return model.Trace{
		ConversationID: id,
		Ancestors:      g.Ancestors(id, limit),
		Descendants:    g.Descendants(id, limit),
	}
}
