package lineage

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/memoryd/internal/apperr"
	"github.com/ashita-ai/memoryd/internal/model"
)

type memoryStore struct {
	mu    sync.Mutex
	edges []model.LineageEdge
}

func (m *memoryStore) Put(_ context.Context, e model.LineageEdge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edges = append(m.edges, e)
	return nil
}

func (m *memoryStore) ListAll(_ context.Context) ([]model.LineageEdge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.LineageEdge(nil), m.edges...), nil
}

// alwaysExists treats every conversation id as pre-existing, since these
// tests exercise graph invariants, not conversation bookkeeping.
type alwaysExists struct{}

func (alwaysExists) ConversationExists(context.Context, string) (bool, error) { return true, nil }

type noopHopCounter struct{ calls int }

func (c *noopHopCounter) BumpHopsOnCompression(context.Context, string, string, []string) error {
	c.calls++
	return nil
}

func newTestGraph() (*Graph, *noopHopCounter, *noopHopCounter) {
	decisions, threads := &noopHopCounter{}, &noopHopCounter{}
	return New(&memoryStore{}, alwaysExists{}, decisions, threads), decisions, threads
}

func TestAddEdgeRejectsSelfLoop(t *testing.T) {
	g, _, _ := newTestGraph()
	_, err := g.AddEdge(context.Background(), AddEdgeInput{SourceConversation: "c1", TargetConversation: "c1"})
	require.Equal(t, apperr.InvalidArgument, apperr.KindOf(err))
}

func TestAddEdgeRejectsCycle(t *testing.T) {
	g, _, _ := newTestGraph()
	ctx := context.Background()

	_, err := g.AddEdge(ctx, AddEdgeInput{SourceConversation: "c1", TargetConversation: "c2"})
	require.NoError(t, err)
	_, err = g.AddEdge(ctx, AddEdgeInput{SourceConversation: "c2", TargetConversation: "c3"})
	require.NoError(t, err)

	_, err = g.AddEdge(ctx, AddEdgeInput{SourceConversation: "c3", TargetConversation: "c1"})
	require.Equal(t, apperr.Conflict, apperr.KindOf(err))
}

func TestAddEdgeBumpsHopCountersForBothRegistries(t *testing.T) {
	g, decisions, threads := newTestGraph()
	_, err := g.AddEdge(context.Background(), AddEdgeInput{
		SourceConversation: "c1", TargetConversation: "c2",
		DecisionsCarried: []string{"d1"}, ThreadsCarried: []string{"t1"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, decisions.calls)
	require.Equal(t, 1, threads.calls)
}

func TestTraceReturnsAncestorsAndDescendants(t *testing.T) {
	g, _, _ := newTestGraph()
	ctx := context.Background()
	_, err := g.AddEdge(ctx, AddEdgeInput{SourceConversation: "c1", TargetConversation: "c2"})
	require.NoError(t, err)
	_, err = g.AddEdge(ctx, AddEdgeInput{SourceConversation: "c2", TargetConversation: "c3"})
	require.NoError(t, err)

	trace := g.Trace("c2", 0)
	require.Len(t, trace.Ancestors, 1)
	require.Equal(t, "c1", trace.Ancestors[0].SourceConversation)
	require.Len(t, trace.Descendants, 1)
	require.Equal(t, "c3", trace.Descendants[0].TargetConversation)
}

func TestAddEdgeDerivesCrossProject(t *testing.T) {
	g, _, _ := newTestGraph()
	edge, err := g.AddEdge(context.Background(), AddEdgeInput{
		SourceConversation: "c1", TargetConversation: "c2",
		SourceProject: "proj-a", TargetProject: "proj-b",
	})
	require.NoError(t, err)
	require.True(t, edge.CrossProject)
}
