package entanglement

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/memoryd/internal/model"
	"github.com/ashita-ai/memoryd/internal/vectorstore"
)

type memorySnaps struct {
	mu    sync.Mutex
	snaps []model.ScanSnapshot
}

func (m *memorySnaps) Put(_ context.Context, s model.ScanSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, s)
	return nil
}

func seed(t *testing.T, store *vectorstore.MemoryStore, collection, id, project string, vec []float32) Item {
	t.Helper()
	require.NoError(t, store.Upsert(context.Background(), collection, []vectorstore.Record{{
		ID: id, Project: project, Category: collection, Embedding: vec,
	}}))
	return Item{ID: id, Project: project, Embedding: vec}
}

func TestScanClustersStrongCrossProjectResonance(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	snaps := &memorySnaps{}

	a := seed(t, store, vectorstore.CollectionDecisions, "d-a", "proj-1", []float32{1, 0, 0})
	b := seed(t, store, vectorstore.CollectionDecisions, "d-b", "proj-2", []float32{1, 0, 0})
	c := seed(t, store, vectorstore.CollectionDecisions, "d-c", "proj-3", []float32{0, 1, 0})

	s := New(store, snaps)
	snap, err := s.Scan(context.Background(), []Item{a, b, c})
	require.NoError(t, err)

	require.Len(t, snap.Clusters, 1)
	require.ElementsMatch(t, []string{"d-a", "d-b"}, snap.Clusters[0].Members)
	require.True(t, snap.Clusters[0].IsBridging())
	require.Len(t, snap.Bridges, 1)
	require.Contains(t, snap.LooseEnds, "d-c")
}

func TestScanIsDeterministicAcrossRuns(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	a := seed(t, store, vectorstore.CollectionDecisions, "d-a", "proj-1", []float32{1, 0, 0})
	b := seed(t, store, vectorstore.CollectionDecisions, "d-b", "proj-2", []float32{1, 0, 0})

	s1 := New(store, &memorySnaps{})
	snap1, err := s1.Scan(context.Background(), []Item{a, b})
	require.NoError(t, err)

	s2 := New(store, &memorySnaps{})
	snap2, err := s2.Scan(context.Background(), []Item{a, b})
	require.NoError(t, err)

	require.Equal(t, snap1.Clusters, snap2.Clusters)
	require.Equal(t, snap1.Bridges, snap2.Bridges)
	require.Equal(t, snap1.LooseEnds, snap2.LooseEnds)
}

func TestScanNoResonanceProducesAllLooseEnds(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	a := seed(t, store, vectorstore.CollectionDecisions, "d-a", "proj-1", []float32{1, 0, 0})
	b := seed(t, store, vectorstore.CollectionDecisions, "d-b", "proj-2", []float32{0, 0, 1})

	s := New(store, &memorySnaps{})
	snap, err := s.Scan(context.Background(), []Item{a, b})
	require.NoError(t, err)

	require.Empty(t, snap.Clusters)
	require.ElementsMatch(t, []string{"d-a", "d-b"}, snap.LooseEnds)
}
