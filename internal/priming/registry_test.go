package priming

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/memoryd/internal/embedding"
	"github.com/ashita-ai/memoryd/internal/eventlog"
	"github.com/ashita-ai/memoryd/internal/model"
	"github.com/ashita-ai/memoryd/internal/vectorstore"
)

type memoryBlockStore struct {
	mu   sync.Mutex
	byID map[string]model.PrimingBlock
}

func newMemoryBlockStore() *memoryBlockStore {
	return &memoryBlockStore{byID: make(map[string]model.PrimingBlock)}
}

func (m *memoryBlockStore) Put(_ context.Context, p model.PrimingBlock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[p.ID] = p
	return nil
}

func (m *memoryBlockStore) Get(_ context.Context, project, id string) (model.PrimingBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok || p.Project != project {
		return model.PrimingBlock{}, errNotFound
	}
	return p, nil
}

func (m *memoryBlockStore) ListByProject(_ context.Context, project string) ([]model.PrimingBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.PrimingBlock
	for _, p := range m.byID {
		if p.Project == project {
			out = append(out, p)
		}
	}
	return out, nil
}

type memoryFlagStore struct {
	mu   sync.Mutex
	byID map[string]model.ExpeditionFlag
}

func newMemoryFlagStore() *memoryFlagStore {
	return &memoryFlagStore{byID: make(map[string]model.ExpeditionFlag)}
}

func (m *memoryFlagStore) Put(_ context.Context, f model.ExpeditionFlag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[f.ID] = f
	return nil
}

func (m *memoryFlagStore) Get(_ context.Context, project, id string) (model.ExpeditionFlag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.byID[id]
	if !ok || f.Project != project {
		return model.ExpeditionFlag{}, errNotFound
	}
	return f, nil
}

func (m *memoryFlagStore) ListByProjectAndStatus(_ context.Context, project string, status model.FlagStatus) ([]model.ExpeditionFlag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ExpeditionFlag
	for _, f := range m.byID {
		if f.Project == project && f.Status == status {
			out = append(out, f)
		}
	}
	return out, nil
}

type notFoundErr struct{}

func (notFoundErr) Error() string { return "not found" }

var errNotFound = notFoundErr{}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// stubEmbedder returns a deterministic non-zero vector so registry tests
// don't depend on a real embedding provider.
type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 8)
	for i, r := range text {
		v[i%8] += float32(r % 7)
	}
	return embedding.Normalize(v), nil
}

func (stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := stubEmbedder{}.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (stubEmbedder) Dimensions() int { return 8 }

func newTestRegistry() (*Registry, *memoryBlockStore, *memoryFlagStore) {
	blocks := newMemoryBlockStore()
	flags := newMemoryFlagStore()
	index := vectorstore.NewMemoryStore()
	reg := New(blocks, flags, index, stubEmbedder{}, eventlog.New(eventlog.NewMemoryStore(), testLogger()), testLogger())
	return reg, blocks, flags
}

func TestCompilePrimingRequiresFields(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()

	_, err := reg.CompilePriming(ctx, CompileInput{Project: "p1", TerritoryName: "", CompiledText: "x"})
	require.Error(t, err)

	_, err = reg.CompilePriming(ctx, CompileInput{Project: "p1", TerritoryName: "inversion-basics", CompiledText: ""})
	require.Error(t, err)
}

func TestCompilePrimingInsertsAndLists(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()

	block, err := reg.CompilePriming(ctx, CompileInput{
		Project:           "p1",
		TerritoryName:     "inversion-basics",
		TerritoryKeys:     []string{"inversion", "fsd"},
		ConfidenceFloor:   0.6,
		SourceExpeditions: []string{"E1", "E2"},
		CompiledText:      "Territory primer text",
	})
	require.NoError(t, err)
	require.NotEmpty(t, block.ID)

	listed, err := reg.ListPriming(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, block.ID, listed[0].ID)
}

func TestRaiseFlagRejectsUnknownCategory(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()

	_, err := reg.RaiseFlag(ctx, "p1", "something odd", model.FlagCategory("bogus"))
	require.Error(t, err)
}

func TestFlagLifecyclePendingToCompiledAndDiscarded(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()

	f1, err := reg.RaiseFlag(ctx, "p1", "saw an inversion pattern", model.FlagInversion)
	require.NoError(t, err)
	require.Equal(t, model.FlagPending, f1.Status)

	f2, err := reg.RaiseFlag(ctx, "p1", "saw a trap", model.FlagTrap)
	require.NoError(t, err)

	pending, err := reg.PendingFlags(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, pending, 2)

	compiled, err := reg.CompileFlag(ctx, "p1", f1.ID)
	require.NoError(t, err)
	require.Equal(t, model.FlagCompiled, compiled.Status)

	discarded, err := reg.DiscardFlag(ctx, "p1", f2.ID)
	require.NoError(t, err)
	require.Equal(t, model.FlagDiscarded, discarded.Status)

	pending, err = reg.PendingFlags(ctx, "p1")
	require.NoError(t, err)
	require.Empty(t, pending)
}
