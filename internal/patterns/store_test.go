package patterns

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/memoryd/internal/eventlog"
	"github.com/ashita-ai/memoryd/internal/model"
	"github.com/ashita-ai/memoryd/internal/vectorstore"
)

type memoryStore struct {
	mu   sync.Mutex
	byID map[string]model.Pattern
}

func newMemoryStore() *memoryStore { return &memoryStore{byID: make(map[string]model.Pattern)} }

func (m *memoryStore) Put(_ context.Context, p model.Pattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[p.ID] = p
	return nil
}

func (m *memoryStore) Get(_ context.Context, _, id string) (model.Pattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return model.Pattern{}, errNotFound
	}
	return p, nil
}

type notFoundErr struct{}

func (notFoundErr) Error() string { return "not found" }

var errNotFound = notFoundErr{}

// identityEmbedder produces a near-identical vector for near-identical text
// so repeated registration of the same pattern text reliably clears the
// merge threshold, without depending on a real embedding provider.
type identityEmbedder struct{}

func (identityEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 16)
	for i, r := range text {
		v[i%16] += float32(r)
	}
	return normalize(v), nil
}

func (e identityEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (identityEmbedder) Dimensions() int { return 16 }

func normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / sumSq)
	}
	return out
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestStore() *PatternStore {
	return New(newMemoryStore(), vectorstore.NewMemoryStore(), identityEmbedder{}, eventlog.New(eventlog.NewMemoryStore(), testLogger()), testLogger())
}

func TestRegisterInsertsNewPattern(t *testing.T) {
	ps := newTestStore()
	res, err := ps.Register(context.Background(), "p1", "Prefer composition over inheritance", 0.6)
	require.NoError(t, err)
	require.False(t, res.Merged)
	require.Equal(t, 0, res.Pattern.MergeCount)
}

func TestRegisterMergesNearDuplicate(t *testing.T) {
	ps := newTestStore()
	ctx := context.Background()

	first, err := ps.Register(ctx, "p1", "Prefer composition over inheritance", 0.5)
	require.NoError(t, err)
	require.False(t, first.Merged)

	second, err := ps.Register(ctx, "p1", "Prefer composition over inheritance", 0.9)
	require.NoError(t, err)
	require.True(t, second.Merged)
	require.Equal(t, 1, second.Pattern.MergeCount)
	require.Contains(t, second.Pattern.Variants, "Prefer composition over inheritance")
}

func TestPatternMergeConvergesTowardOne(t *testing.T) {
	ps := newTestStore()
	ctx := context.Background()

	last, err := ps.Register(ctx, "p1", "Ship small PRs", 0.6)
	require.NoError(t, err)

	prevConfidence := last.Pattern.Confidence
	for i := 0; i < 20; i++ {
		res, err := ps.Register(ctx, "p1", "Ship small PRs", 0.95)
		require.NoError(t, err)
		require.True(t, res.Merged)
		require.GreaterOrEqual(t, res.Pattern.Confidence, prevConfidence)
		require.Equal(t, i+1, res.Pattern.MergeCount)
		prevConfidence = res.Pattern.Confidence
		last = res
	}
	require.InDelta(t, 1.0, last.Pattern.Confidence, 0.05)
}
