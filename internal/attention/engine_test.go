package attention

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/memoryd/internal/model"
	"github.com/ashita-ai/memoryd/internal/vectorstore"
)

type stubEmbedder struct{ dims int }

func (s stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, s.dims)
	for i, r := range text {
		v[i%s.dims] += float32(r)
	}
	return v, nil
}

func (s stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s stubEmbedder) Dimensions() int { return s.dims }

func seedDecision(t *testing.T, store *vectorstore.MemoryStore, id, project, text string, age time.Duration) {
	t.Helper()
	e := stubEmbedder{dims: 8}
	vec, err := e.Embed(context.Background(), text)
	require.NoError(t, err)
	require.NoError(t, store.Upsert(context.Background(), vectorstore.CollectionDecisions, []vectorstore.Record{{
		ID: id, Project: project, Status: "active", Category: "decision", Text: text,
		CreatedAtUnix: time.Now().Add(-age).Unix(), Embedding: vec,
		Scalar: map[string]float64{"epistemic_tier": 0.8, "hops_since_validated": 0, "conflict_count": 0},
	}}))
}

func TestRecallRejectsEmptyQuery(t *testing.T) {
	e := New(vectorstore.NewMemoryStore(), stubEmbedder{dims: 8}, DefaultWeights, nil)
	_, err := e.Recall(context.Background(), "", 1000, model.QueryFilters{})
	require.Error(t, err)
}

func TestRecallReturnsDeterministicOrder(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	seedDecision(t, store, "d-aaa", "p1", "use postgres for storage", 0)
	seedDecision(t, store, "d-bbb", "p1", "use postgres for storage", 0)

	e := New(store, stubEmbedder{dims: 8}, DefaultWeights, nil)
	proj := "p1"
	res1, err := e.Recall(context.Background(), "use postgres for storage", 1000, model.QueryFilters{Project: &proj})
	require.NoError(t, err)
	res2, err := e.Recall(context.Background(), "use postgres for storage", 1000, model.QueryFilters{Project: &proj})
	require.NoError(t, err)

	require.Equal(t, res1, res2)
}

func TestRecallSkipsOversizedItemButFitsSmallerLater(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	big := ""
	for i := 0; i < 5000; i++ {
		big += "x"
	}
	seedDecision(t, store, "d-big", "p1", big, 0)
	seedDecision(t, store, "d-small", "p1", "ok", 0)

	e := New(store, stubEmbedder{dims: 8}, DefaultWeights, nil)
	proj := "p1"
	res, err := e.Recall(context.Background(), "ok", 50, model.QueryFilters{Project: &proj})
	require.NoError(t, err)

	var ids []string
	for _, item := range res.Items {
		ids = append(ids, item.ID)
	}
	require.NotContains(t, ids, "d-big")
	require.Contains(t, ids, "d-small")
}

func TestFreshnessOfDecaysWithAge(t *testing.T) {
	now := time.Now()
	fresh := freshnessOf(float64(now.Unix()), now)
	old := freshnessOf(float64(now.Add(-60*24*time.Hour).Unix()), now)
	require.Greater(t, fresh, old)
	require.InDelta(t, 1.0, fresh, 0.01)
	require.InDelta(t, 0.25, old, 0.02)
}
