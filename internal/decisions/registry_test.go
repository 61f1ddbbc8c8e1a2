package decisions

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

// memoryStore is a minimal in-memory decisions.Store for unit tests.
type memoryStore struct {
	mu   sync.Mutex
	byID map[string]model.Decision
}

func newMemoryStore() *memoryStore { return &memoryStore{byID: make(map[string]model.Decision)} }

func (m *memoryStore) Put(_ context.Context, d model.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[d.ID] = d
	return nil
}

func (m *memoryStore) Get(_ context.Context, project, id string) (model.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byID[id]
	if !ok || d.Project != project {
		return model.Decision{}, errNotFound
	}
	return d, nil
}

func (m *memoryStore) GetByLocalID(_ context.Context, project, localID string) (model.Decision, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.byID {
		if d.Project == project && d.LocalID == localID {
			return d, true, nil
		}
	}
	return model.Decision{}, false, nil
}

func (m *memoryStore) ListActiveBySourceConversation(_ context.Context, sourceConversation string) ([]model.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Decision
	for _, d := range m.byID {
		if d.SourceConversation == sourceConversation && d.Status == model.DecisionActive {
			out = append(out, d)
		}
	}
	return out, nil
}

type notFoundErr struct{}

func (notFoundErr) Error() string { return "not found" }

var errNotFound = notFoundErr{}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestRegistry() (*Registry, *memoryStore) {
	store := newMemoryStore()
	index := vectorstore.NewMemoryStore()
	reg := New(store, index, textEmbedder{}, eventlog.New(eventlog.NewMemoryStore(), testLogger()), testLogger(), nil)
	return reg, store
}

// textEmbedder produces vectors from token overlap so near-duplicate and
// contradictory texts score as close neighbors the way a real embedder
// would, letting conflict-detection tests exercise the candidate search.
type textEmbedder struct{}

var vocab = []string{
	"use", "jwt", "tokens", "only", "rejected", "oauth2", "with", "refresh",
	"uuid", "v7", "for", "resource", "ids", "identifiers", "should", "be",
}

func (textEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, len(vocab))
	words := map[string]struct{}{}
	for _, w := range splitWords(text) {
		words[w] = struct{}{}
	}
	for i, term := range vocab {
		if _, ok := words[term]; ok {
			v[i] = 1
		}
	}
	return embedding.Normalize(v), nil
}

func splitWords(text string) []string {
	var out []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			out = append(out, toLower(string(cur)))
			cur = nil
		}
	}
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			cur = append(cur, r)
		} else {
			flush()
		}
	}
	flush()
	return out
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func (e textEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
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

func (textEmbedder) Dimensions() int { return len(vocab) }

func TestRegisterRejectsDuplicateLocalID(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()

	in := RegisterInput{Project: "p1", LocalID: "D001", Text: "Use JWT tokens only", EpistemicTier: 0.8}
	_, err := reg.Register(ctx, in)
	require.NoError(t, err)

	_, err = reg.Register(ctx, in)
	require.Error(t, err)
}

// TestConflictDetectionIsSymmetric mirrors spec.md §8 scenario 1: a
// contradictory decision is registered after an existing one, and both ends
// must carry the other's id in conflicts_with.
func TestConflictDetectionIsSymmetric(t *testing.T) {
	reg, store := newTestRegistry()
	ctx := context.Background()

	d1, err := reg.Register(ctx, RegisterInput{
		Project: "p1", LocalID: "D001", Text: "Use JWT tokens only", EpistemicTier: 0.8,
	})
	require.NoError(t, err)
	require.Empty(t, d1.ConflictsWith)

	d2, err := reg.Register(ctx, RegisterInput{
		Project: "p1", LocalID: "D002",
		Text: "JWT tokens only rejected; use OAuth2 instead", EpistemicTier: 0.85,
	})
	require.NoError(t, err)

	require.Contains(t, d2.ConflictsWith, d1.ID, "new decision must record the conflict it detected")

	gotD1, err := store.Get(ctx, "p1", d1.ID)
	require.NoError(t, err)
	require.Contains(t, gotD1.ConflictsWith, d2.ID, "conflict symmetry: the older decision must also be updated")

	require.Equal(t, model.DecisionActive, gotD1.Status)
	require.Equal(t, model.DecisionActive, d2.Status)
}

// TestParaphraseIsNotAConflict mirrors spec.md §8 scenario 2.
func TestParaphraseIsNotAConflict(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()

	d1, err := reg.Register(ctx, RegisterInput{
		Project: "p1", LocalID: "D001", Text: "Use UUID v7 for resource IDs", EpistemicTier: 0.8,
	})
	require.NoError(t, err)

	d2, err := reg.Register(ctx, RegisterInput{
		Project: "p1", LocalID: "D002", Text: "Resource identifiers should be UUID v7", EpistemicTier: 0.8,
	})
	require.NoError(t, err)

	require.Empty(t, d1.ConflictsWith)
	require.Empty(t, d2.ConflictsWith)
}

func TestSupersedeFlipsStatusAndResetsHops(t *testing.T) {
	reg, store := newTestRegistry()
	ctx := context.Background()

	d1, err := reg.Register(ctx, RegisterInput{Project: "p1", LocalID: "D001", Text: "Use JWT tokens only", EpistemicTier: 0.8})
	require.NoError(t, err)
	d2, err := reg.Register(ctx, RegisterInput{Project: "p1", LocalID: "D002", Text: "Use OAuth2 with refresh tokens instead", EpistemicTier: 0.8})
	require.NoError(t, err)

	require.NoError(t, reg.Supersede(ctx, "p1", d1.ID, d2.ID))

	gotD1, err := store.Get(ctx, "p1", d1.ID)
	require.NoError(t, err)
	require.Equal(t, model.DecisionSuperseded, gotD1.Status)
	require.Contains(t, gotD1.ConflictsWith, d2.ID)

	gotD2, err := store.Get(ctx, "p1", d2.ID)
	require.NoError(t, err)
	require.Contains(t, gotD2.ConflictsWith, d1.ID)
	require.Equal(t, 0, gotD2.HopsSinceValidated)
}

func TestBumpHopsOnCompressionResetsRevalidated(t *testing.T) {
	reg, store := newTestRegistry()
	ctx := context.Background()

	d, err := reg.Register(ctx, RegisterInput{
		Project: "p1", LocalID: "D001", Text: "Use UUID v7 for resource IDs",
		EpistemicTier: 0.8, SourceConversation: "C1",
	})
	require.NoError(t, err)

	require.NoError(t, reg.BumpHopsOnCompression(ctx, "C1", "C2", nil))
	got, err := store.Get(ctx, "p1", d.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.HopsSinceValidated)

	require.NoError(t, reg.BumpHopsOnCompression(ctx, "C2", "C3", []string{d.ID}))
	got, err = store.Get(ctx, "p1", d.ID)
	require.NoError(t, err)
	require.Equal(t, 0, got.HopsSinceValidated, "revalidated id gets its hop count reset, not skipped")
}

// TestBumpHopsOnCompressionAccumulatesAcrossLineageChain mirrors spec.md §8
// scenario 5: a decision registered in C1 is never carried across
// add_edge(C1,C2), add_edge(C2,C3), add_edge(C3,C4). Each edge must still
// find it, because compression advances its tracked conversation forward
// even when it isn't explicitly revalidated — the hop count is counted along
// the whole lineage descent, not reset after the first edge.
func TestBumpHopsOnCompressionAccumulatesAcrossLineageChain(t *testing.T) {
	reg, store := newTestRegistry()
	ctx := context.Background()

	d, err := reg.Register(ctx, RegisterInput{
		Project: "p1", LocalID: "D001", Text: "Use UUID v7 for resource IDs",
		EpistemicTier: 0.8, SourceConversation: "C1",
	})
	require.NoError(t, err)

	require.NoError(t, reg.BumpHopsOnCompression(ctx, "C1", "C2", nil))
	require.NoError(t, reg.BumpHopsOnCompression(ctx, "C2", "C3", nil))
	require.NoError(t, reg.BumpHopsOnCompression(ctx, "C3", "C4", nil))

	got, err := store.Get(ctx, "p1", d.ID)
	require.NoError(t, err)
	require.Equal(t, 3, got.HopsSinceValidated)
	require.Equal(t, "warning", got.StalenessLevel())
}

func TestValidateResetsHops(t *testing.T) {
	reg, store := newTestRegistry()
	ctx := context.Background()

	d, err := reg.Register(ctx, RegisterInput{Project: "p1", LocalID: "D001", Text: "Use UUID v7 for resource IDs", SourceConversation: "C1"})
	require.NoError(t, err)
	require.NoError(t, reg.BumpHopsOnCompression(ctx, "C1", "C2", nil))
	require.NoError(t, reg.BumpHopsOnCompression(ctx, "C2", "C3", nil))

	require.NoError(t, reg.Validate(ctx, "p1", d.ID, 7))

	got, err := store.Get(ctx, "p1", d.ID)
	require.NoError(t, err)
	require.Equal(t, 0, got.HopsSinceValidated)
	require.Equal(t, 7, got.LastValidatedAtHop)
}

func TestRegisterValidatesEpistemicTierRange(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()

	_, err := reg.Register(ctx, RegisterInput{Project: "p1", LocalID: "D001", Text: "x", EpistemicTier: 1.5})
	require.Error(t, err)
}
