package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/ashita-ai/memoryd/internal/model"
)

// MemoryStore is an in-memory Store used by unit tests and by callers that
// run without a configured vector database. It implements the same cosine
// ranking contract as QdrantStore so registry/attention tests exercise real
// search behavior without a network dependency.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Record
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string]Record)}
}

func (m *MemoryStore) EnsureCollection(_ context.Context, collection string, _ uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.collections[collection] == nil {
		m.collections[collection] = make(map[string]Record)
	}
	return nil
}

func (m *MemoryStore) Upsert(_ context.Context, collection string, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.collections[collection] == nil {
		m.collections[collection] = make(map[string]Record)
	}
	for _, r := range records {
		m.collections[collection][r.ID] = r
	}
	return nil
}

func (m *MemoryStore) Search(_ context.Context, collection string, query []float32, k int, filter model.QueryFilters) ([]model.ScoredItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.ScoredItem
	for _, r := range m.collections[collection] {
		if !matches(r, filter) {
			continue
		}
		out = append(out, model.ScoredItem{
			ID:         r.ID,
			Similarity: cosine(query, r.Embedding),
			Metadata:   recordMetadata(r),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].ID < out[j].ID
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (m *MemoryStore) Get(_ context.Context, collection, id string) (model.ScoredItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.collections[collection][id]
	if !ok {
		return model.ScoredItem{}, errNotFound(collection, id)
	}
	return model.ScoredItem{ID: id, Metadata: recordMetadata(r)}, nil
}

func (m *MemoryStore) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections[collection], id)
	return nil
}

func (m *MemoryStore) Healthy(_ context.Context) error { return nil }

func matches(r Record, filter model.QueryFilters) bool {
	if filter.Project != nil && r.Project != *filter.Project {
		return false
	}
	if filter.Status != nil && r.Status != *filter.Status {
		return false
	}
	if filter.Category != nil && r.Category != *filter.Category {
		return false
	}
	if filter.SourceConversation != nil && r.SourceConversation != *filter.SourceConversation {
		return false
	}
	if tr := filter.TimeRange; tr != nil {
		if tr.From != nil && r.CreatedAtUnix < tr.From.Unix() {
			return false
		}
		if tr.To != nil && r.CreatedAtUnix >= tr.To.Unix() {
			return false
		}
	}
	return true
}

func recordMetadata(r Record) map[string]any {
	out := map[string]any{
		"project":             r.Project,
		"status":              r.Status,
		"category":            r.Category,
		"source_conversation": r.SourceConversation,
		"text":                r.Text,
		"created_at_unix":     float64(r.CreatedAtUnix),
	}
	for k, v := range r.Scalar {
		out[k] = v
	}
	return out
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

type notFoundError struct{ msg string }

func (e *notFoundError) Error() string { return e.msg }

func errNotFound(collection, id string) error {
	return &notFoundError{msg: "vectorstore: " + id + " not found in " + collection}
}
