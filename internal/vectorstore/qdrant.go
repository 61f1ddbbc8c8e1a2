package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/ashita-ai/memoryd/internal/model"
)

// QdrantConfig holds configuration for connecting to Qdrant.
type QdrantConfig struct {
	URL    string // e.g. "https://xyz.cloud.qdrant.io:6333" or "http://localhost:6333"
	APIKey string
}

// QdrantStore implements Store backed by Qdrant, generalized from the
// teacher's single-collection QdrantIndex into one collection per record
// kind, each managed through the same client connection.
type QdrantStore struct {
	client *qdrant.Client
	logger *slog.Logger

	healthMu  sync.Mutex
	lastCheck time.Time
	lastErr   error
}

// parseQdrantURL extracts host, port, and TLS flag from a Qdrant URL,
// translating the REST port (6333) to the gRPC port (6334) the client speaks.
func parseQdrantURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("vectorstore: invalid qdrant URL: %q", rawURL)
	}

	useTLS = u.Scheme == "https"
	host = u.Hostname()

	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("vectorstore: invalid port in qdrant URL: %q", portStr)
		}
		if p == 6333 {
			port = 6334
		} else {
			port = p
		}
	} else {
		port = 6334
	}

	return host, port, useTLS, nil
}

// NewQdrantStore connects to Qdrant via gRPC.
func NewQdrantStore(cfg QdrantConfig, logger *slog.Logger) (*QdrantStore, error) {
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: connect to qdrant at %s:%d: %w", host, port, err)
	}

	return &QdrantStore{client: client, logger: logger}, nil
}

// EnsureCollection creates the collection if it doesn't already exist, with
// HNSW parameters tuned for cosine similarity, plus payload field indexes on
// the conjunctive filter keys spec.md §4.2 names.
func (q *QdrantStore) EnsureCollection(ctx context.Context, collection string, dims uint64) error {
	exists, err := q.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("vectorstore: check collection exists: %w", err)
	}
	if exists {
		q.logger.Info("vectorstore: collection already exists", "collection", collection)
		return nil
	}

	m := uint64(16)
	efConstruct := uint64(128)

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     dims,
			Distance: qdrant.Distance_Cosine,
			HnswConfig: &qdrant.HnswConfigDiff{
				M:           &m,
				EfConstruct: &efConstruct,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("vectorstore: create collection %q: %w", collection, err)
	}

	keywordType := qdrant.FieldType_FieldTypeKeyword
	for _, field := range []string{"project", "status", "category", "source_conversation"} {
		if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: collection,
			FieldName:      field,
			FieldType:      &keywordType,
		}); err != nil {
			return fmt.Errorf("vectorstore: create index on %q: %w", field, err)
		}
	}

	floatType := qdrant.FieldType_FieldTypeFloat
	if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: collection,
		FieldName:      "created_at_unix",
		FieldType:      &floatType,
	}); err != nil {
		return fmt.Errorf("vectorstore: create index on created_at_unix: %w", err)
	}

	q.logger.Info("vectorstore: created collection with payload indexes", "collection", collection, "dims", dims)
	return nil
}

// Upsert inserts or updates records in Qdrant.
func (q *QdrantStore) Upsert(ctx context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		payload := map[string]any{
			"project":             r.Project,
			"status":              r.Status,
			"category":            r.Category,
			"source_conversation": r.SourceConversation,
			"text":                r.Text,
			"created_at_unix":     float64(r.CreatedAtUnix),
		}
		for k, v := range r.Scalar {
			payload[k] = v
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(r.ID),
			Vectors: qdrant.NewVectorsDense(r.Embedding),
			Payload: qdrant.NewValueMap(payload),
		}
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("vectorstore: qdrant upsert %d points into %q: %w", len(records), collection, err)
	}
	return nil
}

// Search queries Qdrant for the k nearest records under filter.
func (q *QdrantStore) Search(ctx context.Context, collection string, query []float32, k int, filter model.QueryFilters) ([]model.ScoredItem, error) {
	must := buildConditions(filter)

	limit := uint64(k) //nolint:gosec // k is bounded by caller
	scored, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQueryDense(query),
		Filter:         &qdrant.Filter{Must: must},
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: qdrant query %q: %w", collection, err)
	}

	results := make([]model.ScoredItem, 0, len(scored))
	for _, sp := range scored {
		id := pointIDString(sp.Id)
		if id == "" {
			continue
		}
		results = append(results, model.ScoredItem{
			ID:         id,
			Similarity: float64(sp.Score),
			Metadata:   payloadToMap(sp.Payload),
		})
	}
	return results, nil
}

// Get fetches a single point's payload by id.
func (q *QdrantStore) Get(ctx context.Context, collection, id string) (model.ScoredItem, error) {
	points, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            []*qdrant.PointId{qdrant.NewID(id)},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return model.ScoredItem{}, fmt.Errorf("vectorstore: qdrant get %q from %q: %w", id, collection, err)
	}
	if len(points) == 0 {
		return model.ScoredItem{}, fmt.Errorf("vectorstore: %q not found in %q", id, collection)
	}
	return model.ScoredItem{ID: id, Metadata: payloadToMap(points[0].Payload)}, nil
}

// Delete removes a point by id.
func (q *QdrantStore) Delete(ctx context.Context, collection, id string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: []*qdrant.PointId{qdrant.NewID(id)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vectorstore: qdrant delete %q from %q: %w", id, collection, err)
	}
	return nil
}

// Healthy returns nil if Qdrant is reachable. Results are cached for 5
// seconds to avoid hammering the health endpoint on every recall.
func (q *QdrantStore) Healthy(ctx context.Context) error {
	q.healthMu.Lock()
	defer q.healthMu.Unlock()

	if time.Since(q.lastCheck) < 5*time.Second {
		return q.lastErr
	}

	_, err := q.client.HealthCheck(ctx)
	q.lastCheck = time.Now()
	if err != nil {
		q.lastErr = fmt.Errorf("vectorstore: qdrant unhealthy: %w", err)
	} else {
		q.lastErr = nil
	}
	return q.lastErr
}

// Close shuts down the Qdrant gRPC connection.
func (q *QdrantStore) Close() error {
	return q.client.Close()
}

func buildConditions(filter model.QueryFilters) []*qdrant.Condition {
	var must []*qdrant.Condition
	if filter.Project != nil {
		must = append(must, qdrant.NewMatch("project", *filter.Project))
	}
	if filter.Status != nil {
		must = append(must, qdrant.NewMatch("status", *filter.Status))
	}
	if filter.Category != nil {
		must = append(must, qdrant.NewMatch("category", *filter.Category))
	}
	if filter.SourceConversation != nil {
		must = append(must, qdrant.NewMatch("source_conversation", *filter.SourceConversation))
	}
	if filter.TimeRange != nil {
		r := &qdrant.Range{}
		if filter.TimeRange.From != nil {
			r.Gte = qdrant.PtrOf(float64(filter.TimeRange.From.Unix()))
		}
		if filter.TimeRange.To != nil {
			r.Lt = qdrant.PtrOf(float64(filter.TimeRange.To.Unix()))
		}
		must = append(must, qdrant.NewRange("created_at_unix", r))
	}
	return must
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

func payloadToMap(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		switch {
		case v.GetStringValue() != "":
			out[k] = v.GetStringValue()
		default:
			out[k] = v.GetDoubleValue()
		}
	}
	return out
}
