// Package vectorstore defines the cross-collection vector index the
// registries write through and the attention engine fans queries across.
//
// Operations: Upsert (idempotent on id), Search (cosine similarity in
// [-1,1], sorted descending) with conjunctive equality filters, Get, Delete.
// No cross-collection joins happen at this layer (spec.md §4.2).
package vectorstore

import (
	"context"

	"github.com/ashita-ai/memoryd/internal/model"
)

// Collection names, one per record kind that the attention engine fans a
// query across (spec.md §4.10 step 2).
const (
	CollectionDecisions = "decisions"
	CollectionThreads   = "threads"
	CollectionPriming   = "priming"
	CollectionPatterns  = "patterns"
	CollectionMessages  = "messages"
	CollectionFlags     = "flags"
)

// AllCollections is the fan-out set the attention engine searches by default.
var AllCollections = []string{
	CollectionDecisions,
	CollectionThreads,
	CollectionPriming,
	CollectionPatterns,
	CollectionMessages,
	CollectionFlags,
}

// Record is the derived copy a registry writes through to the store: text
// surface form plus embedding plus the metadata slice the store indexes.
type Record struct {
	ID                 string
	Project            string
	Status             string
	Category           string
	SourceConversation string
	Text               string // surface form, echoed back in search metadata for conflict checks
	CreatedAtUnix      int64
	Embedding          []float32
	// Scalar is additional float payload the attention engine reads back out
	// of search results without a second round trip, e.g. "epistemic_tier".
	Scalar map[string]float64
}

// Store is the vector index contract every collection is managed through.
type Store interface {
	// EnsureCollection creates the named collection if absent, sized to dims.
	EnsureCollection(ctx context.Context, collection string, dims uint64) error

	// Upsert inserts or updates records by id.
	Upsert(ctx context.Context, collection string, records []Record) error

	// Search returns the k nearest records to query under filter, cosine
	// similarity descending.
	Search(ctx context.Context, collection string, query []float32, k int, filter model.QueryFilters) ([]model.ScoredItem, error)

	// Get fetches a single record's metadata slice by id.
	Get(ctx context.Context, collection, id string) (model.ScoredItem, error)

	// Delete removes a record by id.
	Delete(ctx context.Context, collection, id string) error

	// Healthy returns nil if the store is reachable.
	Healthy(ctx context.Context) error
}
