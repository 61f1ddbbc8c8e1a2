// Package attention implements recall, the hot-path attention-weighted
// ranking engine (spec.md §4.10). It fans a query out across every
// collection concurrently, blends similarity/epistemic-tier/freshness/
// conflict-bonus/category-boost into a single attention score, and packs the
// sorted result into a token budget.
package attention

import (
	"context"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/memoryd/internal/apperr"
	"github.com/ashita-ai/memoryd/internal/embedding"
	"github.com/ashita-ai/memoryd/internal/model"
	"github.com/ashita-ai/memoryd/internal/telemetry"
	"github.com/ashita-ai/memoryd/internal/vectorstore"
)

// Weights is the configurable §4.10 blend. The zero value is invalid; use
// DefaultWeights or a config-loaded override that sums to 1.
type Weights struct {
	Similarity    float64
	EpistemicTier float64
	Freshness     float64
	ConflictBonus float64
	CategoryBoost float64
}

// DefaultWeights are the weights named directly in spec.md §4.10.
var DefaultWeights = Weights{
	Similarity: 0.45, EpistemicTier: 0.20, Freshness: 0.15, ConflictBonus: 0.10, CategoryBoost: 0.10,
}

// TokenEstimator estimates the token length of an item's surface text. The
// caller supplies the implementation (spec.md §4.10 step 5: "a pluggable
// token-length estimator").
type TokenEstimator interface {
	Estimate(text string) int
}

// WordCountEstimator is a coarse, dependency-free estimator: token count is
// approximated as ceil(len(text)/4), the common rule of thumb for English
// prose under BPE tokenizers.
type WordCountEstimator struct{}

func (WordCountEstimator) Estimate(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

// Engine runs recall.
type Engine struct {
	index     vectorstore.Store
	embedder  embedding.Provider
	weights   Weights
	estimator TokenEstimator
	kBase     int

	recallDuration    metric.Float64Histogram
	candidateDuration metric.Float64Histogram
}

// New constructs an Engine. kBase is the default per-collection candidate
// count (spec.md §4.10 step 2 names 20).
func New(index vectorstore.Store, embedder embedding.Provider, weights Weights, estimator TokenEstimator) *Engine {
	if estimator == nil {
		estimator = WordCountEstimator{}
	}
	meter := telemetry.Meter("memoryd/attention")
	recallDur, _ := meter.Float64Histogram("memoryd.recall.duration",
		metric.WithDescription("Time to run a full recall fan-out and pack (ms)"),
		metric.WithUnit("ms"),
	)
	candidateDur, _ := meter.Float64Histogram("memoryd.candidate_search.duration",
		metric.WithDescription("Time for a single collection's candidate search within recall (ms)"),
		metric.WithUnit("ms"),
	)
	return &Engine{
		index: index, embedder: embedder, weights: weights, estimator: estimator, kBase: 20,
		recallDuration: recallDur, candidateDuration: candidateDur,
	}
}

// candidateK scales k_c with the requested budget: larger budgets pull more
// candidates per collection so packing has enough material to fill them.
func (e *Engine) candidateK(budgetTokens int) int {
	k := e.kBase
	if budgetTokens > 4000 {
		k += (budgetTokens - 4000) / 1000
	}
	return k
}

// Recall runs the full §4.10 algorithm.
func (e *Engine) Recall(ctx context.Context, queryText string, budgetTokens int, filters model.QueryFilters) (model.RecallResult, error) {
	if queryText == "" {
		return model.RecallResult{}, apperr.New(apperr.InvalidArgument, "query_text is required")
	}
	if budgetTokens <= 0 {
		return model.RecallResult{}, apperr.New(apperr.InvalidArgument, "budget_tokens must be positive")
	}

	recallStart := time.Now()
	defer func() {
		e.recallDuration.Record(ctx, float64(time.Since(recallStart).Milliseconds()))
	}()

	queryVec, err := e.embedder.Embed(ctx, queryText)
	if err != nil {
		return model.RecallResult{}, apperr.Wrap(apperr.Unavailable, err, "embed recall query")
	}

	k := e.candidateK(budgetTokens)
	type collectionResult struct {
		collection string
		items      []model.ScoredItem
		err        error
	}
	results := make([]collectionResult, len(vectorstore.AllCollections))

	g, gctx := errgroup.WithContext(ctx)
	for i, collection := range vectorstore.AllCollections {
		i, collection := i, collection
		g.Go(func() error {
			searchStart := time.Now()
			items, searchErr := e.index.Search(gctx, collection, queryVec, k, filters)
			e.candidateDuration.Record(ctx, float64(time.Since(searchStart).Milliseconds()))
			results[i] = collectionResult{collection: collection, items: items, err: searchErr}
			return nil // a single collection failure degrades, it never aborts the group
		})
	}
	if err := g.Wait(); err != nil {
		return model.RecallResult{}, apperr.Wrap(apperr.Internal, err, "recall fan-out")
	}

	var degraded []string
	var ranked []model.RankedItem
	now := time.Now()
	for _, res := range results {
		if res.err != nil {
			degraded = append(degraded, res.collection)
			continue
		}
		for _, item := range res.items {
			ranked = append(ranked, e.score(item, res.collection, now))
		}
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Attention != ranked[j].Attention {
			return ranked[i].Attention > ranked[j].Attention
		}
		if ranked[i].CategoryBoost != ranked[j].CategoryBoost {
			return ranked[i].CategoryBoost > ranked[j].CategoryBoost
		}
		return ranked[i].ID < ranked[j].ID
	})

	packed := pack(ranked, budgetTokens, e.estimator)
	sort.Strings(degraded)
	return model.RecallResult{Items: packed, Degraded: degraded}, nil
}

func (e *Engine) score(item model.ScoredItem, collection string, now time.Time) model.RankedItem {
	kind := collectionKind(collection)
	similarity := (item.Similarity + 1) / 2 // map cosine [-1,1] to [0,1]

	epistemicTier := floatMeta(item.Metadata, "epistemic_tier")
	conflictBonus := 0.0
	if floatMeta(item.Metadata, "conflict_count") > 0 {
		conflictBonus = 1.0
	}
	createdAtUnix := floatMeta(item.Metadata, "created_at_unix")
	freshness := freshnessOf(createdAtUnix, now)
	categoryBoost := kind.CategoryBoost()

	attention := e.weights.Similarity*similarity +
		e.weights.EpistemicTier*epistemicTier +
		e.weights.Freshness*freshness +
		e.weights.ConflictBonus*conflictBonus +
		e.weights.CategoryBoost*categoryBoost

	text, _ := item.Metadata["text"].(string)
	estimated := e.estimator.Estimate(text)

	return model.RankedItem{
		Header: model.Header{
			ID: item.ID, Kind: kind, Text: text,
		},
		Attention:       attention,
		Similarity:      similarity,
		EpistemicTier:   epistemicTier,
		Freshness:       freshness,
		ConflictBonus:   conflictBonus,
		CategoryBoost:   categoryBoost,
		EstimatedTokens: estimated,
	}
}

func floatMeta(meta map[string]any, key string) float64 {
	v, ok := meta[key].(float64)
	if !ok {
		return 0
	}
	return v
}

// freshnessOf implements exp(-ln(2)*age_days/30), clamped to [0,1].
func freshnessOf(createdAtUnix float64, now time.Time) float64 {
	if createdAtUnix <= 0 {
		return 0
	}
	ageDays := now.Sub(time.Unix(int64(createdAtUnix), 0)).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	f := math.Exp(-math.Ln2 * ageDays / 30)
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func collectionKind(collection string) model.Kind {
	switch collection {
	case vectorstore.CollectionDecisions:
		return model.KindDecision
	case vectorstore.CollectionThreads:
		return model.KindThread
	case vectorstore.CollectionPriming:
		return model.KindPriming
	case vectorstore.CollectionPatterns:
		return model.KindPattern
	case vectorstore.CollectionFlags:
		return model.KindFlag
	default:
		return model.KindMessage
	}
}

// pack walks the sorted list adding items until the accumulated token count
// would exceed budget. An item that alone exceeds the remaining budget is
// skipped, not truncated, and the walk continues (spec.md §4.10 step 5).
func pack(ranked []model.RankedItem, budgetTokens int, estimator TokenEstimator) []model.RankedItem {
	var out []model.RankedItem
	spent := 0
	for _, item := range ranked {
		if spent+item.EstimatedTokens > budgetTokens {
			continue
		}
		out = append(out, item)
		spent += item.EstimatedTokens
	}
	return out
}
