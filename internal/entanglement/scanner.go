// Package entanglement implements the offline cross-project resonance
// scanner (spec.md §4.8): for every decision and thread, find cross-project
// neighbors, classify resonance tier, cluster the strong-edge graph into
// connected components, flag bridges and loose ends, and emit an
// append-only scan snapshot.
package entanglement

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/memoryd/internal/apperr"
	"github.com/ashita-ai/memoryd/internal/identity"
	"github.com/ashita-ai/memoryd/internal/model"
	"github.com/ashita-ai/memoryd/internal/telemetry"
	"github.com/ashita-ai/memoryd/internal/vectorstore"
)

// neighborK is the per-item cross-project neighbor fan-out (spec.md §4.8
// step 1).
const neighborK = 20

// scannedCollections are the two collections the scan runs over.
var scannedCollections = []string{vectorstore.CollectionDecisions, vectorstore.CollectionThreads}

// SnapshotStore is the persistence contract for scan output.
type SnapshotStore interface {
	Put(ctx context.Context, snap model.ScanSnapshot) error
}

// Item is a single decision or thread the scanner considers.
type Item struct {
	ID        string
	Project   string
	Embedding []float32
}

// Scanner runs the periodic scan.
type Scanner struct {
	index vectorstore.Store
	snaps SnapshotStore

	scanDuration metric.Float64Histogram
}

// New constructs a Scanner.
func New(index vectorstore.Store, snaps SnapshotStore) *Scanner {
	meter := telemetry.Meter("memoryd/entanglement")
	scanDur, _ := meter.Float64Histogram("memoryd.scan.duration",
		metric.WithDescription("Time to run one full entanglement scan pass (ms)"),
		metric.WithUnit("ms"),
	)
	return &Scanner{index: index, snaps: snaps, scanDuration: scanDur}
}

// Scan runs one full pass over items, producing and persisting a snapshot.
func (s *Scanner) Scan(ctx context.Context, items []Item) (model.ScanSnapshot, error) {
	scanStart := time.Now()
	defer func() {
		s.scanDuration.Record(ctx, float64(time.Since(scanStart).Milliseconds()))
	}()

	byID := make(map[string]Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	resonances, err := s.findResonances(ctx, items)
	if err != nil {
		return model.ScanSnapshot{}, err
	}

	clusters, clusterOf := buildClusters(items, resonances)
	bridges := findBridges(resonances, clusterOf, byID)
	looseEnds := findLooseEnds(items, resonances)

	snap := model.ScanSnapshot{
		ID:         identity.NewRandomID(),
		ScannedAt:  time.Now(),
		Clusters:   clusters,
		Bridges:    bridges,
		LooseEnds:  looseEnds,
		Resonances: resonances,
	}
	if err := s.snaps.Put(ctx, snap); err != nil {
		return model.ScanSnapshot{}, apperr.Wrap(apperr.Internal, err, "persist scan snapshot")
	}
	return snap, nil
}

// findResonances searches every item's own collection filtered to a
// different project, for both decisions and threads, fanned out
// concurrently per item.
func (s *Scanner) findResonances(ctx context.Context, items []Item) ([]model.Resonance, error) {
	type result struct {
		from       Item
		collection string
		neighbors  []model.ScoredItem
		err        error
	}
	results := make([]result, 0, len(items)*len(scannedCollections))
	idx := 0
	positions := make(map[int]struct {
		from       Item
		collection string
	})
	for _, it := range items {
		for _, collection := range scannedCollections {
			results = append(results, result{from: it, collection: collection})
			positions[idx] = struct {
				from       Item
				collection string
			}{it, collection}
			idx++
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range results {
		i := i
		pos := positions[i]
		g.Go(func() error {
			notSelf := pos.from.Project
			filter := model.QueryFilters{}
			neighbors, err := s.index.Search(gctx, pos.collection, pos.from.Embedding, neighborK, filter)
			if err != nil {
				results[i].err = err
				return nil
			}
			filtered := neighbors[:0:0]
			for _, n := range neighbors {
				project, _ := n.Metadata["project"].(string)
				if project == notSelf || n.ID == pos.from.ID {
					continue
				}
				filtered = append(filtered, n)
			}
			results[i].neighbors = filtered
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "entanglement scan fan-out")
	}

	seen := make(map[[2]string]bool)
	var out []model.Resonance
	for _, r := range results {
		if r.err != nil {
			continue
		}
		for _, n := range r.neighbors {
			tier := model.ResonanceTierOf(n.Similarity)
			if tier == "" {
				continue
			}
			key := edgeKey(r.from.ID, n.ID)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, model.Resonance{
				FromID: r.from.ID, ToID: n.ID, Similarity: n.Similarity, Tier: tier,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FromID != out[j].FromID {
			return out[i].FromID < out[j].FromID
		}
		return out[i].ToID < out[j].ToID
	})
	return out, nil
}

// edgeKey returns a deterministic undirected key for a pair of ids.
func edgeKey(a, b string) [2]string {
	if a < b {
		return [2]string{a, b}
	}
	return [2]string{b, a}
}

// buildClusters runs connected-component clustering over the undirected
// strong-edge graph. Cluster ids are assigned in order of the smallest
// member id (spec.md §4.8 determinism clause).
func buildClusters(items []Item, resonances []model.Resonance) ([]model.Cluster, map[string]string) {
	projectOf := make(map[string]string, len(items))
	for _, it := range items {
		projectOf[it.ID] = it.Project
	}

	adjacency := make(map[string]map[string]bool)
	ensure := func(id string) {
		if adjacency[id] == nil {
			adjacency[id] = make(map[string]bool)
		}
	}
	for _, r := range resonances {
		if r.Tier != model.ResonanceStrong {
			continue
		}
		ensure(r.FromID)
		ensure(r.ToID)
		adjacency[r.FromID][r.ToID] = true
		adjacency[r.ToID][r.FromID] = true
	}

	var nodeIDs []string
	for id := range adjacency {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)

	visited := make(map[string]bool)
	var clusters []model.Cluster
	clusterOf := make(map[string]string)

	for _, start := range nodeIDs {
		if visited[start] {
			continue
		}
		var members []string
		queue := []string{start}
		visited[start] = true
		for len(queue) > 0 {
			node := queue[0]
			queue = queue[1:]
			members = append(members, node)
			var neighbors []string
			for n := range adjacency[node] {
				neighbors = append(neighbors, n)
			}
			sort.Strings(neighbors)
			for _, n := range neighbors {
				if !visited[n] {
					visited[n] = true
					queue = append(queue, n)
				}
			}
		}
		if len(members) < 2 {
			continue // a lone node with no strong edges isn't a cluster
		}
		sort.Strings(members)

		projectSet := make(map[string]bool)
		for _, m := range members {
			projectSet[projectOf[m]] = true
		}
		var projects []string
		for p := range projectSet {
			projects = append(projects, p)
		}
		sort.Strings(projects)

		cluster := model.Cluster{ID: members[0], Members: members, Projects: projects}
		clusters = append(clusters, cluster)
		for _, m := range members {
			clusterOf[m] = cluster.ID
		}
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].ID < clusters[j].ID })
	return clusters, clusterOf
}

// findBridges returns the strong edges whose endpoints span different
// projects, restricted to bridging clusters (spanning >= 2 projects).
func findBridges(resonances []model.Resonance, clusterOf map[string]string, byID map[string]Item) []model.Bridge {
	var bridges []model.Bridge
	for _, r := range resonances {
		if r.Tier != model.ResonanceStrong {
			continue
		}
		from, to := byID[r.FromID], byID[r.ToID]
		if from.Project == "" || to.Project == "" || from.Project == to.Project {
			continue
		}
		clusterID, ok := clusterOf[r.FromID]
		if !ok {
			continue
		}
		bridges = append(bridges, model.Bridge{ClusterID: clusterID, FromID: r.FromID, ToID: r.ToID})
	}
	sort.Slice(bridges, func(i, j int) bool {
		if bridges[i].FromID != bridges[j].FromID {
			return bridges[i].FromID < bridges[j].FromID
		}
		return bridges[i].ToID < bridges[j].ToID
	})
	return bridges
}

// findLooseEnds returns items with no resonance edge at all, in any tier.
func findLooseEnds(items []Item, resonances []model.Resonance) []string {
	hasResonance := make(map[string]bool)
	for _, r := range resonances {
		hasResonance[r.FromID] = true
		hasResonance[r.ToID] = true
	}
	var out []string
	for _, it := range items {
		if !hasResonance[it.ID] {
			out = append(out, it.ID)
		}
	}
	sort.Strings(out)
	return out
}
