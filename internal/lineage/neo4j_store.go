package lineage

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/ashita-ai/memoryd/internal/model"
)

// Neo4jStore is a Store backed by a graph database: each conversation is a
// node, and a lineage edge is a COMPRESSED_INTO relationship carrying the
// carried/dropped/resolved annotations as properties. Generalized from a
// generic label-keyed node repository to this package's edge-centric shape,
// since a lineage edge is itself the thing being persisted, not a node.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
}

// NewNeo4jStore constructs a Neo4jStore over an existing driver.
func NewNeo4jStore(driver neo4j.DriverWithContext) *Neo4jStore {
	return &Neo4jStore{driver: driver}
}

func (s *Neo4jStore) session(ctx context.Context) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{})
}

// Put merges the conversation nodes and creates the relationship. MERGE on
// both the nodes and the edge id keeps this idempotent under retry.
func (s *Neo4jStore) Put(ctx context.Context, e model.LineageEdge) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MERGE (src:Conversation {id: $source})
			MERGE (dst:Conversation {id: $target})
			MERGE (src)-[edge:COMPRESSED_INTO {id: $id}]->(dst)
			SET edge.compression_tag = $tag,
			    edge.decisions_carried = $decisionsCarried,
			    edge.decisions_dropped = $decisionsDropped,
			    edge.threads_carried = $threadsCarried,
			    edge.threads_resolved = $threadsResolved,
			    edge.cross_project = $crossProject,
			    edge.created_at = $createdAt`,
			map[string]any{
				"id":                e.ID,
				"source":            e.SourceConversation,
				"target":            e.TargetConversation,
				"tag":               string(e.CompressionTag),
				"decisionsCarried":  e.DecisionsCarried,
				"decisionsDropped":  e.DecisionsDropped,
				"threadsCarried":    e.ThreadsCarried,
				"threadsResolved":   e.ThreadsResolved,
				"crossProject":      e.CrossProject,
				"createdAt":         e.CreatedAt.Unix(),
			})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("lineage: neo4j put edge: %w", err)
	}
	return nil
}

// ListAll loads every lineage edge in the graph, the substrate Graph.Load
// rebuilds its in-memory adjacency index from.
func (s *Neo4jStore) ListAll(ctx context.Context) ([]model.LineageEdge, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	records, err := sess.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (src:Conversation)-[edge:COMPRESSED_INTO]->(dst:Conversation)
			RETURN src.id AS source, dst.id AS target, edge`, nil)
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("lineage: neo4j list edges: %w", err)
	}

	rows, ok := records.([]*neo4j.Record)
	if !ok {
		return nil, fmt.Errorf("lineage: neo4j list edges: unexpected result type")
	}

	out := make([]model.LineageEdge, 0, len(rows))
	for _, rec := range rows {
		e, err := edgeFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func edgeFromRecord(rec *neo4j.Record) (model.LineageEdge, error) {
	source, _ := rec.Get("source")
	target, _ := rec.Get("target")
	edgeVal, ok := rec.Get("edge")
	if !ok {
		return model.LineageEdge{}, fmt.Errorf("lineage: neo4j record missing edge")
	}
	rel, ok := edgeVal.(neo4j.Relationship)
	if !ok {
		return model.LineageEdge{}, fmt.Errorf("lineage: neo4j edge property has unexpected type")
	}

	e := model.LineageEdge{
		SourceConversation: fmt.Sprint(source),
		TargetConversation: fmt.Sprint(target),
	}
	if id, ok := rel.Props["id"].(string); ok {
		e.ID = id
	}
	if tag, ok := rel.Props["compression_tag"].(string); ok {
		e.CompressionTag = model.CompressionTag(tag)
	}
	e.DecisionsCarried = stringSlice(rel.Props["decisions_carried"])
	e.DecisionsDropped = stringSlice(rel.Props["decisions_dropped"])
	e.ThreadsCarried = stringSlice(rel.Props["threads_carried"])
	e.ThreadsResolved = stringSlice(rel.Props["threads_resolved"])
	if cp, ok := rel.Props["cross_project"].(bool); ok {
		e.CrossProject = cp
	}
	if createdAt, ok := rel.Props["created_at"].(int64); ok {
		e.CreatedAt = time.Unix(createdAt, 0)
	}
	return e, nil
}

func stringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
