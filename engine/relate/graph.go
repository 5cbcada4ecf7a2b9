package relate

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/r3e-labs/docbackbone/engine/domain"
	"github.com/r3e-labs/docbackbone/pkg/repo"
)

// GraphStore provides graph operations for the Metadata & Relationship
// Engine on top of the generic Neo4j repository: Element nodes, and true
// Neo4j edges (typed by domain.RelationshipKind) between them.
type GraphStore struct {
	driver   neo4j.DriverWithContext
	elements *repo.Neo4jRepo[domain.Element, string]
}

// New creates a new GraphStore.
func New(driver neo4j.DriverWithContext) *GraphStore {
	return &GraphStore{
		driver:   driver,
		elements: NewElementRepo(driver),
	}
}

// GetElement returns an element by ID.
func (g *GraphStore) GetElement(ctx context.Context, id string) (domain.Element, error) {
	return g.elements.Get(ctx, id)
}

// SaveElement creates or updates an Element node.
func (g *GraphStore) SaveElement(ctx context.Context, e domain.Element) error {
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := `MERGE (n:Element {id: $id}) SET n += $props`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"id":    e.ID.String(),
		"props": elementToMap(e),
	})
	return err
}

// SaveRelationship merges a typed edge between two Element nodes. The
// relationship kind becomes the Cypher relationship type for native
// traversal filtering, and is additionally stored as a property since
// sanitizeRelType's identifier-safe transform isn't reversible (e.g.
// "reading-order" loses its hyphen) — ListRelationships reads the property
// back rather than trying to invert the type name.
func (g *GraphStore) SaveRelationship(ctx context.Context, r domain.Relationship) error {
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := fmt.Sprintf(
		`MATCH (a:Element {id: $from}), (b:Element {id: $to})
		 MERGE (a)-[r:%s {id: $id}]->(b)
		 SET r.confidence = $confidence, r.kind = $kind`,
		sanitizeRelType(string(r.Kind)),
	)
	_, err := sess.Run(ctx, cypher, map[string]any{
		"from":       r.SourceID.String(),
		"to":         r.TargetID.String(),
		"id":         r.ID.String(),
		"confidence": r.Confidence,
		"kind":       string(r.Kind),
	})
	return err
}

// Neighbors returns elements within the given traversal depth from a node.
func (g *GraphStore) Neighbors(ctx context.Context, elementID string, depth int) ([]domain.Element, error) {
	if depth <= 0 {
		depth = 1
	}
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := fmt.Sprintf(
		`MATCH (start:Element {id: $id})-[*1..%d]-(n:Element)
		 WHERE n.id <> $id
		 RETURN DISTINCT n`, depth)
	result, err := sess.Run(ctx, cypher, map[string]any{"id": elementID})
	if err != nil {
		return nil, err
	}
	return collectElements(ctx, result)
}

// FindByDocument returns every Element node belonging to a document.
func (g *GraphStore) FindByDocument(ctx context.Context, documentID string) ([]domain.Element, error) {
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := `MATCH (n:Element {document_id: $document_id}) RETURN n`
	result, err := sess.Run(ctx, cypher, map[string]any{"document_id": documentID})
	if err != nil {
		return nil, err
	}
	return collectElements(ctx, result)
}

// FindByKind returns every Element of a given kind within a document.
func (g *GraphStore) FindByKind(ctx context.Context, documentID string, kind domain.ElementKind) ([]domain.Element, error) {
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := `MATCH (n:Element {document_id: $document_id, kind: $kind}) RETURN n`
	result, err := sess.Run(ctx, cypher, map[string]any{"document_id": documentID, "kind": string(kind)})
	if err != nil {
		return nil, err
	}
	return collectElements(ctx, result)
}

// TracePath finds the shortest relationship path between two elements.
func (g *GraphStore) TracePath(ctx context.Context, fromID, toID string) ([]domain.Element, error) {
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := `MATCH p = shortestPath((a:Element {id: $from})-[*]-(b:Element {id: $to}))
				RETURN nodes(p) AS nodes`
	result, err := sess.Run(ctx, cypher, map[string]any{"from": fromID, "to": toID})
	if err != nil {
		return nil, err
	}
	if !result.Next(ctx) {
		return nil, fmt.Errorf("relate: no path from %s to %s", fromID, toID)
	}

	nodesVal, ok := result.Record().Get("nodes")
	if !ok {
		return nil, fmt.Errorf("relate: no nodes in path result")
	}
	nodeList, ok := nodesVal.([]any)
	if !ok {
		return nil, fmt.Errorf("relate: unexpected nodes type")
	}

	var elements []domain.Element
	for _, raw := range nodeList {
		node, ok := raw.(dbtype.Node)
		if !ok {
			continue
		}
		e, err := elementFromProps(node.Props)
		if err != nil {
			return nil, err
		}
		elements = append(elements, e)
	}
	return elements, nil
}

// ListRelationships returns every relationship touching an Element of
// documentID, optionally narrowed to one kind. Used by the metadata/
// relationship HTTP surface rather than by the detection engine itself,
// which only ever writes relationships via SaveBatch/SaveRelationship.
func (g *GraphStore) ListRelationships(ctx context.Context, documentID string, kind *domain.RelationshipKind) ([]domain.Relationship, error) {
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := `MATCH (a:Element {document_id: $document_id})-[r]->(b:Element)`
	params := map[string]any{"document_id": documentID}
	if kind != nil {
		cypher += ` WHERE r.kind = $kind`
		params["kind"] = string(*kind)
	}
	cypher += ` RETURN a.id AS source_id, b.id AS target_id, r.kind AS kind, r.id AS id, r.confidence AS confidence`

	result, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}

	var rels []domain.Relationship
	for result.Next(ctx) {
		rec := result.Record()
		r, err := relationshipFromRecord(rec)
		if err != nil {
			return nil, err
		}
		rels = append(rels, r)
	}
	return rels, nil
}

// SaveBatch persists elements and relationships in a single transaction,
// used after a detection pass produces a full graph for one document.
func (g *GraphStore) SaveBatch(ctx context.Context, elements []domain.Element, relationships []domain.Relationship) error {
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, e := range elements {
			cypher := `MERGE (n:Element {id: $id}) SET n += $props`
			if _, err := tx.Run(ctx, cypher, map[string]any{
				"id":    e.ID.String(),
				"props": elementToMap(e),
			}); err != nil {
				return nil, err
			}
		}
		for _, r := range relationships {
			cypher := fmt.Sprintf(
				`MATCH (a:Element {id: $from}), (b:Element {id: $to})
				 MERGE (a)-[r:%s {id: $id}]->(b)
				 SET r.confidence = $confidence, r.kind = $kind`,
				sanitizeRelType(string(r.Kind)),
			)
			if _, err := tx.Run(ctx, cypher, map[string]any{
				"from":       r.SourceID.String(),
				"to":         r.TargetID.String(),
				"id":         r.ID.String(),
				"confidence": r.Confidence,
				"kind":       string(r.Kind),
			}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// collectElements reads all Element nodes from a result set.
func collectElements(ctx context.Context, result neo4j.ResultWithContext) ([]domain.Element, error) {
	var items []domain.Element
	for result.Next(ctx) {
		node, _, err := neo4j.GetRecordValue[dbtype.Node](result.Record(), "n")
		if err != nil {
			return nil, err
		}
		e, err := elementFromProps(node.Props)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, nil
}

// sanitizeRelType ensures the relationship type is a valid Cypher identifier.
func sanitizeRelType(t string) string {
	safe := make([]byte, 0, len(t))
	for i := range t {
		c := t[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			safe = append(safe, c)
		}
	}
	if len(safe) == 0 {
		return "RELATED_TO"
	}
	for i := range safe {
		if safe[i] >= 'a' && safe[i] <= 'z' {
			safe[i] -= 32
		}
	}
	return string(safe)
}
