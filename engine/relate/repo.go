package relate

import (
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/r3e-labs/docbackbone/engine/domain"
	"github.com/r3e-labs/docbackbone/pkg/repo"
)

// NewElementRepo builds a Neo4j-backed Repository for domain.Element nodes,
// keyed by the element's string-form UUID (Neo4jRepo's generic CRUD works
// against a single id property, so the graph identity and the domain
// identity are the same string). Relationships are modeled as true Neo4j
// edges rather than repository-CRUD nodes — see GraphStore in graph.go —
// since edge traversal is exactly what a graph database is for.
func NewElementRepo(driver neo4j.DriverWithContext) *repo.Neo4jRepo[domain.Element, string] {
	return repo.NewNeo4jRepo[domain.Element, string](driver, "Element", elementToMap, elementFromRecord)
}
