// Package relate implements the Metadata & Relationship Engine: consumes a
// document's Element collection and produces per-element metadata, a
// Relationship graph, and a reading-order sequence, persisting the graph to
// Neo4j through GraphStore's own Cypher writes.
package relate

import (
	"errors"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/r3e-labs/docbackbone/engine/domain"
)

var errNoNode = errors.New("relate: record has no node")

func elementToMap(e domain.Element) map[string]any {
	m := map[string]any{
		"id":           e.ID.String(),
		"document_id":  e.DocumentID.String(),
		"kind":         string(e.Kind),
		"position":     e.Position,
		"page":         e.BBox.Page,
		"x":            e.BBox.X,
		"y":            e.BBox.Y,
		"w":            e.BBox.W,
		"h":            e.BBox.H,
		"version":      e.Version,
		"content_hash": e.ContentHash,
	}
	if e.ParentID != nil {
		m["parent_id"] = e.ParentID.String()
	}
	if e.Text != nil {
		m["text"] = *e.Text
	}
	if e.BinaryRef != nil {
		m["binary_ref"] = *e.BinaryRef
	}
	return m
}

func elementFromRecord(rec *neo4j.Record) (domain.Element, error) {
	v, ok := rec.Get("n")
	if !ok {
		return domain.Element{}, errNoNode
	}
	node, ok := v.(neo4j.Node)
	if !ok {
		return domain.Element{}, errNoNode
	}
	return elementFromProps(node.Props)
}

func elementFromProps(props map[string]any) (domain.Element, error) {
	e := domain.Element{
		Kind: domain.ElementKind(strProp(props, "kind")),
		BBox: domain.BoundingBox{
			Page: intProp(props, "page"),
			X:    floatProp(props, "x"),
			Y:    floatProp(props, "y"),
			W:    floatProp(props, "w"),
			H:    floatProp(props, "h"),
		},
		Position:    intProp(props, "position"),
		Version:     intProp(props, "version"),
		ContentHash: strProp(props, "content_hash"),
	}
	id, err := uuid.Parse(strProp(props, "id"))
	if err != nil {
		return domain.Element{}, err
	}
	e.ID = id
	docID, err := uuid.Parse(strProp(props, "document_id"))
	if err != nil {
		return domain.Element{}, err
	}
	e.DocumentID = docID
	if raw := strProp(props, "parent_id"); raw != "" {
		if parentID, err := uuid.Parse(raw); err == nil {
			e.ParentID = &parentID
		}
	}
	if text, ok := props["text"].(string); ok {
		e.Text = &text
	}
	if ref, ok := props["binary_ref"].(string); ok {
		e.BinaryRef = &ref
	}
	return e, nil
}

// relationshipFromRecord decodes one row of ListRelationships's projection
// (source_id, target_id, kind, id, confidence columns, not a graph node).
func relationshipFromRecord(rec *neo4j.Record) (domain.Relationship, error) {
	get := func(key string) string {
		v, _ := rec.Get(key)
		s, _ := v.(string)
		return s
	}
	source, err := uuid.Parse(get("source_id"))
	if err != nil {
		return domain.Relationship{}, err
	}
	target, err := uuid.Parse(get("target_id"))
	if err != nil {
		return domain.Relationship{}, err
	}
	id, err := uuid.Parse(get("id"))
	if err != nil {
		return domain.Relationship{}, err
	}
	confidence, _ := rec.Get("confidence")
	conf, _ := confidence.(float64)
	return domain.Relationship{
		ID:         id,
		SourceID:   source,
		TargetID:   target,
		Kind:       domain.RelationshipKind(get("kind")),
		Confidence: conf,
	}, nil
}

func strProp(props map[string]any, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func intProp(props map[string]any, key string) int {
	switch v := props[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func floatProp(props map[string]any, key string) float64 {
	switch v := props[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}
