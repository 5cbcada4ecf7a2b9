package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// RelationshipKind classifies a Relationship edge.
type RelationshipKind string

const (
	RelSpatial      RelationshipKind = "spatial"
	RelSemantic     RelationshipKind = "semantic"
	RelHierarchical RelationshipKind = "hierarchical"
	RelReadingOrder RelationshipKind = "reading-order"
	RelReference    RelationshipKind = "reference"
)

// Relationship is a directed, typed edge between two elements.
type Relationship struct {
	ID             uuid.UUID
	SourceID       uuid.UUID
	TargetID       uuid.UUID
	Kind           RelationshipKind
	Confidence     float64
	Attributes     map[string]any
}

// Key identifies the (src, tgt, kind) triple that spec.md §3 says must be
// unique: "at most one relationship per (src, tgt, kind); duplicates coalesce
// to maximum-confidence".
type RelationshipKey struct {
	SourceID uuid.UUID
	TargetID uuid.UUID
	Kind     RelationshipKind
}

func (r Relationship) Key() RelationshipKey {
	return RelationshipKey{SourceID: r.SourceID, TargetID: r.TargetID, Kind: r.Kind}
}

// Validate enforces the Relationship invariants from spec.md §3.
func (r Relationship) Validate() error {
	if r.SourceID == uuid.Nil || r.TargetID == uuid.Nil {
		return fmt.Errorf("%w: relationship missing endpoint", ErrValidationFailed)
	}
	if r.SourceID == r.TargetID {
		return fmt.Errorf("%w: relationship cannot self-loop", ErrValidationFailed)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("%w: confidence %.3f out of [0,1]", ErrValidationFailed, r.Confidence)
	}
	return nil
}

// Coalesce merges two relationships sharing a Key, keeping the maximum
// confidence per spec.md's duplicate-coalescing rule.
func Coalesce(a, b Relationship) Relationship {
	if b.Confidence > a.Confidence {
		return b
	}
	return a
}
