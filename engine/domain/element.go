package domain

import (
	"fmt"
	"math"

	"github.com/google/uuid"
)

// ElementKind enumerates the normalized element vocabulary elements are
// mapped into regardless of source format.
type ElementKind string

const (
	KindTitle     ElementKind = "title"
	KindParagraph ElementKind = "paragraph"
	KindTable     ElementKind = "table"
	KindImage     ElementKind = "image"
	KindCode      ElementKind = "code"
	KindFormula   ElementKind = "formula"
	KindListItem  ElementKind = "list_item"
	KindHeading   ElementKind = "heading"
	KindCaption   ElementKind = "caption"
	KindFigure    ElementKind = "figure"
)

// HeadingLevel returns the heading rank for hierarchical relationship
// detection (h1 < h2 < ...), or 0 if kind is not a heading/title.
func (k ElementKind) HeadingLevel(attrs map[string]any) int {
	if k != KindHeading && k != KindTitle {
		return 0
	}
	if lvl, ok := attrs["level"]; ok {
		switch v := lvl.(type) {
		case int:
			return v
		case float64:
			return int(v)
		}
	}
	if k == KindTitle {
		return 1
	}
	return 2
}

// BoundingBox locates an Element on a page in document units.
type BoundingBox struct {
	Page int
	X, Y float64
	W, H float64
}

// Validate enforces spec.md §3's invariant: bbox.page >= 1.
func (b BoundingBox) Validate() error {
	if b.Page < 1 {
		return fmt.Errorf("%w: bbox.page must be >= 1, got %d", ErrValidationFailed, b.Page)
	}
	return nil
}

// Diagonal returns the page-unit diagonal length used to normalize spatial
// proximity in the relationship engine.
func (b BoundingBox) Diagonal() float64 {
	return math.Hypot(b.W, b.H)
}

// Provenance identifies the processor (and version) that produced an
// Element, required for cache-correctness and idempotent re-runs.
type Provenance struct {
	ProcessorName    string
	ProcessorVersion string
}

// Element is an atomic unit of a parsed document. Elements are immutable
// once written; updates produce a new Version under the same ID.
type Element struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	ParentID   *uuid.UUID
	Kind       ElementKind
	Position   int
	BBox       BoundingBox
	Text       *string
	BinaryRef  *string
	Attributes map[string]any
	Provenance Provenance
	Version    int
	ContentHash string // sha-256 over (kind, text, binary ref, attrs) — used for idempotence comparison
}

// Validate enforces the Element invariants from spec.md §3.
func (e Element) Validate() error {
	if e.DocumentID == uuid.Nil {
		return fmt.Errorf("%w: element missing document_id", ErrValidationFailed)
	}
	if err := e.BBox.Validate(); err != nil {
		return err
	}
	if e.Text == nil && e.BinaryRef == nil {
		return fmt.Errorf("%w: element has neither text nor binary payload", ErrValidationFailed)
	}
	return nil
}

// NextVersion returns a copy of e bumped to the next version, as required by
// "updates produce new versions keyed by (id, version)".
func (e Element) NextVersion() Element {
	next := e
	next.Version++
	return next
}
