package relate

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/r3e-labs/docbackbone/engine/domain"
)

func textPtr(s string) *string { return &s }

func elem(kind domain.ElementKind, page int, x, y, w, h float64, pos int, text string) domain.Element {
	return domain.Element{
		ID:         uuid.New(),
		DocumentID: uuid.New(),
		Kind:       kind,
		Position:   pos,
		BBox:       domain.BoundingBox{Page: page, X: x, Y: y, W: w, H: h},
		Text:       textPtr(text),
	}
}

func TestDetectSpatial_EmitsCloseSameDocElementsBothDirections(t *testing.T) {
	a := elem(domain.KindParagraph, 1, 0, 0, 10, 10, 0, "a")
	b := elem(domain.KindParagraph, 1, 10.5, 0, 10, 10, 1, "b")

	rels := detectSpatial([]domain.Element{a, b}, Thresholds{}.withDefaults())
	if len(rels) != 2 {
		t.Fatalf("expected 2 directed spatial edges, got %d", len(rels))
	}
	for _, r := range rels {
		if r.Kind != domain.RelSpatial {
			t.Fatalf("expected spatial kind, got %s", r.Kind)
		}
		if r.Confidence <= 0 || r.Confidence > 1 {
			t.Fatalf("confidence out of range: %v", r.Confidence)
		}
	}
}

func TestDetectSpatial_IgnoresDifferentPages(t *testing.T) {
	a := elem(domain.KindParagraph, 1, 0, 0, 10, 10, 0, "a")
	b := elem(domain.KindParagraph, 2, 0, 0, 10, 10, 0, "b")
	rels := detectSpatial([]domain.Element{a, b}, Thresholds{}.withDefaults())
	if len(rels) != 0 {
		t.Fatalf("expected no cross-page spatial edges, got %d", len(rels))
	}
}

func TestDetectHierarchical_HeadingParentsUntilEqualOrHigherLevel(t *testing.T) {
	h1 := elem(domain.KindTitle, 1, 0, 0, 10, 10, 0, "Title")
	p1 := elem(domain.KindParagraph, 1, 0, 10, 10, 10, 1, "body 1")
	h2 := elem(domain.KindHeading, 1, 0, 20, 10, 10, 2, "Sub")
	h2.Attributes = map[string]any{"level": 2}
	p2 := elem(domain.KindParagraph, 1, 0, 30, 10, 10, 3, "body 2")
	next := elem(domain.KindTitle, 1, 0, 40, 10, 10, 4, "Next Title")

	order := []domain.Element{h1, p1, h2, p2, next}
	rels, warnings := detectHierarchical(order)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}

	wantParent := map[uuid.UUID]uuid.UUID{
		p1.ID: h1.ID,
		p2.ID: h2.ID,
	}
	got := map[uuid.UUID]uuid.UUID{}
	for _, r := range rels {
		got[r.TargetID] = r.SourceID
	}
	for child, wantP := range wantParent {
		if got[child] != wantP {
			t.Fatalf("element %s: expected parent %s, got %s", child, wantP, got[child])
		}
	}
	if _, ok := got[h2.ID]; ok {
		t.Fatal("heading should not be parented by a preceding title")
	}
	if _, ok := got[next.ID]; ok {
		t.Fatal("title should not be parented by a preceding title")
	}
}

func TestDetectSemantic_RequiresOverlapAndCompatibleRoles(t *testing.T) {
	fig := elem(domain.KindFigure, 1, 0, 0, 10, 10, 0, "quarterly revenue chart")
	cap := elem(domain.KindCaption, 1, 0, 20, 10, 10, 1, "quarterly revenue chart caption")
	para := elem(domain.KindParagraph, 1, 0, 40, 10, 10, 2, "totally unrelated text about cats")

	eng := NewEngine(nil, nil, Thresholds{SemanticOverlap: 0.2})
	rels, err := eng.detectSemantic(context.Background(), uuid.New(), []domain.Element{fig, cap, para})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rels) != 1 {
		t.Fatalf("expected exactly one semantic edge (fig<->caption), got %d", len(rels))
	}
	if rels[0].Kind != domain.RelSemantic {
		t.Fatalf("expected semantic kind, got %s", rels[0].Kind)
	}
}

func TestCoalesce_KeepsMaxConfidenceForDuplicateTriples(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	rels := []domain.Relationship{
		{ID: uuid.New(), SourceID: a, TargetID: b, Kind: domain.RelSpatial, Confidence: 0.3},
		{ID: uuid.New(), SourceID: a, TargetID: b, Kind: domain.RelSpatial, Confidence: 0.9},
	}
	out := coalesce(rels)
	if len(out) != 1 {
		t.Fatalf("expected coalescing to a single edge, got %d", len(out))
	}
	if out[0].Confidence != 0.9 {
		t.Fatalf("expected max confidence 0.9, got %v", out[0].Confidence)
	}
}

func TestDropHierarchicalCycles_DropsLaterEdgeAndWarns(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	rels := []domain.Relationship{
		{ID: uuid.New(), SourceID: a, TargetID: b, Kind: domain.RelHierarchical, Confidence: 1},
		{ID: uuid.New(), SourceID: b, TargetID: a, Kind: domain.RelHierarchical, Confidence: 1},
	}
	out, warnings := dropHierarchicalCycles(rels)
	if len(out) != 1 {
		t.Fatalf("expected the cycle-closing edge dropped, got %d edges", len(out))
	}
	if len(warnings) != 1 {
		t.Fatalf("expected one warning, got %d", len(warnings))
	}
}

func TestReadingOrder_OrdersByPageThenColumnThenTopToBottom(t *testing.T) {
	leftTop := elem(domain.KindParagraph, 1, 0, 0, 10, 10, 0, "left top")
	leftBottom := elem(domain.KindParagraph, 1, 0, 100, 10, 10, 1, "left bottom")
	rightTop := elem(domain.KindParagraph, 1, 200, 0, 10, 10, 2, "right top")
	page2 := elem(domain.KindParagraph, 2, 0, 0, 10, 10, 3, "page 2")

	order := readingOrder([]domain.Element{page2, rightTop, leftBottom, leftTop})
	if len(order) != 4 {
		t.Fatalf("expected 4 elements, got %d", len(order))
	}
	if order[len(order)-1].ID != page2.ID {
		t.Fatal("expected page 2 element last")
	}
	page1 := order[:3]
	idx := func(id uuid.UUID) int {
		for i, e := range page1 {
			if e.ID == id {
				return i
			}
		}
		return -1
	}
	if idx(leftTop.ID) == -1 || idx(leftBottom.ID) == -1 || idx(rightTop.ID) == -1 {
		t.Fatal("missing expected element in page 1 ordering")
	}
	if idx(leftTop.ID) > idx(leftBottom.ID) {
		t.Fatal("expected left column top-to-bottom ordering")
	}
	if idx(rightTop.ID) <= idx(leftBottom.ID) {
		t.Fatal("expected left column fully ordered before right column")
	}
}

func TestBestKMeans_SingleColumnWhenNoSeparation(t *testing.T) {
	points := []float64{10, 10.1, 9.9, 10.05}
	labels := bestKMeans(points)
	first := labels[0]
	for _, l := range labels {
		if l != first {
			t.Fatalf("expected a single column for tightly clustered points, got labels %v", labels)
		}
	}
}

func TestEngine_AnalyzeProducesMetadataForEveryElement(t *testing.T) {
	a := elem(domain.KindTitle, 1, 0, 0, 10, 10, 0, "Title")
	b := elem(domain.KindParagraph, 1, 0, 20, 10, 10, 1, "body")
	eng := NewEngine(nil, nil, Thresholds{})

	result, err := eng.Analyze(context.Background(), uuid.New(), []domain.Element{a, b})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Metadata) != 2 {
		t.Fatalf("expected metadata for both elements, got %d", len(result.Metadata))
	}
	if len(result.ReadingOrder) != 2 {
		t.Fatalf("expected reading order over both elements, got %d", len(result.ReadingOrder))
	}
}
