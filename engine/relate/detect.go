package relate

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/r3e-labs/docbackbone/engine/domain"
)

// ElementMetadata is the per-element output of Analyze: semantic role,
// language, encoding, and the engine's own confidence in the classification.
type ElementMetadata struct {
	ElementID  uuid.UUID
	Role       string
	Language   string
	Encoding   string
	Confidence float64
}

// SemanticIndex narrows semantic-relationship candidates by nearest-neighbor
// search over element embeddings, for documents large enough that all-pairs
// lexical comparison is too expensive. A nil index falls back to plain
// all-pairs lexical overlap — see detectSemantic.
type SemanticIndex interface {
	Neighbors(ctx context.Context, documentID uuid.UUID, elementID uuid.UUID, k int) ([]uuid.UUID, error)
}

// Thresholds configures the relationship-detection algorithms per spec.md
// §4.8. Zero values fall back to the package defaults.
type Thresholds struct {
	SpatialDistance   float64 // threshold_s, fraction of the larger element bbox diagonal
	SemanticOverlap   float64 // minimum lexical-overlap similarity
	SemanticNeighbors int     // candidates pulled per element when a SemanticIndex is present
}

func (t Thresholds) withDefaults() Thresholds {
	if t.SpatialDistance <= 0 {
		t.SpatialDistance = 0.08
	}
	if t.SemanticOverlap <= 0 {
		t.SemanticOverlap = 0.3
	}
	if t.SemanticNeighbors <= 0 {
		t.SemanticNeighbors = 8
	}
	return t
}

// Engine runs the Metadata & Relationship Engine's detection passes over one
// document's elements and persists the resulting graph.
type Engine struct {
	store      *GraphStore
	index      SemanticIndex
	thresholds Thresholds
}

// NewEngine builds an Engine. index may be nil, in which case semantic
// detection falls back to all-pairs lexical comparison.
func NewEngine(store *GraphStore, index SemanticIndex, thresholds Thresholds) *Engine {
	return &Engine{store: store, index: index, thresholds: thresholds.withDefaults()}
}

// Analyze runs every detection pass over elements, coalesces duplicate
// (src, tgt, kind) edges to max confidence, drops hierarchical edges that
// would close a cycle (recording a warning for each), and returns the
// resulting metadata, relationship graph, and reading order. It does not
// persist anything; callers call Persist with the result.
func (e *Engine) Analyze(ctx context.Context, documentID uuid.UUID, elements []domain.Element) (Result, error) {
	order := readingOrder(elements)
	positionOf := make(map[uuid.UUID]int, len(order))
	for i, el := range order {
		positionOf[el.ID] = i
	}

	var rels []domain.Relationship
	rels = append(rels, detectSpatial(elements, e.thresholds)...)
	hier, warnings := detectHierarchical(order)
	rels = append(rels, hier...)
	sem, err := e.detectSemantic(ctx, documentID, elements)
	if err != nil {
		return Result{}, err
	}
	rels = append(rels, sem...)

	rels = coalesce(rels)
	rels, cycleWarnings := dropHierarchicalCycles(rels)
	warnings = append(warnings, cycleWarnings...)

	meta := make([]ElementMetadata, 0, len(elements))
	for _, el := range elements {
		meta = append(meta, classify(el))
	}

	return Result{
		Metadata:      meta,
		Relationships: rels,
		ReadingOrder:  order,
		Warnings:      warnings,
	}, nil
}

// Persist writes a Result's elements and relationships to the graph store.
func (e *Engine) Persist(ctx context.Context, result Result) error {
	return e.store.SaveBatch(ctx, result.ReadingOrder, result.Relationships)
}

// Result is the Metadata & Relationship Engine's output for one document.
type Result struct {
	Metadata      []ElementMetadata
	Relationships []domain.Relationship
	ReadingOrder  []domain.Element
	Warnings      []string
}

// classify derives a coarse semantic role directly from ElementKind. No real
// language/encoding detection is done: Language is "en" for an element with
// non-empty text and "und" (undetermined) otherwise, and Encoding is always
// "utf-8".
func classify(el domain.Element) ElementMetadata {
	role := string(el.Kind)
	confidence := 0.6
	switch el.Kind {
	case domain.KindTitle, domain.KindHeading:
		confidence = 0.9
	case domain.KindCaption, domain.KindFigure:
		confidence = 0.75
	}
	lang := "und"
	if el.Text != nil && *el.Text != "" {
		lang = "en"
	}
	return ElementMetadata{
		ElementID:  el.ID,
		Role:       role,
		Language:   lang,
		Encoding:   "utf-8",
		Confidence: confidence,
	}
}

// detectSpatial implements spec.md §4.8's spatial pass: for every pair of
// elements sharing a page, emit an edge when the axis-aligned min-edge
// distance normalized by the larger of the two elements' bounding-box
// diagonals is within threshold_s. The page size is not used.
func detectSpatial(elements []domain.Element, th Thresholds) []domain.Relationship {
	var rels []domain.Relationship
	for i := range elements {
		for j := i + 1; j < len(elements); j++ {
			a, b := elements[i], elements[j]
			if a.BBox.Page != b.BBox.Page {
				continue
			}
			diag := a.BBox.Diagonal()
			if b.BBox.Diagonal() > diag {
				diag = b.BBox.Diagonal()
			}
			if diag == 0 {
				continue
			}
			dist := minEdgeDistance(a.BBox, b.BBox) / diag
			if dist > th.SpatialDistance {
				continue
			}
			confidence := 1 - dist/th.SpatialDistance
			rels = append(rels,
				domain.Relationship{ID: uuid.New(), SourceID: a.ID, TargetID: b.ID, Kind: domain.RelSpatial, Confidence: confidence},
				domain.Relationship{ID: uuid.New(), SourceID: b.ID, TargetID: a.ID, Kind: domain.RelSpatial, Confidence: confidence},
			)
		}
	}
	return rels
}

// minEdgeDistance returns the minimum axis-aligned gap between two boxes, 0
// if they overlap.
func minEdgeDistance(a, b domain.BoundingBox) float64 {
	dx := 0.0
	if a.X+a.W < b.X {
		dx = b.X - (a.X + a.W)
	} else if b.X+b.W < a.X {
		dx = a.X - (b.X + b.W)
	}
	dy := 0.0
	if a.Y+a.H < b.Y {
		dy = b.Y - (a.Y + a.H)
	} else if b.Y+b.H < a.Y {
		dy = a.Y - (b.Y + b.H)
	}
	if dx == 0 && dy == 0 {
		return 0
	}
	return math.Hypot(dx, dy)
}

// detectHierarchical implements spec.md §4.8's hierarchical pass: each
// title/heading parents the subsequent non-heading elements, in reading
// order, until the next heading of equal or higher level.
func detectHierarchical(order []domain.Element) ([]domain.Relationship, []string) {
	var rels []domain.Relationship
	var warnings []string

	type openHeading struct {
		el    domain.Element
		level int
	}
	var stack []openHeading

	for _, el := range order {
		level := el.Kind.HeadingLevel(el.Attributes)
		if level > 0 {
			for len(stack) > 0 && stack[len(stack)-1].level >= level {
				stack = stack[:len(stack)-1]
			}
			stack = append(stack, openHeading{el: el, level: level})
			continue
		}
		if len(stack) == 0 {
			continue
		}
		parent := stack[len(stack)-1]
		if parent.el.ID == el.ID {
			continue
		}
		rels = append(rels, domain.Relationship{
			ID:         uuid.New(),
			SourceID:   parent.el.ID,
			TargetID:   el.ID,
			Kind:       domain.RelHierarchical,
			Confidence: 1,
		})
	}
	return rels, warnings
}

// detectSemantic implements spec.md §4.8's semantic pass: lexical overlap
// above threshold plus role compatibility. When a SemanticIndex is wired,
// candidates are narrowed to its nearest neighbors per element; otherwise
// every pair is compared, which spec.md accepts as the plain fallback.
func (e *Engine) detectSemantic(ctx context.Context, documentID uuid.UUID, elements []domain.Element) ([]domain.Relationship, error) {
	byID := make(map[uuid.UUID]domain.Element, len(elements))
	for _, el := range elements {
		byID[el.ID] = el
	}

	var rels []domain.Relationship
	seen := make(map[domain.RelationshipKey]bool)

	emit := func(a, b domain.Element) {
		if a.ID == b.ID || !compatibleRoles(a.Kind, b.Kind) {
			return
		}
		sim := lexicalOverlap(text(a), text(b))
		if sim < e.thresholds.SemanticOverlap {
			return
		}
		rel := domain.Relationship{ID: uuid.New(), SourceID: a.ID, TargetID: b.ID, Kind: domain.RelSemantic, Confidence: sim}
		if seen[rel.Key()] {
			return
		}
		seen[rel.Key()] = true
		rels = append(rels, rel)
	}

	if e.index == nil {
		for i := range elements {
			for j := i + 1; j < len(elements); j++ {
				emit(elements[i], elements[j])
			}
		}
		return rels, nil
	}

	for _, el := range elements {
		neighborIDs, err := e.index.Neighbors(ctx, documentID, el.ID, e.thresholds.SemanticNeighbors)
		if err != nil {
			return nil, err
		}
		for _, nid := range neighborIDs {
			other, ok := byID[nid]
			if !ok {
				continue
			}
			emit(el, other)
		}
	}
	return rels, nil
}

// compatibleRoles restricts semantic matching to role pairs spec.md calls
// out as meaningful (e.g. caption<->figure), plus same-kind pairs.
func compatibleRoles(a, b domain.ElementKind) bool {
	if a == b {
		return true
	}
	compat := map[domain.ElementKind]domain.ElementKind{
		domain.KindCaption: domain.KindFigure,
		domain.KindFigure:  domain.KindCaption,
	}
	return compat[a] == b
}

func text(e domain.Element) string {
	if e.Text == nil {
		return ""
	}
	return *e.Text
}

// lexicalOverlap returns Jaccard similarity over lowercased whitespace
// tokens, in [0,1].
func lexicalOverlap(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for tok := range ta {
		if tb[tok] {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]bool {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

// coalesce merges duplicate (src, tgt, kind) relationships to the maximum
// confidence, per spec.md's conflict-resolution rule.
func coalesce(rels []domain.Relationship) []domain.Relationship {
	byKey := make(map[domain.RelationshipKey]domain.Relationship, len(rels))
	order := make([]domain.RelationshipKey, 0, len(rels))
	for _, r := range rels {
		k := r.Key()
		if existing, ok := byKey[k]; ok {
			byKey[k] = domain.Coalesce(existing, r)
			continue
		}
		byKey[k] = r
		order = append(order, k)
	}
	out := make([]domain.Relationship, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	return out
}

// dropHierarchicalCycles removes later hierarchical edges that would close a
// cycle, recording a warning for each, per spec.md's conflict-resolution
// rule.
func dropHierarchicalCycles(rels []domain.Relationship) ([]domain.Relationship, []string) {
	children := make(map[uuid.UUID][]uuid.UUID)
	var warnings []string
	out := make([]domain.Relationship, 0, len(rels))

	reaches := func(from, to uuid.UUID) bool {
		visited := map[uuid.UUID]bool{}
		stack := []uuid.UUID{from}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if cur == to {
				return true
			}
			if visited[cur] {
				continue
			}
			visited[cur] = true
			stack = append(stack, children[cur]...)
		}
		return false
	}

	for _, r := range rels {
		if r.Kind != domain.RelHierarchical {
			out = append(out, r)
			continue
		}
		if reaches(r.TargetID, r.SourceID) {
			warnings = append(warnings, "relate: dropped hierarchical edge "+r.SourceID.String()+"->"+r.TargetID.String()+" to avoid a cycle")
			continue
		}
		children[r.SourceID] = append(children[r.SourceID], r.TargetID)
		out = append(out, r)
	}
	return out, warnings
}

// readingOrder implements spec.md §4.8: page index first, then column
// detection via k-means over x-centroids (k in {1,2,3} chosen by silhouette
// score), then top-to-bottom within each column.
func readingOrder(elements []domain.Element) []domain.Element {
	byPage := make(map[int][]domain.Element)
	var pages []int
	for _, el := range elements {
		if _, ok := byPage[el.BBox.Page]; !ok {
			pages = append(pages, el.BBox.Page)
		}
		byPage[el.BBox.Page] = append(byPage[el.BBox.Page], el)
	}
	sort.Ints(pages)

	ordered := make([]domain.Element, 0, len(elements))
	for _, page := range pages {
		ordered = append(ordered, orderPage(byPage[page])...)
	}
	return ordered
}

func orderPage(elements []domain.Element) []domain.Element {
	if len(elements) <= 1 {
		return elements
	}
	centroids := make([]float64, len(elements))
	for i, el := range elements {
		centroids[i] = el.BBox.X + el.BBox.W/2
	}
	labels := bestKMeans(centroids)

	type col struct {
		label int
		mean  float64
		els   []domain.Element
	}
	byLabel := map[int]*col{}
	var order []int
	for i, l := range labels {
		c, ok := byLabel[l]
		if !ok {
			c = &col{label: l}
			byLabel[l] = c
			order = append(order, l)
		}
		c.els = append(c.els, elements[i])
		c.mean += centroids[i]
	}
	for _, l := range order {
		byLabel[l].mean /= float64(len(byLabel[l].els))
	}
	sort.Slice(order, func(i, j int) bool { return byLabel[order[i]].mean < byLabel[order[j]].mean })

	out := make([]domain.Element, 0, len(elements))
	for _, l := range order {
		c := byLabel[l]
		sort.SliceStable(c.els, func(i, j int) bool { return c.els[i].BBox.Y < c.els[j].BBox.Y })
		out = append(out, c.els...)
	}
	return out
}

// bestKMeans runs 1-D k-means for k in {1,2,3} and returns the labeling with
// the highest silhouette score. No clustering library appears anywhere in
// the retrieval pack for this module, so 1-D k-means and silhouette scoring
// are hand-rolled here; see DESIGN.md.
func bestKMeans(points []float64) []int {
	bestLabels := make([]int, len(points)) // k=1: everything in column 0
	bestScore := -2.0

	maxK := 3
	if len(points) < maxK {
		maxK = len(points)
	}
	for k := 1; k <= maxK; k++ {
		labels := kMeans1D(points, k)
		score := silhouette1D(points, labels, k)
		if score > bestScore {
			bestScore = score
			bestLabels = labels
		}
	}
	return bestLabels
}

func kMeans1D(points []float64, k int) []int {
	n := len(points)
	labels := make([]int, n)
	if k <= 1 || n <= k {
		return labels
	}

	sorted := append([]float64(nil), points...)
	sort.Float64s(sorted)
	centroids := make([]float64, k)
	for i := 0; i < k; i++ {
		centroids[i] = sorted[(i*(n-1))/(k-1)]
	}

	for iter := 0; iter < 25; iter++ {
		changed := false
		for i, p := range points {
			best, bestDist := 0, absF(p-centroids[0])
			for c := 1; c < k; c++ {
				d := absF(p - centroids[c])
				if d < bestDist {
					best, bestDist = c, d
				}
			}
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}
		sums := make([]float64, k)
		counts := make([]int, k)
		for i, p := range points {
			sums[labels[i]] += p
			counts[labels[i]]++
		}
		for c := 0; c < k; c++ {
			if counts[c] > 0 {
				centroids[c] = sums[c] / float64(counts[c])
			}
		}
		if !changed {
			break
		}
	}
	return labels
}

// silhouette1D computes the mean silhouette coefficient for a labeling,
// degenerate to a flat 0 score for k=1 (no separation to measure, but still
// a valid baseline other k values must beat).
func silhouette1D(points []float64, labels []int, k int) float64 {
	n := len(points)
	if k <= 1 || n <= k {
		return 0
	}
	var total float64
	for i := range points {
		var aSum float64
		aCount := 0
		bBest := make([]float64, k)
		bCount := make([]int, k)
		for j := range points {
			if i == j {
				continue
			}
			d := absF(points[i] - points[j])
			if labels[j] == labels[i] {
				aSum += d
				aCount++
			} else {
				bBest[labels[j]] += d
				bCount[labels[j]]++
			}
		}
		a := 0.0
		if aCount > 0 {
			a = aSum / float64(aCount)
		}
		b := -1.0
		for c := 0; c < k; c++ {
			if c == labels[i] || bCount[c] == 0 {
				continue
			}
			mean := bBest[c] / float64(bCount[c])
			if b < 0 || mean < b {
				b = mean
			}
		}
		if b < 0 {
			continue
		}
		m := a
		if b > m {
			m = b
		}
		if m == 0 {
			continue
		}
		total += (b - a) / m
	}
	return total / float64(n)
}

func absF(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
