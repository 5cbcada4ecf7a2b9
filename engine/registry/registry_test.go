package registry

import (
	"context"
	"testing"

	"github.com/r3e-labs/docbackbone/engine/domain"
)

type fakeProcessor struct {
	name        string
	version     string
	kinds       []string
	priority    int
	specificity int
}

func (f fakeProcessor) Name() string                            { return f.name }
func (f fakeProcessor) Version() string                         { return f.version }
func (f fakeProcessor) AcceptedKinds() []string                 { return f.kinds }
func (f fakeProcessor) ProducedSchema() string                  { return "v1" }
func (f fakeProcessor) Cost() Cost                               { return CostSmall }
func (f fakeProcessor) ConcurrencyClass() domain.ConcurrencyClass { return domain.ClassCooperative }
func (f fakeProcessor) Priority() int                            { return f.priority }
func (f fakeProcessor) Specificity() int                         { return f.specificity }
func (f fakeProcessor) Process(ctx context.Context, pctx ProcessorContext) (ProcessorResult, error) {
	return ProcessorResult{}, nil
}

func TestRegistry_SelectForKind_HighestPriorityWins(t *testing.T) {
	r := New()
	must(t, r.Register(fakeProcessor{name: "generic", version: "1.0.0", kinds: []string{"*/*"}, priority: 1, specificity: 0}))
	must(t, r.Register(fakeProcessor{name: "pdf-parser", version: "1.0.0", kinds: []string{"application/pdf"}, priority: 10, specificity: 10}))

	p, err := r.SelectForKind("application/pdf")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if p.Name() != "pdf-parser" {
		t.Fatalf("expected pdf-parser to win on priority, got %s", p.Name())
	}
}

func TestRegistry_SelectForKind_TiesBrokenBySpecificity(t *testing.T) {
	r := New()
	must(t, r.Register(fakeProcessor{name: "image-any", version: "1.0.0", kinds: []string{"image/*"}, priority: 5, specificity: 1}))
	must(t, r.Register(fakeProcessor{name: "image-png", version: "1.0.0", kinds: []string{"image/png"}, priority: 5, specificity: 5}))

	p, err := r.SelectForKind("image/png")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if p.Name() != "image-png" {
		t.Fatalf("expected image-png to win the specificity tie-break, got %s", p.Name())
	}
}

func TestRegistry_SelectForKind_NoMatchReturnsUnknownProcessor(t *testing.T) {
	r := New()
	must(t, r.Register(fakeProcessor{name: "pdf-parser", version: "1.0.0", kinds: []string{"application/pdf"}, priority: 1}))

	_, err := r.SelectForKind("image/png")
	if err == nil {
		t.Fatal("expected an error for an unmatched kind")
	}
}

func TestRegistry_GetVersion_ExactLookup(t *testing.T) {
	r := New()
	must(t, r.Register(fakeProcessor{name: "ocr", version: "1.0.0", kinds: []string{"image/*"}}))
	must(t, r.Register(fakeProcessor{name: "ocr", version: "2.0.0", kinds: []string{"image/*"}}))

	p, err := r.GetVersion("ocr", "1.0.0")
	if err != nil {
		t.Fatalf("get version: %v", err)
	}
	if p.Version() != "1.0.0" {
		t.Fatalf("expected version 1.0.0, got %s", p.Version())
	}

	if _, err := r.GetVersion("ocr", "9.9.9"); err == nil {
		t.Fatal("expected error for unregistered version")
	}
}

func TestRegistry_Latest_PicksHighestPriorityThenGreatestVersion(t *testing.T) {
	r := New()
	must(t, r.Register(fakeProcessor{name: "ocr", version: "1.0.0", priority: 1}))
	must(t, r.Register(fakeProcessor{name: "ocr", version: "2.0.0", priority: 1}))

	p, err := r.Latest("ocr")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if p.Version() != "2.0.0" {
		t.Fatalf("expected version 2.0.0 to win the tie-break, got %s", p.Version())
	}
}

func TestRegistry_Names_SortedAndDeduplicated(t *testing.T) {
	r := New()
	must(t, r.Register(fakeProcessor{name: "zeta", version: "1.0.0"}))
	must(t, r.Register(fakeProcessor{name: "alpha", version: "1.0.0"}))
	must(t, r.Register(fakeProcessor{name: "alpha", version: "2.0.0"}))

	names := r.Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Fatalf("expected [alpha zeta], got %v", names)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
