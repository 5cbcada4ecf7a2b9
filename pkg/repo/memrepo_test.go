package repo

import (
	"context"
	"errors"
	"testing"
)

type memEntity struct {
	ID    string
	Level int
}

func memProps(e memEntity) map[string]any {
	return map[string]any{"id": e.ID, "level": e.Level}
}

func TestMemRepo_CRUD(t *testing.T) {
	r := NewMemRepo[memEntity, string](func(e memEntity) string { return e.ID }, memProps)
	ctx := context.Background()

	if _, err := r.Create(ctx, memEntity{ID: "1", Level: 2}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Create(ctx, memEntity{ID: "1", Level: 2}); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	got, err := r.Get(ctx, "1")
	if err != nil || got.Level != 2 {
		t.Fatalf("got %+v, %v", got, err)
	}

	if _, err := r.Update(ctx, memEntity{ID: "1", Level: 3}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Update(ctx, memEntity{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := r.Delete(ctx, "1"); err != nil {
		t.Fatal(err)
	}
	if err := r.Delete(ctx, "1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemRepo_ListFilterSortPage(t *testing.T) {
	r := NewMemRepo[memEntity, string](func(e memEntity) string { return e.ID }, memProps)
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c", "d"} {
		r.Create(ctx, memEntity{ID: id, Level: i})
	}

	got, err := r.List(ctx, ListOpts{Filters: []Filter{{Field: "level", Operator: OpGte, Value: 1}}})
	if err != nil {
		t.Fatal(err)
	}
	if got.Total != 3 {
		t.Fatalf("got total %d, want 3", got.Total)
	}

	page, err := r.List(ctx, ListOpts{Sort: []Sort{{Field: "id", Dir: SortDesc}}, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 2 || page.Items[0].ID != "d" {
		t.Fatalf("got %+v", page.Items)
	}
	if page.Total != 4 {
		t.Fatalf("got total %d, want 4", page.Total)
	}
}
