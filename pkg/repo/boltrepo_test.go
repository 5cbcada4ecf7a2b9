package repo

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

type boltEntity struct {
	ID    string
	Level int
}

func boltProps(e boltEntity) map[string]any {
	return map[string]any{"id": e.ID, "level": e.Level}
}

func newTestBoltRepo(t *testing.T) *BoltRepo[boltEntity, string] {
	t.Helper()
	db, err := OpenBolt(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	r, err := NewBoltRepo[boltEntity, string](db, "entities", func(e boltEntity) string { return e.ID }, func(id string) []byte { return []byte(id) }, boltProps)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestBoltRepo_CRUD(t *testing.T) {
	r := newTestBoltRepo(t)
	ctx := context.Background()

	if _, err := r.Create(ctx, boltEntity{ID: "1", Level: 5}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Create(ctx, boltEntity{ID: "1", Level: 5}); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	got, err := r.Get(ctx, "1")
	if err != nil || got.Level != 5 {
		t.Fatalf("got %+v, %v", got, err)
	}

	if _, err := r.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := r.Update(ctx, boltEntity{ID: "1", Level: 9}); err != nil {
		t.Fatal(err)
	}
	got, _ = r.Get(ctx, "1")
	if got.Level != 9 {
		t.Fatalf("update did not persist, got %+v", got)
	}

	if err := r.Delete(ctx, "1"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get(ctx, "1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestBoltRepo_ListFilterAndPage(t *testing.T) {
	r := newTestBoltRepo(t)
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		if _, err := r.Create(ctx, boltEntity{ID: id, Level: i}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := r.List(ctx, ListOpts{Filters: []Filter{{Field: "level", Operator: OpGt, Value: 0}}})
	if err != nil {
		t.Fatal(err)
	}
	if got.Total != 2 {
		t.Fatalf("got total %d, want 2", got.Total)
	}

	page, err := r.List(ctx, ListOpts{Limit: 1, Sort: []Sort{{Field: "id", Dir: SortAsc}}})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "a" {
		t.Fatalf("got %+v", page.Items)
	}
	if page.Total != 3 {
		t.Fatalf("got total %d, want 3", page.Total)
	}
}
