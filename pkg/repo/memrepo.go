package repo

import (
	"context"
	"sync"
)

// MemRepo is an in-memory repository used by unit tests and by the
// single-process demo configuration in place of Neo4j/bbolt.
type MemRepo[T any, ID comparable] struct {
	mu      sync.RWMutex
	items   map[ID]T
	idOf    func(T) ID
	toProps func(T) map[string]any
}

// NewMemRepo constructs an empty MemRepo.
func NewMemRepo[T any, ID comparable](idOf func(T) ID, toProps func(T) map[string]any) *MemRepo[T, ID] {
	return &MemRepo[T, ID]{items: make(map[ID]T), idOf: idOf, toProps: toProps}
}

var _ Repository[any, string] = (*MemRepo[any, string])(nil)

func (r *MemRepo[T, ID]) Get(ctx context.Context, id ID) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.items[id]
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	return v, nil
}

func (r *MemRepo[T, ID]) Create(ctx context.Context, entity T) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.idOf(entity)
	if _, exists := r.items[id]; exists {
		var zero T
		return zero, ErrDuplicateKey
	}
	r.items[id] = entity
	return entity, nil
}

func (r *MemRepo[T, ID]) Update(ctx context.Context, entity T) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.idOf(entity)
	if _, exists := r.items[id]; !exists {
		var zero T
		return zero, ErrNotFound
	}
	r.items[id] = entity
	return entity, nil
}

func (r *MemRepo[T, ID]) Delete(ctx context.Context, id ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[id]; !exists {
		return ErrNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *MemRepo[T, ID]) List(ctx context.Context, opts ListOpts) (ListResult[T], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]T, 0, len(r.items))
	for _, item := range r.items {
		props := r.toProps(item)
		ok := true
		for _, f := range opts.Filters {
			if !f.Match(props) {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, item)
		}
	}

	if len(opts.Sort) > 0 {
		sortItems(matched, r.toProps, opts.Sort)
	}

	total := len(matched)
	offset := opts.Offset
	if offset > len(matched) {
		offset = len(matched)
	}
	end := offset + opts.limit()
	if end > len(matched) {
		end = len(matched)
	}
	return ListResult[T]{Items: matched[offset:end], Total: total}, nil
}
