package repo

import (
	"context"

	"github.com/google/uuid"
)

// UUIDKeyed adapts a Repository[T, string] to Repository[T, uuid.UUID] by
// stringifying the id at the call boundary. Graph backends (Neo4jRepo) key
// nodes by their string-form id property since the driver has no native
// uuid.UUID parameter type; callers elsewhere in the engine layer are typed
// against uuid.UUID IDs throughout, so this is the seam between the two
// conventions rather than forcing one on the other.
type UUIDKeyed[T any] struct {
	inner Repository[T, string]
}

// NewUUIDKeyed wraps inner.
func NewUUIDKeyed[T any](inner Repository[T, string]) *UUIDKeyed[T] {
	return &UUIDKeyed[T]{inner: inner}
}

func (r *UUIDKeyed[T]) Get(ctx context.Context, id uuid.UUID) (T, error) {
	return r.inner.Get(ctx, id.String())
}

func (r *UUIDKeyed[T]) List(ctx context.Context, opts ListOpts) (ListResult[T], error) {
	return r.inner.List(ctx, opts)
}

func (r *UUIDKeyed[T]) Create(ctx context.Context, entity T) (T, error) {
	return r.inner.Create(ctx, entity)
}

func (r *UUIDKeyed[T]) Update(ctx context.Context, entity T) (T, error) {
	return r.inner.Update(ctx, entity)
}

func (r *UUIDKeyed[T]) Delete(ctx context.Context, id uuid.UUID) error {
	return r.inner.Delete(ctx, id.String())
}

var _ Repository[any, uuid.UUID] = (*UUIDKeyed[any])(nil)
