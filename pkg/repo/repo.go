// Package repo defines the generic Repository interface used by every
// storage-backed component (elements, relationships, pipeline runs, upload
// sessions) along with the shared filter/sort/pagination option type and a
// handful of interchangeable backends (Neo4j, bbolt, in-memory).
package repo

import (
	"context"
	"fmt"
)

// Repository is a generic CRUD + query interface. Every backend in this
// package implements it for a concrete (T, ID) pair so callers can swap
// storage engines without touching the engine/* layer above.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	List(ctx context.Context, opts ListOpts) (ListResult[T], error)
	Create(ctx context.Context, entity T) (T, error)
	Update(ctx context.Context, entity T) (T, error)
	Delete(ctx context.Context, id ID) error
}

// Operator is a filter comparison operator.
type Operator string

const (
	OpEq    Operator = "eq"
	OpNeq   Operator = "neq"
	OpGt    Operator = "gt"
	OpGte   Operator = "gte"
	OpLt    Operator = "lt"
	OpLte   Operator = "lte"
	OpIn    Operator = "in"
	OpExists Operator = "exists"
)

// Filter is one (field, operator, value) predicate, conjoined with every
// other Filter in a ListOpts (AND semantics).
type Filter struct {
	Field    string
	Operator Operator
	Value    any
}

// Match evaluates the filter against a plain property map, used by backends
// (memrepo, boltrepo) that can't push filters down to a query engine.
func (f Filter) Match(props map[string]any) bool {
	v, ok := props[f.Field]
	if f.Operator == OpExists {
		return ok
	}
	if !ok {
		return false
	}
	switch f.Operator {
	case OpEq:
		return fmt.Sprint(v) == fmt.Sprint(f.Value)
	case OpNeq:
		return fmt.Sprint(v) != fmt.Sprint(f.Value)
	case OpIn:
		vals, ok := f.Value.([]any)
		if !ok {
			return false
		}
		for _, candidate := range vals {
			if fmt.Sprint(candidate) == fmt.Sprint(v) {
				return true
			}
		}
		return false
	case OpGt, OpGte, OpLt, OpLte:
		a, aok := toFloat(v)
		b, bok := toFloat(f.Value)
		if !aok || !bok {
			return false
		}
		switch f.Operator {
		case OpGt:
			return a > b
		case OpGte:
			return a >= b
		case OpLt:
			return a < b
		case OpLte:
			return a <= b
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

// SortDir is ascending or descending order for a ListOpts sort key.
type SortDir string

const (
	SortAsc  SortDir = "asc"
	SortDesc SortDir = "desc"
)

// Sort orders results by one field.
type Sort struct {
	Field string
	Dir   SortDir
}

// ListOpts controls filtering, sorting, and pagination for List operations,
// matching the query surface the HTTP and CLI layers expose per spec.md §6.
type ListOpts struct {
	Filters []Filter
	Sort    []Sort
	Offset  int
	Limit   int
}

// DefaultLimit is applied when a caller leaves Limit unset or non-positive.
const DefaultLimit = 100

func (o ListOpts) limit() int {
	if o.Limit <= 0 {
		return DefaultLimit
	}
	return o.Limit
}

// ListResult carries a page of items plus the total count of items matching
// the filters (ignoring Offset/Limit), so callers can render pagination
// without a second round trip.
type ListResult[T any] struct {
	Items []T
	Total int
}
