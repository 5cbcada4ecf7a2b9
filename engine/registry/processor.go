// Package registry implements the Processor Registry: dynamic, versioned
// registration of Processors and priority/specificity-based lookup by
// input kind.
package registry

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/r3e-labs/docbackbone/engine/domain"
)

// Cost is a processor's declared resource-cost hint. No part of this module
// reads it; it carries no scheduling weight.
type Cost string

const (
	CostSmall  Cost = "small"
	CostMedium Cost = "medium"
	CostLarge  Cost = "large"
)

// ProcessorContext is passed to Processor.Process. CacheHandle is typed as
// an interface here (rather than importing pkg/cache) so processors don't
// need to depend on the cache backend selection.
type ProcessorContext struct {
	DocumentID uuid.UUID
	Elements   []domain.Element
	Options    map[string]any
	Logger     *slog.Logger
	Cache      CacheHandle
}

// CacheHandle is the subset of pkg/cache.Tiered a processor needs to
// memoize its own sub-computations.
type CacheHandle interface {
	GetOrBuild(ctx context.Context, key string, build func(ctx context.Context) ([]byte, error)) ([]byte, error)
}

// ProcessorResult is returned by a successful Process call.
type ProcessorResult struct {
	Elements []domain.Element
	Metrics  map[string]float64
	Warnings []string
}

// Processor is a pluggable unit of document processing. Implementations
// must be deterministic given identical input + options — cache
// correctness (pkg/cache) and pipeline resume semantics both depend on it.
type Processor interface {
	Name() string
	Version() string
	AcceptedKinds() []string
	ProducedSchema() string
	Cost() Cost
	ConcurrencyClass() domain.ConcurrencyClass
	// Priority ranks competing processors for the same input kind; higher
	// wins. Specificity breaks ties among equal priority (an exact mime
	// match outranks a wildcard).
	Priority() int
	Specificity() int
	Process(ctx context.Context, pctx ProcessorContext) (ProcessorResult, error)
}
