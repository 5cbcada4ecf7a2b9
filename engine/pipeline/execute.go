package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/r3e-labs/docbackbone/engine/domain"
	"github.com/r3e-labs/docbackbone/engine/progress"
	"github.com/r3e-labs/docbackbone/engine/registry"
	"github.com/r3e-labs/docbackbone/engine/workerpool"
	"github.com/r3e-labs/docbackbone/pkg/repo"
	"github.com/r3e-labs/docbackbone/pkg/resilience"
)

// breakerPerProcessor guards one circuit breaker per processor name, tripped
// by that processor's own consecutive failures. A processor calling a flaky
// external dependency (an OCR service, a remote model) shouldn't get fed a
// steady stream of doomed tasks by the scheduler while it's down; tripping
// fails those tasks immediately so the Worker Pool's class queues drain
// instead of filling with work that will only time out.
type breakerPerProcessor struct {
	mu       sync.Mutex
	breakers map[string]*resilience.Breaker
}

func newBreakerPerProcessor() *breakerPerProcessor {
	return &breakerPerProcessor{breakers: make(map[string]*resilience.Breaker)}
}

func (b *breakerPerProcessor) forName(name string) *resilience.Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	br, ok := b.breakers[name]
	if !ok {
		br = resilience.NewBreaker(resilience.DefaultBreakerOpts)
		b.breakers[name] = br
	}
	return br
}

// NewProcessorExecutor adapts the Processor Registry and the element
// repository into a workerpool.Execute closure: load the document's current
// elements, invoke the task's processor through a per-processor circuit
// breaker, persist whatever elements it produced. This is the "invokes
// Processor from Registry → writes elements via Repository" leg of the data
// flow the Pipeline Manager and Worker Pool otherwise know nothing about.
//
// tracker may be nil: a task's progress is reported coarsely (0.0 at start,
// 1.0 on success), linked into the run's progress tree by correlation id, so
// Progress Tracker subscribers see per-task movement without the Processor
// interface having to know it exists. A nil tracker makes this a no-op,
// matching cmd/docctl's CLI runs, which have no long-lived stream consumer.
func NewProcessorExecutor(reg *registry.Registry, elements repo.Repository[domain.Element, uuid.UUID], cache registry.CacheHandle, tracker *progress.Tracker, logger *slog.Logger) workerpool.Execute {
	breakers := newBreakerPerProcessor()
	return func(ctx context.Context, t domain.Task) (string, error) {
		proc, err := reg.Latest(t.ProcessorName)
		if err != nil {
			return "", err
		}

		existing, err := elements.List(ctx, repo.ListOpts{
			Filters: []repo.Filter{{Field: "document_id", Operator: repo.OpEq, Value: t.DocumentID.String()}},
			Limit:   100000,
		})
		if err != nil {
			return "", err
		}

		taskID := t.ID.String()
		if tracker != nil {
			tracker.Link("task", taskID, "stage", t.StageID, 1.0)
			tracker.Link("stage", t.StageID, "run", t.RunID.String(), 1.0)
			tracker.Report(ctx, t.CorrelationID, taskID, 0.0, fmt.Sprintf("%s: started", t.ProcessorName))
		}

		var result registry.ProcessorResult
		breaker := breakers.forName(t.ProcessorName)
		callErr := breaker.Call(ctx, func(ctx context.Context) error {
			var procErr error
			result, procErr = proc.Process(ctx, registry.ProcessorContext{
				DocumentID: t.DocumentID,
				Elements:   existing.Items,
				Options:    t.Options,
				Logger:     logger,
				Cache:      cache,
			})
			return procErr
		})
		if callErr != nil {
			if errors.Is(callErr, resilience.ErrCircuitOpen) {
				return "", fmt.Errorf("%w: processor %s circuit open", domain.ErrBackendDown, t.ProcessorName)
			}
			return "", callErr
		}

		for _, el := range result.Elements {
			if _, err := elements.Create(ctx, el); err != nil {
				return "", err
			}
		}
		if tracker != nil {
			tracker.Report(ctx, t.CorrelationID, taskID, 1.0, fmt.Sprintf("%s: done", t.ProcessorName))
		}
		return fmt.Sprintf("stage://%s/%s", t.StageID, t.ID), nil
	}
}
