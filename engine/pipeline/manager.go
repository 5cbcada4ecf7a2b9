// Package pipeline implements the Pipeline Manager: DAG construction and
// validation, dependency-driven scheduling, checkpointing, retries, and
// on-failure policy enforcement for a PipelineRun.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-labs/docbackbone/engine/bus"
	"github.com/r3e-labs/docbackbone/engine/domain"
	"github.com/r3e-labs/docbackbone/engine/registry"
	"github.com/r3e-labs/docbackbone/engine/workerpool"
	"github.com/r3e-labs/docbackbone/pkg/metrics"
	"github.com/r3e-labs/docbackbone/pkg/repo"
)

// Deps wires the Pipeline Manager to its collaborators, following the
// retrieval pack's struct-based dependency injection convention.
type Deps struct {
	Runs       repo.Repository[domain.PipelineRun, uuid.UUID]
	Registry   *registry.Registry
	Pool       *workerpool.Pool
	Bus        *bus.Bus
	Metrics    *metrics.Registry
	Logger     *slog.Logger
	Checkpoint CheckpointFunc
}

// CheckpointFunc persists a run's (stage_id -> artifact_ref) mapping for
// resume, distinct from the Runs repository's own Update so a backend can
// make it durable independently (e.g. fsync per checkpoint rather than
// batching with the rest of the run record).
type CheckpointFunc func(ctx context.Context, run domain.PipelineRun) error

// Manager executes PipelineRuns against a PipelineSpec DAG.
type Manager struct {
	deps Deps
	log  *slog.Logger

	mu         sync.Mutex
	specs      map[string]domain.PipelineSpec
	cancels    map[uuid.UUID]context.CancelFunc
	submitOrd  int64
}

func New(deps Deps) *Manager {
	return &Manager{
		deps:    deps,
		log:     deps.Logger,
		specs:   make(map[string]domain.PipelineSpec),
		cancels: make(map[uuid.UUID]context.CancelFunc),
	}
}

// RegisterSpec makes spec available to CreateRun by name, after validating
// structural well-formedness and acyclicity.
func (m *Manager) RegisterSpec(spec domain.PipelineSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if _, err := topoOrder(spec); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.specs[spec.Name] = spec
	return nil
}

// CreateRun constructs a PipelineRun in the created state. It does not
// dispatch any work until Execute is called.
func (m *Manager) CreateRun(ctx context.Context, specName string, documentID uuid.UUID) (uuid.UUID, error) {
	m.mu.Lock()
	spec, ok := m.specs[specName]
	m.mu.Unlock()
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: pipeline spec %s not registered", domain.ErrInvalidStage, specName)
	}

	run := domain.NewRun(spec, documentID)
	if _, err := m.deps.Runs.Create(ctx, run); err != nil {
		return uuid.Nil, err
	}
	if m.deps.Metrics != nil {
		m.deps.Metrics.RunsStarted.Inc()
	}
	m.publish(ctx, bus.EventRunCreated, run)
	return run.ID, nil
}

// Execute validates acyclicity, then drives the run to completion,
// dispatching ready stages to the Worker Pool as their dependencies
// satisfy, until the run reaches a terminal state.
func (m *Manager) Execute(ctx context.Context, runID uuid.UUID) error {
	run, err := m.deps.Runs.Get(ctx, runID)
	if err != nil {
		return err
	}
	spec, ok := m.specLocked(run.SpecName)
	if !ok {
		return fmt.Errorf("%w: pipeline spec %s not registered", domain.ErrInvalidStage, run.SpecName)
	}
	if _, err := topoOrder(spec); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancels[run.ID] = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.cancels, run.ID)
		m.mu.Unlock()
		cancel()
	}()

	now := time.Now().UTC()
	run.State = domain.RunRunning
	run.StartedAt = &now
	if _, err := m.deps.Runs.Update(ctx, run); err != nil {
		return err
	}
	m.publish(runCtx, bus.EventRunStateChanged, run)

	sched := &scheduler{mgr: m, spec: spec}
	return sched.run(runCtx, run)
}

// Cancel requests cooperative cancellation of run. It only signals the
// running scheduler's context; the scheduler goroutine running inside
// Execute owns the run record and performs the actual state transition and
// in-flight Worker Pool task cancellation (scheduler.finalizeCancelled),
// avoiding a write race between this call and Execute's own persistence.
func (m *Manager) Cancel(ctx context.Context, runID uuid.UUID) error {
	m.mu.Lock()
	cancel, ok := m.cancels[runID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: run %s is not executing", domain.ErrRunTerminal, runID)
	}
	cancel()
	return nil
}

// Resume re-enters the state machine for a non-terminal or failed run,
// rescheduling only stages not already completed whose dependencies are
// satisfied. Previously-completed stages are never re-run.
func (m *Manager) Resume(ctx context.Context, runID uuid.UUID) error {
	run, err := m.deps.Runs.Get(ctx, runID)
	if err != nil {
		return err
	}
	if run.State.Terminal() && run.State != domain.RunFailed {
		return fmt.Errorf("%w: run %s already %s", domain.ErrRunTerminal, runID, run.State)
	}
	for id, state := range run.StageStates {
		if state != domain.StageCompleted {
			run.StageStates[id] = domain.StagePending
		}
	}
	run.State = domain.RunRunning
	run.EndedAt = nil
	if _, err := m.deps.Runs.Update(ctx, run); err != nil {
		return err
	}
	return m.Execute(ctx, runID)
}

func (m *Manager) specLocked(name string) (domain.PipelineSpec, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	spec, ok := m.specs[name]
	return spec, ok
}

func (m *Manager) nextSubmitOrder() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitOrd++
	return m.submitOrd
}

func (m *Manager) publish(ctx context.Context, t bus.EventType, run domain.PipelineRun) {
	if m.deps.Bus == nil {
		return
	}
	if err := m.deps.Bus.Publish(ctx, bus.NewEvent(t, run.CorrelationID, run)); err != nil && m.log != nil {
		m.log.Warn("publish failed", "event", t, "run_id", run.ID, "error", err)
	}
}

// backoffWithJitter applies spec.md §4.6's exponential jitter,
// delay * U(0.5, 1.5), on top of RetryPolicy.Delay's deterministic curve.
func backoffWithJitter(policy domain.RetryPolicy, attempt int) time.Duration {
	base := policy.Delay(attempt)
	if base <= 0 {
		return 0
	}
	jitter := 0.5 + rand.Float64()
	d := time.Duration(float64(base) * jitter)
	if policy.MaxDelay > 0 && d > policy.MaxDelay {
		return policy.MaxDelay
	}
	return d
}

// topoOrder returns stage ids in dependency order, or domain.ErrCycleDetected
// if spec's dependency graph is not a DAG.
func topoOrder(spec domain.PipelineSpec) ([]string, error) {
	byID := spec.ByID()
	indegree := make(map[string]int, len(byID))
	children := make(map[string][]string, len(byID))
	for id, st := range byID {
		indegree[id] = len(st.Dependencies)
		for _, dep := range st.Dependencies {
			children[dep] = append(children[dep], id)
		}
	}

	var ready []string
	for id, n := range indegree {
		if n == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		sort.Strings(ready)
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, child := range children[id] {
			indegree[child]--
			if indegree[child] == 0 {
				ready = append(ready, child)
			}
		}
	}
	if len(order) != len(byID) {
		return nil, fmt.Errorf("%w: pipeline %s", domain.ErrCycleDetected, spec.Name)
	}
	return order, nil
}
