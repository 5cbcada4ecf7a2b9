package pipeline

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-labs/docbackbone/engine/bus"
	"github.com/r3e-labs/docbackbone/engine/domain"
)

// scheduler drives one PipelineRun's execution: seeding ready stages,
// dispatching them to the Worker Pool in tie-break order, and processing
// completions (checkpoint, retry, or failure-policy propagation) until the
// run reaches a terminal state.
type scheduler struct {
	mgr  *Manager
	spec domain.PipelineSpec

	inFlightTasks map[string]uuid.UUID
	// failed is set once a stage's on_failure=fail-pipeline policy fires. It
	// halts further dispatch so independent branches of the DAG don't keep
	// running to completion behind the failure's back; the run drains its
	// remaining in-flight tasks and then finalizes as RunFailed regardless
	// of whether every stage technically completed.
	failed bool
}

type stageResult struct {
	stageID string
	outcome domain.TaskOutcome
}

func (s *scheduler) run(ctx context.Context, run domain.PipelineRun) error {
	byID := s.spec.ByID()
	children := childrenOf(s.spec)
	s.inFlightTasks = make(map[string]uuid.UUID)

	results := make(chan stageResult, 64)
	retryCh := make(chan string, len(byID))
	pendingRetries := 0

	for {
		if ctx.Err() != nil {
			return s.finalizeCancelled(ctx, &run)
		}

		var ready []string
		if !s.failed {
			ready = s.sortReady(s.readyStages(run, byID), byID)
		}
		for _, stageID := range ready {
			run.StageStates[stageID] = domain.StageRunning
			if err := s.dispatch(ctx, &run, byID[stageID], results); err != nil {
				return err
			}
		}
		if len(ready) > 0 {
			if _, err := s.mgr.deps.Runs.Update(ctx, run); err != nil {
				return err
			}
		}

		if len(s.inFlightTasks) == 0 && pendingRetries == 0 {
			break
		}

		select {
		case res := <-results:
			delete(s.inFlightTasks, res.stageID)
			retrying, err := s.handleResult(ctx, &run, byID, children, res)
			if err != nil {
				return err
			}
			if retrying {
				pendingRetries++
				delay := backoffWithJitter(byID[res.stageID].Retry, run.Attempts[res.stageID])
				go func(stageID string) {
					timer := time.NewTimer(delay)
					defer timer.Stop()
					select {
					case <-timer.C:
						select {
						case retryCh <- stageID:
						case <-ctx.Done():
						}
					case <-ctx.Done():
					}
				}(res.stageID)
			}
		case stageID := <-retryCh:
			pendingRetries--
			run.StageStates[stageID] = domain.StagePending
		case <-ctx.Done():
			return s.finalizeCancelled(ctx, &run)
		}
	}

	return s.finalize(ctx, &run)
}

// dispatch submits st's task to the Worker Pool and spawns a goroutine that
// forwards its outcome back onto results once the pool completes it.
func (s *scheduler) dispatch(ctx context.Context, run *domain.PipelineRun, st domain.StageSpec, results chan stageResult) error {
	var class domain.ConcurrencyClass = domain.ClassCooperative
	if proc, err := s.mgr.deps.Registry.Latest(st.ProcessorName); err == nil {
		class = proc.ConcurrencyClass()
	}

	var deadline time.Time
	if st.Timeout > 0 {
		deadline = time.Now().Add(st.Timeout)
	}
	priority := 0
	if p, ok := st.Options["priority"].(int); ok {
		priority = p
	}

	task := domain.Task{
		ID:            uuid.New(),
		RunID:         run.ID,
		StageID:       st.ID,
		DocumentID:    run.DocumentID,
		ProcessorName: st.ProcessorName,
		Class:         class,
		Priority:      priority,
		Deadline:      deadline,
		SubmitOrder:   s.mgr.nextSubmitOrder(),
		Attempt:       run.Attempts[st.ID] + 1,
		Options:       st.Options,
		CorrelationID: run.CorrelationID,
	}

	handle, err := s.mgr.deps.Pool.Submit(task)
	if err != nil {
		return err
	}
	s.inFlightTasks[st.ID] = task.ID
	s.mgr.publish(ctx, bus.EventStageStarted, *run)

	pool := s.mgr.deps.Pool
	go func() {
		outcome, err := pool.Await(context.Background(), handle)
		if err != nil {
			outcome = domain.TaskOutcome{TaskID: task.ID, Success: false, Err: err}
		}
		select {
		case results <- stageResult{stageID: st.ID, outcome: outcome}:
		case <-ctx.Done():
		}
	}()
	return nil
}

// handleResult processes one stage's outcome: checkpoint on success, retry
// or failure-policy propagation on failure. It returns true if the stage
// will be retried (a retry timer has been armed by the caller).
func (s *scheduler) handleResult(ctx context.Context, run *domain.PipelineRun, byID map[string]domain.StageSpec, children map[string][]string, res stageResult) (bool, error) {
	st := byID[res.stageID]

	if res.outcome.Success {
		run.Checkpoints[res.stageID] = res.outcome.ArtifactRef
		run.StageStates[res.stageID] = domain.StageCompleted
		if s.mgr.deps.Checkpoint != nil {
			if err := s.mgr.deps.Checkpoint(ctx, *run); err != nil {
				return false, err
			}
		}
		s.mgr.publish(ctx, bus.EventStageCompleted, *run)
		return false, nil
	}

	run.Attempts[res.stageID]++
	maxAttempts := st.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if run.Attempts[res.stageID] < maxAttempts {
		return true, nil
	}

	run.StageStates[res.stageID] = domain.StageFailed
	run.Warnings = append(run.Warnings, "stage "+res.stageID+" failed: "+res.outcome.Err.Error())
	s.mgr.publish(ctx, bus.EventStageFailed, *run)

	switch st.OnFailure {
	case domain.OnFailureSkipDependents:
		skipDownstream(run, children, res.stageID)
	case domain.OnFailureContinue:
		// StageState.Satisfied(OnFailureContinue) already treats a failed
		// dependency as satisfying downstream readiness; nothing else to do.
	default: // OnFailureFailPipeline, and the zero value
		s.failed = true
		s.cancelInFlight()
	}
	return false, nil
}

func (s *scheduler) cancelInFlight() {
	for _, taskID := range s.inFlightTasks {
		s.mgr.deps.Pool.Cancel(taskID)
	}
}

func (s *scheduler) finalize(ctx context.Context, run *domain.PipelineRun) error {
	now := time.Now().UTC()
	run.EndedAt = &now
	complete := !s.failed
	for _, st := range s.spec.Stages {
		state := run.StageStates[st.ID]
		if state == domain.StageFailed && st.OnFailure == domain.OnFailureSkipDependents {
			continue
		}
		if state != domain.StageCompleted && state != domain.StageSkipped {
			complete = false
		}
	}
	if complete {
		run.State = domain.RunCompleted
	} else {
		run.State = domain.RunFailed
	}
	if _, err := s.mgr.deps.Runs.Update(ctx, *run); err != nil {
		return err
	}
	s.mgr.publish(ctx, bus.EventRunStateChanged, *run)
	return nil
}

func (s *scheduler) finalizeCancelled(ctx context.Context, run *domain.PipelineRun) error {
	s.cancelInFlight()
	now := time.Now().UTC()
	run.State = domain.RunCancelled
	run.EndedAt = &now
	for id, state := range run.StageStates {
		if state == domain.StageRunning || state == domain.StagePending || state == domain.StageReady {
			run.StageStates[id] = domain.StageCancelled
		}
	}
	if _, err := s.mgr.deps.Runs.Update(context.Background(), *run); err != nil {
		return err
	}
	s.mgr.publish(context.Background(), bus.EventRunStateChanged, *run)
	return nil
}

// readyStages returns every stage not yet dispatched this round whose
// dependencies are all satisfied, per each dependency's own OnFailure
// policy — a failed dependency only satisfies readiness if that dependency
// itself declared on_failure=continue, regardless of the downstream
// stage's own policy.
func (s *scheduler) readyStages(run domain.PipelineRun, byID map[string]domain.StageSpec) []string {
	var ready []string
	for id, st := range byID {
		if run.StageStates[id] != domain.StagePending {
			continue
		}
		satisfied := true
		for _, dep := range st.Dependencies {
			if !run.StageStates[dep].Satisfied(byID[dep].OnFailure) {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, id)
		}
	}
	return ready
}

// sortReady orders ready by spec.md §4.6's tie-break: explicit priority
// (declared via StageSpec.Options["priority"]) desc, then longest critical
// path desc, then stage id lexicographic.
func (s *scheduler) sortReady(ready []string, byID map[string]domain.StageSpec) []string {
	paths := criticalPaths(s.spec)
	sort.Slice(ready, func(i, j int) bool {
		a, b := byID[ready[i]], byID[ready[j]]
		pa, pb := 0, 0
		if p, ok := a.Options["priority"].(int); ok {
			pa = p
		}
		if p, ok := b.Options["priority"].(int); ok {
			pb = p
		}
		if pa != pb {
			return pa > pb
		}
		if paths[ready[i]] != paths[ready[j]] {
			return paths[ready[i]] > paths[ready[j]]
		}
		return ready[i] < ready[j]
	})
	return ready
}

// skipDownstream marks every stage transitively dependent on failedID as
// skipped, per the skip-dependents on_failure policy.
func skipDownstream(run *domain.PipelineRun, children map[string][]string, failedID string) {
	queue := append([]string{}, children[failedID]...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		switch run.StageStates[id] {
		case domain.StageSkipped, domain.StageCompleted, domain.StageFailed, domain.StageCancelled:
			continue
		}
		run.StageStates[id] = domain.StageSkipped
		queue = append(queue, children[id]...)
	}
}

func childrenOf(spec domain.PipelineSpec) map[string][]string {
	children := make(map[string][]string, len(spec.Stages))
	for _, st := range spec.Stages {
		for _, dep := range st.Dependencies {
			children[dep] = append(children[dep], st.ID)
		}
	}
	return children
}

// criticalPaths computes, for every stage, the sum of declared timeouts on
// its longest downstream chain (inclusive of the stage's own timeout) — the
// tie-break metric from spec.md §4.6.
func criticalPaths(spec domain.PipelineSpec) map[string]time.Duration {
	byID := spec.ByID()
	children := childrenOf(spec)
	memo := make(map[string]time.Duration, len(byID))

	var visit func(id string) time.Duration
	visit = func(id string) time.Duration {
		if d, ok := memo[id]; ok {
			return d
		}
		st := byID[id]
		best := time.Duration(0)
		for _, child := range children[id] {
			if d := visit(child); d > best {
				best = d
			}
		}
		total := st.Timeout + best
		memo[id] = total
		return total
	}
	for id := range byID {
		visit(id)
	}
	return memo
}
