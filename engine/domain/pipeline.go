package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BackoffKind selects the retry backoff curve for a StageSpec.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

// RetryPolicy governs per-stage retry behavior. Exponential backoff follows
// spec.md §4.6: delay = base * 2^(attempt-1) * U(0.5, 1.5).
type RetryPolicy struct {
	MaxAttempts int
	Backoff     BackoffKind
	Base        time.Duration
	MaxDelay    time.Duration
}

// Delay returns the backoff delay before the given attempt (1-indexed),
// excluding jitter; callers apply jitter themselves so it stays testable.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.Backoff == BackoffFixed || p.Base <= 0 {
		return p.Base
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d > p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// ResourceHints declares the resources a stage is expected to consume, used
// by the worker pool's resource governor to decide dispatch.
type ResourceHints struct {
	CPUMillis int
	MemoryMB  int
	GPU       bool
}

// OnFailurePolicy is the action taken when a stage exhausts its retries.
type OnFailurePolicy string

const (
	OnFailureFailPipeline  OnFailurePolicy = "fail-pipeline"
	OnFailureSkipDependents OnFailurePolicy = "skip-dependents"
	OnFailureContinue      OnFailurePolicy = "continue"
)

// ConcurrencyClass selects which Worker Pool queue a stage's tasks dispatch
// to, declared by the Processor the stage names (see engine/registry).
type ConcurrencyClass string

const (
	ClassCooperative ConcurrencyClass = "cooperative"
	ClassThread      ConcurrencyClass = "thread"
	ClassProcess     ConcurrencyClass = "process"
)

// StageSpec is one DAG node.
type StageSpec struct {
	ID            string
	ProcessorName string
	Dependencies  []string
	Timeout       time.Duration
	Retry         RetryPolicy
	Resources     ResourceHints
	OnFailure     OnFailurePolicy
	Options       map[string]any
}

// PipelineSpec is a named, ordered DAG of stages.
type PipelineSpec struct {
	Name   string
	Stages []StageSpec
}

// ByID indexes stages for O(1) lookup.
func (s PipelineSpec) ByID() map[string]StageSpec {
	m := make(map[string]StageSpec, len(s.Stages))
	for _, st := range s.Stages {
		m[st.ID] = st
	}
	return m
}

// Validate checks structural well-formedness (not acyclicity — that is the
// Pipeline Manager's job since it needs the full dependency graph and is
// exercised by its own CycleDetected path).
func (s PipelineSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: pipeline spec missing name", ErrValidationFailed)
	}
	if len(s.Stages) == 0 {
		return fmt.Errorf("%w: pipeline spec %s has no stages", ErrValidationFailed, s.Name)
	}
	byID := s.ByID()
	for _, st := range s.Stages {
		if st.ID == "" {
			return fmt.Errorf("%w: stage missing id in pipeline %s", ErrValidationFailed, s.Name)
		}
		if st.ProcessorName == "" {
			return fmt.Errorf("%w: stage %s missing processor_name", ErrValidationFailed, st.ID)
		}
		for _, dep := range st.Dependencies {
			if _, ok := byID[dep]; !ok {
				return fmt.Errorf("%w: stage %s depends on unknown stage %s", ErrInvalidStage, st.ID, dep)
			}
		}
	}
	return nil
}

// RunState is the PipelineRun state machine from spec.md §3/§4.6.
type RunState string

const (
	RunCreated   RunState = "created"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
	RunCancelled RunState = "cancelled"
)

func (s RunState) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// StageState is a stage's state within a single PipelineRun.
type StageState string

const (
	StagePending   StageState = "pending"
	StageReady     StageState = "ready"
	StageRunning   StageState = "running"
	StageCompleted StageState = "completed"
	StageFailed    StageState = "failed"
	StageSkipped   StageState = "skipped"
	StageCancelled StageState = "cancelled"
)

// Satisfied reports whether a dependency in this state satisfies a
// downstream stage's readiness, per spec.md §4.6's "ready when all
// dependencies are completed, or (for continue policy) skipped/failed".
// depPolicy is the dependency's OWN on_failure policy (a stage that fails
// triggers its own policy, per spec.md §4.6), not the downstream stage's.
func (s StageState) Satisfied(depPolicy OnFailurePolicy) bool {
	switch s {
	case StageCompleted, StageSkipped:
		return true
	case StageFailed:
		return depPolicy == OnFailureContinue
	default:
		return false
	}
}

// PipelineRun is one execution of a PipelineSpec against one document.
type PipelineRun struct {
	ID            uuid.UUID
	SpecName      string
	DocumentID    uuid.UUID
	State         RunState
	StageStates   map[string]StageState
	Attempts      map[string]int
	Checkpoints   map[string]string // stage_id -> artifact_ref
	StartedAt     *time.Time
	EndedAt       *time.Time
	CorrelationID uuid.UUID
	Warnings      []string
}

// NewRun creates a run in the created state with all stages pending.
func NewRun(spec PipelineSpec, documentID uuid.UUID) PipelineRun {
	states := make(map[string]StageState, len(spec.Stages))
	attempts := make(map[string]int, len(spec.Stages))
	for _, st := range spec.Stages {
		states[st.ID] = StagePending
		attempts[st.ID] = 0
	}
	return PipelineRun{
		ID:            uuid.New(),
		SpecName:      spec.Name,
		DocumentID:    documentID,
		State:         RunCreated,
		StageStates:   states,
		Attempts:      attempts,
		Checkpoints:   make(map[string]string),
		CorrelationID: uuid.New(),
	}
}

// IsComplete reports invariant #1 from spec.md §8: every non-skipped stage
// in spec must be StageCompleted for the run to be completed.
func (r PipelineRun) IsComplete(spec PipelineSpec) bool {
	for _, st := range spec.Stages {
		s := r.StageStates[st.ID]
		if s != StageCompleted && s != StageSkipped {
			return false
		}
	}
	return true
}
