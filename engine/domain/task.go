package domain

import (
	"time"

	"github.com/google/uuid"
)

// Task is one unit of work dispatched to the Worker Pool: run one stage of
// a PipelineRun against one document.
type Task struct {
	ID            uuid.UUID
	RunID         uuid.UUID
	StageID       string
	DocumentID    uuid.UUID
	ProcessorName string
	Class         ConcurrencyClass
	Priority      int
	Deadline      time.Time
	SubmitOrder   int64
	Attempt       int
	Options       map[string]any
	CorrelationID uuid.UUID
}

// Less orders tasks for the Worker Pool's priority queues: higher explicit
// priority first, then earlier deadline, then earlier submit order — the
// tuple from spec.md §4.5.
func (t Task) Less(o Task) bool {
	if t.Priority != o.Priority {
		return t.Priority > o.Priority
	}
	if !t.Deadline.Equal(o.Deadline) {
		return t.Deadline.Before(o.Deadline)
	}
	return t.SubmitOrder < o.SubmitOrder
}

// TaskOutcome is the terminal result of a Task's execution, returned to the
// Pipeline Manager by the Worker Pool.
type TaskOutcome struct {
	TaskID     uuid.UUID
	Success    bool
	Err        error
	ArtifactRef string
	StartedAt  time.Time
	EndedAt    time.Time
}

// Duration is the task's wall-clock execution time.
func (o TaskOutcome) Duration() time.Duration {
	return o.EndedAt.Sub(o.StartedAt)
}
