// Package progress implements the Progress Tracker: weighted-mean fraction
// aggregation from task up through stage, run, and session, with throttled
// emission onto the Event Bus.
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-labs/docbackbone/engine/bus"
	"github.com/r3e-labs/docbackbone/pkg/metrics"
)

// entityKey identifies one node in the task→stage→run→session aggregation
// tree.
type entityKey struct {
	kind string // "task", "stage", "run", "session"
	id   string
}

type entityState struct {
	fraction     float64
	weight       float64
	lastEmitted  float64
	lastEmitTime time.Time
	emitted      bool
}

// Tracker aggregates progress reports bottom-up and throttles emission per
// spec.md §4.7: at most every MinInterval per entity, plus immediately on
// crossing MinDelta.
type Tracker struct {
	mu    sync.Mutex
	nodes map[entityKey]*entityState
	// parent/weight edges: a child key contributes to its parent with the
	// given weight (estimated cost) when the child's fraction changes.
	parents map[entityKey]weightedParent

	minInterval time.Duration
	minDelta    float64

	bus     *bus.Bus
	metrics *metrics.Registry
}

type weightedParent struct {
	key    entityKey
	weight float64
}

// Config configures emission throttling.
type Config struct {
	MinInterval time.Duration
	MinDelta    float64
}

func New(cfg Config, b *bus.Bus, m *metrics.Registry) *Tracker {
	if cfg.MinDelta <= 0 {
		cfg.MinDelta = 0.05
	}
	return &Tracker{
		nodes:       make(map[entityKey]*entityState),
		parents:     make(map[entityKey]weightedParent),
		minInterval: cfg.MinInterval,
		minDelta:    cfg.MinDelta,
		bus:         b,
		metrics:     m,
	}
}

// Link declares that child rolls up into parent with the given weight
// (estimated cost), used when computing parent's weighted-mean fraction.
// Must be called before the first Report naming child.
func (t *Tracker) Link(childKind, childID string, parentKind, parentID string, weight float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.parents[entityKey{childKind, childID}] = weightedParent{
		key:    entityKey{parentKind, parentID},
		weight: weight,
	}
}

// Report records a task's progress fraction and propagates the weighted
// mean up through every linked ancestor, emitting throttled progress events
// along the way. The chain above taskID comes from the edges registered with
// Link and ends at the first entity that has no linked parent.
func (t *Tracker) Report(ctx context.Context, correlationID uuid.UUID, taskID string, fraction float64, message string) {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}

	t.mu.Lock()
	key := entityKey{"task", taskID}
	node := t.nodeLocked(key)
	node.fraction = fraction

	chain := []entityKey{key}
	cur := key
	for {
		parent, ok := t.parents[cur]
		if !ok {
			break
		}
		chain = append(chain, parent.key)
		cur = parent.key
	}

	toEmit := make([]entityKey, 0, len(chain))
	for i, k := range chain {
		n := t.nodeLocked(k)
		if i > 0 {
			n.fraction = t.weightedMeanLocked(k)
		}
		if t.shouldEmitLocked(n) {
			n.lastEmitted = n.fraction
			n.lastEmitTime = time.Now()
			n.emitted = true
			toEmit = append(toEmit, k)
		}
	}
	t.mu.Unlock()

	for _, k := range toEmit {
		t.emit(ctx, correlationID, k, message)
	}
}

func (t *Tracker) nodeLocked(k entityKey) *entityState {
	n, ok := t.nodes[k]
	if !ok {
		n = &entityState{}
		t.nodes[k] = n
	}
	return n
}

// weightedMeanLocked computes k's fraction as the weighted mean of its
// direct children's fractions, each child weighted by the weight passed to
// Link for it; a weight of zero or less counts as 1.
func (t *Tracker) weightedMeanLocked(k entityKey) float64 {
	var sumW, sumWF float64
	for child, parent := range t.parents {
		if parent.key != k {
			continue
		}
		childNode, ok := t.nodes[child]
		if !ok {
			continue
		}
		w := parent.weight
		if w <= 0 {
			w = 1
		}
		sumW += w
		sumWF += w * childNode.fraction
	}
	if sumW == 0 {
		return t.nodes[k].fraction
	}
	return sumWF / sumW
}

func (t *Tracker) shouldEmitLocked(n *entityState) bool {
	if !n.emitted {
		return true
	}
	if t.minInterval > 0 && time.Since(n.lastEmitTime) < t.minInterval {
		return absDelta(n.fraction, n.lastEmitted) >= t.minDelta
	}
	return true
}

func (t *Tracker) emit(ctx context.Context, correlationID uuid.UUID, k entityKey, message string) {
	if t.metrics != nil {
		t.metrics.ProgressEmitted.Inc()
	}
	if t.bus == nil {
		return
	}
	t.mu.Lock()
	fraction := t.nodes[k].fraction
	t.mu.Unlock()
	payload := Snapshot{EntityKind: k.kind, EntityID: k.id, Fraction: fraction, Message: message}
	_ = t.bus.Publish(ctx, bus.NewEvent(bus.EventProgress, correlationID, payload))
}

// Snapshot is the wire payload carried on bus.EventProgress.
type Snapshot struct {
	EntityKind string
	EntityID   string
	Fraction   float64
	Message    string
}

func absDelta(a, b float64) float64 {
	d := a - b
	if d < 0 {
		return -d
	}
	return d
}
