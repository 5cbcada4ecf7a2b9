package workerpool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/r3e-labs/docbackbone/engine/domain"
	"github.com/r3e-labs/docbackbone/pkg/governor"
	"github.com/r3e-labs/docbackbone/pkg/metrics"
)

// Execute runs one task and returns a reference to its artifact. The
// caller (the Pipeline Manager) supplies this; the pool itself only
// schedules, bounds concurrency, and enforces cancellation — it has no
// opinion on what a task does. ctx is canceled on Cancel or on Deadline.
type Execute func(ctx context.Context, t domain.Task) (artifactRef string, err error)

// ClassConfig configures one concurrency class's workers and queue.
type ClassConfig struct {
	Workers      int
	QueueCapacity int
	// CancelGrace, when positive, makes a canceled "process"-class task
	// report domain.ErrTaskTimeout instead of domain.ErrTaskCanceled. The
	// pool does not time the grace period: it waits for Execute to return
	// however long that takes, and nothing force-kills the goroutine.
	CancelGrace time.Duration
}

// Handle is returned by Submit; Await blocks on it for the task's outcome.
type Handle struct {
	Task domain.Task
	done chan domain.TaskOutcome
}

// Pool is the Worker Pool (spec.md §4.5): one bounded priority queue per
// concurrency class, a persistent dispatcher goroutine per class bounded by
// a semaphore, and a resource governor admission gate consulted before
// every dispatch.
//
// Because class dispatch already runs on a long-lived goroutine independent
// of any single task's goroutine, a panicking task (domain.ErrWorkerDied)
// never requires the pool to spawn a "replacement worker" explicitly — the
// dispatcher that owns that class was never blocked on the failed task in
// the first place, and simply keeps pulling the next one off the queue.
type Pool struct {
	logger   *slog.Logger
	metrics  *metrics.Registry
	governor *governor.Governor
	execute  Execute

	queues map[domain.ConcurrencyClass]*classQueue
	sems   map[domain.ConcurrencyClass]*semaphore.Weighted
	cfgs   map[domain.ConcurrencyClass]ClassConfig

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
	handles map[uuid.UUID]*Handle

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New constructs a Pool. classes configures each ConcurrencyClass the pool
// should dispatch; a class absent from classes is rejected by Submit.
func New(logger *slog.Logger, m *metrics.Registry, g *governor.Governor, execute Execute, classes map[domain.ConcurrencyClass]ClassConfig) *Pool {
	p := &Pool{
		logger:   logger,
		metrics:  m,
		governor: g,
		execute:  execute,
		queues:   make(map[domain.ConcurrencyClass]*classQueue),
		sems:     make(map[domain.ConcurrencyClass]*semaphore.Weighted),
		cfgs:     make(map[domain.ConcurrencyClass]ClassConfig),
		cancels:  make(map[uuid.UUID]context.CancelFunc),
		handles:  make(map[uuid.UUID]*Handle),
		stopCh:   make(chan struct{}),
	}
	for class, cfg := range classes {
		if cfg.Workers <= 0 {
			cfg.Workers = 1
		}
		p.cfgs[class] = cfg
		p.queues[class] = newClassQueue(cfg.QueueCapacity)
		p.sems[class] = semaphore.NewWeighted(int64(cfg.Workers))
	}
	return p
}

// Start launches one dispatcher goroutine per configured class. It returns
// immediately; call Stop to drain and shut down.
func (p *Pool) Start(ctx context.Context) {
	for class := range p.cfgs {
		p.wg.Add(1)
		go p.dispatch(ctx, class)
	}
}

// Stop signals every dispatcher to exit and waits for in-flight tasks to
// finish.
func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

// Submit enqueues t onto its class's priority queue.
func (p *Pool) Submit(t domain.Task) (*Handle, error) {
	q, ok := p.queues[t.Class]
	if !ok {
		return nil, domain.ErrInvalidStage
	}
	if err := q.Push(t); err != nil {
		return nil, err
	}
	if p.metrics != nil {
		p.metrics.TasksSubmitted.WithLabelValues(string(t.Class)).Inc()
		p.metrics.QueueDepth.WithLabelValues(string(t.Class)).Set(float64(q.Len()))
	}
	h := &Handle{Task: t, done: make(chan domain.TaskOutcome, 1)}
	p.mu.Lock()
	p.handles[t.ID] = h
	p.mu.Unlock()
	return h, nil
}

// Await blocks until h's task completes or ctx is canceled.
func (p *Pool) Await(ctx context.Context, h *Handle) (domain.TaskOutcome, error) {
	select {
	case outcome := <-h.done:
		return outcome, nil
	case <-ctx.Done():
		return domain.TaskOutcome{}, ctx.Err()
	}
}

// Cancel requests cooperative cancellation of an in-flight task. Cooperative
// tasks are expected to check ctx.Err() at their own safe points. Every class
// is canceled the same way; the only difference is that a canceled process
// class task with a positive CancelGrace is reported as
// domain.ErrTaskTimeout.
func (p *Pool) Cancel(taskID uuid.UUID) {
	p.mu.Lock()
	cancel, ok := p.cancels[taskID]
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

func (p *Pool) dispatch(ctx context.Context, class domain.ConcurrencyClass) {
	defer p.wg.Done()
	q := p.queues[class]
	sem := p.sems[class]
	cfg := p.cfgs[class]

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if p.governor != nil && !p.governor.Admit() {
			time.Sleep(50 * time.Millisecond)
			continue
		}

		task, ok := q.Pop()
		if !ok {
			select {
			case <-q.notify:
			case <-time.After(50 * time.Millisecond):
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
			continue
		}
		if p.metrics != nil {
			p.metrics.QueueDepth.WithLabelValues(string(class)).Set(float64(q.Len()))
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		p.wg.Add(1)
		go p.run(ctx, class, cfg, task, sem)
	}
}

func (p *Pool) run(parent context.Context, class domain.ConcurrencyClass, cfg ClassConfig, task domain.Task, sem *semaphore.Weighted) {
	defer p.wg.Done()
	defer sem.Release(1)

	taskCtx, cancel := context.WithCancel(parent)
	if !task.Deadline.IsZero() {
		taskCtx, cancel = context.WithDeadline(taskCtx, task.Deadline)
	}
	p.mu.Lock()
	p.cancels[task.ID] = cancel
	p.mu.Unlock()
	defer func() {
		cancel()
		p.mu.Lock()
		delete(p.cancels, task.ID)
		p.mu.Unlock()
	}()

	if p.metrics != nil {
		p.metrics.ActiveWorkers.WithLabelValues(string(class)).Inc()
		defer p.metrics.ActiveWorkers.WithLabelValues(string(class)).Dec()
	}

	outcome := p.safeExecute(taskCtx, class, cfg, task)

	if p.metrics != nil {
		p.metrics.TaskDuration.WithLabelValues(string(class)).Observe(outcome.Duration().Seconds())
		label := "success"
		if !outcome.Success {
			label = "failure"
		}
		p.metrics.TasksCompleted.WithLabelValues(string(class), label).Inc()
	}

	p.mu.Lock()
	h, ok := p.handles[task.ID]
	delete(p.handles, task.ID)
	p.mu.Unlock()
	if ok {
		h.done <- outcome
	}
}

func (p *Pool) safeExecute(ctx context.Context, class domain.ConcurrencyClass, cfg ClassConfig, task domain.Task) (outcome domain.TaskOutcome) {
	outcome.TaskID = task.ID
	outcome.StartedAt = time.Now().UTC()
	defer func() {
		outcome.EndedAt = time.Now().UTC()
		if r := recover(); r != nil {
			outcome.Success = false
			outcome.Err = domain.ErrWorkerDied
			if p.logger != nil {
				p.logger.Error("worker panicked", "task_id", task.ID, "class", class, "panic", r)
			}
		}
	}()

	ref, err := p.execute(ctx, task)
	if err != nil {
		outcome.Success = false
		if ctx.Err() != nil {
			outcome.Err = classifyCancellation(class, cfg, ctx)
		} else {
			outcome.Err = err
		}
		return outcome
	}
	outcome.Success = true
	outcome.ArtifactRef = ref
	return outcome
}

func classifyCancellation(class domain.ConcurrencyClass, cfg ClassConfig, ctx context.Context) error {
	if class == domain.ClassProcess && cfg.CancelGrace > 0 {
		return domain.ErrTaskTimeout
	}
	if ctx.Err() == context.DeadlineExceeded {
		return domain.ErrTaskTimeout
	}
	return domain.ErrTaskCanceled
}
