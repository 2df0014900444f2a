// Package engine owns run lifecycles: it validates and accepts workflow
// definitions, dispatches execution through a run queue, and serves task
// tree snapshots from memory. Persistence is an optional collaborator fed
// by transition events; the engine is correct without it.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"nodeflow/internal/core/ports"
	"nodeflow/internal/ctxlog"
	"nodeflow/internal/domain"
	"nodeflow/internal/metrics"
	"nodeflow/internal/progress"
	"nodeflow/internal/registry"
	"nodeflow/internal/scheduler"
)

// Config wires the engine's collaborators. Registry is required; everything
// else has a working zero value.
type Config struct {
	Registry *registry.Registry
	Sink     ports.EventSink
	Queue    ports.RunQueue
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	Scheduler scheduler.Options

	// Dispatchers is the number of goroutines draining the run queue,
	// bounding how many runs execute concurrently.
	Dispatchers int
}

type runHandle struct {
	run      *domain.Run
	reporter progress.Reporter
	cancel   context.CancelFunc
	// cancelled is set when Cancel arrives before the run leaves the
	// dispatch queue; executeRun then starts the run pre-cancelled.
	cancelled bool
	done      chan struct{}
}

type Engine struct {
	cfg   Config
	sched *scheduler.Scheduler

	mu   sync.RWMutex
	runs map[uuid.UUID]*runHandle

	wg sync.WaitGroup
}

func New(cfg Config) *Engine {
	if cfg.Registry == nil {
		panic("engine: registry is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Queue == nil {
		cfg.Queue = newMemQueue(1024)
	}
	if cfg.Dispatchers <= 0 {
		cfg.Dispatchers = 4
	}
	return &Engine{
		cfg:   cfg,
		sched: scheduler.New(cfg.Registry, cfg.Sink, cfg.Metrics, cfg.Scheduler),
		runs:  make(map[uuid.UUID]*runHandle),
	}
}

// Start launches the dispatcher pool. It returns immediately; dispatchers
// stop when ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	for i := 0; i < e.cfg.Dispatchers; i++ {
		e.wg.Add(1)
		go e.dispatch(ctx, i)
	}
}

// Wait blocks until all dispatchers have stopped.
func (e *Engine) Wait() { e.wg.Wait() }

func (e *Engine) dispatch(ctx context.Context, id int) {
	defer e.wg.Done()
	logger := e.cfg.Logger.With("dispatcher", id)
	for {
		runID, err := e.cfg.Queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("queue pop failed", "error", err)
			continue
		}
		parsed, err := uuid.Parse(runID)
		if err != nil {
			logger.Error("bad run id on queue", "runID", runID, "error", err)
			continue
		}
		e.executeRun(ctx, parsed)
	}
}

func (e *Engine) executeRun(ctx context.Context, runID uuid.UUID) {
	e.mu.RLock()
	h, ok := e.runs[runID]
	e.mu.RUnlock()
	if !ok {
		e.cfg.Logger.Warn("queued run not found in store", "runID", runID)
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	h.cancel = cancel
	cancelled := h.cancelled
	e.mu.Unlock()
	defer cancel()
	defer close(h.done)

	// Cancelled while still queued: run the scheduler with a dead context
	// so every node settles skipped and the run ends cancelled.
	if cancelled {
		cancel()
	}

	runCtx = ctxlog.WithLogger(runCtx, e.cfg.Logger)
	res, err := e.sched.Execute(runCtx, h.run, h.reporter)
	if err != nil {
		// Definition-level failures are caught at submit; reaching this
		// means the run never produced tasks.
		e.cfg.Logger.Error("run rejected at execution", "runID", runID, "error", err)
	}

	now := time.Now()
	e.mu.Lock()
	h.run.Status = res.Status
	h.run.Output = res.Output
	h.run.EndedAt = &now
	e.mu.Unlock()

	e.cfg.Metrics.RunFinished(res.Status)
	e.emitTerminal(ctx, h.run)
}

// Submit validates the definition synchronously and accepts the run for
// asynchronous execution, returning its id immediately. Reporter may be nil.
func (e *Engine) Submit(ctx context.Context, def domain.WorkflowDefinition, input map[string]any, reporter progress.Reporter) (uuid.UUID, error) {
	if err := e.validate(&def); err != nil {
		return uuid.Nil, err
	}

	run := domain.NewRun(def, input)
	h := &runHandle{run: run, reporter: reporter, done: make(chan struct{})}

	e.mu.Lock()
	e.runs[run.ID] = h
	e.mu.Unlock()

	e.cfg.Metrics.RunStarted()
	e.emitAccepted(ctx, run)

	if err := e.cfg.Queue.Push(ctx, run.ID.String()); err != nil {
		e.mu.Lock()
		delete(e.runs, run.ID)
		e.mu.Unlock()
		return uuid.Nil, fmt.Errorf("enqueue run: %w", err)
	}
	e.cfg.Logger.Info("run accepted", "runID", run.ID, "workflow", def.Name)
	return run.ID, nil
}

// validate rejects bad definitions before any task exists: structural
// invariants, cycles, unknown node types, and config schema violations,
// recursively through subworkflows.
func (e *Engine) validate(def *domain.WorkflowDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if _, err := scheduler.TopoBatches(def); err != nil {
		return err
	}
	for _, n := range def.Nodes {
		if n.IsSubworkflow() {
			if err := e.validate(n.Subworkflow); err != nil {
				return err
			}
			continue
		}
		desc, err := e.cfg.Registry.Resolve(n.Type)
		if err != nil {
			return fmt.Errorf("node %q: %w", n.ID, err)
		}
		if err := desc.Config.Validate("config", n.Config); err != nil {
			return fmt.Errorf("node %q: %w", n.ID, err)
		}
	}
	return nil
}

// GetRun returns a point-in-time snapshot of the run's task tree. The lock
// is held across the snapshot: executeRun writes the run's terminal fields
// under the same lock.
func (e *Engine) GetRun(runID uuid.UUID) (domain.RunSnapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.runs[runID]
	if !ok {
		return domain.RunSnapshot{}, domain.ErrRunNotFound
	}
	return snapshot(h.run), nil
}

// ListRuns returns snapshots of all runs the engine knows about, newest
// first.
func (e *Engine) ListRuns() []domain.RunSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.RunSnapshot, 0, len(e.runs))
	for _, h := range e.runs {
		out = append(out, snapshot(h.run))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Cancel stops dispatching new batches for the run. In-flight executors are
// cooperatively cancelled through their context; a run still waiting in the
// dispatch queue is settled cancelled when a dispatcher picks it up.
func (e *Engine) Cancel(runID uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.runs[runID]
	if !ok {
		return domain.ErrRunNotFound
	}
	h.cancelled = true
	if h.cancel != nil {
		h.cancel()
	}
	return nil
}

// WaitForRun blocks until the run reaches a terminal status or the context
// is done. Mostly useful for embedding and tests.
func (e *Engine) WaitForRun(ctx context.Context, runID uuid.UUID) (domain.RunSnapshot, error) {
	e.mu.RLock()
	h, ok := e.runs[runID]
	e.mu.RUnlock()
	if !ok {
		return domain.RunSnapshot{}, domain.ErrRunNotFound
	}
	select {
	case <-h.done:
		return snapshot(h.run), nil
	case <-ctx.Done():
		return domain.RunSnapshot{}, ctx.Err()
	}
}

func (e *Engine) emitAccepted(ctx context.Context, run *domain.Run) {
	e.emitRunEvent(ctx, domain.RunTransitionEvent{
		RunID:  run.ID,
		Name:   run.Definition.Name,
		Status: domain.RunRunning,
		At:     time.Now(),
	})
}

func (e *Engine) emitTerminal(ctx context.Context, run *domain.Run) {
	e.mu.RLock()
	ev := domain.RunTransitionEvent{
		RunID:  run.ID,
		Name:   run.Definition.Name,
		Status: run.Status,
		Output: run.Output,
		At:     time.Now(),
	}
	e.mu.RUnlock()
	e.emitRunEvent(ctx, ev)
}

func (e *Engine) emitRunEvent(ctx context.Context, ev domain.RunTransitionEvent) {
	if e.cfg.Sink == nil {
		return
	}
	if err := e.cfg.Sink.RunTransition(context.WithoutCancel(ctx), ev); err != nil {
		e.cfg.Logger.Warn("run event sink error", "runID", ev.RunID, "error", err)
	}
}

func snapshot(run *domain.Run) domain.RunSnapshot {
	return domain.RunSnapshot{
		ID:        run.ID,
		Name:      run.Definition.Name,
		Status:    run.Status,
		Input:     run.Input,
		Output:    run.Output,
		Tasks:     run.Tasks.Snapshot(),
		CreatedAt: run.CreatedAt,
		EndedAt:   run.EndedAt,
	}
}
