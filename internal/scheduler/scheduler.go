// Package scheduler walks a workflow definition's dependency graph and
// drives one run's task tree to a terminal state. Nodes execute batch by
// batch in topological order; nodes within a batch run concurrently on a
// bounded worker group.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"nodeflow/internal/condition"
	"nodeflow/internal/core/ports"
	"nodeflow/internal/ctxlog"
	"nodeflow/internal/domain"
	"nodeflow/internal/metrics"
	"nodeflow/internal/progress"
	"nodeflow/internal/registry"
)

// Options control run-level policy. The failure policy is deliberately a
// switch, not a constant: FailFast aborts remaining batches on the first
// failure, ContinueOnError lets independent branches keep scheduling and
// the run complete if any leaf path survived.
type Options struct {
	FailFast         bool
	ContinueOnError  bool
	StrictConditions bool
	Workers          int
	DefaultTimeout   time.Duration
}

const defaultWorkers = 8

type Scheduler struct {
	registry *registry.Registry
	sink     ports.EventSink
	metrics  *metrics.Metrics
	opts     Options
}

func New(reg *registry.Registry, sink ports.EventSink, m *metrics.Metrics, opts Options) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	return &Scheduler{registry: reg, sink: sink, metrics: m, opts: opts}
}

// execution is the per-run state shared across nesting levels. The task
// tree for a run is exclusively owned by one execution; all graph mutations
// go through mu.
type execution struct {
	s        *Scheduler
	run      *domain.Run
	reporter progress.Reporter

	ctx    context.Context // cancelled on FailFast abort or external cancel
	cancel context.CancelFunc

	mu        sync.Mutex
	failed    bool
	doneUnits int
	total     int
}

// Result is the terminal outcome of one run's execution. The engine, not
// the scheduler, writes it onto the run so API readers never race the
// scheduler on run-level fields.
type Result struct {
	Status domain.RunStatus
	Output map[string]any
}

// Execute runs the definition to completion, populating the run's task
// tree, and returns the terminal outcome. The returned error is non-nil
// only for definition-level problems (cyclic graph), which submission
// should have caught already.
func (s *Scheduler) Execute(ctx context.Context, run *domain.Run, reporter progress.Reporter) (Result, error) {
	logger := ctxlog.FromContext(ctx).With("runID", run.ID)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e := &execution{
		s:        s,
		run:      run,
		reporter: reporter,
		ctx:      runCtx,
		cancel:   cancel,
		total:    len(run.Definition.Nodes),
	}

	progress.Notify(logger, reporter, 0, "start", 0, e.total)

	output, err := e.executeGraph(ctxlog.WithLogger(runCtx, logger), &run.Definition, run.Input, nil)
	if err != nil && !errors.Is(err, context.Canceled) {
		return Result{Status: domain.RunFailed}, err
	}

	res := Result{Status: domain.RunCompleted, Output: output}
	switch {
	case ctx.Err() != nil:
		res = Result{Status: domain.RunCancelled}
	case e.failed && !e.branchSurvived():
		res = Result{Status: domain.RunFailed}
	}

	progress.Notify(logger, reporter, 1, "done", e.doneUnits, e.total)
	logger.Info("run finished", "status", res.Status, "tasks", run.Tasks.Len())
	return res, nil
}

// branchSurvived reports whether failures can be tolerated: under
// ContinueOnError a run still completes when at least one top-level leaf
// node completed, meaning some active path reached an end.
func (e *execution) branchSurvived() bool {
	if !e.s.opts.ContinueOnError {
		return false
	}
	for _, t := range e.run.Tasks.Snapshot() {
		if t.ParentTaskID != nil || t.Status != domain.StatusCompleted {
			continue
		}
		if len(e.run.Definition.OutEdges(t.NodeID)) == 0 {
			return true
		}
	}
	return false
}

// executeGraph drives one definition level. parent is nil at the top level
// and the hosting task's id inside a subworkflow.
func (e *execution) executeGraph(ctx context.Context, def *domain.WorkflowDefinition, input map[string]any, parent *uuid.UUID) (map[string]any, error) {
	batches, err := TopoBatches(def)
	if err != nil {
		return nil, err
	}
	g := newGraphState(def)

	for bi, batch := range batches {
		if e.ctx.Err() != nil {
			e.skipBatches(ctx, batches[bi:], g, parent)
			return nil, e.ctx.Err()
		}

		var ready []domain.NodeSpec
		var readyInputs []map[string]any
		for _, id := range batch {
			node, _ := def.Node(id)
			if !e.nodeLive(g, id) {
				e.skipNode(ctx, g, id, parent)
				continue
			}
			ready = append(ready, node)
			readyInputs = append(readyInputs, g.nodeInput(id, input))
		}

		e.dispatchBatch(ctx, g, ready, readyInputs, parent)

		if e.s.opts.FailFast && e.isFailed() {
			e.cancel()
		}
	}
	return g.leafOutput(), nil
}

// nodeLive reports whether at least one incoming edge fired. Root nodes are
// live unconditionally.
func (e *execution) nodeLive(g *graphState, nodeID string) bool {
	in := g.def.InEdges(nodeID)
	if len(in) == 0 {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ei := range in {
		if g.fired[ei] {
			return true
		}
	}
	return false
}

// dispatchBatch runs the ready nodes of one batch concurrently, bounded by
// the worker count. One slow node must not stall its siblings, so every
// node gets its own goroutine; the semaphore only caps parallelism.
func (e *execution) dispatchBatch(ctx context.Context, g *graphState, nodes []domain.NodeSpec, inputs []map[string]any, parent *uuid.UUID) {
	sem := make(chan struct{}, e.s.opts.Workers)
	var wg sync.WaitGroup
	for i, node := range nodes {
		wg.Add(1)
		go func(node domain.NodeSpec, in map[string]any) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			e.runNode(ctx, g, node, in, parent)
		}(node, inputs[i])
	}
	wg.Wait()
}

// skipNode records a SKIPPED task for a node whose every upstream branch
// died. It never enters RUNNING and its executor is never invoked.
func (e *execution) skipNode(ctx context.Context, g *graphState, nodeID string, parent *uuid.UUID) {
	task := domain.NewTask(e.run.ID, nodeID, parent)
	task.Status = domain.StatusSkipped
	e.run.Tasks.Add(task)
	e.mu.Lock()
	g.killOutEdges(nodeID)
	e.mu.Unlock()
	e.s.metrics.TaskFinished(domain.StatusSkipped)
	e.emitTask(ctx, task)
	e.unitDone(ctx, parent, nodeID)
	ctxlog.FromContext(ctx).Debug("node skipped", "nodeID", nodeID)
}

// skipBatches marks every not-yet-started node in the remaining batches
// SKIPPED, for FailFast aborts and cancellation.
func (e *execution) skipBatches(ctx context.Context, batches [][]string, g *graphState, parent *uuid.UUID) {
	for _, batch := range batches {
		for _, id := range batch {
			e.skipNode(ctx, g, id, parent)
		}
	}
}

// runNode owns one task's full lifecycle: create, claim, execute with
// retries and timeout, settle, and resolve outgoing edges.
func (e *execution) runNode(ctx context.Context, g *graphState, node domain.NodeSpec, input map[string]any, parent *uuid.UUID) {
	logger := ctxlog.FromContext(ctx).With("nodeID", node.ID)

	task := domain.NewTask(e.run.ID, node.ID, parent)
	task.Inputs = input
	task.Subworkflow = node.Subworkflow
	e.run.Tasks.Add(task)
	e.emitTask(ctx, task)

	started := time.Now()
	e.run.Tasks.Update(task.ID, func(t *domain.Task) {
		t.Status = domain.StatusRunning
		t.StartedAt = &started
	})
	e.emitTask(ctx, task)

	var output map[string]any
	var err error
	if node.IsSubworkflow() {
		output, err = e.runSubworkflow(ctx, task, node, input)
	} else {
		output, err = e.runExecutor(ctx, task, node, input)
	}

	ended := time.Now()
	if err != nil {
		e.run.Tasks.Update(task.ID, func(t *domain.Task) {
			t.Status = domain.StatusFailed
			t.EndedAt = &ended
			t.Error = err.Error()
			t.Outputs = nil
		})
		e.mu.Lock()
		e.failed = true
		g.killOutEdges(node.ID)
		e.mu.Unlock()
		e.s.metrics.TaskFinished(domain.StatusFailed)
		e.emitTask(ctx, task)
		e.unitDone(ctx, parent, node.ID)
		logger.Error("node failed", "error", err)
		return
	}

	e.run.Tasks.Update(task.ID, func(t *domain.Task) {
		t.Status = domain.StatusCompleted
		t.EndedAt = &ended
		t.Outputs = output
	})
	e.s.metrics.TaskFinished(domain.StatusCompleted)
	e.s.metrics.NodeExecuted(node.Type, ended.Sub(started))
	e.resolveOutEdges(ctx, g, node.ID, output)
	e.emitTask(ctx, task)
	e.unitDone(ctx, parent, node.ID)
	logger.Debug("node completed")
}

// runSubworkflow recursively executes the nested definition with the
// hosting node's input, parenting every nested task under the hosting task.
func (e *execution) runSubworkflow(ctx context.Context, task *domain.Task, node domain.NodeSpec, input map[string]any) (map[string]any, error) {
	out, err := e.executeGraph(ctx, node.Subworkflow, input, &task.ID)
	if err != nil {
		return nil, fmt.Errorf("subworkflow %q: %w", node.Subworkflow.Name, err)
	}
	if e.subworkflowFailed(task.ID) {
		return nil, &domain.NodeExecutionError{NodeID: node.ID, Attempt: 1, Err: errors.New("subworkflow had failed tasks")}
	}
	e.run.Tasks.Update(task.ID, func(t *domain.Task) {
		t.SubworkflowOutput = out
	})
	return out, nil
}

func (e *execution) subworkflowFailed(hostID uuid.UUID) bool {
	for _, child := range e.run.Tasks.Children(hostID) {
		if child.Status == domain.StatusFailed {
			return true
		}
	}
	return false
}

// runExecutor invokes the registered executor with retry and timeout
// handling. Each retry re-enters PENDING then RUNNING, up to the node's
// attempt budget.
func (e *execution) runExecutor(ctx context.Context, task *domain.Task, node domain.NodeSpec, input map[string]any) (map[string]any, error) {
	desc, err := e.s.registry.Resolve(node.Type)
	if err != nil {
		return nil, err
	}
	if err := desc.Input.Validate("input", input); err != nil {
		return nil, &domain.NodeExecutionError{NodeID: node.ID, Attempt: 1, Err: err}
	}

	timeout := node.Timeout()
	if timeout == 0 {
		timeout = e.s.opts.DefaultTimeout
	}
	attempts := node.MaxRetries + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		e.run.Tasks.Update(task.ID, func(t *domain.Task) { t.Attempts = attempt })

		execCtx := e.ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			execCtx, cancel = context.WithTimeout(e.ctx, timeout)
		}
		output, execErr := desc.Execute(execCtx, node.Config, input)
		if cancel != nil {
			cancel()
		}

		if execErr == nil {
			if err := desc.Output.Validate("output", output); err != nil {
				return nil, &domain.NodeExecutionError{NodeID: node.ID, Attempt: attempt, Err: err}
			}
			return output, nil
		}

		if errors.Is(execCtx.Err(), context.DeadlineExceeded) && e.ctx.Err() == nil {
			execErr = fmt.Errorf("%w after %s", domain.ErrTimeout, timeout)
		}
		lastErr = &domain.NodeExecutionError{NodeID: node.ID, Attempt: attempt, Err: execErr}

		// The run is being cancelled or aborted; retrying is pointless.
		if e.ctx.Err() != nil && !errors.Is(execErr, domain.ErrTimeout) {
			break
		}
		if attempt == attempts {
			break
		}

		ctxlog.FromContext(ctx).Warn("node retrying", "nodeID", node.ID, "attempt", attempt, "error", execErr)
		e.run.Tasks.Update(task.ID, func(t *domain.Task) { t.Status = domain.StatusPending })
		e.emitTask(ctx, task)
		if d := node.RetryDelay(); d > 0 {
			select {
			case <-time.After(d):
			case <-e.ctx.Done():
			}
		}
		e.run.Tasks.Update(task.ID, func(t *domain.Task) { t.Status = domain.StatusRunning })
		e.emitTask(ctx, task)
	}
	return nil, lastErr
}

// resolveOutEdges decides which outgoing edges of a completed node fire.
// Conditional edges evaluate their route against the node's output; default
// edges fire only when no conditional sibling fired; plain edges always
// fire. Unfired edges are dead, so routing can dead-end a branch.
func (e *execution) resolveOutEdges(ctx context.Context, g *graphState, nodeID string, output map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()

	g.outputs[nodeID] = output

	out := g.def.OutEdges(nodeID)
	anyConditionalFired := false
	var defaults []int
	for _, ei := range out {
		edge := g.def.Edges[ei]
		if edge.Default {
			defaults = append(defaults, ei)
			continue
		}
		if !edge.Conditional() {
			g.fired[ei] = true
			continue
		}
		ok, err := condition.Evaluate(edge.Conditions, output)
		if err != nil {
			if e.s.opts.StrictConditions {
				e.failed = true
				ctxlog.FromContext(ctx).Error("route evaluation failed", "nodeID", nodeID, "error", err)
			} else {
				ctxlog.FromContext(ctx).Warn("route evaluated as false", "nodeID", nodeID, "error", err)
			}
			ok = false
		}
		if ok {
			g.fired[ei] = true
			anyConditionalFired = true
		} else {
			g.dead[ei] = true
		}
	}
	for _, ei := range defaults {
		if anyConditionalFired {
			g.dead[ei] = true
		} else {
			g.fired[ei] = true
		}
	}
}

func (e *execution) isFailed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failed
}

// unitDone reports one top-level unit of progress. Nested subworkflow nodes
// are covered by their hosting node's unit.
func (e *execution) unitDone(ctx context.Context, parent *uuid.UUID, stage string) {
	if parent != nil {
		return
	}
	e.mu.Lock()
	e.doneUnits++
	done, total := e.doneUnits, e.total
	e.mu.Unlock()
	progress.Notify(ctxlog.FromContext(ctx), e.reporter, float64(done)/float64(total), stage, done, total)
}

// emitTask forwards a task snapshot to the persistence collaborator. Sink
// failures never fail the run.
func (e *execution) emitTask(ctx context.Context, task *domain.Task) {
	if e.s.sink == nil {
		return
	}
	snap, ok := e.run.Tasks.Get(task.ID)
	if !ok {
		return
	}
	ev := domain.TaskTransitionEvent{RunID: e.run.ID, Task: snap, At: time.Now()}
	if err := e.s.sink.TaskTransition(context.WithoutCancel(ctx), ev); err != nil {
		ctxlog.FromContext(ctx).Warn("task event sink error", "taskID", task.ID, "error", err)
	}
}
