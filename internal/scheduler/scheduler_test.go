package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodeflow/internal/domain"
	"nodeflow/internal/registry"
)

// newTestRegistry registers the node types the scheduler tests share.
func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	reg.MustRegister(registry.Descriptor{
		Type: "echo",
		Execute: func(ctx context.Context, config, input map[string]any) (map[string]any, error) {
			return input, nil
		},
	})
	reg.MustRegister(registry.Descriptor{
		Type: "set",
		Execute: func(ctx context.Context, config, input map[string]any) (map[string]any, error) {
			out := make(map[string]any, len(input)+len(config))
			for k, v := range input {
				out[k] = v
			}
			for k, v := range config {
				out[k] = v
			}
			return out, nil
		},
	})
	reg.MustRegister(registry.Descriptor{
		Type: "fail",
		Execute: func(ctx context.Context, config, input map[string]any) (map[string]any, error) {
			return nil, errors.New("boom")
		},
	})
	return reg
}

func runDef(t *testing.T, reg *registry.Registry, opts Options, def domain.WorkflowDefinition, input map[string]any) (Result, *domain.Run) {
	t.Helper()
	require.NoError(t, def.Validate())
	run := domain.NewRun(def, input)
	res, err := New(reg, nil, nil, opts).Execute(context.Background(), run, nil)
	require.NoError(t, err)
	return res, run
}

// topTasks indexes the run's top-level tasks by node id.
func topTasks(run *domain.Run) map[string]domain.Task {
	out := make(map[string]domain.Task)
	for _, task := range run.Tasks.Snapshot() {
		if task.ParentTaskID == nil {
			out[task.NodeID] = task
		}
	}
	return out
}

func TestTopoBatches(t *testing.T) {
	def := domain.WorkflowDefinition{
		Name:  "diamond",
		Nodes: []domain.NodeSpec{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}},
		Edges: []domain.Edge{
			{Source: "a", Target: "b"},
			{Source: "a", Target: "c"},
			{Source: "b", Target: "d"},
			{Source: "c", Target: "d"},
		},
	}
	batches, err := TopoBatches(&def)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a"}, {"b", "c"}, {"d"}}, batches)
}

func TestTopoBatches_Cycle(t *testing.T) {
	def := domain.WorkflowDefinition{
		Name:  "loop",
		Nodes: []domain.NodeSpec{{ID: "a"}, {ID: "b"}},
		Edges: []domain.Edge{
			{Source: "a", Target: "b"},
			{Source: "b", Target: "a"},
		},
	}
	_, err := TopoBatches(&def)
	require.ErrorIs(t, err, domain.ErrCyclicGraph)
}

func TestExecute_LinearChainPassesOutputs(t *testing.T) {
	reg := newTestRegistry(t)
	def := domain.WorkflowDefinition{
		Name: "chain",
		Nodes: []domain.NodeSpec{
			{ID: "a", Type: "set", Config: map[string]any{"x": 1.0}},
			{ID: "b", Type: "echo"},
			{ID: "c", Type: "echo"},
		},
		Edges: []domain.Edge{
			{Source: "a", Target: "b"},
			{Source: "b", Target: "c"},
		},
	}

	res, run := runDef(t, reg, Options{}, def, map[string]any{"seed": true})
	require.Equal(t, domain.RunCompleted, res.Status)

	tasks := topTasks(run)
	for _, id := range []string{"a", "b", "c"} {
		assert.Equal(t, domain.StatusCompleted, tasks[id].Status, id)
	}

	// a's output reaches b; the run output is the leaf's output.
	assert.Equal(t, 1.0, tasks["b"].Inputs["x"])
	assert.Equal(t, 1.0, res.Output["x"])
	assert.Equal(t, true, tasks["a"].Inputs["seed"])

	// start time <= end time once both are set.
	for id, task := range tasks {
		require.NotNil(t, task.StartedAt, id)
		require.NotNil(t, task.EndedAt, id)
		assert.False(t, task.EndedAt.Before(*task.StartedAt), id)
	}
}

func TestExecute_DiamondRunsBranchesConcurrently(t *testing.T) {
	reg := newTestRegistry(t)

	// b and c rendezvous with each other: the run can only finish if both
	// execute at the same time.
	var barrier sync.WaitGroup
	barrier.Add(2)
	var dStarted atomic.Bool
	var doneBeforeD atomic.Int32

	reg.MustRegister(registry.Descriptor{
		Type: "branch",
		Execute: func(ctx context.Context, config, input map[string]any) (map[string]any, error) {
			barrier.Done()
			barrier.Wait()
			doneBeforeD.Add(1)
			return input, nil
		},
	})
	reg.MustRegister(registry.Descriptor{
		Type: "join",
		Execute: func(ctx context.Context, config, input map[string]any) (map[string]any, error) {
			dStarted.Store(true)
			return map[string]any{"joined": doneBeforeD.Load() == 2}, nil
		},
	})

	def := domain.WorkflowDefinition{
		Name: "diamond",
		Nodes: []domain.NodeSpec{
			{ID: "a", Type: "echo"},
			{ID: "b", Type: "branch"},
			{ID: "c", Type: "branch"},
			{ID: "d", Type: "join"},
		},
		Edges: []domain.Edge{
			{Source: "a", Target: "b"},
			{Source: "a", Target: "c"},
			{Source: "b", Target: "d"},
			{Source: "c", Target: "d"},
		},
	}

	res, run := runDef(t, reg, Options{}, def, nil)
	require.Equal(t, domain.RunCompleted, res.Status)

	tasks := topTasks(run)
	assert.Equal(t, domain.StatusCompleted, tasks["d"].Status)
	// Both branches completed before d was dispatched.
	assert.Equal(t, true, tasks["d"].Outputs["joined"])
	assert.True(t, dStarted.Load())
}

func TestExecute_FailureSkipsDependents(t *testing.T) {
	reg := newTestRegistry(t)
	def := domain.WorkflowDefinition{
		Name: "chain",
		Nodes: []domain.NodeSpec{
			{ID: "a", Type: "fail"},
			{ID: "b", Type: "echo"},
			{ID: "c", Type: "echo"},
		},
		Edges: []domain.Edge{
			{Source: "a", Target: "b"},
			{Source: "b", Target: "c"},
		},
	}

	res, run := runDef(t, reg, Options{}, def, nil)
	require.Equal(t, domain.RunFailed, res.Status)

	tasks := topTasks(run)
	assert.Equal(t, domain.StatusFailed, tasks["a"].Status)
	assert.Contains(t, tasks["a"].Error, "boom")
	assert.Nil(t, tasks["a"].Outputs)
	assert.Equal(t, domain.StatusSkipped, tasks["b"].Status)
	assert.Equal(t, domain.StatusSkipped, tasks["c"].Status)

	// Skipped tasks never ran.
	assert.Nil(t, tasks["b"].StartedAt)
	assert.Nil(t, tasks["c"].StartedAt)
}

func TestExecute_AlternatePathKeepsNodeLive(t *testing.T) {
	reg := newTestRegistry(t)
	// a fails, b succeeds, both feed c: c still runs off b's edge.
	def := domain.WorkflowDefinition{
		Name: "fan-in",
		Nodes: []domain.NodeSpec{
			{ID: "a", Type: "fail"},
			{ID: "b", Type: "set", Config: map[string]any{"ok": true}},
			{ID: "c", Type: "echo"},
		},
		Edges: []domain.Edge{
			{Source: "a", Target: "c"},
			{Source: "b", Target: "c"},
		},
	}

	res, run := runDef(t, reg, Options{}, def, nil)
	require.Equal(t, domain.RunFailed, res.Status)

	tasks := topTasks(run)
	assert.Equal(t, domain.StatusCompleted, tasks["c"].Status)
	assert.Equal(t, true, tasks["c"].Inputs["ok"])
}

func TestExecute_ConditionalRouting(t *testing.T) {
	reg := newTestRegistry(t)
	def := domain.WorkflowDefinition{
		Name: "router",
		Nodes: []domain.NodeSpec{
			{ID: "score", Type: "set", Config: map[string]any{"score": 7.0}},
			{ID: "high", Type: "echo"},
			{ID: "low", Type: "echo"},
		},
		Edges: []domain.Edge{
			{Source: "score", Target: "high", Conditions: []domain.Condition{
				{Variable: "score", Operator: domain.OpGreaterThan, Value: 5},
			}},
			{Source: "score", Target: "low", Default: true},
		},
	}

	res, run := runDef(t, reg, Options{}, def, nil)
	require.Equal(t, domain.RunCompleted, res.Status)

	tasks := topTasks(run)
	assert.Equal(t, domain.StatusCompleted, tasks["high"].Status)
	assert.Equal(t, domain.StatusSkipped, tasks["low"].Status)
}

func TestExecute_DefaultEdgeWhenNoRouteMatches(t *testing.T) {
	reg := newTestRegistry(t)
	def := domain.WorkflowDefinition{
		Name: "router",
		Nodes: []domain.NodeSpec{
			{ID: "score", Type: "set", Config: map[string]any{"score": 3.0}},
			{ID: "high", Type: "echo"},
			{ID: "low", Type: "echo"},
		},
		Edges: []domain.Edge{
			{Source: "score", Target: "high", Conditions: []domain.Condition{
				{Variable: "score", Operator: domain.OpGreaterThan, Value: 5},
			}},
			{Source: "score", Target: "low", Default: true},
		},
	}

	res, run := runDef(t, reg, Options{}, def, nil)
	require.Equal(t, domain.RunCompleted, res.Status)

	tasks := topTasks(run)
	assert.Equal(t, domain.StatusSkipped, tasks["high"].Status)
	assert.Equal(t, domain.StatusCompleted, tasks["low"].Status)
}

func TestExecute_DeadEndWithoutDefault(t *testing.T) {
	reg := newTestRegistry(t)
	// No route matches and no default: downstream never executes, but a
	// dead end is not a failure.
	def := domain.WorkflowDefinition{
		Name: "dead-end",
		Nodes: []domain.NodeSpec{
			{ID: "score", Type: "set", Config: map[string]any{"score": 3.0}},
			{ID: "high", Type: "echo"},
			{ID: "after", Type: "echo"},
		},
		Edges: []domain.Edge{
			{Source: "score", Target: "high", Conditions: []domain.Condition{
				{Variable: "score", Operator: domain.OpGreaterThan, Value: 5},
			}},
			{Source: "high", Target: "after"},
		},
	}

	res, run := runDef(t, reg, Options{}, def, nil)
	require.Equal(t, domain.RunCompleted, res.Status)

	tasks := topTasks(run)
	assert.Equal(t, domain.StatusSkipped, tasks["high"].Status)
	assert.Equal(t, domain.StatusSkipped, tasks["after"].Status)
}

func TestExecute_ConditionErrorRoutesFalseByDefault(t *testing.T) {
	reg := newTestRegistry(t)
	def := domain.WorkflowDefinition{
		Name: "router",
		Nodes: []domain.NodeSpec{
			{ID: "src", Type: "set", Config: map[string]any{"x": 1.0}},
			{ID: "next", Type: "echo"},
		},
		Edges: []domain.Edge{
			{Source: "src", Target: "next", Conditions: []domain.Condition{
				{Variable: "does.not.exist", Operator: domain.OpEquals, Value: 1},
			}},
		},
	}

	res, run := runDef(t, reg, Options{}, def, nil)
	require.Equal(t, domain.RunCompleted, res.Status)
	assert.Equal(t, domain.StatusSkipped, topTasks(run)["next"].Status)
}

func TestExecute_StrictConditionErrorFailsRun(t *testing.T) {
	reg := newTestRegistry(t)
	def := domain.WorkflowDefinition{
		Name: "router",
		Nodes: []domain.NodeSpec{
			{ID: "src", Type: "set", Config: map[string]any{"x": 1.0}},
			{ID: "next", Type: "echo"},
		},
		Edges: []domain.Edge{
			{Source: "src", Target: "next", Conditions: []domain.Condition{
				{Variable: "does.not.exist", Operator: domain.OpEquals, Value: 1},
			}},
		},
	}

	res, _ := runDef(t, reg, Options{StrictConditions: true}, def, nil)
	require.Equal(t, domain.RunFailed, res.Status)
}

func TestExecute_SubworkflowNesting(t *testing.T) {
	reg := newTestRegistry(t)
	inner := domain.WorkflowDefinition{
		Name: "inner",
		Nodes: []domain.NodeSpec{
			{ID: "first", Type: "set", Config: map[string]any{"from": "inner"}},
			{ID: "second", Type: "echo"},
		},
		Edges: []domain.Edge{{Source: "first", Target: "second"}},
	}
	def := domain.WorkflowDefinition{
		Name: "outer",
		Nodes: []domain.NodeSpec{
			{ID: "host", Subworkflow: &inner},
			{ID: "after", Type: "echo"},
		},
		Edges: []domain.Edge{{Source: "host", Target: "after"}},
	}

	res, run := runDef(t, reg, Options{}, def, map[string]any{"seed": 1.0})
	require.Equal(t, domain.RunCompleted, res.Status)

	tasks := topTasks(run)
	host := tasks["host"]
	require.Equal(t, domain.StatusCompleted, host.Status)
	assert.Equal(t, map[string]any{"seed": 1.0, "from": "inner"}, host.SubworkflowOutput)

	// Every nested task is parented under the hosting task.
	children := run.Tasks.Children(host.ID)
	require.Len(t, children, 2)
	for _, child := range children {
		assert.Equal(t, domain.StatusCompleted, child.Status)
		assert.Equal(t, host.ID, *child.ParentTaskID)
	}

	// The hosting node's output feeds its dependents.
	assert.Equal(t, "inner", tasks["after"].Inputs["from"])
}

func TestExecute_SubworkflowFailureFailsHost(t *testing.T) {
	reg := newTestRegistry(t)
	inner := domain.WorkflowDefinition{
		Name:  "inner",
		Nodes: []domain.NodeSpec{{ID: "bad", Type: "fail"}},
	}
	def := domain.WorkflowDefinition{
		Name: "outer",
		Nodes: []domain.NodeSpec{
			{ID: "host", Subworkflow: &inner},
			{ID: "after", Type: "echo"},
		},
		Edges: []domain.Edge{{Source: "host", Target: "after"}},
	}

	res, run := runDef(t, reg, Options{}, def, nil)
	require.Equal(t, domain.RunFailed, res.Status)

	tasks := topTasks(run)
	assert.Equal(t, domain.StatusFailed, tasks["host"].Status)
	assert.Equal(t, domain.StatusSkipped, tasks["after"].Status)
}

func TestExecute_RetryThenSucceed(t *testing.T) {
	reg := newTestRegistry(t)
	var calls atomic.Int32
	reg.MustRegister(registry.Descriptor{
		Type: "flaky",
		Execute: func(ctx context.Context, config, input map[string]any) (map[string]any, error) {
			if calls.Add(1) < 3 {
				return nil, errors.New("transient")
			}
			return map[string]any{"ok": true}, nil
		},
	})

	def := domain.WorkflowDefinition{
		Name:  "retry",
		Nodes: []domain.NodeSpec{{ID: "a", Type: "flaky", MaxRetries: 2}},
	}

	res, run := runDef(t, reg, Options{}, def, nil)
	require.Equal(t, domain.RunCompleted, res.Status)

	task := topTasks(run)["a"]
	assert.Equal(t, domain.StatusCompleted, task.Status)
	assert.Equal(t, 3, task.Attempts)
	assert.Equal(t, int32(3), calls.Load())
}

func TestExecute_RetriesExhausted(t *testing.T) {
	reg := newTestRegistry(t)
	var calls atomic.Int32
	reg.MustRegister(registry.Descriptor{
		Type: "always-fails",
		Execute: func(ctx context.Context, config, input map[string]any) (map[string]any, error) {
			calls.Add(1)
			return nil, errors.New("nope")
		},
	})

	def := domain.WorkflowDefinition{
		Name:  "retry",
		Nodes: []domain.NodeSpec{{ID: "a", Type: "always-fails", MaxRetries: 2}},
	}

	res, run := runDef(t, reg, Options{}, def, nil)
	require.Equal(t, domain.RunFailed, res.Status)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, domain.StatusFailed, topTasks(run)["a"].Status)
}

func TestExecute_Timeout(t *testing.T) {
	reg := newTestRegistry(t)
	reg.MustRegister(registry.Descriptor{
		Type: "slow",
		Execute: func(ctx context.Context, config, input map[string]any) (map[string]any, error) {
			select {
			case <-time.After(5 * time.Second):
				return input, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})

	def := domain.WorkflowDefinition{
		Name:  "timeout",
		Nodes: []domain.NodeSpec{{ID: "a", Type: "slow", TimeoutMS: 20}},
	}

	res, run := runDef(t, reg, Options{}, def, nil)
	require.Equal(t, domain.RunFailed, res.Status)

	task := topTasks(run)["a"]
	assert.Equal(t, domain.StatusFailed, task.Status)
	assert.Contains(t, task.Error, "timed out")
}

func TestExecute_FailFastAbortsRemainingBatches(t *testing.T) {
	reg := newTestRegistry(t)
	def := domain.WorkflowDefinition{
		Name: "failfast",
		Nodes: []domain.NodeSpec{
			{ID: "bad", Type: "fail"},
			{ID: "good", Type: "set", Config: map[string]any{"ok": true}},
			{ID: "after-good", Type: "echo"},
		},
		Edges: []domain.Edge{{Source: "good", Target: "after-good"}},
	}

	res, run := runDef(t, reg, Options{FailFast: true}, def, nil)
	require.Equal(t, domain.RunFailed, res.Status)

	tasks := topTasks(run)
	assert.Equal(t, domain.StatusFailed, tasks["bad"].Status)
	// good is in the same batch and runs; its dependent is aborted.
	assert.Equal(t, domain.StatusCompleted, tasks["good"].Status)
	assert.Equal(t, domain.StatusSkipped, tasks["after-good"].Status)
}

func TestExecute_IndependentBranchesContinueByDefault(t *testing.T) {
	reg := newTestRegistry(t)
	def := domain.WorkflowDefinition{
		Name: "branches",
		Nodes: []domain.NodeSpec{
			{ID: "bad", Type: "fail"},
			{ID: "good", Type: "set", Config: map[string]any{"ok": true}},
			{ID: "after-good", Type: "echo"},
		},
		Edges: []domain.Edge{{Source: "good", Target: "after-good"}},
	}

	res, run := runDef(t, reg, Options{}, def, nil)
	require.Equal(t, domain.RunFailed, res.Status)
	assert.Equal(t, domain.StatusCompleted, topTasks(run)["after-good"].Status)
}

func TestExecute_ContinueOnErrorCompletesSurvivingBranch(t *testing.T) {
	reg := newTestRegistry(t)
	def := domain.WorkflowDefinition{
		Name: "branches",
		Nodes: []domain.NodeSpec{
			{ID: "bad", Type: "fail"},
			{ID: "good", Type: "set", Config: map[string]any{"ok": true}},
			{ID: "after-good", Type: "echo"},
		},
		Edges: []domain.Edge{{Source: "good", Target: "after-good"}},
	}

	res, _ := runDef(t, reg, Options{ContinueOnError: true}, def, nil)
	require.Equal(t, domain.RunCompleted, res.Status)
	assert.Equal(t, true, res.Output["ok"])
}

func TestExecute_CancellationSkipsPendingBatches(t *testing.T) {
	reg := newTestRegistry(t)
	started := make(chan struct{})
	reg.MustRegister(registry.Descriptor{
		Type: "block",
		Execute: func(ctx context.Context, config, input map[string]any) (map[string]any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	def := domain.WorkflowDefinition{
		Name: "cancel",
		Nodes: []domain.NodeSpec{
			{ID: "a", Type: "block"},
			{ID: "b", Type: "echo"},
		},
		Edges: []domain.Edge{{Source: "a", Target: "b"}},
	}

	run := domain.NewRun(def, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	res, err := New(reg, nil, nil, Options{}).Execute(ctx, run, nil)
	require.NoError(t, err)
	require.Equal(t, domain.RunCancelled, res.Status)

	// Every task is terminal: nothing is left RUNNING.
	for _, task := range run.Tasks.Snapshot() {
		assert.True(t, task.Status.Terminal(), task.NodeID)
	}
	tasks := topTasks(run)
	assert.Equal(t, domain.StatusSkipped, tasks["b"].Status)
}

func TestExecute_ProgressReporting(t *testing.T) {
	reg := newTestRegistry(t)
	def := domain.WorkflowDefinition{
		Name: "progress",
		Nodes: []domain.NodeSpec{
			{ID: "a", Type: "echo"},
			{ID: "b", Type: "echo"},
		},
		Edges: []domain.Edge{{Source: "a", Target: "b"}},
	}

	var mu sync.Mutex
	var fractions []float64
	reporter := func(fraction float64, stage string, current, total int) {
		mu.Lock()
		fractions = append(fractions, fraction)
		mu.Unlock()
	}

	run := domain.NewRun(def, nil)
	res, err := New(reg, nil, nil, Options{}).Execute(context.Background(), run, reporter)
	require.NoError(t, err)
	require.Equal(t, domain.RunCompleted, res.Status)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(fractions), 2)
	assert.Equal(t, 0.0, fractions[0])
	assert.Equal(t, 1.0, fractions[len(fractions)-1])
}

func TestExecute_PanickingReporterDoesNotFailRun(t *testing.T) {
	reg := newTestRegistry(t)
	def := domain.WorkflowDefinition{
		Name:  "progress",
		Nodes: []domain.NodeSpec{{ID: "a", Type: "echo"}},
	}

	run := domain.NewRun(def, nil)
	reporter := func(fraction float64, stage string, current, total int) {
		panic("reporter bug")
	}
	res, err := New(reg, nil, nil, Options{}).Execute(context.Background(), run, reporter)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, res.Status)
}
