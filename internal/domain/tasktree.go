package domain

import (
	"sync"

	"github.com/google/uuid"
)

// TaskTree is the runtime record of one run: a flat arena of tasks related
// by parent/child id references. The owning scheduler is the only writer;
// concurrent readers take snapshots. Keeping the ownership flat (ids, not
// embedded recursion) keeps serialization straightforward.
type TaskTree struct {
	mu    sync.RWMutex
	tasks []*Task
	byID  map[uuid.UUID]*Task
}

func NewTaskTree() *TaskTree {
	return &TaskTree{byID: make(map[uuid.UUID]*Task)}
}

// Add appends a task to the arena.
func (t *TaskTree) Add(task *Task) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tasks = append(t.tasks, task)
	t.byID[task.ID] = task
}

// Update applies fn to the task with the given id under the tree lock.
func (t *TaskTree) Update(id uuid.UUID, fn func(*Task)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.byID[id]
	if !ok {
		return false
	}
	fn(task)
	return true
}

// Get returns a copy of the task with the given id.
func (t *TaskTree) Get(id uuid.UUID) (Task, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	task, ok := t.byID[id]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// Len returns the number of tasks in the arena.
func (t *TaskTree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tasks)
}

// Snapshot returns copies of all tasks in creation order.
func (t *TaskTree) Snapshot() []Task {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Task, len(t.tasks))
	for i, task := range t.tasks {
		out[i] = *task
	}
	return out
}

// Children returns copies of the tasks parented under the given task id.
func (t *TaskTree) Children(parent uuid.UUID) []Task {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Task
	for _, task := range t.tasks {
		if task.ParentTaskID != nil && *task.ParentTaskID == parent {
			out = append(out, *task)
		}
	}
	return out
}
