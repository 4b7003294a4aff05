package mcp

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Task status values form the state machine of §4.8: working and input_required are the
// non-terminal states; input_required is entered by elicitation-driven tools; completed/failed/cancelled are terminal
// and idempotent to re-enter.
const (
	TaskStatusWorking       = "working"
	TaskStatusInputRequired = "input_required"
	TaskStatusCompleted     = "completed"
	TaskStatusFailed        = "failed"
	TaskStatusCancelled     = "cancelled"
)

// defaultPollIntervalSeconds is advised to clients that don't get server-initiated push (stdio
// transport, or an HTTP caller that isn't holding an SSE stream open).
const defaultPollIntervalSeconds = 2

// defaultTaskTTL bounds a task's lifetime when the caller requests none; maxTaskTTL is the hard
// ceiling every caller-supplied ttl is clamped to (§4.8 "default 5 minutes; hard ceiling 24 hours").
const (
	defaultTaskTTL = 5 * time.Minute
	maxTaskTTL     = 24 * time.Hour
)

// ErrTaskTerminal is returned by Cancel when the task has already reached a terminal state.
var ErrTaskTerminal = errors.New("mcp: task already in a terminal state")

// Task is the externally visible record of an async tool invocation (§3, §4.8).
type Task struct {
	ID         string    `json:"taskId"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Result     any       `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`

	// AuthCtx is the authorization context captured at creation time, used by handleTasksList to
	// scope results to their owning caller (§3, §4.8).
	AuthCtx *AuthorizationContext `json:"-"`

	cancel context.CancelFunc
}

// TaskManager runs tool invocations in the background and tracks their lifecycle, grounded on the
// teacher's job-queue worker idiom (bounded goroutine-per-job, guarded shared map) generalized from
// a durable queue to an in-process, TTL-bounded registry (§4.8).
type TaskManager struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

// NewTaskManager constructs an empty task manager.
func NewTaskManager() *TaskManager {
	return &TaskManager{tasks: make(map[string]*Task)}
}

// Create registers a new task and runs fn in its own goroutine. ttlMillis of 0 applies
// defaultTaskTTL; any value above maxTaskTTL is clamped to it. authCtx is captured on the task so
// handleTasksList can scope visibility to its owning caller.
func (m *TaskManager) Create(ttlMillis int64, authCtx *AuthorizationContext, fn func(ctx context.Context, t *Task)) *Task {
	ttl := defaultTaskTTL
	if ttlMillis > 0 {
		ttl = time.Duration(ttlMillis) * time.Millisecond
	}
	if ttl > maxTaskTTL {
		ttl = maxTaskTTL
	}
	now := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), ttl)
	task := &Task{
		ID:        newTaskID(),
		Status:    TaskStatusWorking,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		AuthCtx:   authCtx,
		cancel:    cancel,
	}

	m.mu.Lock()
	m.tasks[task.ID] = task
	m.mu.Unlock()

	go func() {
		defer cancel()
		fn(ctx, task)
	}()
	return task
}

// Get returns the task's current snapshot.
func (m *TaskManager) Get(id string) (*Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, false
	}
	cp := *t
	return &cp, true
}

// List returns snapshots of every known task.
func (m *TaskManager) List() []*Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		cp := *t
		out = append(out, &cp)
	}
	return out
}

// Complete transitions a task to completed, carrying its result. A no-op if already terminal
// (§4.8 "terminal transitions are idempotent").
func (m *TaskManager) Complete(id string, result any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || isTerminal(t.Status) {
		return
	}
	t.Status = TaskStatusCompleted
	t.Result = result
}

// Fail transitions a task to failed, carrying the error text.
func (m *TaskManager) Fail(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || isTerminal(t.Status) {
		return
	}
	t.Status = TaskStatusFailed
	t.Error = err.Error()
}

// MarkInputRequired transitions a task into the input_required state, used by C9 when a tool call
// needs an elicitation round-trip before it can resume.
func (m *TaskManager) MarkInputRequired(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || isTerminal(t.Status) {
		return
	}
	t.Status = TaskStatusInputRequired
}

// Resume transitions a task back to working after input_required is satisfied.
func (m *TaskManager) Resume(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status != TaskStatusInputRequired {
		return
	}
	t.Status = TaskStatusWorking
}

// Cancel requests cooperative cancellation of a running task. Returns ErrTaskTerminal if the task
// already reached a terminal state; cancelling twice is otherwise a no-op.
func (m *TaskManager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if isTerminal(t.Status) {
		return ErrTaskTerminal
	}
	t.Status = TaskStatusCancelled
	if t.cancel != nil {
		t.cancel()
	}
	return nil
}

// IsCancelled reports whether the task has moved to cancelled, for handlers polling
// HandlerContext.Cancelled.
func (m *TaskManager) IsCancelled(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	return ok && t.Status == TaskStatusCancelled
}

// Sweep removes terminal tasks past their TTL, returning the count removed; a task that is still
// working or input_required is kept whatever its age. Called periodically by the
// cron sweeper alongside Store.SweepExpired (§4.8 "cleanup").
func (m *TaskManager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	removed := 0
	for id, t := range m.tasks {
		if isTerminal(t.Status) && now.After(t.ExpiresAt) {
			delete(m.tasks, id)
			removed++
		}
	}
	return removed
}

func isTerminal(status string) bool {
	switch status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}
