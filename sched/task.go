package sched

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ErrTaskCancelled is returned from suspension points of a cancelled task.
var ErrTaskCancelled = errors.New("task cancelled")

// TaskState is the lifecycle state of a task.
type TaskState int32

// The states a task moves through. Completed, Cancelled, and Failed are
// terminal.
const (
	TaskCreated TaskState = iota
	TaskRunning
	TaskCompleted
	TaskCancelled
	TaskFailed
)

// Terminal returns true if no further state change can happen.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskCancelled || s == TaskFailed
}

func (s TaskState) String() string {
	switch s {
	case TaskCreated:
		return "created"
	case TaskRunning:
		return "running"
	case TaskCompleted:
		return "completed"
	case TaskCancelled:
		return "cancelled"
	case TaskFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// A TaskFunc is the body of a task. It runs on the loop thread and only
// cedes control at the suspension points offered by the Context.
type TaskFunc func(ctx *Context) error

// A Task is a logical unit of work interleaved with other tasks on one loop.
// A task runs on its own goroutine, but the loop guarantees that at most one
// task goroutine makes progress at any instant.
type Task struct {
	id       string
	name     string
	funcName string
	pc       uintptr
	loop     *Loop
	parent   *Task
	fn       TaskFunc

	state     atomic.Int32
	cancelled atomic.Bool
	err       error

	started    bool
	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time

	resume  chan struct{}
	wake    *timerItem // pending sleep wake-up, guarded by loop.mu
	doneFns []func(*Task)
}

// ID returns the task's identity, stable for its lifetime.
func (t *Task) ID() string { return t.id }

// Name returns the display name given at spawn time.
func (t *Task) Name() string { return t.name }

// FuncName returns the qualified name of the task's body function.
func (t *Task) FuncName() string { return t.funcName }

// Parent returns the task that was running when this task was created, or
// nil for root tasks.
func (t *Task) Parent() *Task { return t.parent }

// State returns the task's current lifecycle state.
func (t *Task) State() TaskState { return TaskState(t.state.Load()) }

// Err returns the failure detail once the task reached a terminal state.
func (t *Task) Err() error { return t.err }

// CreatedAt returns when the task was spawned.
func (t *Task) CreatedAt() time.Time { return t.createdAt }

// StartedAt returns when the task first ran. Zero until then.
func (t *Task) StartedAt() time.Time { return t.startedAt }

// FinishedAt returns when the task reached a terminal state. Zero until then.
func (t *Task) FinishedAt() time.Time { return t.finishedAt }

// OnDone registers an observer invoked on the scheduler thread when the task
// reaches a terminal state. If the task is already terminal, the observer
// runs immediately.
func (t *Task) OnDone(fn func(*Task)) {
	if t.State().Terminal() {
		fn(t)
		return
	}
	t.doneFns = append(t.doneFns, fn)
}

// Cancel requests cancellation. The next suspension point of the task
// returns ErrTaskCancelled; a task that never started finishes as cancelled
// without running.
func (t *Task) Cancel() {
	if !t.cancelled.CompareAndSwap(false, true) {
		return
	}
	if t.State().Terminal() {
		return
	}

	l := t.loop
	l.mu.Lock()
	if t.wake != nil {
		t.wake.cancelled = true
		t.wake = nil
	}
	l.mu.Unlock()

	l.scheduleResume(t, 0)
}

// body is the task goroutine. It waits for the loop to hand over the thread,
// runs the task function, and hands the thread back after finishing.
func (t *Task) body() {
	<-t.resume
	err := t.invoke()
	t.finish(err)
	t.loop.baton <- struct{}{}
}

func (t *Task) invoke() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", t.name, r)
		}
	}()

	return t.fn(&Context{task: t})
}

// finish stores the terminal state. The state transition is a single atomic
// assignment so that completion observers never see a torn record.
func (t *Task) finish(err error) {
	t.finishedAt = t.loop.clock.Now()
	t.err = err

	switch {
	case err == nil:
		t.state.Store(int32(TaskCompleted))
	case errors.Is(err, ErrTaskCancelled):
		t.state.Store(int32(TaskCancelled))
	default:
		t.state.Store(int32(TaskFailed))
	}

	done := t.doneFns
	t.doneFns = nil
	for _, fn := range done {
		fn(t)
	}
}

// suspendCurrent gives the thread back to the loop and blocks until the loop
// resumes this task.
func (t *Task) suspendCurrent() {
	t.loop.baton <- struct{}{}
	<-t.resume
}

// A Context is handed to a task body and offers its suspension points.
type Context struct {
	task *Task
}

// Task returns the task this context belongs to.
func (c *Context) Task() *Task { return c.task }

// Loop returns the loop the task runs on.
func (c *Context) Loop() *Loop { return c.task.loop }

// Sleep suspends the task for at least d, letting other tasks run.
func (c *Context) Sleep(d time.Duration) error {
	t := c.task
	if t.cancelled.Load() {
		return ErrTaskCancelled
	}

	t.loop.scheduleWake(t, d)
	t.suspendCurrent()

	if t.cancelled.Load() {
		return ErrTaskCancelled
	}
	return nil
}

// Yield suspends the task and reschedules it immediately.
func (c *Context) Yield() error {
	return c.Sleep(0)
}

// Spawn creates a child task. The current task becomes its parent.
func (c *Context) Spawn(name string, fn TaskFunc) *Task {
	return c.task.loop.Spawn(name, fn)
}

// Await suspends the task until child reaches a terminal state and returns
// the child's failure detail.
func (c *Context) Await(child *Task) error {
	t := c.task
	if t.cancelled.Load() {
		return ErrTaskCancelled
	}
	if child.State().Terminal() {
		return child.err
	}

	child.OnDone(func(*Task) {
		t.loop.scheduleResume(t, 0)
	})
	t.suspendCurrent()

	if t.cancelled.Load() {
		return ErrTaskCancelled
	}
	return child.err
}
