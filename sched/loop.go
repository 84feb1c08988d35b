// Package sched implements a cooperative, single-threaded task runtime. One
// loop goroutine interleaves many logical tasks; a task only cedes control at
// explicit suspension points. The loop exposes the interception surfaces the
// profiling engine observes: a swappable task-creation primitive, per-tick
// hooks, and a slow-callback threshold.
package sched

import (
	"container/heap"
	"log"
	"reflect"
	"runtime"
	"sync"
	"time"

	"github.com/loopscope/loopscope/hooking"
)

// A SpawnFunc is the loop's task-creation primitive. The loop resolves the
// currently running task and passes it as the parent, keeping parent
// resolution explicit instead of relying on ambient state.
type SpawnFunc func(l *Loop, parent *Task, name string, fn TaskFunc) *Task

// A Loop runs callbacks and tasks one after another on a single goroutine.
type Loop struct {
	hooking.HookableBase

	mu           sync.Mutex
	timers       timerQueue
	seq          uint64
	current      *Task
	spawnFn      SpawnFunc
	slowCallback time.Duration
	lastTick     TickInfo

	clock Clock
	idGen idGenerator

	runLock  sync.Mutex
	baton    chan struct{}
	wakeCh   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewLoop creates a loop that reads time from the system clock.
func NewLoop() *Loop {
	return &Loop{
		clock:   SystemClock{},
		spawnFn: defaultSpawn,
		baton:   make(chan struct{}),
		wakeCh:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
}

// WithClock sets the clock used for all timestamps. Call before Run.
func (l *Loop) WithClock(c Clock) *Loop {
	l.clock = c
	return l
}

// Clock returns the clock the loop stamps time with.
func (l *Loop) Clock() Clock {
	return l.clock
}

// Now returns the current time as seen by the loop.
func (l *Loop) Now() time.Time {
	return l.clock.Now()
}

// CurrentTask returns the task occupying the thread right now, or nil when a
// plain callback or no work is running.
func (l *Loop) CurrentTask() *Task {
	l.mu.Lock()
	t := l.current
	l.mu.Unlock()
	return t
}

// LastTick describes the most recently completed callback or task slice.
func (l *Loop) LastTick() TickInfo {
	l.mu.Lock()
	info := l.lastTick
	l.mu.Unlock()
	return info
}

// SlowCallbackThreshold returns the duration above which the loop reports a
// callback as slow. Zero disables the report.
func (l *Loop) SlowCallbackThreshold() time.Duration {
	l.mu.Lock()
	d := l.slowCallback
	l.mu.Unlock()
	return d
}

// SetSlowCallbackThreshold sets the slow-callback report threshold and
// returns the previous value so callers can restore it.
func (l *Loop) SetSlowCallbackThreshold(d time.Duration) time.Duration {
	l.mu.Lock()
	prev := l.slowCallback
	l.slowCallback = d
	l.mu.Unlock()
	return prev
}

// SpawnPrimitive returns the task-creation primitive currently installed.
func (l *Loop) SpawnPrimitive() SpawnFunc {
	l.mu.Lock()
	fn := l.spawnFn
	l.mu.Unlock()
	return fn
}

// SwapSpawnPrimitive installs fn as the task-creation primitive and returns
// the previous one. The caller is responsible for restoring the previous
// primitive when its observation ends.
func (l *Loop) SwapSpawnPrimitive(fn SpawnFunc) SpawnFunc {
	if fn == nil {
		panic("spawn primitive must not be nil")
	}

	l.mu.Lock()
	prev := l.spawnFn
	l.spawnFn = fn
	l.mu.Unlock()

	return prev
}

// Spawn creates a task through the installed primitive. The currently
// running task, if any, becomes the parent.
func (l *Loop) Spawn(name string, fn TaskFunc) *Task {
	l.mu.Lock()
	spawn := l.spawnFn
	parent := l.current
	l.mu.Unlock()

	return spawn(l, parent, name, fn)
}

// defaultSpawn is the unobserved task-creation primitive.
func defaultSpawn(l *Loop, parent *Task, name string, fn TaskFunc) *Task {
	t := l.newTask(parent, name, fn)
	l.scheduleResume(t, 0)
	return t
}

func (l *Loop) newTask(parent *Task, name string, fn TaskFunc) *Task {
	pc := reflect.ValueOf(fn).Pointer()
	funcName := "unknown"
	if f := runtime.FuncForPC(pc); f != nil {
		funcName = f.Name()
	}

	return &Task{
		id:        l.idGen.Generate(),
		name:      name,
		funcName:  funcName,
		pc:        pc,
		loop:      l,
		parent:    parent,
		fn:        fn,
		createdAt: l.clock.Now(),
		resume:    make(chan struct{}),
	}
}

// Schedule queues a plain callback to run on the loop thread after delay.
func (l *Loop) Schedule(name string, delay time.Duration, fn func()) *TimerHandle {
	if delay < 0 {
		delay = 0
	}
	pc := reflect.ValueOf(fn).Pointer()
	return l.push(name, "", pc, l.clock.Now().Add(delay), fn)
}

func (l *Loop) push(
	name, taskID string,
	pc uintptr,
	due time.Time,
	fn func(),
) *TimerHandle {
	l.mu.Lock()
	l.seq++
	item := &timerItem{
		due:    due,
		seq:    l.seq,
		name:   name,
		taskID: taskID,
		pc:     pc,
		fn:     fn,
	}
	heap.Push(&l.timers, item)
	l.mu.Unlock()

	l.wake()

	return &TimerHandle{loop: l, item: item}
}

func (l *Loop) wake() {
	select {
	case l.wakeCh <- struct{}{}:
	default:
	}
}

// scheduleWake queues a resume for a task about to suspend and remembers it
// so that Cancel can revoke the pending wake-up.
func (l *Loop) scheduleWake(t *Task, d time.Duration) {
	var handle *TimerHandle
	handle = l.push(t.name, t.id, t.pc, l.clock.Now().Add(d), func() {
		l.mu.Lock()
		if t.wake == handle.item {
			t.wake = nil
		}
		l.mu.Unlock()
		l.resumeTask(t)
	})

	l.mu.Lock()
	t.wake = handle.item
	l.mu.Unlock()
}

// scheduleResume queues a resume without registering it as a cancellable
// wake-up. Resuming an already-terminal task is a no-op.
func (l *Loop) scheduleResume(t *Task, d time.Duration) {
	l.push(t.name, t.id, t.pc, l.clock.Now().Add(d), func() {
		l.resumeTask(t)
	})
}

// resumeTask hands the thread to a task and blocks until the task yields or
// finishes. It runs on the loop goroutine as a timer callback.
func (l *Loop) resumeTask(t *Task) {
	if t.State().Terminal() {
		return
	}

	l.setCurrent(t)
	defer l.setCurrent(nil)

	if !t.started {
		if t.cancelled.Load() {
			t.finish(ErrTaskCancelled)
			return
		}

		t.started = true
		t.startedAt = l.clock.Now()
		t.state.Store(int32(TaskRunning))
		go t.body()
	}

	t.resume <- struct{}{}
	<-l.baton
}

func (l *Loop) setCurrent(t *Task) {
	l.mu.Lock()
	l.current = t
	l.mu.Unlock()
}

// Run processes queued callbacks until none remain or Stop is called. Only
// one Run may be active at a time.
func (l *Loop) Run() error {
	l.runLock.Lock()
	defer l.runLock.Unlock()

	for {
		select {
		case <-l.stopCh:
			return nil
		default:
		}

		item, wait, ok := l.nextItem()
		if !ok {
			return nil
		}

		if item == nil {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-l.wakeCh:
				timer.Stop()
			case <-l.stopCh:
				timer.Stop()
				return nil
			}
			continue
		}

		l.execute(item)
	}
}

// Stop makes Run return after the current callback. Suspended tasks stop
// receiving resumes; Stop is meant for process shutdown, not for pausing.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
}

// nextItem returns the next due item. A nil item with ok=true means the
// earliest item is wait away; ok=false means the queue is drained.
func (l *Loop) nextItem() (item *timerItem, wait time.Duration, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for l.timers.Len() > 0 && l.timers[0].cancelled {
		heap.Pop(&l.timers)
	}

	if l.timers.Len() == 0 {
		return nil, 0, false
	}

	top := l.timers[0]
	now := l.clock.Now()
	if top.due.After(now) {
		return nil, top.due.Sub(now), true
	}

	heap.Pop(&l.timers)
	return top, 0, true
}

// execute runs one callback, records the tick, and reports it to hooks.
func (l *Loop) execute(item *timerItem) {
	start := l.clock.Now()
	item.fn()
	duration := l.clock.Now().Sub(start)

	info := TickInfo{
		Name:     item.name,
		TaskID:   item.taskID,
		PC:       item.pc,
		Start:    start,
		Duration: duration,
	}

	l.mu.Lock()
	l.lastTick = info
	slow := l.slowCallback
	l.mu.Unlock()

	if slow > 0 && duration >= slow {
		log.Printf("sched: callback %q held the loop for %s", item.name, duration)
	}

	if l.NumHooks() > 0 {
		l.InvokeHook(hooking.HookCtx{
			Domain: l,
			Pos:    HookPosTickEnd,
			Item:   info,
		})
	}
}
