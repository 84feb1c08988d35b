package profiling

import (
	"github.com/loopscope/loopscope/sched"
)

func init() {
	RegisterBackend(BackendInfo{
		Name:     BackendTaskTracker,
		Priority: 0,
		New: func(l *sched.Loop, sess *Session, cfg Config) Backend {
			return newTaskTracker(l, sess, cfg)
		},
	})
}

// A spawnInstaller scopes the replacement of the loop's task-creation
// primitive: it records the prior primitive on install and guarantees exact
// restoration on uninstall, no matter how many tasks are still pending.
type spawnInstaller struct {
	loop      *sched.Loop
	wrap      func(prev sched.SpawnFunc) sched.SpawnFunc
	prev      sched.SpawnFunc
	installed bool
}

func (i *spawnInstaller) Install() {
	if i.installed {
		return
	}

	i.prev = i.loop.SpawnPrimitive()
	i.loop.SwapSpawnPrimitive(i.wrap(i.prev))
	i.installed = true
}

func (i *spawnInstaller) Uninstall() {
	if !i.installed {
		return
	}

	i.loop.SwapSpawnPrimitive(i.prev)
	i.prev = nil
	i.installed = false
}

// taskTracker is the default backend. It intercepts the loop's task-creation
// primitive for the duration of the session, reconstructing the parent/child
// hierarchy and lifecycle timestamps. It performs no attribution of time to
// functions inside a task.
type taskTracker struct {
	loop *sched.Loop
	sink TaskSink
	cfg  Config

	installer *spawnInstaller
	stopped   bool

	records   map[string]*TaskRecord
	ordered   []*TaskRecord
	funcNames map[string]string
	created   int
	completed int
}

func newTaskTracker(l *sched.Loop, sess *Session, cfg Config) *taskTracker {
	t := &taskTracker{
		loop:      l,
		sink:      sess,
		cfg:       cfg,
		records:   make(map[string]*TaskRecord),
		funcNames: make(map[string]string),
	}
	t.installer = &spawnInstaller{loop: l, wrap: t.wrap}
	return t
}

func (t *taskTracker) Name() string {
	return BackendTaskTracker
}

func (t *taskTracker) Start() error {
	t.installer.Install()
	return nil
}

// Stop restores the original task-creation primitive. Pending tasks simply
// stop receiving record updates; their last known state stands.
func (t *taskTracker) Stop() {
	t.installer.Uninstall()
	t.stopped = true
}

func (t *taskTracker) wrap(prev sched.SpawnFunc) sched.SpawnFunc {
	return func(l *sched.Loop, parent *sched.Task, name string, fn sched.TaskFunc) *sched.Task {
		task := prev(l, parent, name, fn)
		t.observe(task, parent)
		return task
	}
}

// observe records the new task synchronously, with the currently running
// task as parent, and attaches the completion observer.
func (t *taskTracker) observe(task *sched.Task, parent *sched.Task) {
	t.created++

	rec := &TaskRecord{
		ID:          task.ID(),
		Name:        task.Name(),
		Func:        task.FuncName(),
		CreatedAt:   t.sink.Offset(),
		StartedAt:   TimeUnknown,
		CompletedAt: TimeUnknown,
	}

	var parentRec *TaskRecord
	if parent != nil {
		// A parent outside the tracked set (dropped, or created before the
		// session) leaves the record a root.
		parentRec = t.records[parent.ID()]
	}
	if parentRec != nil {
		rec.ParentID = parentRec.ID
	}

	if !t.sink.AppendTask(rec) {
		return
	}

	t.records[rec.ID] = rec
	t.ordered = append(t.ordered, rec)
	t.funcNames[rec.ID] = rec.Func
	if parentRec != nil {
		parentRec.Children = append(parentRec.Children, rec.ID)
	}

	task.OnDone(func(done *sched.Task) {
		t.finalizeRecord(rec, done)
	})
}

func (t *taskTracker) finalizeRecord(rec *TaskRecord, done *sched.Task) {
	if t.stopped {
		return
	}

	errDetail := ""
	if done.Err() != nil {
		errDetail = done.Err().Error()
	}

	rec.complete(
		t.sink.Since(done.StartedAt()),
		t.sink.Since(done.FinishedAt()),
		done.State(),
		errDetail,
	)

	if done.State() == sched.TaskCompleted {
		t.completed++
	}
}

// funcOf resolves the qualified function name of a tracked task.
func (t *taskTracker) funcOf(taskID string) string {
	return t.funcNames[taskID]
}

func (t *taskTracker) CollectStats(s *Stats) {
	s.TasksCreated = t.created
	s.TasksCompleted = t.completed
	s.TaskHierarchy = buildHierarchy(t.ordered)
}
