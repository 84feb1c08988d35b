package profiling

import (
	"sync/atomic"
	"time"

	"github.com/loopscope/loopscope/sched"
)

// TimeUnknown marks a timestamp that has not been observed yet. All recorded
// timestamps are offsets from the session epoch.
const TimeUnknown = time.Duration(-1)

// A TaskRecord is the profiler's view of one task's lifecycle. A record is
// created synchronously at spawn time; start and completion stamps arrive
// later through the completion observer.
type TaskRecord struct {
	ID          string
	Name        string
	Func        string
	CreatedAt   time.Duration
	StartedAt   time.Duration
	CompletedAt time.Duration
	Error       string
	ParentID    string
	Children    []string

	state atomic.Int32
}

// State returns the last known lifecycle state of the task.
func (r *TaskRecord) State() sched.TaskState {
	return sched.TaskState(r.state.Load())
}

// complete stamps the terminal outcome. All detail fields are written before
// the state, and the state moves with one atomic assignment, so a reader that
// observes a terminal state never sees a torn record.
func (r *TaskRecord) complete(
	startedAt, completedAt time.Duration,
	state sched.TaskState,
	errDetail string,
) {
	r.StartedAt = startedAt
	r.CompletedAt = completedAt
	r.Error = errDetail
	r.state.Store(int32(state))
}

// Severity classifies how far past the threshold a blocking call went.
type Severity string

// A blocking call at or past the threshold is a warning; at or past twice
// the threshold it is critical.
const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// A BlockingEvent records one callback or task slice that held the loop
// thread beyond the configured threshold without yielding.
type BlockingEvent struct {
	At       time.Duration `json:"at"`
	Duration time.Duration `json:"duration"`
	Callback string        `json:"callback"`
	Location string        `json:"location,omitempty"`
	TaskID   string        `json:"task_id,omitempty"`
	Severity Severity      `json:"severity"`
}

// A LagSample is one scheduling-delay measurement: how much later than
// intended a probe was resumed.
type LagSample struct {
	At       time.Duration `json:"at"`
	Expected time.Duration `json:"expected"`
	Actual   time.Duration `json:"actual"`
	Lag      time.Duration `json:"lag"`
}
