package profiling

import (
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"github.com/loopscope/loopscope/sched"
)

// A TaskSink accepts task records from the active backend.
type TaskSink interface {
	// AppendTask stores a record, returning false when the tracked-task
	// capacity is reached and the record was dropped.
	AppendTask(rec *TaskRecord) bool

	// Offset returns the time elapsed since the session epoch.
	Offset() time.Duration

	// Since converts an absolute time into an offset from the session epoch.
	Since(t time.Time) time.Duration
}

// A BlockingSink accepts blocking events from the blocking detector.
type BlockingSink interface {
	AppendBlockingEvent(ev BlockingEvent)
	Offset() time.Duration
}

// A LagSink accepts lag samples from the lag monitor.
type LagSink interface {
	AppendLagSample(s LagSample)
	Offset() time.Duration
}

// A Session owns everything observed during one bounded unit of work. Each
// observer writes through its own narrow sink interface; nothing reads or
// rewrites another observer's entries. All writes happen on the loop thread,
// so the session needs no locking; Finalize publishes the session for
// readers on other goroutines.
type Session struct {
	id        string
	epoch     time.Time
	clock     sched.Clock
	maxTasks  int
	finalized atomic.Bool

	tasks    []*TaskRecord
	dropped  int
	blocking []BlockingEvent
	lags     []LagSample
}

// NewSession creates a session whose epoch is the current instant. maxTasks
// bounds the number of tracked task records; zero or negative means
// unbounded.
func NewSession(clock sched.Clock, maxTasks int) *Session {
	return &Session{
		id:       xid.New().String(),
		epoch:    clock.Now(),
		clock:    clock,
		maxTasks: maxTasks,
	}
}

// ID returns the session's identity.
func (s *Session) ID() string { return s.id }

// Epoch returns the instant all offsets are measured from.
func (s *Session) Epoch() time.Time { return s.epoch }

// Offset returns the time elapsed since the session epoch.
func (s *Session) Offset() time.Duration {
	return s.clock.Now().Sub(s.epoch)
}

// Since converts an absolute time into an offset from the session epoch.
func (s *Session) Since(t time.Time) time.Duration {
	if t.IsZero() {
		return TimeUnknown
	}
	return t.Sub(s.epoch)
}

// AppendTask stores a task record, enforcing the tracked-task bound.
func (s *Session) AppendTask(rec *TaskRecord) bool {
	if s.finalized.Load() {
		return false
	}

	if s.maxTasks > 0 && len(s.tasks) >= s.maxTasks {
		s.dropped++
		return false
	}

	s.tasks = append(s.tasks, rec)
	return true
}

// AppendBlockingEvent stores a blocking event.
func (s *Session) AppendBlockingEvent(ev BlockingEvent) {
	if s.finalized.Load() {
		return
	}
	s.blocking = append(s.blocking, ev)
}

// AppendLagSample stores a lag sample.
func (s *Session) AppendLagSample(sample LagSample) {
	if s.finalized.Load() {
		return
	}
	s.lags = append(s.lags, sample)
}

// Finalize freezes the session. Later appends are dropped silently; a
// finalized session is never reused.
func (s *Session) Finalize() {
	s.finalized.Store(true)
}

// Finalized reports whether the session is frozen.
func (s *Session) Finalized() bool {
	return s.finalized.Load()
}

// Tasks returns the tracked task records in creation order.
func (s *Session) Tasks() []*TaskRecord { return s.tasks }

// DroppedTasks returns how many records were dropped at the capacity bound.
func (s *Session) DroppedTasks() int { return s.dropped }

// BlockingEvents returns the recorded blocking events in detection order.
func (s *Session) BlockingEvents() []BlockingEvent { return s.blocking }

// LagSamples returns the recorded lag samples in probe order.
func (s *Session) LagSamples() []LagSample { return s.lags }
