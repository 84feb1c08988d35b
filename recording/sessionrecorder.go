package recording

import (
	"github.com/loopscope/loopscope/profiling"
)

type sessionRow struct {
	SessionID      string
	Backend        string
	Summary        string
	TasksCreated   int
	TasksCompleted int
	TasksDropped   int
	BlockingCount  int
	LagMinNanos    int64
	LagAvgNanos    int64
	LagMaxNanos    int64
	LagP95Nanos    int64
	OverheadNanos  int64
}

type taskRow struct {
	SessionID        string
	TaskID           string
	ParentID         string
	Name             string
	Func             string
	State            string
	Error            string
	CreatedAtNanos   int64
	StartedAtNanos   int64
	CompletedAtNanos int64
	Depth            int
}

type blockingRow struct {
	SessionID     string
	AtNanos       int64
	DurationNanos int64
	Callback      string
	Location      string
	TaskID        string
	Severity      string
}

type lagRow struct {
	SessionID     string
	AtNanos       int64
	ExpectedNanos int64
	ActualNanos   int64
	LagNanos      int64
}

// A SessionRecorder writes one finalized stats structure per session into
// the sessions, session_tasks, session_blocking, and session_lag tables.
type SessionRecorder struct {
	backend Recorder
}

// NewSessionRecorder creates the tables on the given backend.
func NewSessionRecorder(backend Recorder) *SessionRecorder {
	backend.CreateTable("sessions", sessionRow{})
	backend.CreateTable("session_tasks", taskRow{})
	backend.CreateTable("session_blocking", blockingRow{})
	backend.CreateTable("session_lag", lagRow{})

	return &SessionRecorder{backend: backend}
}

// Record persists one session's stats.
func (r *SessionRecorder) Record(sessionID string, stats profiling.Stats) {
	r.backend.Insert("sessions", sessionRow{
		SessionID:      sessionID,
		Backend:        stats.Backend,
		Summary:        stats.Summary(),
		TasksCreated:   stats.TasksCreated,
		TasksCompleted: stats.TasksCompleted,
		TasksDropped:   stats.TasksDropped,
		BlockingCount:  len(stats.BlockingCalls),
		LagMinNanos:    stats.EventLoopLag.Min.Nanoseconds(),
		LagAvgNanos:    stats.EventLoopLag.Avg.Nanoseconds(),
		LagMaxNanos:    stats.EventLoopLag.Max.Nanoseconds(),
		LagP95Nanos:    stats.EventLoopLag.P95.Nanoseconds(),
		OverheadNanos:  stats.ProfilingOverhead.Nanoseconds(),
	})

	for _, node := range stats.TaskHierarchy {
		r.recordTask(sessionID, node, "", 0)
	}

	for _, ev := range stats.BlockingCalls {
		r.backend.Insert("session_blocking", blockingRow{
			SessionID:     sessionID,
			AtNanos:       ev.At.Nanoseconds(),
			DurationNanos: ev.Duration.Nanoseconds(),
			Callback:      ev.Callback,
			Location:      ev.Location,
			TaskID:        ev.TaskID,
			Severity:      string(ev.Severity),
		})
	}

	r.backend.Flush()
}

// RecordLag persists the raw lag samples of a session.
func (r *SessionRecorder) RecordLag(sessionID string, samples []profiling.LagSample) {
	for _, s := range samples {
		r.backend.Insert("session_lag", lagRow{
			SessionID:     sessionID,
			AtNanos:       s.At.Nanoseconds(),
			ExpectedNanos: s.Expected.Nanoseconds(),
			ActualNanos:   s.Actual.Nanoseconds(),
			LagNanos:      s.Lag.Nanoseconds(),
		})
	}

	r.backend.Flush()
}

func (r *SessionRecorder) recordTask(
	sessionID string,
	node *profiling.TaskNode,
	parentID string,
	depth int,
) {
	r.backend.Insert("session_tasks", taskRow{
		SessionID:        sessionID,
		TaskID:           node.ID,
		ParentID:         parentID,
		Name:             node.Name,
		Func:             node.Func,
		State:            node.State,
		Error:            node.Error,
		CreatedAtNanos:   node.CreatedAt.Nanoseconds(),
		StartedAtNanos:   node.StartedAt.Nanoseconds(),
		CompletedAtNanos: node.CompletedAt.Nanoseconds(),
		Depth:            depth,
	})

	for _, child := range node.Children {
		r.recordTask(sessionID, child, node.ID, depth+1)
	}
}
