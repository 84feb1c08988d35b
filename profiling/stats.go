package profiling

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// LagSummary aggregates the session's lag samples.
type LagSummary struct {
	Min time.Duration `json:"min"`
	Avg time.Duration `json:"avg"`
	Max time.Duration `json:"max"`
	P95 time.Duration `json:"p95"`
}

// FunctionTiming attributes time to one function. Total is wall-clock time
// between task start and completion; Running is time the function actually
// held the loop thread; Suspended is the difference; CPUTime comes from the
// CPU profile when the deep backend is active.
type FunctionTiming struct {
	Name      string        `json:"name"`
	Calls     int           `json:"calls"`
	Total     time.Duration `json:"total"`
	Running   time.Duration `json:"running"`
	Suspended time.Duration `json:"suspended"`
	CPUTime   time.Duration `json:"cpu_time"`
}

// A TaskNode is one task in the reported hierarchy.
type TaskNode struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Func        string        `json:"func"`
	State       string        `json:"state"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Duration `json:"created_at"`
	StartedAt   time.Duration `json:"started_at"`
	CompletedAt time.Duration `json:"completed_at"`
	Children    []*TaskNode   `json:"children,omitempty"`
}

// Stats is the merged result of one profiling session.
type Stats struct {
	Backend           string           `json:"backend"`
	ProfilingOverhead time.Duration    `json:"profiling_overhead"`
	TasksCreated      int              `json:"tasks_created"`
	TasksCompleted    int              `json:"tasks_completed"`
	TasksDropped      int              `json:"tasks_dropped"`
	EventLoopLag      LagSummary       `json:"event_loop_lag"`
	BlockingCalls     []BlockingEvent  `json:"blocking_calls"`
	TaskHierarchy     []*TaskNode      `json:"task_hierarchy"`
	TopFunctions      []FunctionTiming `json:"top_functions"`
	Timeline          []TimelineEntry  `json:"timeline"`
	Warnings          []string         `json:"warnings,omitempty"`
}

// Summary renders a short label for navigation, such as
// "2 blocking, lag 4ms", or "OK" when nothing is noteworthy.
func (s Stats) Summary() string {
	var parts []string

	if n := len(s.BlockingCalls); n > 0 {
		parts = append(parts, fmt.Sprintf("%d blocking", n))
	}

	if s.EventLoopLag.Max >= time.Millisecond {
		parts = append(parts, fmt.Sprintf(
			"lag %dms", s.EventLoopLag.Max.Milliseconds()))
	}

	if len(parts) == 0 {
		return "OK"
	}
	return strings.Join(parts, ", ")
}

// emptyStats is the well-defined zero-valued structure reported when no
// finalized session exists or profiling failed entirely.
func emptyStats() Stats {
	return Stats{
		Backend:       BackendNone,
		BlockingCalls: []BlockingEvent{},
		TaskHierarchy: []*TaskNode{},
		TopFunctions:  []FunctionTiming{},
		Timeline:      []TimelineEntry{},
	}
}

// aggregateLag reduces the raw samples to min/avg/max/p95. Aggregation
// happens here, at stats time, so no running statistics structure is
// maintained per sample.
func aggregateLag(samples []LagSample) LagSummary {
	if len(samples) == 0 {
		return LagSummary{}
	}

	lags := make([]time.Duration, len(samples))
	var sum time.Duration
	for i, s := range samples {
		lags[i] = s.Lag
		sum += s.Lag
	}

	sort.Slice(lags, func(i, j int) bool { return lags[i] < lags[j] })

	p95Index := (95*len(lags) + 99) / 100
	if p95Index > 0 {
		p95Index--
	}

	return LagSummary{
		Min: lags[0],
		Avg: sum / time.Duration(len(lags)),
		Max: lags[len(lags)-1],
		P95: lags[p95Index],
	}
}

// buildHierarchy projects tracked records, in creation order, into the
// reported forest.
func buildHierarchy(records []*TaskRecord) []*TaskNode {
	nodes := make(map[string]*TaskNode, len(records))
	var roots []*TaskNode

	for _, rec := range records {
		nodes[rec.ID] = &TaskNode{
			ID:          rec.ID,
			Name:        rec.Name,
			Func:        rec.Func,
			State:       rec.State().String(),
			Error:       rec.Error,
			CreatedAt:   rec.CreatedAt,
			StartedAt:   rec.StartedAt,
			CompletedAt: rec.CompletedAt,
		}
	}

	for _, rec := range records {
		node := nodes[rec.ID]
		parent, ok := nodes[rec.ParentID]
		if rec.ParentID == "" || !ok {
			roots = append(roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}

	return roots
}
