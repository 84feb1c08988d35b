package sched

import (
	"time"

	"github.com/loopscope/loopscope/hooking"
)

// HookPosTickEnd is invoked after the loop finishes executing one callback or
// task slice. The HookCtx Item is a TickInfo.
var HookPosTickEnd = &hooking.HookPos{Name: "TickEnd"}

// TickInfo describes one completed scheduler tick: a single callback or task
// slice that occupied the loop thread.
type TickInfo struct {
	// Name is the name given to the callback or the task that ran.
	Name string

	// TaskID is the ID of the task that ran, or empty for plain callbacks.
	TaskID string

	// PC is the entry point of the function that ran, resolvable with
	// runtime.FuncForPC.
	PC uintptr

	Start    time.Time
	Duration time.Duration
}
