package sched

import "time"

// A Clock tells the current wall-clock time. The loop and every observer
// stamp time through a Clock so that timing logic stays testable.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time from the operating system.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time {
	return time.Now()
}
