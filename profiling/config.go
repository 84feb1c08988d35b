package profiling

import "time"

// Backend selector values. Any registered backend name is also accepted.
const (
	// BackendAuto lets the profiler pick the best available backend.
	BackendAuto = "auto"

	// BackendTaskTracker is the default backend. It has no external
	// dependencies and is always available.
	BackendTaskTracker = "tracker"

	// BackendDeep additionally attributes wall-clock time to functions.
	BackendDeep = "deep"

	// BackendNone marks stats gathered with no working backend.
	BackendNone = "none"
)

// Config holds the options the profiler recognizes.
type Config struct {
	// Backend selects the backend: BackendAuto or a registered name.
	Backend string

	// BlockingThreshold is the tick duration at which a callback counts as
	// blocking the loop.
	BlockingThreshold time.Duration

	// BlockingDetectorEnabled turns the blocking detector on.
	BlockingDetectorEnabled bool

	// LagInterval is the cadence of the lag monitor's probe.
	LagInterval time.Duration

	// LagMonitorEnabled turns the lag monitor on.
	LagMonitorEnabled bool

	// MaxTrackedTasks bounds the task records kept per session. Tasks beyond
	// the bound are still counted, just not tracked.
	MaxTrackedTasks int

	// CaptureStacks enables best-effort call-site capture on blocking events.
	CaptureStacks bool
}

// DefaultConfig returns the defaults: auto backend selection, 100ms blocking
// threshold, 10ms lag probes, 10000 tracked tasks, stack capture on.
func DefaultConfig() Config {
	return Config{
		Backend:                 BackendAuto,
		BlockingThreshold:       100 * time.Millisecond,
		BlockingDetectorEnabled: true,
		LagInterval:             10 * time.Millisecond,
		LagMonitorEnabled:       true,
		MaxTrackedTasks:         10000,
		CaptureStacks:           true,
	}
}

// withDefaults fills zero-valued fields that have no useful zero meaning.
func (c Config) withDefaults() Config {
	if c.Backend == "" {
		c.Backend = BackendAuto
	}
	if c.BlockingThreshold <= 0 {
		c.BlockingThreshold = 100 * time.Millisecond
	}
	if c.LagInterval <= 0 {
		c.LagInterval = 10 * time.Millisecond
	}
	return c
}
