// Package profiling implements an in-process instrumentation engine for a
// cooperative, single-threaded task runtime. For one bounded unit of work it
// reports how many tasks were created and how they relate, which callbacks
// monopolized the loop thread, and how much scheduling lag the runtime
// experienced. Its failure mode is always "profile less", never "break the
// request": nothing this package does propagates a panic or error into the
// host's unit of work.
package profiling

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/loopscope/loopscope/sched"
)

// State is the coordinator's lifecycle state.
type State int

// The coordinator moves idle → active → finalized; a fresh Start after
// finalized begins a new, unconnected session.
const (
	StateIdle State = iota
	StateActive
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// A Profiler coordinates one profiling session over a unit of work: it
// selects a backend, owns the detectors' lifecycle, and merges their outputs
// into one stats structure.
type Profiler struct {
	loop *sched.Loop
	cfg  Config
	log  *logrus.Logger

	state       State
	session     *Session
	backend     Backend
	backendName string
	blocking    *BlockingDetector
	lag         *LagMonitor
	warnings    []string
	overhead    time.Duration
}

// NewProfiler creates a profiler for the given loop. Zero-valued config
// fields take their defaults.
func NewProfiler(loop *sched.Loop, cfg Config) *Profiler {
	return &Profiler{
		loop:        loop,
		cfg:         cfg.withDefaults(),
		log:         logrus.StandardLogger(),
		backendName: BackendNone,
	}
}

// WithLogger sets the logger used for contained failures.
func (p *Profiler) WithLogger(log *logrus.Logger) *Profiler {
	if log != nil {
		p.log = log
	}
	return p
}

// State returns the coordinator's lifecycle state.
func (p *Profiler) State() State { return p.state }

// Session returns the current or most recent session, nil when idle.
func (p *Profiler) Session() *Session { return p.session }

// guard contains a panic from any public entry point.
func (p *Profiler) guard(op string) {
	if r := recover(); r != nil {
		p.log.WithField("op", op).Warnf("profiler recovered: %v", r)
	}
}

// Start begins a new session: it creates the session, selects and starts a
// backend, and starts the detectors enabled by configuration. Starting an
// already-active profiler is a no-op. A start failure disables profiling for
// this unit of work instead of failing it.
func (p *Profiler) Start() {
	defer p.guard("start")

	if p.state == StateActive {
		return
	}

	begin := p.loop.Now()

	p.warnings = nil
	p.backend = nil
	p.backendName = BackendNone
	p.blocking = nil
	p.lag = nil
	p.session = NewSession(p.loop.Clock(), p.cfg.MaxTrackedTasks)

	p.startBackend()
	p.startDetectors()

	p.state = StateActive
	p.overhead = p.loop.Now().Sub(begin)
}

func (p *Profiler) startBackend() {
	if p.cfg.Backend == BackendNone {
		return
	}

	info, warning, ok := selectBackend(RegisteredBackends(), p.cfg.Backend, p.loop)
	if warning != "" {
		p.warn(warning)
	}
	if !ok {
		return
	}

	if p.tryStartBackend(info) {
		return
	}

	// A failed preferred backend still leaves the default usable.
	if info.Name == BackendTaskTracker {
		return
	}
	fallback, _, ok := selectBackend(
		RegisteredBackends(), BackendTaskTracker, p.loop)
	if ok && fallback.Name != info.Name {
		p.tryStartBackend(fallback)
	}
}

func (p *Profiler) tryStartBackend(info BackendInfo) bool {
	backend := info.New(p.loop, p.session, p.cfg)
	if err := backend.Start(); err != nil {
		p.warn("backend " + info.Name + " failed to start: " + err.Error())
		backend.Stop()
		return false
	}

	p.backend = backend
	p.backendName = info.Name
	return true
}

func (p *Profiler) startDetectors() {
	if p.cfg.BlockingDetectorEnabled {
		detector := NewBlockingDetector(
			p.loop, p.session, p.cfg.BlockingThreshold, p.cfg.CaptureStacks, p.log)
		if err := detector.Start(); err != nil {
			p.warn("blocking detector failed to start: " + err.Error())
		} else {
			p.blocking = detector
		}
	}

	if p.cfg.LagMonitorEnabled {
		monitor := NewLagMonitor(p.loop, p.session, p.cfg.LagInterval, p.log)
		if err := monitor.Start(); err != nil {
			p.warn("lag monitor failed to start: " + err.Error())
		} else {
			p.lag = monitor
		}
	}
}

// Stop finalizes the session, stopping the detectors and the backend in
// reverse order of start. Each shutdown failure is logged and contained so a
// broken observer never prevents the others from uninstalling. Stop is
// idempotent: without an active session it is a no-op.
func (p *Profiler) Stop() {
	defer p.guard("stop")

	if p.state != StateActive {
		return
	}

	begin := p.loop.Now()

	if p.lag != nil {
		p.stopContained("lag monitor", p.lag.Stop)
	}
	if p.blocking != nil {
		p.stopContained("blocking detector", p.blocking.Stop)
	}
	if p.backend != nil {
		p.stopContained("backend "+p.backendName, p.backend.Stop)
	}

	p.session.Finalize()
	p.state = StateFinalized
	p.overhead += p.loop.Now().Sub(begin)
}

func (p *Profiler) stopContained(what string, stop func()) {
	defer func() {
		if r := recover(); r != nil {
			p.warn(what + " failed to stop cleanly")
			p.log.Warnf("%s failed to stop cleanly: %v", what, r)
		}
	}()
	stop()
}

func (p *Profiler) warn(msg string) {
	p.warnings = append(p.warnings, msg)
	p.log.Warn(msg)
}

// Stats merges the backend and detector outputs into the reported schema.
// Before the session is finalized it returns a well-defined empty structure
// rather than erroring.
func (p *Profiler) Stats() (stats Stats) {
	defer func() {
		if r := recover(); r != nil {
			p.log.WithField("op", "stats").Warnf("profiler recovered: %v", r)
			stats = emptyStats()
		}
	}()

	if p.state != StateFinalized || p.session == nil {
		return emptyStats()
	}

	stats = emptyStats()
	stats.Backend = p.backendName
	stats.ProfilingOverhead = p.overhead
	stats.Warnings = append([]string(nil), p.warnings...)

	if p.backend != nil {
		p.backend.CollectStats(&stats)
	}

	stats.TasksDropped = p.session.DroppedTasks()
	if events := p.session.BlockingEvents(); events != nil {
		stats.BlockingCalls = events
	}
	stats.EventLoopLag = aggregateLag(p.session.LagSamples())
	stats.Timeline = buildTimeline(stats.TaskHierarchy)

	return stats
}

// Summary returns the one-line label for the most recent session.
func (p *Profiler) Summary() string {
	return p.Stats().Summary()
}

// Profile runs one unit of work under the profiler. Stop runs on the
// guaranteed-cleanup path, so the session is finalized even if fn panics;
// the panic itself is re-raised to the host after cleanup.
func (p *Profiler) Profile(fn func()) Stats {
	p.Start()
	func() {
		defer p.Stop()
		fn()
	}()
	return p.Stats()
}
