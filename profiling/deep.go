package profiling

import (
	"bytes"
	"fmt"
	"runtime/pprof"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/pprof/profile"

	"github.com/loopscope/loopscope/hooking"
	"github.com/loopscope/loopscope/sched"
)

// Only one CPU profile can run per process, so only one deep profiler can be
// active at a time.
var deepInUse atomic.Bool

func init() {
	RegisterBackend(BackendInfo{
		Name:     BackendDeep,
		Priority: 10,
		Available: func(_ *sched.Loop) bool {
			return !deepInUse.Load()
		},
		New: func(l *sched.Loop, sess *Session, cfg Config) Backend {
			return newDeepProfiler(l, sess, cfg)
		},
	})
}

// deepProfiler is the higher-fidelity backend. On top of the task tracker's
// hierarchy it attributes wall-clock time to individual task functions,
// separating genuine execution time (accumulated from per-tick slices) from
// suspension, which a conventional profiler conflates. It also captures a
// CPU profile for per-function CPU attribution.
type deepProfiler struct {
	tracker *taskTracker
	loop    *sched.Loop
	sess    *Session
	cfg     Config

	buf          bytes.Buffer
	profiling    bool
	hookAttached bool
	acquired     bool

	running  map[string]time.Duration // exec time per task func
	cpuTimes map[string]time.Duration // CPU time per function from the profile
}

func newDeepProfiler(l *sched.Loop, sess *Session, cfg Config) *deepProfiler {
	return &deepProfiler{
		tracker:  newTaskTracker(l, sess, cfg),
		loop:     l,
		sess:     sess,
		cfg:      cfg,
		running:  make(map[string]time.Duration),
		cpuTimes: make(map[string]time.Duration),
	}
}

func (d *deepProfiler) Name() string {
	return BackendDeep
}

func (d *deepProfiler) Start() error {
	if d.acquired {
		return nil
	}
	if !deepInUse.CompareAndSwap(false, true) {
		return fmt.Errorf("deep profiler already active in this process")
	}
	d.acquired = true

	if err := d.tracker.Start(); err != nil {
		d.Stop()
		return err
	}

	d.loop.AcceptHook(d)
	d.hookAttached = true

	d.buf.Reset()
	if err := pprof.StartCPUProfile(&d.buf); err != nil {
		d.Stop()
		return fmt.Errorf("starting cpu profile: %w", err)
	}
	d.profiling = true

	return nil
}

func (d *deepProfiler) Stop() {
	if !d.acquired {
		return
	}

	if d.profiling {
		pprof.StopCPUProfile()
		d.profiling = false
		d.parseProfile()
	}

	if d.hookAttached {
		d.loop.DetachHook(d)
		d.hookAttached = false
	}

	d.tracker.Stop()

	d.acquired = false
	deepInUse.Store(false)
}

// Func accumulates per-task execution slices from the loop's tick reports.
func (d *deepProfiler) Func(ctx hooking.HookCtx) {
	if ctx.Pos != sched.HookPosTickEnd {
		return
	}

	info, ok := ctx.Item.(sched.TickInfo)
	if !ok || info.TaskID == "" {
		return
	}

	funcName := d.tracker.funcOf(info.TaskID)
	if funcName == "" {
		return
	}

	d.running[funcName] += info.Duration
}

func (d *deepProfiler) parseProfile() {
	prof, err := profile.ParseData(d.buf.Bytes())
	if err != nil {
		return
	}

	valueIndex := -1
	for i, st := range prof.SampleType {
		if st.Type == "cpu" || st.Unit == "nanoseconds" {
			valueIndex = i
			break
		}
	}
	if valueIndex < 0 {
		return
	}

	for _, sample := range prof.Sample {
		if len(sample.Location) == 0 {
			continue
		}
		leaf := sample.Location[0]
		if len(leaf.Line) == 0 || leaf.Line[0].Function == nil {
			continue
		}

		name := leaf.Line[0].Function.Name
		d.cpuTimes[name] += time.Duration(sample.Value[valueIndex])
	}
}

func (d *deepProfiler) CollectStats(s *Stats) {
	d.tracker.CollectStats(s)
	s.TopFunctions = d.functionTimings()
}

const maxTopFunctions = 20

// functionTimings merges three views of each function: call counts and wall
// time from the tracked task records, execution time from tick slices, and
// CPU time from the profile.
func (d *deepProfiler) functionTimings() []FunctionTiming {
	byName := make(map[string]*FunctionTiming)

	timing := func(name string) *FunctionTiming {
		ft, ok := byName[name]
		if !ok {
			ft = &FunctionTiming{Name: name}
			byName[name] = ft
		}
		return ft
	}

	for _, rec := range d.tracker.ordered {
		ft := timing(rec.Func)
		ft.Calls++
		if rec.StartedAt >= 0 && rec.CompletedAt >= 0 {
			ft.Total += rec.CompletedAt - rec.StartedAt
		}
	}

	for name, exec := range d.running {
		ft := timing(name)
		ft.Running += exec
		if ft.Total > ft.Running {
			ft.Suspended = ft.Total - ft.Running
		}
	}

	for name, cpu := range d.cpuTimes {
		timing(name).CPUTime += cpu
	}

	timings := make([]FunctionTiming, 0, len(byName))
	for _, ft := range byName {
		timings = append(timings, *ft)
	}

	sort.Slice(timings, func(i, j int) bool {
		ti, tj := timings[i], timings[j]
		if ti.Total != tj.Total {
			return ti.Total > tj.Total
		}
		if ti.CPUTime != tj.CPUTime {
			return ti.CPUTime > tj.CPUTime
		}
		return ti.Name < tj.Name
	})

	if len(timings) > maxTopFunctions {
		timings = timings[:maxTopFunctions]
	}
	return timings
}
