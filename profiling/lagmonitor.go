package profiling

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/loopscope/loopscope/sched"
)

// A LagMonitor samples scheduling delay independently of task activity: a
// self-rescheduling probe runs at a fixed cadence, and each probe records
// how much later than intended it was resumed. Samples are aggregated only
// at stats time.
type LagMonitor struct {
	loop     *sched.Loop
	sink     LagSink
	interval time.Duration
	log      *logrus.Logger

	started bool
	stopped atomic.Bool

	mu       sync.Mutex
	handle   *sched.TimerHandle
	expected time.Time
}

// NewLagMonitor creates a monitor probing every interval.
func NewLagMonitor(
	loop *sched.Loop,
	sink LagSink,
	interval time.Duration,
	log *logrus.Logger,
) *LagMonitor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LagMonitor{
		loop:     loop,
		sink:     sink,
		interval: interval,
		log:      log,
	}
}

// Start launches the probe chain.
func (m *LagMonitor) Start() error {
	if m.started {
		return nil
	}
	m.started = true
	m.stopped.Store(false)

	m.scheduleProbe()
	return nil
}

// Stop cancels the probe's self-rescheduling chain. Leaving the chain alive
// would silently survive into later sessions, so Stop both cancels the
// pending timer and marks the monitor stopped in case the probe is already
// in flight. Stop is idempotent.
func (m *LagMonitor) Stop() {
	if !m.started {
		return
	}
	m.started = false
	m.stopped.Store(true)

	m.mu.Lock()
	if m.handle != nil {
		m.handle.Cancel()
		m.handle = nil
	}
	m.mu.Unlock()
}

func (m *LagMonitor) scheduleProbe() {
	m.mu.Lock()
	m.expected = m.loop.Now().Add(m.interval)
	m.handle = m.loop.Schedule("lag-probe", m.interval, m.probe)
	m.mu.Unlock()
}

// probe records one sample and reschedules itself. A failing probe is
// contained so it cannot stop the chain or the host work.
func (m *LagMonitor) probe() {
	defer func() {
		if r := recover(); r != nil {
			m.log.WithField("detector", "lag").
				Warnf("recovered from probe failure: %v", r)
		}
	}()

	if m.stopped.Load() {
		return
	}

	now := m.loop.Now()
	m.mu.Lock()
	expected := m.expected
	m.mu.Unlock()

	lag := now.Sub(expected)
	if lag < 0 {
		lag = 0
	}

	m.sink.AppendLagSample(LagSample{
		At:       m.sink.Offset(),
		Expected: m.interval,
		Actual:   m.interval + lag,
		Lag:      lag,
	})

	m.scheduleProbe()
}
