package profiling

import (
	"fmt"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/loopscope/loopscope/hooking"
	"github.com/loopscope/loopscope/sched"
)

// A BlockingDetector flags callbacks and task slices that occupy the loop
// thread beyond a threshold without yielding. It observes the duration of
// every scheduler tick rather than instrumenting individual functions, so
// stalls below the threshold go unseen and a legitimately long tick under
// heavy load is reported as blocking. That trade-off buys near-zero
// overhead.
type BlockingDetector struct {
	loop          *sched.Loop
	sink          BlockingSink
	threshold     time.Duration
	captureStacks bool
	log           *logrus.Logger

	installed bool
	prevSlow  time.Duration
}

// NewBlockingDetector creates a detector writing into sink.
func NewBlockingDetector(
	loop *sched.Loop,
	sink BlockingSink,
	threshold time.Duration,
	captureStacks bool,
	log *logrus.Logger,
) *BlockingDetector {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &BlockingDetector{
		loop:          loop,
		sink:          sink,
		threshold:     threshold,
		captureStacks: captureStacks,
		log:           log,
	}
}

// Start installs the detector, saving the loop's slow-callback threshold so
// Stop can put it back.
func (d *BlockingDetector) Start() error {
	if d.installed {
		return nil
	}

	d.prevSlow = d.loop.SetSlowCallbackThreshold(d.threshold)
	d.loop.AcceptHook(d)
	d.installed = true

	return nil
}

// Stop uninstalls the detector and restores the loop's prior slow-callback
// threshold. Stop is idempotent.
func (d *BlockingDetector) Stop() {
	if !d.installed {
		return
	}
	d.installed = false

	// Restore the loop setting even if detaching misbehaves.
	defer d.loop.SetSlowCallbackThreshold(d.prevSlow)
	d.loop.DetachHook(d)
}

// Func inspects one finished tick. A failure here is contained so that a
// broken detector cannot take down the loop or the other observers.
func (d *BlockingDetector) Func(ctx hooking.HookCtx) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithField("detector", "blocking").
				Warnf("recovered from detector failure: %v", r)
		}
	}()

	if ctx.Pos != sched.HookPosTickEnd {
		return
	}

	info, ok := ctx.Item.(sched.TickInfo)
	if !ok || info.Duration < d.threshold {
		return
	}

	severity := SeverityWarning
	if info.Duration >= 2*d.threshold {
		severity = SeverityCritical
	}

	d.sink.AppendBlockingEvent(BlockingEvent{
		At:       d.sink.Offset(),
		Duration: info.Duration,
		Callback: info.Name,
		Location: d.location(info.PC),
		TaskID:   info.TaskID,
		Severity: severity,
	})
}

// location resolves a best-effort call site for the offending callback.
func (d *BlockingDetector) location(pc uintptr) string {
	if !d.captureStacks || pc == 0 {
		return ""
	}

	f := runtime.FuncForPC(pc)
	if f == nil {
		return ""
	}

	file, line := f.FileLine(pc)
	return fmt.Sprintf("%s:%d (%s)", file, line, f.Name())
}
