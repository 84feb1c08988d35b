package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/loopscope/loopscope/monitoring"
	"github.com/loopscope/loopscope/profiling"
	"github.com/loopscope/loopscope/recording"
	"github.com/loopscope/loopscope/sched"
)

func run(cmd *cobra.Command, opts options) error {
	loop := sched.NewLoop()
	profiler := profiling.NewProfiler(loop, profiling.Config{
		Backend:                 opts.Backend,
		BlockingThreshold:       opts.BlockingThreshold,
		BlockingDetectorEnabled: true,
		LagInterval:             opts.LagInterval,
		LagMonitorEnabled:       true,
		MaxTrackedTasks:         opts.MaxTasks,
		CaptureStacks:           true,
	})

	if opts.Serve {
		serve(loop, profiler, opts)
	}

	// Both the profiler start and the workload spawn must happen on the
	// loop thread, after the session's spawn primitive is installed.
	loop.Schedule("session", 0, func() {
		profiler.Start()

		root := loop.Spawn("demo", demoWorkload)
		root.OnDone(func(*sched.Task) {
			profiler.Stop()
			if !opts.Serve {
				loop.Stop()
			}
		})
	})
	loop.Schedule("demo-stall", 20*time.Millisecond, func() {
		stallFor(loop, opts.Stall)
	})

	if err := loop.Run(); err != nil {
		return err
	}

	stats := profiler.Stats()

	if opts.JSON {
		out, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
	} else {
		renderStats(cmd.OutOrStdout(), stats)
	}

	if opts.DBPath != "" {
		if err := record(profiler, stats, opts.DBPath); err != nil {
			return err
		}
	}

	return nil
}

// demoWorkload is a small task forest with enough structure to exercise the
// tracker: a root task fanning out to workers, each yielding and sleeping.
func demoWorkload(ctx *sched.Context) error {
	var children []*sched.Task
	for i := 0; i < 3; i++ {
		name := fmt.Sprintf("worker-%d", i)
		children = append(children, ctx.Spawn(name, func(c *sched.Context) error {
			if err := c.Yield(); err != nil {
				return err
			}

			grandchild := c.Spawn(name+"-io", func(c *sched.Context) error {
				return c.Sleep(30 * time.Millisecond)
			})

			if err := c.Sleep(10 * time.Millisecond); err != nil {
				return err
			}
			return c.Await(grandchild)
		}))
	}

	for _, child := range children {
		if err := ctx.Await(child); err != nil {
			return err
		}
	}

	return nil
}

// stallFor spins on the loop thread so the blocking detector has something
// to report.
func stallFor(loop *sched.Loop, d time.Duration) {
	start := loop.Now()
	for loop.Now().Sub(start) < d {
	}
}

func record(profiler *profiling.Profiler, stats profiling.Stats, path string) error {
	backend := recording.NewRecorder(path)
	defer backend.Close()

	recorder := recording.NewSessionRecorder(backend)

	session := profiler.Session()
	recorder.Record(session.ID(), stats)
	recorder.RecordLag(session.ID(), session.LagSamples())

	return nil
}

// serve starts the monitoring server and keeps the loop alive with a
// heartbeat, so the queue never drains while external control is possible.
func serve(loop *sched.Loop, profiler *profiling.Profiler, opts options) {
	monitor := monitoring.NewMonitor()
	monitor.RegisterLoop(loop)
	monitor.RegisterProfiler(profiler)
	if opts.Port != 0 {
		monitor = monitor.WithPortNumber(opts.Port)
	}

	addr := monitor.StartServer()

	if opts.Open {
		if err := browser.OpenURL(addr); err != nil {
			fmt.Println("could not open browser:", err)
		}
	}

	var heartbeat func()
	heartbeat = func() {
		loop.Schedule("heartbeat", 500*time.Millisecond, heartbeat)
	}
	heartbeat()
}
