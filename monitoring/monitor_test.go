package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/loopscope/loopscope/profiling"
	"github.com/loopscope/loopscope/sched"
)

var _ = Describe("Monitor", func() {
	var (
		loop     *sched.Loop
		profiler *profiling.Profiler
		monitor  *Monitor
	)

	BeforeEach(func() {
		loop = sched.NewLoop()
		profiler = profiling.NewProfiler(loop, profiling.Config{
			Backend: profiling.BackendTaskTracker,
		})

		monitor = NewMonitor()
		monitor.RegisterLoop(loop)
		monitor.RegisterProfiler(profiler)
	})

	get := func(handler http.HandlerFunc) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		return rec
	}

	It("should report the profiler state", func() {
		rec := get(monitor.state)

		var rsp struct {
			State string `json:"state"`
		}
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.State).To(Equal("idle"))
	})

	It("should report an OK summary with no session", func() {
		rec := get(monitor.summary)

		var rsp struct {
			Summary string `json:"summary"`
		}
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.Summary).To(Equal("OK"))
	})

	It("should serve stats as JSON", func() {
		loop.Schedule("session", 0, func() {
			profiler.Start()
			root := loop.Spawn("work", func(ctx *sched.Context) error {
				return ctx.Sleep(5 * time.Millisecond)
			})
			root.OnDone(func(*sched.Task) { profiler.Stop() })
		})
		Expect(loop.Run()).To(Succeed())

		rec := get(monitor.stats)

		var stats profiling.Stats
		Expect(json.Unmarshal(rec.Body.Bytes(), &stats)).To(Succeed())
		Expect(stats.Backend).To(Equal(profiling.BackendTaskTracker))
		Expect(stats.TasksCreated).To(Equal(1))
	})

	It("should serve the timeline", func() {
		loop.Schedule("session", 0, func() {
			profiler.Start()
			root := loop.Spawn("work", func(*sched.Context) error { return nil })
			root.OnDone(func(*sched.Task) { profiler.Stop() })
		})
		Expect(loop.Run()).To(Succeed())

		rec := get(monitor.timeline)

		var timeline []profiling.TimelineEntry
		Expect(json.Unmarshal(rec.Body.Bytes(), &timeline)).To(Succeed())
		Expect(timeline).To(HaveLen(1))
		Expect(timeline[0].Name).To(Equal("work"))
	})

	It("should schedule start and stop onto the loop", func() {
		get(monitor.startSession)
		Expect(profiler.State()).To(Equal(profiling.StateIdle))

		get(monitor.stopSession)
		Expect(loop.Run()).To(Succeed())

		Expect(profiler.State()).To(Equal(profiling.StateFinalized))
	})

	It("should report process resources", func() {
		rec := get(monitor.listResources)

		var rsp resourceRsp
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.MemorySize).To(BeNumerically(">", 0))
	})
})
