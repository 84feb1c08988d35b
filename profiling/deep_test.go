package profiling

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/loopscope/loopscope/sched"
)

var _ = Describe("DeepProfiler", func() {
	var (
		loop *sched.Loop
		sess *Session
		deep *deepProfiler
	)

	BeforeEach(func() {
		loop = sched.NewLoop()
		sess = NewSession(loop.Clock(), 0)
		deep = newDeepProfiler(loop, sess, DefaultConfig())
	})

	findDeepInfo := func() BackendInfo {
		for _, info := range RegisteredBackends() {
			if info.Name == BackendDeep {
				return info
			}
		}
		Fail("deep backend not registered")
		return BackendInfo{}
	}

	It("should be unavailable while another instance is active", func() {
		info := findDeepInfo()
		Expect(info.Available(loop)).To(BeTrue())

		Expect(deep.Start()).To(Succeed())
		Expect(info.Available(loop)).To(BeFalse())

		other := newDeepProfiler(loop, sess, DefaultConfig())
		Expect(other.Start()).To(HaveOccurred())

		deep.Stop()
		Expect(info.Available(loop)).To(BeTrue())
	})

	It("should stop idempotently and release the process slot", func() {
		Expect(deep.Start()).To(Succeed())
		deep.Stop()
		deep.Stop()

		Expect(findDeepInfo().Available(loop)).To(BeTrue())
		Expect(loop.NumHooks()).To(BeZero())
	})

	It("should separate running time from suspension", func() {
		Expect(deep.Start()).To(Succeed())

		loop.Spawn("busy-then-idle", func(ctx *sched.Context) error {
			time.Sleep(20 * time.Millisecond)
			return ctx.Sleep(30 * time.Millisecond)
		})

		Expect(loop.Run()).To(Succeed())
		deep.Stop()

		stats := emptyStats()
		deep.CollectStats(&stats)

		Expect(stats.TasksCreated).To(Equal(1))
		Expect(stats.TopFunctions).NotTo(BeEmpty())

		timing := stats.TopFunctions[0]
		Expect(timing.Calls).To(Equal(1))
		Expect(timing.Running).To(BeNumerically(">=", 20*time.Millisecond))
		Expect(timing.Total).To(BeNumerically(">=", 50*time.Millisecond))
		Expect(timing.Suspended).To(BeNumerically(">=", 25*time.Millisecond))
	})

	It("should ignore plain callbacks in function attribution", func() {
		Expect(deep.Start()).To(Succeed())

		loop.Schedule("callback", 0, func() {
			time.Sleep(20 * time.Millisecond)
		})

		Expect(loop.Run()).To(Succeed())
		deep.Stop()

		stats := emptyStats()
		deep.CollectStats(&stats)

		// Incidental CPU samples may appear, but nothing gets loop-thread
		// running time attributed.
		for _, timing := range stats.TopFunctions {
			Expect(timing.Calls).To(BeZero())
			Expect(timing.Running).To(BeZero())
		}
	})
})
