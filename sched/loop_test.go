package sched

import (
	"time"

	ginkgo "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/loopscope/loopscope/hooking"
)

type tickCollector struct {
	infos []TickInfo
}

func (c *tickCollector) Func(ctx hooking.HookCtx) {
	if ctx.Pos != HookPosTickEnd {
		return
	}
	c.infos = append(c.infos, ctx.Item.(TickInfo))
}

var _ = ginkgo.Describe("Loop", func() {
	var loop *Loop

	ginkgo.BeforeEach(func() {
		loop = NewLoop()
	})

	ginkgo.It("should run callbacks in due order", func() {
		var order []string

		loop.Schedule("late", 20*time.Millisecond, func() {
			order = append(order, "late")
		})
		loop.Schedule("early", 5*time.Millisecond, func() {
			order = append(order, "early")
		})
		loop.Schedule("now", 0, func() {
			order = append(order, "now")
		})

		Expect(loop.Run()).To(Succeed())
		Expect(order).To(Equal([]string{"now", "early", "late"}))
	})

	ginkgo.It("should run same-instant callbacks in scheduling order", func() {
		var order []int

		for i := 0; i < 5; i++ {
			loop.Schedule("cb", 0, func() {
				order = append(order, i)
			})
		}

		Expect(loop.Run()).To(Succeed())
		Expect(order).To(Equal([]int{0, 1, 2, 3, 4}))
	})

	ginkgo.It("should not run cancelled callbacks", func() {
		ran := false
		handle := loop.Schedule("cancelled", 5*time.Millisecond, func() {
			ran = true
		})
		loop.Schedule("witness", 0, func() {})

		handle.Cancel()

		Expect(loop.Run()).To(Succeed())
		Expect(ran).To(BeFalse())
	})

	ginkgo.It("should return when stopped", func() {
		loop.Schedule("stopper", 0, func() {
			loop.Stop()
		})
		loop.Schedule("never", time.Hour, func() {
			ginkgo.Fail("should not run")
		})

		Expect(loop.Run()).To(Succeed())
	})

	ginkgo.It("should report each tick to hooks", func() {
		collector := &tickCollector{}
		loop.AcceptHook(collector)

		loop.Schedule("observed", 0, func() {
			time.Sleep(10 * time.Millisecond)
		})

		Expect(loop.Run()).To(Succeed())
		Expect(collector.infos).To(HaveLen(1))
		Expect(collector.infos[0].Name).To(Equal("observed"))
		Expect(collector.infos[0].TaskID).To(BeEmpty())
		Expect(collector.infos[0].Duration).
			To(BeNumerically(">=", 10*time.Millisecond))
	})

	ginkgo.It("should record the last tick", func() {
		loop.Schedule("first", 0, func() {})
		loop.Schedule("second", time.Millisecond, func() {})

		Expect(loop.Run()).To(Succeed())
		Expect(loop.LastTick().Name).To(Equal("second"))
	})

	ginkgo.It("should return the previous slow-callback threshold on set", func() {
		prev := loop.SetSlowCallbackThreshold(25 * time.Millisecond)
		Expect(prev).To(Equal(time.Duration(0)))

		prev = loop.SetSlowCallbackThreshold(50 * time.Millisecond)
		Expect(prev).To(Equal(25 * time.Millisecond))
		Expect(loop.SlowCallbackThreshold()).To(Equal(50 * time.Millisecond))
	})

	ginkgo.It("should swap and restore the spawn primitive", func() {
		original := loop.SpawnPrimitive()

		var observed []string
		wrapped := func(l *Loop, parent *Task, name string, fn TaskFunc) *Task {
			observed = append(observed, name)
			return original(l, parent, name, fn)
		}

		prev := loop.SwapSpawnPrimitive(wrapped)
		loop.Spawn("watched", func(*Context) error { return nil })
		loop.SwapSpawnPrimitive(prev)
		loop.Spawn("unwatched", func(*Context) error { return nil })

		Expect(loop.Run()).To(Succeed())
		Expect(observed).To(Equal([]string{"watched"}))
	})

	ginkgo.It("should refuse a nil spawn primitive", func() {
		Expect(func() { loop.SwapSpawnPrimitive(nil) }).To(Panic())
	})
})
