package profiling

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/loopscope/loopscope/sched"
)

var _ = Describe("Session", func() {
	var sess *Session

	BeforeEach(func() {
		sess = NewSession(sched.SystemClock{}, 2)
	})

	It("should have a non-empty identity", func() {
		Expect(sess.ID()).NotTo(BeEmpty())
		Expect(NewSession(sched.SystemClock{}, 2).ID()).NotTo(Equal(sess.ID()))
	})

	It("should store records in creation order", func() {
		Expect(sess.AppendTask(&TaskRecord{ID: "1"})).To(BeTrue())
		Expect(sess.AppendTask(&TaskRecord{ID: "2"})).To(BeTrue())

		Expect(sess.Tasks()).To(HaveLen(2))
		Expect(sess.Tasks()[0].ID).To(Equal("1"))
		Expect(sess.Tasks()[1].ID).To(Equal("2"))
	})

	It("should drop records past the capacity bound", func() {
		sess.AppendTask(&TaskRecord{ID: "1"})
		sess.AppendTask(&TaskRecord{ID: "2"})

		Expect(sess.AppendTask(&TaskRecord{ID: "3"})).To(BeFalse())
		Expect(sess.Tasks()).To(HaveLen(2))
		Expect(sess.DroppedTasks()).To(Equal(1))
	})

	It("should be unbounded with a non-positive capacity", func() {
		unbounded := NewSession(sched.SystemClock{}, 0)
		for i := 0; i < 100; i++ {
			Expect(unbounded.AppendTask(&TaskRecord{})).To(BeTrue())
		}
		Expect(unbounded.DroppedTasks()).To(BeZero())
	})

	It("should drop all appends after finalization", func() {
		sess.Finalize()

		Expect(sess.AppendTask(&TaskRecord{ID: "late"})).To(BeFalse())
		sess.AppendBlockingEvent(BlockingEvent{})
		sess.AppendLagSample(LagSample{})

		Expect(sess.Tasks()).To(BeEmpty())
		Expect(sess.BlockingEvents()).To(BeEmpty())
		Expect(sess.LagSamples()).To(BeEmpty())
		Expect(sess.Finalized()).To(BeTrue())
	})

	It("should measure offsets from the epoch", func() {
		Expect(sess.Offset()).To(BeNumerically(">=", 0))
		Expect(sess.Since(sess.Epoch().Add(time.Second))).To(Equal(time.Second))
	})

	It("should map the zero time to the unknown sentinel", func() {
		Expect(sess.Since(time.Time{})).To(Equal(TimeUnknown))
	})
})
