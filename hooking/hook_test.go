package hooking

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type collectingHook struct {
	ctxs []HookCtx
}

func (h *collectingHook) Func(ctx HookCtx) {
	h.ctxs = append(h.ctxs, ctx)
}

var _ = Describe("HookableBase", func() {
	var (
		hookable *HookableBase
		hook     *collectingHook
	)

	BeforeEach(func() {
		hookable = &HookableBase{}
		hook = &collectingHook{}
	})

	It("should register hooks", func() {
		hookable.AcceptHook(hook)

		Expect(hookable.NumHooks()).To(Equal(1))
		Expect(hookable.Hooks()).To(HaveLen(1))
	})

	It("should refuse to register the same hook twice", func() {
		hookable.AcceptHook(hook)

		Expect(func() { hookable.AcceptHook(hook) }).To(Panic())
	})

	It("should invoke every registered hook", func() {
		another := &collectingHook{}
		hookable.AcceptHook(hook)
		hookable.AcceptHook(another)

		pos := &HookPos{Name: "Test"}
		hookable.InvokeHook(HookCtx{Pos: pos, Item: 42})

		Expect(hook.ctxs).To(HaveLen(1))
		Expect(hook.ctxs[0].Pos).To(BeIdenticalTo(pos))
		Expect(hook.ctxs[0].Item).To(Equal(42))
		Expect(another.ctxs).To(HaveLen(1))
	})

	It("should detach a hook", func() {
		another := &collectingHook{}
		hookable.AcceptHook(hook)
		hookable.AcceptHook(another)

		hookable.DetachHook(hook)
		hookable.InvokeHook(HookCtx{})

		Expect(hookable.NumHooks()).To(Equal(1))
		Expect(hook.ctxs).To(BeEmpty())
		Expect(another.ctxs).To(HaveLen(1))
	})

	It("should tolerate detaching an unknown hook", func() {
		hookable.AcceptHook(hook)

		hookable.DetachHook(&collectingHook{})

		Expect(hookable.NumHooks()).To(Equal(1))
	})
})
