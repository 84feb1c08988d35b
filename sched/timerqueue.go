package sched

import "time"

// A timerItem is one scheduled callback waiting in the loop's timer queue.
type timerItem struct {
	due       time.Time
	seq       uint64
	name      string
	taskID    string
	pc        uintptr
	fn        func()
	cancelled bool
}

// timerQueue is a min-heap of timer items ordered by due time. Items
// scheduled for the same instant run in scheduling order.
type timerQueue []*timerItem

func (q timerQueue) Len() int {
	return len(q)
}

func (q timerQueue) Less(i, j int) bool {
	if q[i].due.Equal(q[j].due) {
		return q[i].seq < q[j].seq
	}
	return q[i].due.Before(q[j].due)
}

func (q timerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
}

func (q *timerQueue) Push(x any) {
	*q = append(*q, x.(*timerItem))
}

func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// A TimerHandle refers to a scheduled callback and allows cancelling it
// before it runs.
type TimerHandle struct {
	loop *Loop
	item *timerItem
}

// Cancel prevents the callback from running. Cancelling an already-executed
// or already-cancelled callback is a no-op.
func (h *TimerHandle) Cancel() {
	h.loop.mu.Lock()
	h.item.cancelled = true
	h.loop.mu.Unlock()
}
