package conductor

import (
	"container/heap"
	"time"
)

// step is one scheduled unit of hardware interaction. Steps are ordered by
// due time in a min-heap; ties keep insertion order so same-instant steps
// for one actuator run in the order they were scheduled.
type step interface {
	due() time.Time
	run(rc *runContext)
}

type queuedStep struct {
	step step
	seq  int64
}

type stepHeap struct {
	items   []queuedStep
	nextSeq int64
}

func (h *stepHeap) Len() int { return len(h.items) }

func (h *stepHeap) Less(i, j int) bool {
	ti, tj := h.items[i].step.due(), h.items[j].step.due()
	if ti.Equal(tj) {
		return h.items[i].seq < h.items[j].seq
	}
	return ti.Before(tj)
}

func (h *stepHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *stepHeap) Push(x any) { h.items = append(h.items, x.(queuedStep)) }

func (h *stepHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

func (h *stepHeap) push(s step) {
	h.nextSeq++
	heap.Push(h, queuedStep{step: s, seq: h.nextSeq})
}

func (h *stepHeap) peek() (step, bool) {
	if len(h.items) == 0 {
		return nil, false
	}
	return h.items[0].step, true
}

func (h *stepHeap) pop() (step, bool) {
	if len(h.items) == 0 {
		return nil, false
	}
	return heap.Pop(h).(queuedStep).step, true
}

func (h *stepHeap) clear() {
	h.items = nil
}
