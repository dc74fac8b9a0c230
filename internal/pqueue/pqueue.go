// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

// Package pqueue implements C6, the single-consumer multi-producer
// priority queue between ingress and the dispatcher.
//
// No library in the retrieved pack offers a condvar-driven bounded
// priority queue, so this is the one deliberate stdlib-only piece of
// the core: container/heap backs the ordering, sync.Cond backs the
// wakeup (see SPEC_FULL.md §3).
package pqueue

import (
	"container/heap"
	"sync"

	"github.com/resourcetuner/urm/internal/structs"
)

type item struct {
	msg   *structs.Message
	seq   uint64 // admission sequence number, for FIFO-within-priority
	index int
}

type innerHeap []*item

func (h innerHeap) Len() int { return len(h) }
func (h innerHeap) Less(i, j int) bool {
	ri, rj := h[i].msg.Priority.Rank(), h[j].msg.Priority.Rank()
	if ri != rj {
		return ri < rj // lower rank == higher priority, pops first
	}
	return h[i].seq < h[j].seq
}
func (h innerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *innerHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *innerHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue is C6.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	heap    innerHeap
	nextSeq uint64
	closed  bool
}

// New builds an empty Queue.
func New() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// AddAndWakeup inserts m in priority order (FIFO within a level) and
// wakes one blocked consumer. Rejects malformed priorities.
func (q *Queue) AddAndWakeup(m *structs.Message) error {
	if !m.Priority.Valid() {
		return structs.NewError(structs.ErrBadRequest, "invalid priority %d", m.Priority)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return structs.NewError(structs.ErrTransport, "queue closed")
	}
	it := &item{msg: m, seq: q.nextSeq}
	q.nextSeq++
	heap.Push(&q.heap, it)
	q.cond.Signal()
	return nil
}

// Pop returns the highest-priority ready item, or nil if the queue is
// empty. Never blocks.
func (q *Queue) Pop() *structs.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.heap.Len() == 0 {
		return nil
	}
	it := heap.Pop(&q.heap).(*item)
	return it.msg
}

// Wait blocks until an item is available, the queue is force-awoken
// via ForcefulAwake, or the queue is closed.
func (q *Queue) Wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.heap.Len() == 0 && !q.closed {
		q.cond.Wait()
	}
}

// ForcefulAwake wakes every blocked waiter without requiring an item
// to be enqueued (used for shutdown and forced re-evaluation).
func (q *Queue) ForcefulAwake() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cond.Broadcast()
}

// Close marks the queue closed and wakes all waiters; subsequent
// AddAndWakeup calls fail.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Len reports the current queue depth, for metrics.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}
