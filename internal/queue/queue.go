// Package queue implements the in-memory priority queue that feeds the
// worker pool, plus the delay wheel used for scheduled re-enqueues after a
// transient delivery failure.
package queue

import (
	"container/heap"
	"context"
	"sync"
)

// Entry is a single admission into the priority queue: lower PriorityRank
// values are drained first; Sequence breaks ties FIFO within a priority
// class.
type Entry struct {
	PriorityRank int
	Sequence     uint64
	TrackingID   string
}

type entryHeap []Entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].PriorityRank != h[j].PriorityRank {
		return h[i].PriorityRank < h[j].PriorityRank
	}
	return h[i].Sequence < h[j].Sequence
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x interface{}) {
	*h = append(*h, x.(Entry))
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Queue is a process-wide, multi-producer/multi-consumer priority queue.
// Its own internal locking suffices; callers need no external
// synchronization.
type Queue struct {
	mu     sync.Mutex
	items  entryHeap
	seq    uint64
	notify chan struct{}
	closed bool
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Push admits trackingID at priorityRank, assigning the next sequence
// number so ties within a priority class resolve FIFO.
func (q *Queue) Push(priorityRank int, trackingID string) {
	q.mu.Lock()
	q.seq++
	heap.Push(&q.items, Entry{PriorityRank: priorityRank, Sequence: q.seq, TrackingID: trackingID})
	q.mu.Unlock()
	q.wake()
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop blocks until an entry is available, ctx is cancelled, or the queue is
// closed. ok is false in the latter two cases.
func (q *Queue) Pop(ctx context.Context) (Entry, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			e := heap.Pop(&q.items).(Entry)
			q.mu.Unlock()
			return e, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return Entry{}, false
		}

		select {
		case <-ctx.Done():
			return Entry{}, false
		case <-q.notify:
		}
	}
}

// Close marks the queue closed; pending Pop calls drain remaining entries
// and then return ok=false once empty.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

// DepthByPriority returns the current number of queued entries per
// priority rank, for metrics reporting.
func (q *Queue) DepthByPriority() map[int]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	depths := map[int]int{}
	for _, e := range q.items {
		depths[e.PriorityRank]++
	}
	return depths
}

// Len returns the total number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
