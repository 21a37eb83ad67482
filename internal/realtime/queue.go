package realtime

import (
	"container/heap"
	"errors"
	"sync"

	"newsmesh/internal/model"
)

// ErrQueueFull is returned by Submit when the target queue is at capacity,
// so callers can apply backpressure instead of losing jobs silently.
var ErrQueueFull = errors.New("job queue full")

// jobHeap orders jobs by priority descending, then submission order (FIFO
// among equal priorities).
type jobHeap []*queuedJob

type queuedJob struct {
	job *model.ProcessingJob
	seq uint64
}

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority > h[j].job.Priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(*queuedJob)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// jobQueue is a bounded priority queue. Pops are non-blocking; the processor
// coordinates blocking across its two queues with a shared signal channel.
type jobQueue struct {
	mu       sync.Mutex
	heap     jobHeap
	capacity int
	seq      uint64
}

func newJobQueue(capacity int) *jobQueue {
	q := &jobQueue{capacity: capacity}
	heap.Init(&q.heap)
	return q
}

func (q *jobQueue) push(job *model.ProcessingJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) >= q.capacity {
		return ErrQueueFull
	}
	heap.Push(&q.heap, &queuedJob{job: job, seq: q.seq})
	q.seq++
	return nil
}

func (q *jobQueue) pop() (*model.ProcessingJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return nil, false
	}
	return heap.Pop(&q.heap).(*queuedJob).job, true
}

func (q *jobQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}
