package jobqueue

import (
	"container/heap"

	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/models"
)

// queueItem orders jobs by priority (descending) and then by insertion
// sequence (ascending), giving FIFO within a priority band. Re-pushing an
// item with its original sequence puts it back at the head of its band.
type queueItem struct {
	job *models.Job
	seq uint64
}

type jobHeap []queueItem

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority > h[j].job.Priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(queueItem)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = queueItem{}
	*h = old[:n-1]
	return item
}

// priorityQueue is the in-memory holding area for one job type. Callers
// must hold the queue's owning lock; the type itself is not synchronized.
type priorityQueue struct {
	items jobHeap
	seq   uint64
}

func newPriorityQueue() *priorityQueue {
	pq := &priorityQueue{}
	heap.Init(&pq.items)
	return pq
}

// push appends a job at the tail of its priority band.
func (pq *priorityQueue) push(job *models.Job) {
	pq.seq++
	heap.Push(&pq.items, queueItem{job: job, seq: pq.seq})
}

// pushFront returns a job to the head of its priority band. Used to park a
// dequeued job that cannot start yet (memory pressure, shutdown).
func (pq *priorityQueue) pushFront(item queueItem) {
	heap.Push(&pq.items, item)
}

// pop removes and returns the highest-priority, oldest job, or a zero item
// and false when the queue is empty.
func (pq *priorityQueue) pop() (queueItem, bool) {
	if pq.items.Len() == 0 {
		return queueItem{}, false
	}
	return heap.Pop(&pq.items).(queueItem), true
}

func (pq *priorityQueue) len() int { return pq.items.Len() }

// contains reports whether a job id is currently held in the queue.
func (pq *priorityQueue) contains(jobID string) bool {
	for _, item := range pq.items {
		if item.job.ID == jobID {
			return true
		}
	}
	return false
}
