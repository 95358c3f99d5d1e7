package dispatch

import (
	"context"
	"sync"
)

// Task is one unit of work. The dispatcher invokes it exactly once and does
// not wait for its outcome; a Task must return promptly and report
// completion on its own.
type Task func(ctx context.Context)

// WorkQueue is a FIFO of pending tasks. Removal is atomic: a task popped by
// one caller is never seen by another.
type WorkQueue struct {
	mu    sync.Mutex
	tasks []Task
}

func NewWorkQueue() *WorkQueue {
	return &WorkQueue{}
}

func (q *WorkQueue) Push(tasks ...Task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, tasks...)
	q.mu.Unlock()
}

// PopN removes and returns up to n tasks from the front of the queue.
func (q *WorkQueue) PopN(n int) []Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.tasks) {
		n = len(q.tasks)
	}
	if n <= 0 {
		return nil
	}
	out := make([]Task, n)
	copy(out, q.tasks[:n])
	for i := 0; i < n; i++ {
		q.tasks[i] = nil
	}
	q.tasks = q.tasks[n:]
	return out
}

func (q *WorkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Drain discards every pending task and returns how many were dropped.
func (q *WorkQueue) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.tasks)
	q.tasks = nil
	return n
}
