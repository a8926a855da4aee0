package session

import "sync"

// controlQueue runs one session's control requests one at a time, in the
// order they were queued. A worker goroutine exists only while jobs are pending.
type controlQueue struct {
	mu      sync.Mutex
	pending []func()
	running bool
}

func (q *controlQueue) push(job func()) {
	q.mu.Lock()
	q.pending = append(q.pending, job)
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()
	go q.drain()
}

func (q *controlQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		job := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()
		job()
	}
}
