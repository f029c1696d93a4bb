// Package serial provides an asynchronous execution context that runs
// submitted work one item at a time, in submission order.
package serial

import "sync"

// Queue is a serial executor backed by a single goroutine.
// The zero value is not usable; call New.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []func()
	closed bool
	done   chan struct{}
}

// New starts a queue.
func New() *Queue {
	q := &Queue{done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.loop()
	return q
}

// Async schedules fn and returns immediately.
// It reports false if the queue is closed and fn was not scheduled.
func (q *Queue) Async(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.tasks = append(q.tasks, fn)
	q.cond.Signal()
	return true
}

// Sync schedules fn and waits for it to finish.
// Calling Sync from a task running on the same queue deadlocks.
func (q *Queue) Sync(fn func()) bool {
	ran := make(chan struct{})
	if !q.Async(func() {
		defer close(ran)
		fn()
	}) {
		return false
	}
	<-ran
	return true
}

// Close stops accepting work, runs what is already scheduled and waits for the
// queue goroutine to exit. It is safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.done
}

// Done is closed once the queue goroutine has exited.
func (q *Queue) Done() <-chan struct{} { return q.done }

func (q *Queue) loop() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.tasks) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.tasks) == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		fn()
	}
}
