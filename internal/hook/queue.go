package hook

import "sync"

// Queue is an unbounded, mutex-guarded FIFO of hook events shared by any
// number of producers and the single delivery worker.
//
// Events handed out by TryDequeueBulk stay "claimed" until the worker calls
// Ack, so Pending never reports zero while a batch is still being sent.
type Queue struct {
	mu      sync.Mutex
	items   []Event
	claimed int
}

func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends an event. It never blocks on anything but the queue lock.
func (q *Queue) Enqueue(e Event) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()
}

// EnqueueBulk appends events after everything already queued, keeping their relative order.
func (q *Queue) EnqueueBulk(events []Event) {
	if len(events) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, events...)
	q.mu.Unlock()
}

// Len returns the number of queued events. It may be stale by the time the caller uses it.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// TryDequeueBulk removes and returns up to limit events from the head of the queue.
func (q *Queue) TryDequeueBulk(limit int) []Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := min(limit, len(q.items))
	if n <= 0 {
		return nil
	}
	out := make([]Event, n)
	copy(out, q.items[:n])
	if n == len(q.items) {
		q.items = nil
	} else {
		q.items = append([]Event(nil), q.items[n:]...)
	}
	q.claimed += n
	return out
}

// Ack releases n events previously returned by TryDequeueBulk.
func (q *Queue) Ack(n int) {
	q.mu.Lock()
	q.claimed = max(q.claimed-n, 0)
	q.mu.Unlock()
}

// Pending returns queued plus claimed-but-unacknowledged events.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) + q.claimed
}
