package sched

import (
	"sync"

	"github.com/corowrt/corowrt/internal/coro"
)

// deque is a worker's local work-stealing deque: the owning worker
// pushes and pops from the back (LIFO, cheap cache locality for a
// coroutine that just yielded), while other workers steal from the
// front (FIFO, so a thief takes the oldest, least likely to be
// immediately re-run, item). Implemented as a plain mutex-guarded ring
// rather than a lock-free Chase-Lev deque: none of the example repos
// carry a lock-free deque to ground one on, and a correct lock-free
// implementation is not something to improvise untested.
type deque struct {
	mu    sync.Mutex
	items []*coro.Coroutine
}

func newDeque() *deque {
	return &deque{}
}

// PushBack adds co to the owner's end of the deque.
func (d *deque) PushBack(co *coro.Coroutine) {
	d.mu.Lock()
	d.items = append(d.items, co)
	d.mu.Unlock()
}

// PopBack removes and returns the owner's most recently pushed item, or
// nil if the deque is empty. Only the owning worker calls this.
func (d *deque) PopBack() *coro.Coroutine {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.items)
	if n == 0 {
		return nil
	}
	co := d.items[n-1]
	d.items[n-1] = nil
	d.items = d.items[:n-1]
	return co
}

// PopFront removes and returns the oldest item, for a thief stealing
// from another worker's deque. Returns nil if empty.
func (d *deque) PopFront() *coro.Coroutine {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.items) == 0 {
		return nil
	}
	co := d.items[0]
	d.items[0] = nil
	d.items = d.items[1:]
	return co
}

// Len reports the current size.
func (d *deque) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}
