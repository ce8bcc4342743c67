// Package timer implements the scheduler's timer service: a min-heap
// of deadlines serviced by one dedicated goroutine, used for channel-op
// and select timeouts. No coroutine sleep call is built on it. One
// goroutine owns the heap and everyone else only ever posts work to it.
package timer

import (
	"container/heap"
	"sync"
	"time"

	"github.com/corowrt/corowrt/internal/platform"
)

// entry is one armed deadline. index is maintained by container/heap so
// Cancel can remove an entry in O(log n) instead of only mark-and-skip.
type entry struct {
	deadlineNs int64
	seq        uint64
	cb         func()
	index      int
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].deadlineNs != h[j].deadlineNs {
		return h[i].deadlineNs < h[j].deadlineNs
	}
	return h[i].seq < h[j].seq
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Handle lets a caller cancel an armed deadline before it fires.
type Handle struct {
	svc *Service
	e   *entry
}

// Cancel removes the deadline if it has not already fired. Returns
// false if it already fired (or was already cancelled).
func (h Handle) Cancel() bool {
	if h.e == nil {
		return false
	}
	return h.svc.remove(h.e)
}

// Service is one runtime-wide (or per-scheduler) timer heap plus its
// servicing goroutine.
type Service struct {
	mu      sync.Mutex
	heap    entryHeap
	seq     uint64
	wake    chan struct{}
	stop    chan struct{}
	stopped bool
	nowFn   func() int64

	// manual is set by NewStub for deterministic tests: Run becomes a
	// no-op and deadlines only fire when the test calls Advance.
	manual bool
	mnow   int64
}

// New creates a timer service driven by the real monotonic clock. Call
// Run to start its servicing goroutine.
func New() *Service {
	return &Service{
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
		nowFn: platform.NowNanos,
	}
}

// NewStub creates a timer service with a manually advanced clock, for
// tests that need deterministic deadline firing without real sleeps.
// It starts at time 0; advance it with Advance.
func NewStub() *Service {
	s := &Service{
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		manual: true,
	}
	s.nowFn = func() int64 { return s.mnow }
	return s
}

// Now returns the service's current time source.
func (s *Service) Now() int64 { return s.nowFn() }

// Schedule arms cb to run once, on the service's goroutine, at
// deadlineNs (platform.NowNanos scale). A deadline already in the past
// fires on the very next Run loop iteration (or the next Advance, in
// stub mode).
func (s *Service) Schedule(deadlineNs int64, cb func()) Handle {
	s.mu.Lock()
	s.seq++
	e := &entry{deadlineNs: deadlineNs, seq: s.seq, cb: cb}
	heap.Push(&s.heap, e)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return Handle{svc: s, e: e}
}

func (s *Service) remove(e *entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.index < 0 || e.index >= len(s.heap) || s.heap[e.index] != e {
		return false
	}
	heap.Remove(&s.heap, e.index)
	return true
}

// Run services deadlines until Stop is called. It is a no-op in stub
// mode. Intended to be run on its own dedicated goroutine.
func (s *Service) Run() {
	if s.manual {
		return
	}
	for {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		var wait time.Duration
		if len(s.heap) == 0 {
			wait = time.Hour
		} else {
			next := s.heap[0]
			wait = time.Duration(next.deadlineNs-s.nowFn()) * time.Nanosecond
			if wait < 0 {
				wait = 0
			}
		}
		s.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-s.stop:
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
		s.fireDue()
	}
}

func (s *Service) fireDue() {
	now := s.nowFn()
	var due []*entry
	s.mu.Lock()
	for len(s.heap) > 0 && s.heap[0].deadlineNs <= now {
		due = append(due, heap.Pop(&s.heap).(*entry))
	}
	s.mu.Unlock()

	for _, e := range due {
		e.cb()
	}
}

// Advance moves a stub service's clock forward to ns and synchronously
// fires every deadline that is now due, in deadline order. Only valid
// on a service created with NewStub.
func (s *Service) Advance(ns int64) {
	s.mu.Lock()
	if ns > s.mnow {
		s.mnow = ns
	}
	s.mu.Unlock()
	s.fireDue()
}

// Stop halts the servicing goroutine. Pending deadlines never fire.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()
	close(s.stop)
}
