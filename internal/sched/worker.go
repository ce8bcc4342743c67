package sched

import (
	"runtime"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/corowrt/corowrt/internal/coro"
	"github.com/corowrt/corowrt/internal/constants"
)

// worker drives one OS-thread-equivalent slot in the pool: a single
// fast-path slot for the common case (a coroutine immediately
// re-runnable after yielding back to its own worker), a local deque it
// owns, and the ability to steal from peers when both are empty. The
// fast slot is touched both by the worker's own goroutine (placeFast,
// takeFast) and from outside by the scheduler's round-robin Spawn
// placement (trySpawnFast), so it is guarded by fastMu rather than
// left to single-owner convention.
type worker struct {
	id     int
	sched  *Scheduler
	fastMu sync.Mutex
	fast   *coro.Coroutine
	local  *deque
	pinCPU int // -1 means unpinned
}

func newWorker(id int, s *Scheduler) *worker {
	return &worker{id: id, sched: s, local: newDeque(), pinCPU: -1}
}

func (w *worker) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	w.applyAffinity()

	for {
		co := w.next()
		if co == nil {
			return // Shutdown was called and no more work will arrive.
		}
		co.ClearReadyEnqueued()

		st, err := co.Resume()
		if err != nil {
			// Only reachable if something external raced a Resume onto an
			// already-FINISHED coroutine; nothing to do but drop it.
			continue
		}

		switch st {
		case coro.StateFinished:
			w.sched.m.tasksCompleted.Add(1)
			w.sched.inFlight.Add(-1)
			co.Release()
		case coro.StateSuspended:
			if target := co.TakeYieldTarget(); target != nil {
				w.placeFast(target)
			}
			w.sched.enqueueReady(co)
		case coro.StateParked:
			// Stays off every queue until some completer calls Unpark.
		}
	}
}

// placeFast installs target as this worker's fast-slot pick for its
// very next iteration, bumping out whatever was already there (which
// falls back to the local deque so it isn't lost).
func (w *worker) placeFast(target *coro.Coroutine) {
	if !target.MarkReadyEnqueued() {
		return
	}
	w.fastMu.Lock()
	prev := w.fast
	w.fast = target
	w.fastMu.Unlock()
	if prev != nil {
		w.local.PushBack(prev)
	}
}

// trySpawnFast installs co as this worker's fast-slot pick only if the
// slot is currently empty, for the scheduler's round-robin Spawn
// placement. Returns false (without touching the slot) if it was
// already occupied, so the caller can fall back to the inject ring.
func (w *worker) trySpawnFast(co *coro.Coroutine) bool {
	w.fastMu.Lock()
	defer w.fastMu.Unlock()
	if w.fast != nil {
		return false
	}
	w.fast = co
	return true
}

// takeFast pops whatever is in the fast slot, if anything.
func (w *worker) takeFast() *coro.Coroutine {
	w.fastMu.Lock()
	co := w.fast
	w.fast = nil
	w.fastMu.Unlock()
	return co
}

func (w *worker) fastOccupied() bool {
	w.fastMu.Lock()
	defer w.fastMu.Unlock()
	return w.fast != nil
}

// queueDepth reports how many coroutines sit on this worker's local
// deque right now, for Scheduler.Info's per-worker reporting.
func (w *worker) queueDepth() int { return w.local.Len() }

// next implements the priority order a worker follows to find its next
// coroutine: the global ready FIFO first (so a sustained chain of
// YieldTo hints landing in fast slots can never starve it), then its
// own local deque (LIFO), then its own fast slot, then stealing from
// peers, then the global inject ring, and finally a bounded park
// before looping back to the top. Returns nil only once the scheduler
// has been told to shut down and every source is confirmed empty.
func (w *worker) next() *coro.Coroutine {
	for {
		if co := w.sched.popReady(); co != nil {
			return co
		}

		if co := w.local.PopBack(); co != nil {
			return co
		}

		if co := w.takeFast(); co != nil {
			w.sched.m.fastpathHits.Add(1)
			return co
		}
		w.sched.m.fastpathMisses.Add(1)

		if co := w.steal(); co != nil {
			return co
		}

		if co := w.sched.popInject(); co != nil {
			w.sched.m.injectPulls.Add(1)
			return co
		}

		select {
		case <-w.sched.stop:
			if w.allSourcesEmpty() {
				return nil
			}
		case <-w.sched.readyWake:
		case <-time.After(constants.WorkerParkTimeout):
		}
	}
}

func (w *worker) allSourcesEmpty() bool {
	if w.fastOccupied() || w.local.Len() > 0 {
		return false
	}
	w.sched.readyMu.Lock()
	readyEmpty := w.sched.readyHead == nil
	w.sched.readyMu.Unlock()
	w.sched.injectMu.Lock()
	injectEmpty := len(w.sched.inject) == 0
	w.sched.injectMu.Unlock()
	return readyEmpty && injectEmpty
}

// steal probes up to StealScanMax peer workers, starting just after
// itself, for a coroutine to pull off the front of their deque.
func (w *worker) steal() *coro.Coroutine {
	peers := w.sched.workers
	n := len(peers)
	if n <= 1 {
		return nil
	}
	attempts := constants.StealScanMax
	if attempts > n-1 {
		attempts = n - 1
	}
	for i := 1; i <= attempts; i++ {
		w.sched.m.stealProbes.Add(1)
		peer := peers[(w.id+i)%n]
		if co := peer.local.PopFront(); co != nil {
			w.sched.m.stealSucceeded.Add(1)
			return co
		}
		w.sched.m.stealFailed.Add(1)
	}
	return nil
}

func (w *worker) applyAffinity() {
	if w.pinCPU < 0 {
		return
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(w.pinCPU)
	_ = unix.SchedSetaffinity(0, &set)
}
