// Package sched implements the work-stealing M:N scheduler: a fixed
// pool of worker goroutines, each with a single-item fast slot and a
// local deque, backed by a global intrusive ready FIFO and a global
// inject ring for work arriving from outside any worker, plus a
// dedicated timer service for deadlines. One goroutine per worker,
// each independently pulling work and reporting through shared
// metrics.
package sched

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/corowrt/corowrt/internal/constants"
	"github.com/corowrt/corowrt/internal/coro"
	"github.com/corowrt/corowrt/internal/logging"
	"github.com/corowrt/corowrt/internal/platform"
	"github.com/corowrt/corowrt/internal/timer"
)

// Params configures a Scheduler: worker count, optional affinity,
// and the Logger.
type Params struct {
	Workers int
	// WorkerAffinity, if non-empty, pins worker i to CPU
	// WorkerAffinity[i] via unix.SchedSetaffinity, a Linux-only call; a
	// failed pin is ignored. Must be empty or exactly len(Workers) long.
	WorkerAffinity []int
	Logger         *logging.Logger
}

// DefaultParams returns a Params sized to GOMAXPROCS-equivalent
// parallelism, the same "just enough workers to saturate the box by
// default" posture.
func DefaultParams() Params {
	return Params{Workers: runtime.GOMAXPROCS(0)}
}

// Metrics is a point-in-time snapshot of scheduler counters, each
// loaded from a go.uber.org/atomic counter the workers bump.
type Metrics struct {
	TasksSubmitted  uint64
	TasksCompleted  uint64
	StealProbes     uint64
	StealSucceeded  uint64
	StealFailed     uint64
	FastpathHits    uint64
	FastpathMisses  uint64
	InjectPulls     uint64
}

// WorkerInfo is one worker's queue-depth snapshot, part of Info.
type WorkerInfo struct {
	ID               int
	FastSlotOccupied bool
	LocalDepth       int
}

// Info is a static-ish description of a running scheduler.
type Info struct {
	WorkerCount int
	Running     bool
	UptimeNs    int64
	Workers     []WorkerInfo
}

// Scheduler is a fixed-size work-stealing coroutine runtime.
type Scheduler struct {
	params Params
	log    *logging.Logger
	timer  *timer.Service

	workers []*worker

	readyMu         sync.Mutex
	readyHead       *coro.Coroutine
	readyTail       *coro.Coroutine
	readyWake       chan struct{}

	injectMu sync.Mutex
	inject   []*coro.Coroutine

	retireMu sync.Mutex
	retired  []*coro.Coroutine

	inFlight    atomic.Int64
	spawnCursor atomic.Uint64
	startedAtNs atomic.Int64

	m struct {
		tasksSubmitted atomic.Uint64
		tasksCompleted atomic.Uint64
		stealProbes    atomic.Uint64
		stealSucceeded atomic.Uint64
		stealFailed    atomic.Uint64
		fastpathHits   atomic.Uint64
		fastpathMisses atomic.Uint64
		injectPulls    atomic.Uint64
	}

	running atomic.Bool
	stop    chan struct{}
	eg      *errgroup.Group
}

// Option configures optional Scheduler behavior beyond Params.
type Option func(*Scheduler)

// WithStubTimers swaps in a manually-advanced timer.Service in place
// of the real-clock one New installs by default, for tests that need
// deterministic deadline firing (via timer.Service.Advance) instead of
// real sleeps.
func WithStubTimers() Option {
	return func(s *Scheduler) { s.timer = timer.NewStub() }
}

// New constructs a Scheduler but does not start its workers; call
// Start to do that.
func New(params Params, opts ...Option) (*Scheduler, error) {
	if params.Workers <= 0 {
		return nil, fmt.Errorf("sched: Workers must be positive, got %d", params.Workers)
	}
	if len(params.WorkerAffinity) != 0 && len(params.WorkerAffinity) != params.Workers {
		return nil, fmt.Errorf("sched: WorkerAffinity length %d must match Workers %d", len(params.WorkerAffinity), params.Workers)
	}
	log := params.Logger
	if log == nil {
		log = logging.Default()
	}

	s := &Scheduler{
		params:    params,
		log:       log,
		timer:     timer.New(),
		readyWake: make(chan struct{}, 1),
		inject:    make([]*coro.Coroutine, 0, constants.InjectRingInitCap),
		stop:      make(chan struct{}),
	}
	s.workers = make([]*worker, params.Workers)
	for i := range s.workers {
		s.workers[i] = newWorker(i, s)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches the worker goroutines and the timer service.
func (s *Scheduler) Start() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	s.startedAtNs.Store(platform.NowNanos())
	eg := &errgroup.Group{}
	s.eg = eg

	eg.Go(func() error { s.timer.Run(); return nil })
	for _, w := range s.workers {
		w := w
		if aff := s.affinityFor(w.id); aff >= 0 {
			w.pinCPU = aff
		}
		eg.Go(func() error { w.run(); return nil })
	}
	s.log.Info("scheduler started", "workers", len(s.workers))
}

func (s *Scheduler) affinityFor(workerID int) int {
	if len(s.params.WorkerAffinity) == 0 {
		return -1
	}
	return s.params.WorkerAffinity[workerID]
}

// Timer exposes the scheduler's dedicated timer service, used by
// channel sends/receives to arm a deadline.
func (s *Scheduler) Timer() *timer.Service { return s.timer }

// Spawn creates a new coroutine and submits it for round-robin
// placement across workers: it tries the target worker's fast slot
// first, one shot, falling back to the inject ring (the entry point
// for work arriving from outside any worker) if that slot is already
// occupied.
func (s *Scheduler) Spawn(fn func(self *coro.Coroutine), stackBytes int) (*coro.Coroutine, error) {
	co, err := coro.New(s, fn, stackBytes)
	if err != nil {
		return nil, err
	}
	s.submitSpawn(co)
	return co, nil
}

// SpawnReady creates a new coroutine and places it directly on the
// global ready FIFO, bypassing round-robin fast-slot placement
// entirely. Use this when a coroutine should join already-running work
// fairly rather than risk preempting a worker's fast slot.
func (s *Scheduler) SpawnReady(fn func(self *coro.Coroutine), stackBytes int) (*coro.Coroutine, error) {
	co, err := coro.New(s, fn, stackBytes)
	if err != nil {
		return nil, err
	}
	if !co.MarkReadyEnqueued() {
		return co, nil
	}
	s.inFlight.Add(1)
	s.m.tasksSubmitted.Add(1)
	s.enqueueReady(co)
	return co, nil
}

func (s *Scheduler) submitSpawn(co *coro.Coroutine) {
	if !co.MarkReadyEnqueued() {
		return
	}
	s.inFlight.Add(1)
	s.m.tasksSubmitted.Add(1)
	if n := len(s.workers); n > 0 {
		idx := int(s.spawnCursor.Add(1)-1) % n
		if s.workers[idx].trySpawnFast(co) {
			s.wake()
			return
		}
	}
	s.injectMu.Lock()
	s.inject = append(s.inject, co)
	s.injectMu.Unlock()
	s.wake()
}

// enqueueReady pushes co onto the global intrusive ready FIFO. Used
// internally by a worker requeuing a coroutine that just yielded, and
// by Unpark.
func (s *Scheduler) enqueueReady(co *coro.Coroutine) {
	s.readyMu.Lock()
	co.Next, co.Prev = nil, nil
	if s.readyTail == nil {
		s.readyHead, s.readyTail = co, co
	} else {
		co.Prev = s.readyTail
		s.readyTail.Next = co
		s.readyTail = co
	}
	s.readyMu.Unlock()
	s.wake()
}

func (s *Scheduler) popReady() *coro.Coroutine {
	s.readyMu.Lock()
	defer s.readyMu.Unlock()
	co := s.readyHead
	if co == nil {
		return nil
	}
	s.readyHead = co.Next
	if s.readyHead == nil {
		s.readyTail = nil
	} else {
		s.readyHead.Prev = nil
	}
	co.Next, co.Prev = nil, nil
	return co
}

func (s *Scheduler) popInject() *coro.Coroutine {
	s.injectMu.Lock()
	defer s.injectMu.Unlock()
	n := len(s.inject)
	if n == 0 {
		return nil
	}
	co := s.inject[0]
	s.inject[0] = nil
	s.inject = s.inject[1:]
	return co
}

func (s *Scheduler) wake() {
	select {
	case s.readyWake <- struct{}{}:
	default:
	}
}

// Unpark re-enqueues a PARKED coroutine so some worker resumes it. A
// no-op if co is already ready-enqueued (idempotent under concurrent
// wakers, e.g. a send racing a timeout on the same token).
func (s *Scheduler) Unpark(co *coro.Coroutine) {
	if !co.MarkReadyEnqueued() {
		return
	}
	s.enqueueReady(co)
}

// Retire implements coro.Retirer: it releases the coroutine's stack and
// records it in the retire set RetiredCount reports on. The scheduler never frees a
// coroutine's memory itself beyond that; Go's GC owns the rest.
func (s *Scheduler) Retire(co *coro.Coroutine) {
	_ = co.Stack().Release()
	s.retireMu.Lock()
	s.retired = append(s.retired, co)
	s.retireMu.Unlock()
}

// RetiredCount reports how many coroutines have been retired so far.
func (s *Scheduler) RetiredCount() int {
	s.retireMu.Lock()
	defer s.retireMu.Unlock()
	return len(s.retired)
}

// Drain blocks until no coroutine is in flight (submitted/unparked but
// not yet finished) or ctx is done, whichever comes first.
func (s *Scheduler) Drain(ctx context.Context) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		if s.inFlight.Load() <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Shutdown signals every worker and the timer service to stop, then
// waits for them to exit via the same errgroup that Start populated.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	close(s.stop)
	s.timer.Stop()
	for range s.workers {
		s.wake()
	}

	done := make(chan error, 1)
	go func() { done <- s.eg.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Info reports the scheduler's static shape, run state, uptime, and
// each worker's current queue depths.
func (s *Scheduler) Info() Info {
	running := s.running.Load()
	info := Info{
		WorkerCount: len(s.workers),
		Running:     running,
		Workers:     make([]WorkerInfo, len(s.workers)),
	}
	if running {
		info.UptimeNs = platform.NowNanos() - s.startedAtNs.Load()
	}
	for i, w := range s.workers {
		info.Workers[i] = WorkerInfo{
			ID:               w.id,
			FastSlotOccupied: w.fastOccupied(),
			LocalDepth:       w.queueDepth(),
		}
	}
	return info
}

// Snapshot returns a point-in-time copy of the scheduler's counters.
func (s *Scheduler) Snapshot() Metrics {
	return Metrics{
		TasksSubmitted: s.m.tasksSubmitted.Load(),
		TasksCompleted: s.m.tasksCompleted.Load(),
		StealProbes:    s.m.stealProbes.Load(),
		StealSucceeded: s.m.stealSucceeded.Load(),
		StealFailed:    s.m.stealFailed.Load(),
		FastpathHits:   s.m.fastpathHits.Load(),
		FastpathMisses: s.m.fastpathMisses.Load(),
		InjectPulls:    s.m.injectPulls.Load(),
	}
}
