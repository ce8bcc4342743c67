// Package coro implements the private-stack coroutine primitive:
// create/resume/yield/park/unpark over a state machine
// of CREATED -> READY -> RUNNING -> {SUSPENDED|PARKED} -> FINISHED.
//
// Go gives no supported way to execute arbitrary code on a manually
// mapped stack, so unlike a register-save context switch, the
// "context switch" here is a synchronous handoff between the calling
// (worker) goroutine and the coroutine's own body goroutine over a
// pair of channels (an unbuffered resume channel and a one-slot
// control channel): Resume blocks the caller until the body
// goroutine reaches its next suspension point, which is exactly the
// observable contract a coroutine needs (on return, "current" is
// restored; only one of the two goroutines is ever runnable at a
// time) -- a goroutine plus a rendezvous channel standing in for a
// fiber. The guard-paged stack (internal/platform) is still allocated
// and owned per coroutine so the accounting and lifetime story holds,
// even though execution does not run on it directly; see DESIGN.md.
package coro

import (
	"fmt"
	"sync/atomic"

	uatomic "go.uber.org/atomic"

	"github.com/corowrt/corowrt/internal/platform"
)

// State is the coroutine lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateReady
	StateRunning
	StateSuspended
	StateParked
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateReady:
		return "READY"
	case StateRunning:
		return "RUNNING"
	case StateSuspended:
		return "SUSPENDED"
	case StateParked:
		return "PARKED"
	case StateFinished:
		return "FINISHED"
	default:
		return "UNKNOWN"
	}
}

// Retirer is the narrow back-reference a coroutine holds to its owning
// scheduler, its "scheduler back-reference". Expressed as an
// interface, not a concrete *sched.Scheduler, so this package never
// imports the scheduler package.
type Retirer interface {
	Retire(co *Coroutine)
}

type signalKind int

const (
	sigSuspended signalKind = iota
	sigParked
	sigFinished
)

// Coroutine is a single private-stack coroutine.
type Coroutine struct {
	ID    uint64
	fn    func(self *Coroutine)
	stack *platform.Stack
	sched Retirer

	state         uatomic.Int32
	refcount      uatomic.Int64
	readyEnqueued uatomic.Bool

	// Next/Prev are the intrusive pointers usable by at most one
	// structural list at a time (the scheduler's ready FIFO). Only the
	// scheduler, under its ready-FIFO mutex, may touch these.
	Next, Prev *Coroutine

	// yieldTarget is the best-effort directed-switch hint left by
	// YieldTo for the worker driving this coroutine.
	yieldTarget atomic.Pointer[Coroutine]

	started   uatomic.Bool
	resumeCh  chan struct{}
	controlCh chan signalKind
}

var idSeq atomic.Uint64

// New creates a coroutine in CREATED state with refcount 1. fn is
// invoked exactly once, on the coroutine's own body goroutine, the
// first time it is resumed.
func New(sched Retirer, fn func(self *Coroutine), stackBytes int) (*Coroutine, error) {
	stack, err := platform.NewStack(stackBytes)
	if err != nil {
		return nil, fmt.Errorf("coro: allocate stack: %w", err)
	}
	co := &Coroutine{
		ID:        idSeq.Add(1),
		fn:        fn,
		stack:     stack,
		sched:     sched,
		resumeCh:  make(chan struct{}),
		controlCh: make(chan signalKind, 1),
	}
	co.state.Store(int32(StateCreated))
	co.refcount.Store(1)
	return co, nil
}

// State returns the current lifecycle state.
func (co *Coroutine) State() State { return State(co.state.Load()) }

// Stack returns the coroutine's private stack region, mainly for tests
// that want to exercise the guard page directly.
func (co *Coroutine) Stack() *platform.Stack { return co.stack }

// ReadyEnqueued reports whether the ready_enqueued flag is set.
func (co *Coroutine) ReadyEnqueued() bool { return co.readyEnqueued.Load() }

// MarkReadyEnqueued CASes ready_enqueued false->true, returning whether
// this call performed the transition. Used by the scheduler's
// enqueue_ready/unpark to stay idempotent.
func (co *Coroutine) MarkReadyEnqueued() bool {
	return co.readyEnqueued.CompareAndSwap(false, true)
}

// ClearReadyEnqueued resets the flag once the coroutine has been
// popped off the ready FIFO.
func (co *Coroutine) ClearReadyEnqueued() { co.readyEnqueued.Store(false) }

// Retain increments the external-hold refcount.
func (co *Coroutine) Retain() { co.refcount.Add(1) }

// Release decrements the refcount. If it reaches zero while the
// coroutine is FINISHED, the coroutine is handed to the scheduler's
// retire set; it is never freed from inside its own stack/goroutine.
func (co *Coroutine) Release() {
	if co.refcount.Add(-1) == 0 && co.State() == StateFinished {
		if co.sched != nil {
			co.sched.Retire(co)
		}
	}
}

// ErrFinished is returned by Resume when called on a FINISHED coroutine.
var ErrFinished = fmt.Errorf("coro: resume of a FINISHED coroutine")

// Resume performs the context switch from the calling (worker) goroutine
// to co. It blocks until co reaches its next suspension point
// (SUSPENDED, PARKED) or FINISHED, then returns. Resume is the only
// operation that may transition a coroutine into RUNNING, and only the
// scheduler is expected to call it.
func (co *Coroutine) Resume() (State, error) {
	switch co.State() {
	case StateFinished:
		return StateFinished, ErrFinished
	case StateCreated:
		co.state.Store(int32(StateRunning))
		co.started.Store(true)
		go co.body()
	case StateReady, StateSuspended, StateParked:
		co.state.Store(int32(StateRunning))
		co.resumeCh <- struct{}{}
	default:
		return co.State(), fmt.Errorf("coro: resume from unexpected state %s", co.State())
	}

	sig := <-co.controlCh
	switch sig {
	case sigSuspended:
		return StateSuspended, nil
	case sigParked:
		return StateParked, nil
	case sigFinished:
		return StateFinished, nil
	default:
		panic("coro: unreachable control signal")
	}
}

// body is the coroutine's private goroutine. It runs fn exactly once;
// fn calls back into Yield/Park on co to suspend.
func (co *Coroutine) body() {
	co.fn(co)
	co.state.Store(int32(StateFinished))
	co.controlCh <- sigFinished
}

// Yield transitions the running coroutine to SUSPENDED and switches
// back to whichever goroutine resumed it. Re-enqueuing onto the ready
// FIFO is the scheduler's responsibility, not Yield's.
func (co *Coroutine) Yield() {
	co.state.Store(int32(StateSuspended))
	co.controlCh <- sigSuspended
	<-co.resumeCh
}

// YieldTo is a directed switch hint: co suspends exactly like Yield,
// but additionally records target as a hint for whichever worker is
// driving co: that worker places target in its own fast slot (unless
// target is already ready-enqueued), which it checks after the ready
// FIFO and its local deque (see internal/sched).
func (co *Coroutine) YieldTo(target *Coroutine) {
	co.yieldTarget.Store(target)
	co.Yield()
}

// TakeYieldTarget consumes and returns the directed-switch hint left by
// YieldTo, or nil if none is pending.
func (co *Coroutine) TakeYieldTarget() *Coroutine {
	return co.yieldTarget.Swap(nil)
}

// Park transitions the running coroutine to PARKED and switches back to
// main. Unlike Yield, Park never implies ready-FIFO membership; the
// coroutine stays parked until some completer calls Unpark.
func (co *Coroutine) Park() {
	co.state.Store(int32(StateParked))
	co.controlCh <- sigParked
	<-co.resumeCh
}
