// Package corowrt is the public API for the coroutine runtime: a
// work-stealing scheduler (internal/sched) driving private-stack
// coroutines (internal/coro) that communicate over the four-kind
// channel engine (internal/channel), plus an optional zero-copy
// descriptor path (internal/zref). The package itself is a thin
// facade: every operation here is a short call into the matching
// internal package.
package corowrt

import (
	"context"

	"github.com/corowrt/corowrt/internal/cancel"
	"github.com/corowrt/corowrt/internal/channel"
	"github.com/corowrt/corowrt/internal/coro"
	"github.com/corowrt/corowrt/internal/logging"
	"github.com/corowrt/corowrt/internal/platform"
	"github.com/corowrt/corowrt/internal/sched"
)

// Coroutine re-exports internal/coro's handle type so callers never
// need to import an internal package directly.
type Coroutine = coro.Coroutine

// CancelToken re-exports internal/cancel's cooperative cancellation
// handle.
type CancelToken = cancel.Token

// NewCancelToken creates a root cancellation token.
func NewCancelToken() *CancelToken { return cancel.New() }

// Params configures a Runtime: Workers/WorkerAffinity/Logger are the
// scheduler's shape, the rest are ambient.
type Params struct {
	// Workers is the fixed worker-goroutine pool size. Zero means
	// sched.DefaultParams()'s worker count.
	Workers int
	// WorkerAffinity, if non-empty, must have length Workers and pins
	// worker i to the given CPU (a Linux-only call; a failed pin is
	// ignored).
	WorkerAffinity []int
	// Logger receives structured runtime/scheduler log lines. Nil uses
	// logging.Default().
	Logger *logging.Logger
}

// Runtime is a started work-stealing scheduler plus the channels and
// coroutines spawned against it. The zero value is not usable; build
// one with New.
type Runtime struct {
	sched *sched.Scheduler
	log   *logging.Logger
}

// New constructs and starts a Runtime. Call Shutdown to stop it.
func New(params Params) (*Runtime, error) {
	sp := sched.DefaultParams()
	if params.Workers != 0 {
		sp.Workers = params.Workers
	}
	sp.WorkerAffinity = params.WorkerAffinity
	log := params.Logger
	if log == nil {
		log = logging.Default()
	}
	sp.Logger = log

	s, err := sched.New(sp)
	if err != nil {
		return nil, WrapOp("New", err)
	}
	s.Start()
	return &Runtime{sched: s, log: log}, nil
}

// Info reports the runtime's static shape and run state.
func (r *Runtime) Info() sched.Info { return r.sched.Info() }

// Drain blocks until no coroutine is in flight on r, or ctx ends
// first.
func (r *Runtime) Drain(ctx context.Context) error {
	return WrapOp("Drain", r.sched.Drain(ctx))
}

// Shutdown stops every worker and the timer service, waiting for them
// to exit or ctx to end first.
func (r *Runtime) Shutdown(ctx context.Context) error {
	return WrapOp("Shutdown", r.sched.Shutdown(ctx))
}

// Spawn creates a coroutine on r with the default stack size and
// submits it to the scheduler; fn runs on its own body goroutine the
// first time some worker resumes it.
func (r *Runtime) Spawn(fn func(self *Coroutine)) (*Coroutine, error) {
	return r.SpawnSized(fn, DefaultStackBytes)
}

// SpawnSized is Spawn with an explicit stack reservation in bytes.
func (r *Runtime) SpawnSized(fn func(self *Coroutine), stackBytes int) (*Coroutine, error) {
	co, err := r.sched.Spawn(fn, stackBytes)
	if err != nil {
		return nil, WrapOp("Spawn", err)
	}
	return co, nil
}

// SpawnReady creates a coroutine with the default stack size and places
// it directly on the scheduler's global ready FIFO, bypassing
// round-robin fast-slot placement, for callers that want fair
// scheduling among already-running work over the chance of winning a
// worker's fast slot.
func (r *Runtime) SpawnReady(fn func(self *Coroutine)) (*Coroutine, error) {
	return r.SpawnReadySized(fn, DefaultStackBytes)
}

// SpawnReadySized is SpawnReady with an explicit stack reservation in
// bytes.
func (r *Runtime) SpawnReadySized(fn func(self *Coroutine), stackBytes int) (*Coroutine, error) {
	co, err := r.sched.SpawnReady(fn, stackBytes)
	if err != nil {
		return nil, WrapOp("SpawnReady", err)
	}
	return co, nil
}

// Go is Spawn without the stack size knob and without surfacing a
// construction error, for the common "fire and forget" case; a
// construction failure (only possible on stack allocation pressure) is
// logged and swallowed, matching the semantics of Go's own `go` when
// compared to a channel-returning spawn API.
func (r *Runtime) Go(fn func(self *Coroutine)) {
	if _, err := r.Spawn(fn); err != nil {
		r.log.Error("Go: spawn failed", "error", err)
	}
}

// ChannelKind selects a channel's buffering discipline; an alias for
// internal/channel.Kind so callers never import internal packages.
type ChannelKind = channel.Kind

const (
	Rendezvous ChannelKind = channel.Rendezvous
	Buffered   ChannelKind = channel.Buffered
	Conflated  ChannelKind = channel.Conflated
	Unbounded  ChannelKind = channel.Unbounded
)

// ChannelOptions configures a new Channel; an alias for
// internal/channel.Options.
type ChannelOptions = channel.Options

// Channel is one instance of the four-kind channel engine, bound to
// this Runtime's scheduler so blocked operations park and resume
// through it.
type Channel struct {
	c *channel.Channel
}

// NewChannel constructs a channel of the given kind on r. opts.Capacity
// is required (and must be positive) for Buffered, ignored otherwise.
func (r *Runtime) NewChannel(kind ChannelKind, opts ChannelOptions) (*Channel, error) {
	c, err := channel.New(r.sched, kind, opts)
	if err != nil {
		return nil, WrapOp("NewChannel", err)
	}
	return &Channel{c: c}, nil
}

// Kind reports the channel's buffering discipline.
func (ch *Channel) Kind() ChannelKind { return ch.c.Kind() }

// Snapshot returns a point-in-time copy of the channel's always-on
// counters.
func (ch *Channel) Snapshot() ChannelMetrics { return ch.c.Snapshot() }

// Close marks the channel closed, waking every blocked sender and
// receiver with a KindClosed error. Idempotent.
func (ch *Channel) Close() error { return WrapOp("Close", ch.c.Close()) }

// Send sends val on ch from self, blocking (cooperatively) according
// to the channel's kind until it is accepted, deadlineNs (absolute,
// nanoseconds, platform.NowNanos scale) is reached, or tok is
// cancelled. deadlineNs follows the three-way convention every
// blocking op in this package uses: negative blocks forever, zero
// attempts the op once and returns a KindWouldBlock error instead of
// parking if it cannot complete immediately, and positive is an
// absolute deadline. CONFLATED and UNBOUNDED sends never block, so
// deadlineNs is accepted but ignored for those two kinds. See
// DeadlineFromTimeoutMs for converting a millisecond timeout into this
// convention.
func (ch *Channel) Send(self *Coroutine, val any, deadlineNs int64, tok *CancelToken) error {
	return WrapOp("Send", ch.c.Send(self, val, deadlineNs, tok))
}

// Recv receives a value from ch on self, with the same blocking rules
// and deadlineNs convention as Send. All four channel kinds may block
// a Recv on an empty channel.
func (ch *Channel) Recv(self *Coroutine, deadlineNs int64, tok *CancelToken) (any, error) {
	v, err := ch.c.Recv(self, deadlineNs, tok)
	return v, WrapOp("Recv", err)
}

// DeadlineFromTimeoutMs converts a millisecond timeout into the
// deadlineNs convention Channel.Send/Recv expect: a negative timeoutMs
// blocks forever, zero requests a non-blocking attempt (KindWouldBlock
// if it can't complete immediately), and a positive timeoutMs becomes
// an absolute deadline that far out from now.
func DeadlineFromTimeoutMs(timeoutMs int64) int64 {
	if timeoutMs == 0 {
		return 0
	}
	deadlineNs, ok := platform.DeadlineFromTimeoutMs(timeoutMs)
	if !ok {
		return -1
	}
	return deadlineNs
}

// internalChannel exposes the underlying internal/channel.Channel for
// this package's own Select wrapper, which needs it to satisfy
// selectmux.Attempter.
func (ch *Channel) internalChannel() *channel.Channel { return ch.c }
