// Package channel implements the four-kind channel engine: RENDEZVOUS,
// BUFFERED, CONFLATED and UNBOUNDED channels sharing one mutex-guarded
// slot state machine, sender and receiver waiter queues built on
// internal/token, and always-on O(1) counters -- one mutex, one set of
// waiter slots, one counters struct per channel, generalized from "one
// tag waiting on one I/O completion" to "N senders and M receivers
// waiting on one channel."
package channel

import (
	"errors"
	"fmt"
	"sync"

	"github.com/corowrt/corowrt/internal/cancel"
	"github.com/corowrt/corowrt/internal/constants"
	"github.com/corowrt/corowrt/internal/coro"
	"github.com/corowrt/corowrt/internal/platform"
	"github.com/corowrt/corowrt/internal/sched"
	"github.com/corowrt/corowrt/internal/token"
	"github.com/corowrt/corowrt/internal/zref"
)

// Kind selects a channel's buffering discipline. The numeric values
// match the wire/API contract: zero and positive values are a
// rendezvous or fixed-capacity buffer sized by the value itself;
// negative values are the two unbounded-shape special cases.
type Kind int

const (
	Rendezvous Kind = 0
	Buffered   Kind = 1 // capacity is given separately; Kind itself is just a discriminator here
	Conflated  Kind = -1
	Unbounded  Kind = -2
)

func (k Kind) String() string {
	switch k {
	case Rendezvous:
		return "RENDEZVOUS"
	case Buffered:
		return "BUFFERED"
	case Conflated:
		return "CONFLATED"
	case Unbounded:
		return "UNBOUNDED"
	default:
		return "UNKNOWN"
	}
}

// Counters are the always-on, O(1)-maintained per-channel counters the
// runtime's metrics API requires regardless of whether the optional
// metrics-event pipe is enabled. Field order is part of the stable
// snapshot record callers serialize.
type Counters struct {
	Kind         Kind
	ElemSize     int
	Capacity     int
	Count        int
	Capabilities uint32
	Closed       bool
	ZrefMode     bool
	PtrMode      bool

	TotalSends     uint64
	TotalRecvs     uint64
	TotalBytesSent uint64
	TotalBytesRecv uint64

	FirstOpTimeNs int64
	LastOpTimeNs  int64

	SendEagain uint64
	SendETime  uint64
	SendEPipe  uint64
	RecvEagain uint64
	RecvETime  uint64
	RecvEPipe  uint64

	ZrefSent         uint64
	ZrefReceived     uint64
	ZrefAbortedClose uint64

	// RVMatches, RVCancels and RVZdescMatches are meaningful only for
	// Rendezvous channels: a handshake match, a rendezvous-specific
	// cancellation, and a zero-copy session reporting a direct
	// descriptor match respectively.
	RVMatches      uint64
	RVCancels      uint64
	RVZdescMatches uint64
}

// Options configures a Channel at construction.
type Options struct {
	Capacity int // BUFFERED only; ignored for the other three kinds
	// ElemSize, if positive, is the fixed per-element size in bytes used
	// to compute TotalBytesSent/TotalBytesRecv. Zero means payload size
	// is inferred per value ([]byte and zref.Descriptor contribute their
	// actual length; anything else contributes zero).
	ElemSize int
	// ZeroCopyBackend, if set, attaches a zref.Session for descriptor
	// payloads (values of type zref.Descriptor) alongside the regular
	// value path. Empty means no zero-copy capability.
	ZeroCopyBackend string
	ZeroCopyOptions zref.AttachOptions
	// OnEvent, if set, is called after sends and receives (not Close)
	// with the channel's current counters, throttled to at most once per
	// constants.DefaultEmitMinOps ops or constants.DefaultEmitMinNs,
	// whichever comes first -- the optional metrics-event pipe.
	OnEvent func(Counters)
}

var ErrClosed = fmt.Errorf("channel: closed")
var ErrInvalid = fmt.Errorf("channel: invalid argument")
var ErrWouldBlock = fmt.Errorf("channel: would block")
var ErrTimedOut = fmt.Errorf("channel: operation timed out")
var ErrCancelled = fmt.Errorf("channel: operation cancelled")

// Channel is one instance of the four-kind engine.
type Channel struct {
	kind     Kind
	capacity int
	elemSize int
	sched    *sched.Scheduler

	mu        sync.Mutex
	closed    bool
	ring      []any // BUFFERED ring / UNBOUNDED growable queue / CONFLATED 0-or-1 slot
	ringHead  int
	ringCount int
	senders   []*token.Token
	receivers []*token.Token

	counters Counters
	zsession zref.Session

	onEvent      func(Counters)
	opsSinceEmit int
	lastEmitNs   int64
}

// New constructs a Channel. s may be nil for tests that only exercise
// the non-blocking fast paths (Send/Recv never need to park).
func New(s *sched.Scheduler, kind Kind, opts Options) (*Channel, error) {
	if kind == Buffered && opts.Capacity <= 0 {
		return nil, fmt.Errorf("%w: BUFFERED channel needs Capacity > 0", ErrInvalid)
	}
	c := &Channel{
		kind:     kind,
		capacity: opts.Capacity,
		elemSize: opts.ElemSize,
		sched:    s,
		onEvent:  opts.OnEvent,
	}
	if kind == Buffered {
		c.ring = make([]any, opts.Capacity)
	}
	if opts.ZeroCopyBackend != "" {
		b, ok := zref.Lookup(opts.ZeroCopyBackend)
		if !ok {
			return nil, fmt.Errorf("%w: unknown zero-copy backend %q", ErrInvalid, opts.ZeroCopyBackend)
		}
		sess, err := b.Attach(opts.ZeroCopyOptions)
		if err != nil {
			return nil, err
		}
		c.zsession = sess
	}
	return c, nil
}

// Kind reports the channel's buffering discipline.
func (c *Channel) Kind() Kind { return c.kind }

// Snapshot returns a point-in-time copy of the channel's counters,
// folding in the channel's static shape and the zero-copy session's
// stats if one is attached.
func (c *Channel) Snapshot() Counters {
	c.mu.Lock()
	snap := c.counters
	snap.Kind = c.kind
	snap.ElemSize = c.elemSize
	snap.Capacity = c.capacity
	snap.Count = c.ringCount
	snap.Closed = c.closed
	c.mu.Unlock()

	if c.zsession != nil {
		st := c.zsession.Stats()
		snap.Capabilities = c.zsession.Capabilities()
		snap.ZrefMode = true
		snap.PtrMode = snap.Capabilities&zref.CapPointerDescriptor != 0
		snap.ZrefSent = st.Sent
		snap.ZrefReceived = st.Received
		snap.ZrefAbortedClose = st.Cancelled
		if c.kind == Rendezvous {
			snap.RVZdescMatches = st.Matches
		}
	}
	return snap
}

// Close marks the channel closed, waking every blocked sender and
// receiver with ErrClosed. Idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	senders, receivers := c.senders, c.receivers
	c.senders, c.receivers = nil, nil
	c.mu.Unlock()

	for _, t := range senders {
		if t.TryCancelReason(reasonClosed) {
			c.wake(t)
		}
	}
	for _, t := range receivers {
		if t.TryCancelReason(reasonClosed) {
			c.wake(t)
		}
	}
	if c.zsession != nil {
		_ = c.zsession.Close()
	}
	return nil
}

// ringPush/ringPop operate the fixed-capacity circular buffer backing
// a BUFFERED channel. Callers must hold c.mu.
func (c *Channel) ringPush(val any) {
	idx := (c.ringHead + c.ringCount) % len(c.ring)
	c.ring[idx] = val
	c.ringCount++
}

func (c *Channel) ringPop() any {
	val := c.ring[c.ringHead]
	c.ring[c.ringHead] = nil
	c.ringHead = (c.ringHead + 1) % len(c.ring)
	c.ringCount--
	return val
}

func (c *Channel) wake(t *token.Token) {
	if co, ok := t.Owner.(*coro.Coroutine); ok && c.sched != nil {
		c.sched.Unpark(co)
		return
	}
	t.Owner.Park() // test doubles: Park() itself performs the wake
}

// park registers tok (already appended to the relevant waiter slice by
// the caller, under c.mu) and blocks self until it is claimed,
// cancelled, or times out. Must be called without c.mu held.
// Cancellation reasons recorded in a token's CancelReason, so park can
// tell after the fact which of three independent cancellers won:
// Close(), a deadline, or an explicit cancellation token. Precedence
// among the latter two when both fire is decided by whichever wins the
// token's CAS first; Close always reports as closed since by the time
// Close iterates the waiter queue nothing else can still be racing it.
var (
	reasonClosed    = "closed"
	reasonTimedOut  = "timed_out"
	reasonCancelled = "cancelled"
)

func (c *Channel) park(self *coro.Coroutine, tok *token.Token, deadlineNs int64, cancelTok *cancel.Token) error {
	var timerHandle interface{ Cancel() bool }
	if deadlineNs > 0 && c.sched != nil {
		h := c.sched.Timer().Schedule(deadlineNs, func() {
			if tok.TryCancelReason(reasonTimedOut) {
				c.wake(tok)
			}
		})
		timerHandle = h
	}
	var untimeout func()
	if cancelTok != nil {
		untimeout = cancelTok.Notify(func() {
			if tok.TryCancelReason(reasonCancelled) {
				c.wake(tok)
			}
		})
	}

	self.Park()

	if timerHandle != nil {
		timerHandle.Cancel()
	}
	if untimeout != nil {
		untimeout()
	}

	switch tok.Status() {
	case token.StatusClaimed:
		return nil
	case token.StatusCancelled:
		switch tok.CancelReason {
		case reasonCancelled:
			return ErrCancelled
		case reasonTimedOut:
			return ErrTimedOut
		default:
			return ErrClosed
		}
	default:
		return fmt.Errorf("channel: woke with unexpected token status %s", tok.Status())
	}
}

// touchOpTimeLocked stamps the channel's first/last operation times.
// Must be called with c.mu held.
func (c *Channel) touchOpTimeLocked() {
	now := platform.NowNanos()
	if c.counters.FirstOpTimeNs == 0 {
		c.counters.FirstOpTimeNs = now
	}
	c.counters.LastOpTimeNs = now
}

// recordSendResult updates the always-on send counters following a
// completed or failed send attempt and fires the metrics-event pipe.
// Must be called with c.mu held.
func (c *Channel) recordSendResult(val any, err error) {
	c.touchOpTimeLocked()
	switch {
	case err == nil:
		c.counters.TotalSends++
		c.counters.TotalBytesSent += payloadLen(val, c.elemSize)
	case errors.Is(err, ErrWouldBlock):
		c.counters.SendEagain++
	case errors.Is(err, ErrTimedOut):
		c.counters.SendETime++
	case errors.Is(err, ErrClosed):
		c.counters.SendEPipe++
	}
	c.recordEvent()
}

// recordRecvResult is recordSendResult's receive-side counterpart.
// Must be called with c.mu held.
func (c *Channel) recordRecvResult(val any, err error) {
	c.touchOpTimeLocked()
	switch {
	case err == nil:
		c.counters.TotalRecvs++
		c.counters.TotalBytesRecv += payloadLen(val, c.elemSize)
	case errors.Is(err, ErrWouldBlock):
		c.counters.RecvEagain++
	case errors.Is(err, ErrTimedOut):
		c.counters.RecvETime++
	case errors.Is(err, ErrClosed):
		c.counters.RecvEPipe++
	}
	c.recordEvent()
}

// payloadLen estimates a value's wire size for the bytes-sent/received
// counters: elemSize if the channel declared a fixed one, otherwise the
// actual length for the payload shapes that carry one, zero otherwise.
func payloadLen(val any, elemSize int) uint64 {
	if elemSize > 0 {
		return uint64(elemSize)
	}
	switch v := val.(type) {
	case []byte:
		return uint64(len(v))
	case zref.Descriptor:
		return v.Len
	default:
		return 0
	}
}

// Send delivers val according to the channel's kind: RENDEZVOUS and
// BUFFERED may block self until there is a receiver or ring space;
// CONFLATED and UNBOUNDED never block. A negative deadlineNs means no
// timeout, zero returns ErrWouldBlock instead of blocking, and a
// positive value is an absolute deadline; tok may be nil, meaning the
// send is not cancellable.
func (c *Channel) Send(self *coro.Coroutine, val any, deadlineNs int64, tok *cancel.Token) error {
	switch c.kind {
	case Rendezvous:
		return c.sendRendezvous(self, val, deadlineNs, tok)
	case Buffered:
		return c.sendBuffered(self, val, deadlineNs, tok)
	case Conflated:
		return c.sendConflated(self, val)
	case Unbounded:
		return c.sendUnbounded(self, val)
	default:
		return fmt.Errorf("%w: unknown channel kind %d", ErrInvalid, c.kind)
	}
}

// Recv receives a value according to the channel's kind. All four
// kinds may block self on an empty channel.
func (c *Channel) Recv(self *coro.Coroutine, deadlineNs int64, tok *cancel.Token) (any, error) {
	switch c.kind {
	case Rendezvous:
		return c.recvRendezvous(self, deadlineNs, tok)
	case Buffered:
		return c.recvBuffered(self, deadlineNs, tok)
	case Conflated:
		return c.recvConflated(self, deadlineNs, tok)
	case Unbounded:
		return c.recvUnbounded(self, deadlineNs, tok)
	default:
		return nil, fmt.Errorf("%w: unknown channel kind %d", ErrInvalid, c.kind)
	}
}

// recordEvent implements the optional metrics-event pipe's throttle:
// at most once per constants.DefaultEmitMinOps operations, or
// constants.DefaultEmitMinNs nanoseconds, whichever comes first. Must
// be called with c.mu held.
func (c *Channel) recordEvent() {
	if c.onEvent == nil {
		return
	}
	c.opsSinceEmit++
	now := platform.NowNanos()
	if c.opsSinceEmit < constants.DefaultEmitMinOps && now-c.lastEmitNs < constants.DefaultEmitMinNs {
		return
	}
	c.opsSinceEmit = 0
	c.lastEmitNs = now
	c.onEvent(c.counters)
}
