package zref

import (
	"fmt"
	"sync"
	"time"

	"github.com/corowrt/corowrt/internal/cancel"
	"github.com/corowrt/corowrt/internal/platform"
	"github.com/corowrt/corowrt/internal/token"
)

// Deadline reasons recorded on a waiter's token, mirroring
// internal/channel's park() so a Session's Send/Recv can tell why it
// woke. deadlineNs here follows the byte path's original two-way
// convention (<=0 blocks forever, >0 is an absolute deadline) rather
// than the channel layer's three-way WOULD_BLOCK convention: Session
// callers (zref_test.go, backend/iouring) already depend on
// deadlineNs==0 meaning block-forever.
var (
	reasonTimedOut  = "timed_out"
	reasonCancelled = "cancelled"
)

// AttachOptions configures a Session at attach time.
type AttachOptions struct {
	// Capacity is the descriptor queue depth: 0 means rendezvous
	// (sender blocks until a receiver is present), >0 means up to
	// Capacity descriptors may be queued before a sender blocks.
	Capacity int
	// Strict makes Send reject, with ErrFormatMismatch, a descriptor
	// tagged (WithFormatTag) with a format other than Policy's;
	// untagged descriptors are accepted. Without Strict no format check
	// is made.
	Strict bool
	Policy *FormatPolicy
}

// SessionStats mirrors the always-on zero-copy counters tracked
// alongside a channel's regular counters.
type SessionStats struct {
	Sent      uint64
	Received  uint64
	Matches   uint64
	Cancelled uint64
}

// Session is a bound, per-channel handle onto a backend. A channel that
// negotiates zero-copy capability with its peer creates exactly one
// Session for the lifetime of that capability.
type Session interface {
	Send(desc Descriptor, deadlineNs int64, tok *cancel.Token) error
	Recv(deadlineNs int64, tok *cancel.Token) (Descriptor, error)
	Stats() SessionStats
	// Capabilities reports the capability bits (CapZeroCopy,
	// CapPointerDescriptor) this session's backend advertises, so a
	// channel's Snapshot can surface them without hardcoding per-backend
	// knowledge.
	Capabilities() uint32
	Close() error
}

// Backend is the pluggable zero-copy vtable: attach/detach plus the
// send/recv pair, parameterized over descriptors rather than bytes.
type Backend interface {
	Name() string
	Attach(opts AttachOptions) (Session, error)
}

// registry is the global name -> Backend map. Backends register
// themselves from an init() function, the same self-registration
// pattern database/sql drivers use.
var registry = struct {
	mu sync.Mutex
	m  map[string]Backend
}{m: make(map[string]Backend)}

// Register adds (or replaces) a named backend.
func Register(b Backend) {
	registry.mu.Lock()
	registry.m[b.Name()] = b
	registry.mu.Unlock()
}

// Lookup returns the backend registered under name, if any.
func Lookup(name string) (Backend, bool) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	b, ok := registry.m[name]
	return b, ok
}

// ErrFormatMismatch is returned by a strict-mode Session when a Send's
// descriptor format does not match the negotiated policy.
var ErrFormatMismatch = fmt.Errorf("zref: descriptor format does not match session policy")

func init() {
	Register(&defaultBackend{})
}

// defaultBackend is the in-tree "zref" backend: it reuses the
// waiter-token state machine from internal/token to implement both the
// rendezvous (Capacity == 0) and queued (Capacity > 0) descriptor
// paths, the same two shapes channel.go implements for byte payloads.
type defaultBackend struct{}

func (defaultBackend) Name() string { return "zref" }

func (defaultBackend) Attach(opts AttachOptions) (Session, error) {
	if opts.Capacity < 0 {
		return nil, fmt.Errorf("zref: negative capacity %d", opts.Capacity)
	}
	return &defaultSession{opts: opts}, nil
}

// blockedOwner satisfies token.Owner for a waiter parked on a plain
// Go channel rather than a coro.Coroutine; Park just blocks the caller
// until woke is closed, which happens exactly once a TryClaim or
// TryCancel wins.
type blockedOwner struct{ woke chan struct{} }

func (b blockedOwner) Park() { <-b.woke }
func (b blockedOwner) wake() { close(b.woke) }

func newWaiter(role token.Role) (*token.Token, chan struct{}) {
	woke := make(chan struct{})
	t := token.New(blockedOwner{woke: woke}, role)
	t.OnCancel = func() { close(woke) }
	return t, woke
}

type defaultSession struct {
	mu        sync.Mutex
	opts      AttachOptions
	closed    bool
	queue     []Descriptor
	senders   []*token.Token
	receivers []*token.Token
	stats     SessionStats
}

func (s *defaultSession) Send(desc Descriptor, deadlineNs int64, tok *cancel.Token) error {
	if s.opts.Strict && !s.opts.Policy.matchesDescriptor(desc) {
		return ErrFormatMismatch
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("zref: session closed")
	}
	for len(s.receivers) > 0 {
		rt := s.receivers[0]
		s.receivers = s.receivers[1:]
		if !rt.TryClaim() {
			continue // lost the race to a timeout/cancel; try the next one
		}
		s.stats.Matches++
		s.stats.Sent++
		s.mu.Unlock()
		rt.Payload = desc
		rt.Owner.(blockedOwner).wake()
		return nil
	}
	if len(s.queue) < s.opts.Capacity {
		s.queue = append(s.queue, desc)
		s.stats.Sent++
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.parkSend(desc, deadlineNs, tok)
}

func (s *defaultSession) parkSend(desc Descriptor, deadlineNs int64, tok *cancel.Token) error {
	st, woke := newWaiter(token.RoleSender)
	st.Payload = desc

	s.mu.Lock()
	s.senders = append(s.senders, st)
	s.mu.Unlock()

	var timer *time.Timer
	if deadlineNs > 0 {
		timer = time.AfterFunc(time.Duration(deadlineNs-platform.NowNanos())*time.Nanosecond, func() {
			st.TryCancelReason(reasonTimedOut)
		})
	}
	var untimeout func()
	if tok != nil {
		untimeout = tok.Notify(func() { st.TryCancelReason(reasonCancelled) })
	}
	<-woke
	if timer != nil {
		timer.Stop()
	}
	if untimeout != nil {
		untimeout()
	}
	if st.Status() == token.StatusCancelled {
		if st.CancelReason == reasonTimedOut {
			return fmt.Errorf("zref: send timed out")
		}
		return fmt.Errorf("zref: send cancelled")
	}
	s.mu.Lock()
	s.stats.Sent++
	s.mu.Unlock()
	return nil
}

func (s *defaultSession) Recv(deadlineNs int64, tok *cancel.Token) (Descriptor, error) {
	s.mu.Lock()
	if len(s.queue) > 0 {
		desc := s.queue[0]
		s.queue = s.queue[1:]
		s.stats.Received++
		// A queued slot just freed up; wake the oldest blocked sender, if
		// any, to take its place in the queue.
		var promoted *token.Token
		for len(s.senders) > 0 {
			cand := s.senders[0]
			s.senders = s.senders[1:]
			if cand.TryClaim() {
				promoted = cand
				break
			}
		}
		s.mu.Unlock()
		if promoted != nil {
			s.mu.Lock()
			s.queue = append(s.queue, promoted.Payload.(Descriptor))
			s.mu.Unlock()
			promoted.Owner.(blockedOwner).wake()
		}
		return desc, nil
	}
	for len(s.senders) > 0 {
		st := s.senders[0]
		s.senders = s.senders[1:]
		if !st.TryClaim() {
			continue
		}
		s.stats.Matches++
		s.stats.Received++
		s.mu.Unlock()
		desc := st.Payload.(Descriptor)
		st.Owner.(blockedOwner).wake()
		return desc, nil
	}
	s.mu.Unlock()
	return s.parkRecv(deadlineNs, tok)
}

func (s *defaultSession) parkRecv(deadlineNs int64, tok *cancel.Token) (Descriptor, error) {
	rt, woke := newWaiter(token.RoleReceiver)

	s.mu.Lock()
	s.receivers = append(s.receivers, rt)
	s.mu.Unlock()

	var timer *time.Timer
	if deadlineNs > 0 {
		timer = time.AfterFunc(time.Duration(deadlineNs-platform.NowNanos())*time.Nanosecond, func() {
			rt.TryCancelReason(reasonTimedOut)
		})
	}
	var untimeout func()
	if tok != nil {
		untimeout = tok.Notify(func() { rt.TryCancelReason(reasonCancelled) })
	}
	<-woke
	if timer != nil {
		timer.Stop()
	}
	if untimeout != nil {
		untimeout()
	}
	if rt.Status() == token.StatusCancelled {
		if rt.CancelReason == reasonTimedOut {
			return Descriptor{}, fmt.Errorf("zref: recv timed out")
		}
		return Descriptor{}, fmt.Errorf("zref: recv cancelled")
	}
	s.mu.Lock()
	s.stats.Received++
	s.mu.Unlock()
	return rt.Payload.(Descriptor), nil
}

func (s *defaultSession) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Capabilities reports the zero-copy descriptor capability this
// in-tree backend always provides.
func (s *defaultSession) Capabilities() uint32 { return CapZeroCopy }

func (s *defaultSession) Close() error {
	s.mu.Lock()
	s.closed = true
	senders, receivers := s.senders, s.receivers
	s.senders, s.receivers = nil, nil
	s.mu.Unlock()
	var aborted uint64
	for _, st := range senders {
		if st.TryCancel() {
			aborted++
		}
	}
	for _, rt := range receivers {
		if rt.TryCancel() {
			aborted++
		}
	}
	if aborted > 0 {
		s.mu.Lock()
		s.stats.Cancelled += aborted
		s.mu.Unlock()
	}
	return nil
}
