package iouring

import (
	"fmt"
	"sync"
	"time"

	"github.com/corowrt/corowrt/internal/cancel"
	"github.com/corowrt/corowrt/internal/platform"
	"github.com/corowrt/corowrt/internal/token"
	"github.com/corowrt/corowrt/internal/zref"
)

// Deadline reasons recorded on a waiter's token; see
// internal/zref/backend.go for why this backend also keeps the
// original two-way deadlineNs convention (<=0 blocks forever, >0 is an
// absolute deadline) rather than the channel layer's three-way
// WOULD_BLOCK convention.
var (
	reasonTimedOut  = "timed_out"
	reasonCancelled = "cancelled"
)

func init() {
	zref.Register(&Backend{})
}

// Backend is the "iouring" zero-copy backend: the same rendezvous/
// queued descriptor semantics as the in-tree "zref" backend, but woken
// through an io_uring poll completion (wakeRing.ArmPoll/Poke) instead of a
// closed Go channel, when a real ring is available on this platform
// and build.
type Backend struct{}

func (Backend) Name() string { return "iouring" }

func (Backend) Attach(opts zref.AttachOptions) (zref.Session, error) {
	if opts.Capacity < 0 {
		return nil, fmt.Errorf("iouring: negative capacity %d", opts.Capacity)
	}
	ring, err := newWakeRing()
	if err != nil {
		return nil, fmt.Errorf("iouring: attach: %w", err)
	}
	return &session{opts: opts, ring: ring}, nil
}

// ringOwner satisfies token.Owner by blocking on the backing ring's
// wake descriptor instead of a plain channel.
type ringOwner struct{ ring wakeRing }

func (o ringOwner) Park() { _ = o.ring.ArmPoll() }

func newWaiter(ring wakeRing, role token.Role) *token.Token {
	t := token.New(ringOwner{ring: ring}, role)
	t.OnCancel = func() { ring.Poke() }
	return t
}

// session is the per-channel handle, structurally identical to the
// default backend's queue/waiter bookkeeping (internal/zref/backend.go)
// with the wake path swapped for the ring.
type session struct {
	mu        sync.Mutex
	opts      zref.AttachOptions
	ring      wakeRing
	closed    bool
	queue     []zref.Descriptor
	senders   []*token.Token
	receivers []*token.Token
	stats     zref.SessionStats
}

func (s *session) Send(desc zref.Descriptor, deadlineNs int64, tok *cancel.Token) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("iouring: session closed")
	}
	for len(s.receivers) > 0 {
		rt := s.receivers[0]
		s.receivers = s.receivers[1:]
		if !rt.TryClaim() {
			continue
		}
		s.stats.Matches++
		s.stats.Sent++
		s.mu.Unlock()
		rt.Payload = desc
		s.ring.Poke()
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

func (s *session) parkSend(desc zref.Descriptor, deadlineNs int64, tok *cancel.Token) error {
	st := newWaiter(s.ring, token.RoleSender)
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
	// The ring's wake descriptor is shared by every waiter on this
	// session, so one Poke can spuriously wake a different token;
	// keep re-arming until this token itself leaves ENQUEUED.
	for st.Status() == token.StatusEnqueued {
		st.Owner.Park()
	}
	if timer != nil {
		timer.Stop()
	}
	if untimeout != nil {
		untimeout()
	}
	if st.Status() == token.StatusCancelled {
		if st.CancelReason == reasonTimedOut {
			return fmt.Errorf("iouring: send timed out")
		}
		return fmt.Errorf("iouring: send cancelled")
	}
	s.mu.Lock()
	s.stats.Sent++
	s.mu.Unlock()
	return nil
}

func (s *session) Recv(deadlineNs int64, tok *cancel.Token) (zref.Descriptor, error) {
	s.mu.Lock()
	if len(s.queue) > 0 {
		desc := s.queue[0]
		s.queue = s.queue[1:]
		s.stats.Received++
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
			s.queue = append(s.queue, promoted.Payload.(zref.Descriptor))
			s.mu.Unlock()
			s.ring.Poke()
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
		desc := st.Payload.(zref.Descriptor)
		s.ring.Poke()
		return desc, nil
	}
	s.mu.Unlock()
	return s.parkRecv(deadlineNs, tok)
}

func (s *session) parkRecv(deadlineNs int64, tok *cancel.Token) (zref.Descriptor, error) {
	rt := newWaiter(s.ring, token.RoleReceiver)

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
	for rt.Status() == token.StatusEnqueued {
		rt.Owner.Park()
	}
	if timer != nil {
		timer.Stop()
	}
	if untimeout != nil {
		untimeout()
	}
	if rt.Status() == token.StatusCancelled {
		if rt.CancelReason == reasonTimedOut {
			return zref.Descriptor{}, fmt.Errorf("iouring: recv timed out")
		}
		return zref.Descriptor{}, fmt.Errorf("iouring: recv cancelled")
	}
	s.mu.Lock()
	s.stats.Received++
	s.mu.Unlock()
	return rt.Payload.(zref.Descriptor), nil
}

func (s *session) Stats() zref.SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Capabilities reports the zero-copy descriptor capability this
// backend provides; it does not support pointer descriptors.
func (s *session) Capabilities() uint32 { return zref.CapZeroCopy }

func (s *session) Close() error {
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
	return s.ring.Close()
}
