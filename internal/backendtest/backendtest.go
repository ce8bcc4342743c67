// Package backendtest provides a fake zref.Backend for unit tests that
// need to assert on zero-copy call patterns without exercising the
// real "zref" or "iouring" backends.
package backendtest

import (
	"fmt"
	"sync"

	"github.com/corowrt/corowrt/internal/cancel"
	"github.com/corowrt/corowrt/internal/zref"
)

// Backend is a fake zref.Backend: Attach always succeeds and returns a
// *Session that queues descriptors in a plain slice guarded by a
// mutex, with no blocking behavior -- Send/Recv on an empty/full queue
// just return an error instead of parking, since tests using this fake
// care about call counts and argument capture, not concurrency.
type Backend struct {
	mu       sync.Mutex
	attaches []zref.AttachOptions
}

func (b *Backend) Name() string { return "backendtest" }

func (b *Backend) Attach(opts zref.AttachOptions) (zref.Session, error) {
	b.mu.Lock()
	b.attaches = append(b.attaches, opts)
	b.mu.Unlock()
	return &Session{}, nil
}

// Attaches returns the AttachOptions passed to every Attach call so
// far, in order.
func (b *Backend) Attaches() []zref.AttachOptions {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]zref.AttachOptions, len(b.attaches))
	copy(out, b.attaches)
	return out
}

// Session is the fake zref.Session Backend.Attach returns.
type Session struct {
	mu        sync.Mutex
	queue     []zref.Descriptor
	closed    bool
	sendCalls int
	recvCalls int
	stats     zref.SessionStats
}

func (s *Session) Send(desc zref.Descriptor, deadlineNs int64, tok *cancel.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendCalls++
	if s.closed {
		return fmt.Errorf("backendtest: session closed")
	}
	s.queue = append(s.queue, desc)
	s.stats.Sent++
	return nil
}

func (s *Session) Recv(deadlineNs int64, tok *cancel.Token) (zref.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recvCalls++
	if len(s.queue) == 0 {
		return zref.Descriptor{}, fmt.Errorf("backendtest: queue empty")
	}
	d := s.queue[0]
	s.queue = s.queue[1:]
	s.stats.Received++
	return d, nil
}

func (s *Session) Stats() zref.SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Capabilities reports the same zero-copy capability the real
// backends advertise, so channel code exercising Snapshot against this
// fake sees a realistic Capabilities bit.
func (s *Session) Capabilities() uint32 { return zref.CapZeroCopy }

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// CallCounts returns the number of Send/Recv calls observed so far.
func (s *Session) CallCounts() (sends, recvs int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendCalls, s.recvCalls
}
