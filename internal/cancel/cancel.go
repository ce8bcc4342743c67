// Package cancel implements cancellation tokens: a triggerable flag
// with parent->child propagation and a cooperative polling contract
// blocking operations use to notice cancellation without
// busy-spinning, generalized from "one process-wide shutdown signal"
// to "a tree of independently cancellable tokens."
package cancel

import (
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/corowrt/corowrt/internal/constants"
)

// Token is a node in a cancellation tree. Triggering a token also
// triggers every descendant registered under it at the time of the
// call, and any descendant registered afterward inherits the
// already-triggered state immediately.
type Token struct {
	mu           sync.Mutex
	triggered    atomic.Bool
	children     []*Token
	waiters      []chan struct{}
	notifiers    []notifier
	nextNotifyID int
}

type notifier struct {
	id int
	fn func()
}

// New creates a root cancellation token.
func New() *Token {
	return &Token{}
}

// Child creates a new token that is cancelled whenever t is, either
// now or in the future. The returned token can still be cancelled
// independently of t.
func (t *Token) Child() *Token {
	c := &Token{}
	t.mu.Lock()
	if t.triggered.Load() {
		t.mu.Unlock()
		c.Cancel()
		return c
	}
	t.children = append(t.children, c)
	t.mu.Unlock()
	return c
}

// Cancel triggers t and propagates to every registered child. Safe to
// call more than once; only the first call has any effect.
func (t *Token) Cancel() {
	if !t.triggered.CompareAndSwap(false, true) {
		return
	}
	t.mu.Lock()
	children := t.children
	waiters := t.waiters
	notifiers := t.notifiers
	t.children = nil
	t.waiters = nil
	t.notifiers = nil
	t.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	for _, n := range notifiers {
		n.fn()
	}
	for _, c := range children {
		c.Cancel()
	}
}

// Cancelled reports whether t has been triggered, directly or via an
// ancestor.
func (t *Token) Cancelled() bool {
	return t.triggered.Load()
}

// Done returns a channel that is closed when t is cancelled. Each call
// allocates a fresh channel; callers on a hot path should prefer
// Cancelled with the CANCEL_SLICE_MS poll below instead.
func (t *Token) Done() <-chan struct{} {
	ch := make(chan struct{})
	t.mu.Lock()
	if t.triggered.Load() {
		t.mu.Unlock()
		close(ch)
		return ch
	}
	t.waiters = append(t.waiters, ch)
	t.mu.Unlock()
	return ch
}

// PollSlice is the cooperative re-check interval (CANCEL_SLICE_MS).
// internal/zref's RegionTable.Deregister sleeps in PollSlice
// increments while it waits for a region's refcount to reach zero.
func PollSlice() time.Duration { return constants.CancelSlice() }

// Notify registers fn to run exactly once, synchronously, the moment t
// is cancelled — or immediately, inline, if t is already cancelled.
// Returns an unregister function; callers that resolve their wait some
// other way (claimed a token, hit a timeout) must call it to avoid
// leaking the registration and to guarantee fn never fires after the
// wait has already resolved.
func (t *Token) Notify(fn func()) (unregister func()) {
	t.mu.Lock()
	if t.triggered.Load() {
		t.mu.Unlock()
		fn()
		return func() {}
	}
	id := t.nextNotifyID
	t.nextNotifyID++
	t.notifiers = append(t.notifiers, notifier{id: id, fn: fn})
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		for i, n := range t.notifiers {
			if n.id == id {
				t.notifiers = append(t.notifiers[:i], t.notifiers[i+1:]...)
				break
			}
		}
		t.mu.Unlock()
	}
}
