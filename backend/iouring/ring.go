// Package iouring is an optional zero-copy backend registered under
// the name "iouring" alongside the in-tree default "zref" backend. It
// reuses the exact same CAS waiter-queue discipline as the default
// backend but wakes a blocked side with an OS-assisted poll completion
// instead of a condvar, when a real io_uring instance is available.
// The wake ring has a giouring-tagged/stub split
// (ring_giouring.go / ring_stub.go).
package iouring

import "io"

// wakeRing is the narrow surface this package needs from an io_uring
// instance: arm a poll on the wake descriptor, block until it fires,
// and reset it for the next waiter. Two implementations satisfy it:
// ringGiouring (linux, built with -tags giouring) backed by a real
// submission/completion ring over an eventfd, and ringFallback
// (default build) backed by a sync.Cond, so this package always
// compiles and the backend always registers even where io_uring
// is unavailable.
type wakeRing interface {
	io.Closer
	// ArmPoll blocks the calling goroutine until the ring observes the
	// wake descriptor become readable, or the ring is closed.
	ArmPoll() error
	// Poke makes one pending or future ArmPoll call return.
	Poke()
}

// newWakeRing is resolved at build time: ring_giouring.go provides it
// under "linux && giouring", ring_stub.go otherwise.
