//go:build linux && giouring

package iouring

import (
	"fmt"
	"sync"

	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"
)

const ringEntries = 8

// ringGiouring backs wakeRing with a real io_uring instance: Poke
// writes to an eventfd, ArmPoll submits an IORING_OP_POLL_ADD against
// that eventfd and blocks on its completion, so a blocked receiver is
// woken by the kernel rather than a condvar. mu serializes ArmPoll
// calls: a single SQ/CQ pair isn't safe for concurrent submission from
// the multiple waiter goroutines that can share one session's ring.
type ringGiouring struct {
	mu      sync.Mutex
	ring    *giouring.Ring
	eventFD int
}

func newWakeRing() (wakeRing, error) {
	ring, err := giouring.CreateRing(ringEntries)
	if err != nil {
		return nil, fmt.Errorf("iouring: create ring: %w", err)
	}
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		ring.QueueExit()
		return nil, fmt.Errorf("iouring: eventfd: %w", err)
	}
	return &ringGiouring{ring: ring, eventFD: fd}, nil
}

func (r *ringGiouring) ArmPoll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sqe := r.ring.GetSQE()
	if sqe == nil {
		return fmt.Errorf("iouring: submission queue full")
	}
	sqe.PrepPollAdd(uint64(r.eventFD), unix.POLLIN)
	if _, err := r.ring.Submit(); err != nil {
		return fmt.Errorf("iouring: submit: %w", err)
	}
	cqe, err := r.ring.WaitCQE()
	if err != nil {
		return fmt.Errorf("iouring: wait cqe: %w", err)
	}
	r.ring.CQESeen(cqe)

	var buf [8]byte
	_, _ = unix.Read(r.eventFD, buf[:])
	return nil
}

func (r *ringGiouring) Poke() {
	var one [8]byte
	one[7] = 1
	_, _ = unix.Write(r.eventFD, one[:])
}

func (r *ringGiouring) Close() error {
	_ = unix.Close(r.eventFD)
	r.ring.QueueExit()
	return nil
}
