//go:build !(linux && giouring)

package iouring

import "sync"

// ringFallback backs wakeRing with a plain condvar when a real
// io_uring isn't available (any non-Linux build, or Linux built
// without -tags giouring).
type ringFallback struct {
	mu     sync.Mutex
	cond   *sync.Cond
	woken  bool
	closed bool
}

func newWakeRing() (wakeRing, error) {
	r := &ringFallback{}
	r.cond = sync.NewCond(&r.mu)
	return r, nil
}

func (r *ringFallback) ArmPoll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for !r.woken && !r.closed {
		r.cond.Wait()
	}
	r.woken = false
	return nil
}

func (r *ringFallback) Poke() {
	r.mu.Lock()
	r.woken = true
	r.mu.Unlock()
	r.cond.Broadcast()
}

func (r *ringFallback) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cond.Broadcast()
	return nil
}
