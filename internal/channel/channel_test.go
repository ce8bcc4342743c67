package channel

import (
	"context"
	"testing"
	"time"

	"github.com/corowrt/corowrt/internal/cancel"
	"github.com/corowrt/corowrt/internal/coro"
	"github.com/corowrt/corowrt/internal/sched"
)

func newTestScheduler(t *testing.T) *sched.Scheduler {
	t.Helper()
	s, err := sched.New(sched.Params{Workers: 4})
	if err != nil {
		t.Fatalf("sched.New: %v", err)
	}
	s.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func spawnAndWait(t *testing.T, s *sched.Scheduler, fn func(self *coro.Coroutine)) {
	t.Helper()
	done := make(chan struct{})
	if _, err := s.Spawn(func(self *coro.Coroutine) {
		fn(self)
		close(done)
	}, 16*1024); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("coroutine never completed")
	}
}

func TestRendezvous_SendBlocksUntilRecv(t *testing.T) {
	s := newTestScheduler(t)
	ch, err := New(s, Rendezvous, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	recvCh := make(chan any, 1)
	spawnAndWait(t, s, func(self *coro.Coroutine) {
		if err := ch.Send(self, 42, -1, nil); err != nil {
			t.Errorf("Send: %v", err)
		}
	})
	spawnAndWait(t, s, func(self *coro.Coroutine) {
		v, err := ch.Recv(self, -1, nil)
		if err != nil {
			t.Errorf("Recv: %v", err)
		}
		recvCh <- v
	})

	select {
	case v := <-recvCh:
		if v != 42 {
			t.Fatalf("want 42, got %v", v)
		}
	case <-time.After(time.Second):
		t.Fatal("receiver never got a value")
	}

	snap := ch.Snapshot()
	if snap.TotalSends != 1 || snap.TotalRecvs != 1 || snap.RVMatches != 1 {
		t.Fatalf("want {TotalSends:1 TotalRecvs:1 RVMatches:1}, got %+v", snap)
	}
}

func TestRendezvous_ZeroDeadlineWithNoPeerWouldBlock(t *testing.T) {
	s := newTestScheduler(t)
	ch, err := New(s, Rendezvous, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	spawnAndWait(t, s, func(self *coro.Coroutine) {
		if err := ch.Send(self, 1, 0, nil); err != ErrWouldBlock {
			t.Fatalf("want ErrWouldBlock, got %v", err)
		}
	})
	spawnAndWait(t, s, func(self *coro.Coroutine) {
		if _, err := ch.Recv(self, 0, nil); err != ErrWouldBlock {
			t.Fatalf("want ErrWouldBlock, got %v", err)
		}
	})

	snap := ch.Snapshot()
	if snap.SendEagain != 1 || snap.RecvEagain != 1 {
		t.Fatalf("want SendEagain:1 RecvEagain:1, got %+v", snap)
	}
}

func TestBuffered_SendDoesNotBlockWithinCapacity(t *testing.T) {
	s := newTestScheduler(t)
	ch, err := New(s, Buffered, Options{Capacity: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	spawnAndWait(t, s, func(self *coro.Coroutine) {
		if err := ch.Send(self, "a", 0, nil); err != nil {
			t.Errorf("Send a: %v", err)
		}
		if err := ch.Send(self, "b", 0, nil); err != nil {
			t.Errorf("Send b: %v", err)
		}
	})

	spawnAndWait(t, s, func(self *coro.Coroutine) {
		v1, err := ch.Recv(self, 0, nil)
		if err != nil || v1 != "a" {
			t.Errorf("Recv 1: got %v, %v", v1, err)
		}
		v2, err := ch.Recv(self, 0, nil)
		if err != nil || v2 != "b" {
			t.Errorf("Recv 2: got %v, %v", v2, err)
		}
	})
}

func TestBuffered_ZeroDeadlineFullWouldBlock(t *testing.T) {
	s := newTestScheduler(t)
	ch, err := New(s, Buffered, Options{Capacity: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	spawnAndWait(t, s, func(self *coro.Coroutine) {
		if err := ch.Send(self, "a", 0, nil); err != nil {
			t.Fatalf("Send a: %v", err)
		}
		if err := ch.Send(self, "b", 0, nil); err != ErrWouldBlock {
			t.Fatalf("want ErrWouldBlock on full buffer, got %v", err)
		}
	})

	snap := ch.Snapshot()
	if snap.SendEagain != 1 {
		t.Fatalf("want SendEagain:1, got %+v", snap)
	}
}

func TestConflated_RecvSeesOnlyLatestValue(t *testing.T) {
	s := newTestScheduler(t)
	ch, err := New(s, Conflated, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	spawnAndWait(t, s, func(self *coro.Coroutine) {
		_ = ch.Send(self, 1, 0, nil)
		_ = ch.Send(self, 2, 0, nil)
		_ = ch.Send(self, 3, 0, nil)
	})
	spawnAndWait(t, s, func(self *coro.Coroutine) {
		v, err := ch.Recv(self, 0, nil)
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if v != 3 {
			t.Fatalf("want latest value 3, got %v", v)
		}
	})
}

func TestUnbounded_SendNeverBlocks(t *testing.T) {
	s := newTestScheduler(t)
	ch, err := New(s, Unbounded, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const n = 1000
	spawnAndWait(t, s, func(self *coro.Coroutine) {
		for i := 0; i < n; i++ {
			if err := ch.Send(self, i, 0, nil); err != nil {
				t.Fatalf("Send %d: %v", i, err)
			}
		}
	})
	spawnAndWait(t, s, func(self *coro.Coroutine) {
		for i := 0; i < n; i++ {
			v, err := ch.Recv(self, 0, nil)
			if err != nil || v != i {
				t.Fatalf("Recv %d: got %v, %v", i, v, err)
			}
		}
	})
}

func TestRecv_CancelledWhileBlocked(t *testing.T) {
	s := newTestScheduler(t)
	ch, err := New(s, Rendezvous, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctok := cancel.New()

	spawnAndWait(t, s, func(self *coro.Coroutine) {
		go func() {
			time.Sleep(20 * time.Millisecond)
			ctok.Cancel()
		}()
		_, err := ch.Recv(self, -1, ctok)
		if err == nil {
			t.Fatal("want cancelled recv to return an error")
		}
	})

	snap := ch.Snapshot()
	if snap.RVCancels != 1 {
		t.Fatalf("want RVCancels=1, got %+v", snap)
	}
}

func TestRecv_TimesOutWithoutASender(t *testing.T) {
	s := newTestScheduler(t)
	ch, err := New(s, Rendezvous, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	spawnAndWait(t, s, func(self *coro.Coroutine) {
		deadline := s.Timer().Now() + int64(20*time.Millisecond)
		_, err := ch.Recv(self, deadline, nil)
		if err == nil {
			t.Fatal("want timed-out recv to return an error")
		}
	})
}

func TestClose_WakesBlockedReceiverWithErrClosed(t *testing.T) {
	s := newTestScheduler(t)
	ch, err := New(s, Rendezvous, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	spawnAndWait(t, s, func(self *coro.Coroutine) {
		go func() {
			time.Sleep(20 * time.Millisecond)
			_ = ch.Close()
		}()
		_, err := ch.Recv(self, -1, nil)
		if err != ErrClosed {
			t.Fatalf("want ErrClosed, got %v", err)
		}
	})
}

func TestConflated_ZeroDeadlineEmptyWouldBlock(t *testing.T) {
	s := newTestScheduler(t)
	ch, err := New(s, Conflated, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	spawnAndWait(t, s, func(self *coro.Coroutine) {
		if _, err := ch.Recv(self, 0, nil); err != ErrWouldBlock {
			t.Fatalf("want ErrWouldBlock, got %v", err)
		}
	})

	snap := ch.Snapshot()
	if snap.RecvEagain != 1 {
		t.Fatalf("want RecvEagain:1, got %+v", snap)
	}
}

func TestUnbounded_ZeroDeadlineEmptyWouldBlock(t *testing.T) {
	s := newTestScheduler(t)
	ch, err := New(s, Unbounded, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	spawnAndWait(t, s, func(self *coro.Coroutine) {
		if _, err := ch.Recv(self, 0, nil); err != ErrWouldBlock {
			t.Fatalf("want ErrWouldBlock, got %v", err)
		}
	})

	snap := ch.Snapshot()
	if snap.RecvEagain != 1 {
		t.Fatalf("want RecvEagain:1, got %+v", snap)
	}
}
