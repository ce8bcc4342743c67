package timer

import (
	"sync"
	"testing"
	"time"
)

func TestStub_AdvanceFiresDueDeadlinesInOrder(t *testing.T) {
	s := NewStub()
	var mu sync.Mutex
	var order []int

	s.Schedule(100, func() { mu.Lock(); order = append(order, 1); mu.Unlock() })
	s.Schedule(50, func() { mu.Lock(); order = append(order, 0); mu.Unlock() })
	s.Schedule(200, func() { mu.Lock(); order = append(order, 2); mu.Unlock() })

	s.Advance(150)
	mu.Lock()
	got := append([]int(nil), order...)
	mu.Unlock()
	if len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Fatalf("want [0 1] fired by t=150, got %v", got)
	}

	s.Advance(200)
	mu.Lock()
	got = append([]int(nil), order...)
	mu.Unlock()
	if len(got) != 3 || got[2] != 2 {
		t.Fatalf("want all three fired by t=200, got %v", got)
	}
}

func TestStub_CancelBeforeAdvance(t *testing.T) {
	s := NewStub()
	fired := false
	h := s.Schedule(100, func() { fired = true })
	if !h.Cancel() {
		t.Fatal("want Cancel to succeed before firing")
	}
	s.Advance(200)
	if fired {
		t.Fatal("cancelled deadline must not fire")
	}
	if h.Cancel() {
		t.Fatal("second Cancel must report false")
	}
}

func TestReal_RunFiresAfterWait(t *testing.T) {
	s := New()
	go s.Run()
	defer s.Stop()

	done := make(chan struct{})
	s.Schedule(s.Now()+int64(20*time.Millisecond), func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("deadline never fired")
	}
}

func TestReal_CancelPreventsFiring(t *testing.T) {
	s := New()
	go s.Run()
	defer s.Stop()

	fired := make(chan struct{}, 1)
	h := s.Schedule(s.Now()+int64(50*time.Millisecond), func() { fired <- struct{}{} })
	if !h.Cancel() {
		t.Fatal("want Cancel to succeed")
	}

	select {
	case <-fired:
		t.Fatal("cancelled deadline must not fire")
	case <-time.After(150 * time.Millisecond):
	}
}
