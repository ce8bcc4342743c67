package selectmux

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/corowrt/corowrt/internal/cancel"
	"github.com/corowrt/corowrt/internal/coro"
	"github.com/corowrt/corowrt/internal/sched"
	"github.com/corowrt/corowrt/internal/token"
)

// fakeRendezvous is a minimal single-slot rendezvous Attempter, just
// enough to exercise Select without depending on internal/channel.
type fakeRendezvous struct {
	mu        sync.Mutex
	senders   []*token.Token
	receivers []*token.Token
}

func (f *fakeRendezvous) TryNow(op Op, sendVal any) (any, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if op == OpSend {
		for len(f.receivers) > 0 {
			rt := f.receivers[0]
			f.receivers = f.receivers[1:]
			if !rt.TryClaim() {
				continue
			}
			rt.Payload = sendVal
			rt.Owner.Park() // wake a parked select/owner exactly like a real channel would
			return nil, true, nil
		}
		return nil, false, nil
	}
	for len(f.senders) > 0 {
		st := f.senders[0]
		f.senders = f.senders[1:]
		if !st.TryClaim() {
			continue
		}
		st.Owner.Park()
		return st.Payload, true, nil
	}
	return nil, false, nil
}

func (f *fakeRendezvous) Register(op Op, sendVal any, owner token.Owner) *token.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if op == OpSend {
		t := token.New(owner, token.RoleSender)
		t.Payload = sendVal
		f.senders = append(f.senders, t)
		return t
	}
	t := token.New(owner, token.RoleReceiver)
	f.receivers = append(f.receivers, t)
	return t
}

func (f *fakeRendezvous) Unregister(tok *token.Token) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch tok.Role {
	case token.RoleSender:
		f.senders = spliceOut(f.senders, tok)
	case token.RoleReceiver:
		f.receivers = spliceOut(f.receivers, tok)
	}
}

func spliceOut(q []*token.Token, tok *token.Token) []*token.Token {
	for i, t := range q {
		if t == tok {
			return append(q[:i], q[i+1:]...)
		}
	}
	return q
}

// directSend completes a pending receiver clause (or queues a sender)
// on f from outside any coroutine, simulating an independent peer.
func (f *fakeRendezvous) directSend(val any) bool {
	_, ok, _ := f.TryNow(OpSend, val)
	return ok
}

func newTestScheduler(t *testing.T) *sched.Scheduler {
	t.Helper()
	s, err := sched.New(sched.Params{Workers: 2})
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

func runSelect(t *testing.T, s *sched.Scheduler, clauses []Clause, fairness Fairness, deadlineNs int64, ctok *cancel.Token) (Result, error) {
	t.Helper()
	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	_, err := s.Spawn(func(self *coro.Coroutine) {
		res, err := Select(self, clauses, fairness, deadlineNs, ctok, s.Timer(), func() { s.Unpark(self) })
		done <- outcome{res, err}
	}, 16*1024)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	select {
	case o := <-done:
		return o.res, o.err
	case <-time.After(2 * time.Second):
		t.Fatal("select never completed")
		return Result{}, nil
	}
}

func TestSelect_FastPathImmediatelyReady(t *testing.T) {
	s := newTestScheduler(t)
	ready := &fakeRendezvous{}
	ready.senders = append(ready.senders, token.New(fakeOwner{}, token.RoleSender))
	ready.senders[0].Payload = "hi"

	res, err := runSelect(t, s, []Clause{{Channel: ready, Op: OpRecv}}, FirstClauseWins, 0, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if res.Index != 0 || res.Value != "hi" {
		t.Fatalf("want {0 hi}, got %+v", res)
	}
}

type fakeOwner struct{}

func (fakeOwner) Park() {}

func TestSelect_SlowPathWaitsForLaterCompleter(t *testing.T) {
	s := newTestScheduler(t)
	a := &fakeRendezvous{}
	b := &fakeRendezvous{}

	resultCh := make(chan Result, 1)
	errCh := make(chan error, 1)
	go func() {
		res, err := runSelect(t, s, []Clause{
			{Channel: a, Op: OpRecv},
			{Channel: b, Op: OpRecv},
		}, FirstClauseWins, 0, nil)
		resultCh <- res
		errCh <- err
	}()

	time.Sleep(30 * time.Millisecond)
	if !b.directSend(99) {
		t.Fatal("directSend onto b should have succeeded (receiver clause registered)")
	}

	select {
	case res := <-resultCh:
		if err := <-errCh; err != nil {
			t.Fatalf("Select: %v", err)
		}
		if res.Index != 1 || res.Value != 99 {
			t.Fatalf("want {1 99}, got %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("select never resolved")
	}
}

func TestSelect_FairnessPicksAmongReadyClauses(t *testing.T) {
	s := newTestScheduler(t)
	seen := map[int]bool{}
	for i := 0; i < 30; i++ {
		a := &fakeRendezvous{}
		b := &fakeRendezvous{}
		at := token.New(fakeOwner{}, token.RoleSender)
		at.Payload = "a"
		a.senders = append(a.senders, at)
		bt := token.New(fakeOwner{}, token.RoleSender)
		bt.Payload = "b"
		b.senders = append(b.senders, bt)

		res, err := runSelect(t, s, []Clause{
			{Channel: a, Op: OpRecv},
			{Channel: b, Op: OpRecv},
		}, Randomized, 0, nil)
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		seen[res.Index] = true
	}
	if len(seen) != 2 {
		t.Fatalf("want both clauses to win at least once across 30 trials, saw %v", seen)
	}
}

func TestSelect_CancelledWhileWaiting(t *testing.T) {
	s := newTestScheduler(t)
	a := &fakeRendezvous{}
	ctok := cancel.New()

	go func() {
		time.Sleep(20 * time.Millisecond)
		ctok.Cancel()
	}()

	_, err := runSelect(t, s, []Clause{{Channel: a, Op: OpRecv}}, FirstClauseWins, 0, ctok)
	if err == nil {
		t.Fatal("want an error for a cancelled select")
	}
}

func TestSelect_TimesOutWithoutACompleter(t *testing.T) {
	s := newTestScheduler(t)
	a := &fakeRendezvous{}

	deadline := s.Timer().Now() + int64(20*time.Millisecond)
	_, err := runSelect(t, s, []Clause{{Channel: a, Op: OpRecv}}, FirstClauseWins, deadline, nil)
	if err == nil {
		t.Fatal("want an error for a timed-out select")
	}
}
