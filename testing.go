package corowrt

import (
	"context"
	"testing"
	"time"
)

// NewTestRuntime starts a small Runtime (2 workers) for unit tests and
// registers t.Cleanup to shut it down: a constructor purpose-built
// for test callers rather than production ones.
func NewTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	r, err := New(Params{Workers: 2})
	if err != nil {
		t.Fatalf("corowrt.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r
}

// RunAndWait spawns fn on r and blocks the calling goroutine (NOT a
// coroutine) until it returns, failing t if that takes longer than
// 5s -- the usual "run one coroutine to completion and assert on
// its side effects" shape most unit tests in this module want, the
// same role spawnAndWait plays in internal/channel's test suite.
func RunAndWait(t *testing.T, r *Runtime, fn func(self *Coroutine)) {
	t.Helper()
	done := make(chan struct{})
	_, err := r.Spawn(func(self *Coroutine) {
		defer close(done)
		fn(self)
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("RunAndWait: coroutine did not complete within 5s")
	}
}
