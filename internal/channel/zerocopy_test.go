package channel

import (
	"testing"

	"github.com/corowrt/corowrt/internal/backendtest"
	"github.com/corowrt/corowrt/internal/zref"
)

func TestNew_AttachesNamedZeroCopyBackend(t *testing.T) {
	fake := &backendtest.Backend{}
	zref.Register(fake)

	s := newTestScheduler(t)
	_, err := New(s, Rendezvous, Options{ZeroCopyBackend: "backendtest"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	attaches := fake.Attaches()
	if len(attaches) != 1 {
		t.Fatalf("want 1 Attach call, got %d", len(attaches))
	}
}

func TestNew_UnknownZeroCopyBackendIsRejected(t *testing.T) {
	s := newTestScheduler(t)
	_, err := New(s, Rendezvous, Options{ZeroCopyBackend: "no-such-backend"})
	if err == nil {
		t.Fatal("want an error for an unknown zero-copy backend name")
	}
}
