package backendtest

import (
	"testing"

	"github.com/corowrt/corowrt/internal/zref"
)

func TestBackend_AttachRecordsOptions(t *testing.T) {
	b := &Backend{}
	opts := zref.AttachOptions{Capacity: 4}
	sess, err := b.Attach(opts)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer sess.Close()

	got := b.Attaches()
	if len(got) != 1 || got[0].Capacity != 4 {
		t.Fatalf("want 1 attach with Capacity=4, got %+v", got)
	}
}

func TestSession_SendRecvRoundTripsAndCountsCalls(t *testing.T) {
	b := &Backend{}
	sess, err := b.Attach(zref.AttachOptions{})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	s := sess.(*Session)

	if err := sess.Send(zref.Descriptor{Addr: 7}, 0, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	desc, err := sess.Recv(0, nil)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if desc.Addr != 7 {
		t.Fatalf("want Addr=7, got %+v", desc)
	}

	sends, recvs := s.CallCounts()
	if sends != 1 || recvs != 1 {
		t.Fatalf("want sends=1 recvs=1, got sends=%d recvs=%d", sends, recvs)
	}
	stats := sess.Stats()
	if stats.Sent != 1 || stats.Received != 1 {
		t.Fatalf("want Sent=1 Received=1, got %+v", stats)
	}
}

func TestSession_RecvOnEmptyQueueErrors(t *testing.T) {
	b := &Backend{}
	sess, err := b.Attach(zref.AttachOptions{})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if _, err := sess.Recv(0, nil); err == nil {
		t.Fatal("want an error receiving from an empty fake session")
	}
}

func TestSession_SendAfterCloseErrors(t *testing.T) {
	b := &Backend{}
	sess, err := b.Attach(zref.AttachOptions{})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Send(zref.Descriptor{}, 0, nil); err == nil {
		t.Fatal("want an error sending on a closed session")
	}
}
