package zref

import (
	"testing"

	"github.com/corowrt/corowrt/internal/cancel"
)

func TestRegionTable_RegisterAndLookup(t *testing.T) {
	rt := NewRegionTable()
	id := rt.Register(0x1000, 4096, nil)
	r, ok := rt.Lookup(id)
	if !ok || r.Len != 4096 {
		t.Fatalf("want region len 4096, got %+v ok=%v", r, ok)
	}
}

func TestRegionTable_IncrefDecrefAndDeregister(t *testing.T) {
	rt := NewRegionTable()
	id := rt.Register(0x2000, 4096, nil)
	if !rt.Incref(id) {
		t.Fatal("Incref on a live region should succeed")
	}
	rt.Decref(id) // drop the Incref
	rt.Decref(id) // drop the initial refcount-1

	if err := rt.Deregister(id, nil); err != nil {
		t.Fatalf("Deregister of an unreferenced region: %v", err)
	}
	if _, ok := rt.Lookup(id); ok {
		t.Fatal("region should be gone after Deregister")
	}
}

func TestRegionTable_DeregisterBlocksUntilUnreferenced(t *testing.T) {
	rt := NewRegionTable()
	id := rt.Register(0x3000, 4096, nil)
	rt.Incref(id)

	done := make(chan error, 1)
	go func() { done <- rt.Deregister(id, nil) }()

	select {
	case <-done:
		t.Fatal("Deregister returned while a reference is still outstanding")
	default:
	}

	rt.Decref(id)
	rt.Decref(id)
	if err := <-done; err != nil {
		t.Fatalf("Deregister: %v", err)
	}
}

func TestDefaultBackend_RendezvousSendBlocksUntilRecv(t *testing.T) {
	b, ok := Lookup("zref")
	if !ok {
		t.Fatal("want default \"zref\" backend registered")
	}
	sess, err := b.Attach(AttachOptions{Capacity: 0})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}

	sendDone := make(chan error, 1)
	go func() { sendDone <- sess.Send(Descriptor{Addr: 0xAAAA, Len: 8}, 0, nil) }()

	desc, err := sess.Recv(0, nil)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if desc.Addr != 0xAAAA {
		t.Fatalf("want addr 0xAAAA, got %#x", desc.Addr)
	}
	if err := <-sendDone; err != nil {
		t.Fatalf("Send: %v", err)
	}

	stats := sess.Stats()
	if stats.Sent != 1 || stats.Received != 1 || stats.Matches != 1 {
		t.Fatalf("want {Sent:1 Received:1 Matches:1}, got %+v", stats)
	}
}

func TestDefaultBackend_QueuedCapacityDoesNotBlock(t *testing.T) {
	b, _ := Lookup("zref")
	sess, err := b.Attach(AttachOptions{Capacity: 2})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := sess.Send(Descriptor{Addr: 1}, 0, nil); err != nil {
		t.Fatalf("Send 1: %v", err)
	}
	if err := sess.Send(Descriptor{Addr: 2}, 0, nil); err != nil {
		t.Fatalf("Send 2: %v", err)
	}
	d, err := sess.Recv(0, nil)
	if err != nil || d.Addr != 1 {
		t.Fatalf("want FIFO addr 1, got %+v err=%v", d, err)
	}
}

func TestDefaultBackend_SendCancelledWhileParked(t *testing.T) {
	b, _ := Lookup("zref")
	sess, err := b.Attach(AttachOptions{Capacity: 0})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	tok := cancel.New()

	sendDone := make(chan error, 1)
	go func() { sendDone <- sess.Send(Descriptor{Addr: 1}, 0, tok) }()

	tok.Cancel()
	if err := <-sendDone; err == nil {
		t.Fatal("want cancelled send to return an error")
	}
}

func TestFormatTag_StrictModeRejectsMismatch(t *testing.T) {
	policy := &FormatPolicy{DTypeID: 1, ElemBits: 32, Align: 4, Stride: 4}
	other := &FormatPolicy{DTypeID: 2, ElemBits: 64, Align: 8, Stride: 8}

	b, _ := Lookup("zref")
	sess, err := b.Attach(AttachOptions{Capacity: 1, Strict: true, Policy: policy})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}

	good := WithFormatTag(Descriptor{Addr: 1}, policy)
	if err := sess.Send(good, 0, nil); err != nil {
		t.Fatalf("matching descriptor should be accepted: %v", err)
	}

	bad := WithFormatTag(Descriptor{Addr: 2}, other)
	if err := sess.Send(bad, 0, nil); err != ErrFormatMismatch {
		t.Fatalf("want ErrFormatMismatch, got %v", err)
	}
}
