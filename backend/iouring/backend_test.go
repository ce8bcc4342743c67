package iouring

import (
	"testing"
	"time"

	"github.com/corowrt/corowrt/internal/cancel"
	"github.com/corowrt/corowrt/internal/zref"
)

func TestBackend_RendezvousSendBlocksUntilRecv(t *testing.T) {
	b := &Backend{}
	sess, err := b.Attach(zref.AttachOptions{})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer sess.Close()

	done := make(chan error, 1)
	go func() {
		done <- sess.Send(zref.Descriptor{Addr: 1, Len: 4}, 0, nil)
	}()

	time.Sleep(20 * time.Millisecond)
	desc, err := sess.Recv(0, nil)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if desc.Addr != 1 {
		t.Fatalf("want Addr=1, got %+v", desc)
	}
	if err := <-done; err != nil {
		t.Fatalf("Send: %v", err)
	}

	stats := sess.Stats()
	if stats.Sent != 1 || stats.Received != 1 || stats.Matches != 1 {
		t.Fatalf("want {Sent:1 Received:1 Matches:1}, got %+v", stats)
	}
}

func TestBackend_QueuedCapacityDoesNotBlock(t *testing.T) {
	b := &Backend{}
	sess, err := b.Attach(zref.AttachOptions{Capacity: 2})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer sess.Close()

	if err := sess.Send(zref.Descriptor{Addr: 1}, 0, nil); err != nil {
		t.Fatalf("Send 1: %v", err)
	}
	if err := sess.Send(zref.Descriptor{Addr: 2}, 0, nil); err != nil {
		t.Fatalf("Send 2: %v", err)
	}

	d1, err := sess.Recv(0, nil)
	if err != nil || d1.Addr != 1 {
		t.Fatalf("Recv 1: got %+v, %v", d1, err)
	}
	d2, err := sess.Recv(0, nil)
	if err != nil || d2.Addr != 2 {
		t.Fatalf("Recv 2: got %+v, %v", d2, err)
	}
}

func TestBackend_SendCancelledWhileParked(t *testing.T) {
	b := &Backend{}
	sess, err := b.Attach(zref.AttachOptions{})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer sess.Close()

	ctok := cancel.New()
	go func() {
		time.Sleep(20 * time.Millisecond)
		ctok.Cancel()
	}()

	err = sess.Send(zref.Descriptor{Addr: 9}, 0, ctok)
	if err == nil {
		t.Fatal("want an error for a cancelled send")
	}
}
