// Package zref implements the zero-copy descriptor backend: a
// {addr, len, region_id, offset, flags} descriptor type, a refcounted
// region table memory is registered into, and a pluggable backend
// vtable with a global name registry, generalized from "one mmap'd
// I/O buffer per tag" to "many named, refcounted memory regions
// shared across coroutines."
package zref

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/corowrt/corowrt/internal/cancel"
)

// Capability bits a backend advertises and a channel's Attach call
// matches against.
const (
	CapZeroCopy        uint32 = 1 << 0
	CapPointerDescriptor uint32 = 1 << 1
)

// Descriptor is the wire shape a zero-copy payload reduces to: a
// pointer into a registered region plus enough metadata for the
// receiver to reinterpret it without copying.
type Descriptor struct {
	Addr     uintptr
	Len      uint64
	RegionID uint64
	Offset   uint64
	Flags    uint32
}

// FormatPolicy describes the element layout a region's content must
// match when a channel attaches in strict mode.
type FormatPolicy struct {
	DTypeID  uint8
	ElemBits uint16
	Align    uint16
	Stride   uint64
}

// Region is one registered memory region, refcounted so the owner
// cannot unmap it while a descriptor pointing into it is still live.
type Region struct {
	ID            uint64
	Base          uintptr
	Len           uint64
	Policy        *FormatPolicy
	refcount      atomic.Int64
	deregistering atomic.Bool
}

// RegionTable is the process-wide (or test-local) set of registered
// regions.
type RegionTable struct {
	mu     sync.Mutex
	byID   map[uint64]*Region
	nextID uint64
}

// NewRegionTable creates an empty region table. Production code uses
// the package-level Regions table; tests construct their own to avoid
// cross-test interference.
func NewRegionTable() *RegionTable {
	return &RegionTable{byID: make(map[uint64]*Region)}
}

// Regions is the default process-wide region table.
var Regions = NewRegionTable()

// Register adds a new region with refcount 1 and returns its ID.
func (t *RegionTable) Register(base uintptr, length uint64, policy *FormatPolicy) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	r := &Region{ID: id, Base: base, Len: length, Policy: policy}
	r.refcount.Store(1)
	t.byID[id] = r
	return id
}

// Incref bumps a region's refcount. Returns false if the region is
// unknown or already deregistering (no new descriptors may reference
// it past that point).
func (t *RegionTable) Incref(id uint64) bool {
	t.mu.Lock()
	r := t.byID[id]
	t.mu.Unlock()
	if r == nil || r.deregistering.Load() {
		return false
	}
	r.refcount.Add(1)
	return true
}

// Decref drops a region's refcount. If it reaches zero while
// deregistering, the region is removed from the table.
func (t *RegionTable) Decref(id uint64) {
	t.mu.Lock()
	r := t.byID[id]
	t.mu.Unlock()
	if r == nil {
		return
	}
	if r.refcount.Add(-1) == 0 && r.deregistering.Load() {
		t.mu.Lock()
		delete(t.byID, id)
		t.mu.Unlock()
	}
}

// Deregister marks a region as draining and blocks (cooperatively,
// polling at cancel.PollSlice) until every outstanding descriptor has
// released it, or tok is cancelled first.
func (t *RegionTable) Deregister(id uint64, tok *cancel.Token) error {
	t.mu.Lock()
	r := t.byID[id]
	t.mu.Unlock()
	if r == nil {
		return fmt.Errorf("zref: unknown region %d", id)
	}
	r.deregistering.Store(true)
	for r.refcount.Load() > 0 {
		if tok != nil && tok.Cancelled() {
			return fmt.Errorf("zref: deregister of region %d cancelled with %d references outstanding", id, r.refcount.Load())
		}
		time.Sleep(cancel.PollSlice())
	}
	t.mu.Lock()
	delete(t.byID, id)
	t.mu.Unlock()
	return nil
}

// Lookup returns the region for id, if any.
func (t *RegionTable) Lookup(id uint64) (*Region, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.byID[id]
	return r, ok
}
