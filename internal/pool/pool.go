// Package pool provides size-bucketed byte-slice pooling for callers
// that want to avoid hot-path allocations for payload copies.
package pool

import "sync"

// Bucket sizes. A request smaller than a bucket still gets that
// bucket's backing array; Put routes on capacity so callers
// never need to remember which bucket they were handed.
const (
	size4k   = 4 * 1024
	size16k  = 16 * 1024
	size64k  = 64 * 1024
	size256k = 256 * 1024
	size1m   = 1024 * 1024
)

var buckets = struct {
	p4k, p16k, p64k, p256k, p1m sync.Pool
}{
	p4k:   sync.Pool{New: func() any { b := make([]byte, size4k); return &b }},
	p16k:  sync.Pool{New: func() any { b := make([]byte, size16k); return &b }},
	p64k:  sync.Pool{New: func() any { b := make([]byte, size64k); return &b }},
	p256k: sync.Pool{New: func() any { b := make([]byte, size256k); return &b }},
	p1m:   sync.Pool{New: func() any { b := make([]byte, size1m); return &b }},
}

// Get returns a pooled buffer of at least the requested size, sliced to
// exactly that size. Larger-than-1MB requests are not pooled.
func Get(size int) []byte {
	switch {
	case size <= size4k:
		return (*buckets.p4k.Get().(*[]byte))[:size]
	case size <= size16k:
		return (*buckets.p16k.Get().(*[]byte))[:size]
	case size <= size64k:
		return (*buckets.p64k.Get().(*[]byte))[:size]
	case size <= size256k:
		return (*buckets.p256k.Get().(*[]byte))[:size]
	case size <= size1m:
		return (*buckets.p1m.Get().(*[]byte))[:size]
	default:
		return make([]byte, size)
	}
}

// Put returns a buffer to the pool it came from, keyed by capacity.
// Buffers of non-bucket capacity (including those from the >1MB
// fallback path) are dropped for the GC to reclaim.
func Put(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case size4k:
		buckets.p4k.Put(&buf)
	case size16k:
		buckets.p16k.Put(&buf)
	case size64k:
		buckets.p64k.Put(&buf)
	case size256k:
		buckets.p256k.Put(&buf)
	case size1m:
		buckets.p1m.Put(&buf)
	}
}
