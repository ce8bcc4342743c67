package platform

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Kind is the runtime's error taxonomy as small positive integers; the
// root package maps it onto its own string Kind (fromPlatformKind).
type Kind int

const (
	KindOK Kind = iota
	KindWouldBlock
	KindClosed
	KindTimedOut
	KindCancelled
	KindNotSupported
	KindInvalid
)

// MapErrno maps a raw errno to the runtime's error taxonomy.
func MapErrno(errno unix.Errno) Kind {
	switch errno {
	case unix.EAGAIN:
		return KindWouldBlock
	case unix.EPIPE:
		return KindClosed
	case unix.ETIMEDOUT:
		return KindTimedOut
	case unix.ECANCELED:
		return KindCancelled
	case unix.ENOTSUP, unix.EOPNOTSUPP:
		return KindNotSupported
	case unix.EINVAL:
		return KindInvalid
	default:
		return KindInvalid
	}
}

// Error wraps a syscall failure at the platform boundary together with
// the Kind it maps to under MapErrno, so a caller that only cares
// whether mmap/mprotect/munmap failed with EAGAIN vs. something fatal
// doesn't need to parse Op's message.
type Error struct {
	Op    string
	Errno unix.Errno
	Kind  Kind
}

func (e *Error) Error() string { return fmt.Sprintf("platform: %s: %v", e.Op, e.Errno) }

func newErrnoError(op string, errno unix.Errno) *Error {
	return &Error{Op: op, Errno: errno, Kind: MapErrno(errno)}
}
