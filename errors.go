package corowrt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/corowrt/corowrt/internal/channel"
	"github.com/corowrt/corowrt/internal/platform"
	"github.com/corowrt/corowrt/internal/zref"
)

// Kind categorizes a runtime error into the small set of conditions
// callers actually need to branch on, independent of which internal
// package produced the underlying message.
type Kind string

const (
	KindOK           Kind = "ok"
	KindClosed       Kind = "closed"
	KindTimedOut     Kind = "timed_out"
	KindCancelled    Kind = "cancelled"
	KindWouldBlock   Kind = "would_block"
	KindInvalid      Kind = "invalid"
	KindNotSupported Kind = "not_supported"
	KindInternal     Kind = "internal"
)

// Error is a structured runtime error with enough context to log or
// branch on without parsing a message string.
type Error struct {
	Op    string // operation that failed, e.g. "Send", "Recv", "Select"
	Kind  Kind
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("corowrt: %s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("corowrt: %s", e.Msg)
}

func (e *Error) Unwrap() error { return e.Inner }

func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == te.Kind
}

func newError(op string, kind Kind, inner error) *Error {
	msg := string(kind)
	if inner != nil {
		msg = inner.Error()
	}
	return &Error{Op: op, Kind: kind, Msg: msg, Inner: inner}
}

// classify maps an error surfaced by internal/channel, internal/zref or
// internal/selectmux onto a Kind. Those packages return plain
// fmt.Errorf values rather than a shared sentinel type (see
// DESIGN.md), so classification falls back to matching known
// substrings for anything that isn't one of the exported sentinels
// checked first (channel's five and zref.ErrFormatMismatch).
func classify(err error) Kind {
	if err == nil {
		return KindOK
	}
	if errors.Is(err, channel.ErrWouldBlock) {
		return fromPlatformKind(platform.KindWouldBlock)
	}
	if errors.Is(err, channel.ErrClosed) {
		return fromPlatformKind(platform.KindClosed)
	}
	if errors.Is(err, channel.ErrTimedOut) {
		return fromPlatformKind(platform.KindTimedOut)
	}
	if errors.Is(err, channel.ErrCancelled) {
		return fromPlatformKind(platform.KindCancelled)
	}
	if errors.Is(err, channel.ErrInvalid) {
		return fromPlatformKind(platform.KindInvalid)
	}
	if errors.Is(err, zref.ErrFormatMismatch) {
		return fromPlatformKind(platform.KindInvalid)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "timed out"):
		return fromPlatformKind(platform.KindTimedOut)
	case strings.Contains(msg, "cancelled"):
		return fromPlatformKind(platform.KindCancelled)
	case strings.Contains(msg, "closed"):
		return fromPlatformKind(platform.KindClosed)
	case strings.Contains(msg, "unknown channel kind"), strings.Contains(msg, "negative capacity"),
		strings.Contains(msg, "must be positive"), strings.Contains(msg, "must match"),
		strings.Contains(msg, "BUFFERED channel needs"):
		return fromPlatformKind(platform.KindInvalid)
	default:
		return KindInternal
	}
}

// fromPlatformKind adapts the OS-boundary error taxonomy
// (internal/platform, shared with syscall failures in mmap/mprotect
// and raw errno mapping) onto the public Kind callers branch on.
func fromPlatformKind(k platform.Kind) Kind {
	switch k {
	case platform.KindOK:
		return KindOK
	case platform.KindWouldBlock:
		return KindWouldBlock
	case platform.KindClosed:
		return KindClosed
	case platform.KindTimedOut:
		return KindTimedOut
	case platform.KindCancelled:
		return KindCancelled
	case platform.KindNotSupported:
		return KindNotSupported
	case platform.KindInvalid:
		return KindInvalid
	default:
		return KindInternal
	}
}

// WrapOp wraps err (if non-nil) as a structured *Error tagged with op
// and a Kind inferred from the underlying message.
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return newError(op, classify(err), err)
}

// IsKind reports whether err is a corowrt *Error of the given Kind, or
// wraps one.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
