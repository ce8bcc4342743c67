// Package token implements the waiter-token primitive: a single-CAS
// state machine that arbitrates exactly one winner
// between a blocked waiter, a completer that wants to hand it a
// result, and cancellation/timeout trying to pull it off a wait queue.
// Solves the "exactly one of {completion, cancellation} wins" race
// for in-flight waiters with a single CAS.
package token

import (
	"go.uber.org/atomic"
)

// Role identifies what a token represents on a channel's waiter queue.
type Role int

const (
	RoleSender Role = iota
	RoleReceiver
	RoleSelectClause
)

// Status is the token's lifecycle. The only legal transitions are
// INIT->ENQUEUED, ENQUEUED->CLAIMED and ENQUEUED->CANCELLED, each a
// single CAS; once CLAIMED or CANCELLED a token never moves again.
type Status int32

const (
	StatusInit Status = iota
	StatusEnqueued
	StatusClaimed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusInit:
		return "INIT"
	case StatusEnqueued:
		return "ENQUEUED"
	case StatusClaimed:
		return "CLAIMED"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Owner is the minimal surface a token needs from whatever is blocked
// on it. *coro.Coroutine satisfies this with Park/sched.Unpark; kept as
// an interface so this package never imports coro or sched.
type Owner interface {
	Park()
}

// Token is a single waiter's slot on a channel (or the default zero-copy
// backend's descriptor queue, which reuses this same state machine).
type Token struct {
	Owner       Owner
	Role        Role
	ClauseIndex int // meaningful only when Role == RoleSelectClause

	// Payload is the value slot: the sent value a claimant writes into a
	// receiver's token, or the value a blocked sender offers on its own
	// token. Channels know their own element layout;
	// this package treats it as opaque.
	Payload any

	// CancelReason is set by the winning TryCancel call before OnCancel
	// runs, so a caller that raced three different cancellation sources
	// (an explicit cancel, a deadline, a channel Close) at one token can
	// tell after the fact which one actually won.
	CancelReason any

	status Status32
	// OnCancel, if set, runs exactly once when try_cancel wins the CAS,
	// under no lock held by this package. The zero-copy backends use it
	// to wake the parked waiter; channels leave it unset.
	OnCancel func()
}

// Status32 wraps the CAS word; exported as a named type so callers can
// hold one without an extra allocation.
type Status32 struct {
	v atomic.Int32
}

func (s *Status32) Load() Status { return Status(s.v.Load()) }

func (s *Status32) compareAndSwap(from, to Status) bool {
	return s.v.CompareAndSwap(int32(from), int32(to))
}

// New creates a token in ENQUEUED state — tokens are only ever
// constructed at the moment they're placed on a waiter queue, so there
// is no separate Enqueue step to race against.
func New(owner Owner, role Role) *Token {
	t := &Token{Owner: owner, Role: role}
	t.status.v.Store(int32(StatusEnqueued))
	return t
}

// Status returns the current status.
func (t *Token) Status() Status { return t.status.Load() }

// TryClaim attempts the ENQUEUED->CLAIMED transition on behalf of a
// completer (a matching sender, receiver, or select winner). Returns
// true iff this call won the race; the caller must only write Payload
// and wake Owner after winning.
func (t *Token) TryClaim() bool {
	return t.status.compareAndSwap(StatusEnqueued, StatusClaimed)
}

// TryCancel attempts the ENQUEUED->CANCELLED transition on behalf of
// cancellation, a timeout, or select clause rollback. Runs OnCancel
// exactly once if this call wins. Equivalent to
// TryCancelReason(nil).
func (t *Token) TryCancel() bool {
	return t.TryCancelReason(nil)
}

// TryCancelReason is TryCancel but also records why, in CancelReason,
// before OnCancel runs. Safe to call concurrently with other
// TryCancel/TryCancelReason calls on the same token: the CAS ensures
// only the winner's reason is ever visible.
func (t *Token) TryCancelReason(reason any) bool {
	if !t.status.compareAndSwap(StatusEnqueued, StatusCancelled) {
		return false
	}
	t.CancelReason = reason
	if t.OnCancel != nil {
		t.OnCancel()
	}
	return true
}
