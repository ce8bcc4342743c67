package channel

import (
	"errors"

	"github.com/corowrt/corowrt/internal/cancel"
	"github.com/corowrt/corowrt/internal/coro"
	"github.com/corowrt/corowrt/internal/token"
)

// sendRendezvous delivers val directly into a waiting receiver's slot;
// if none is waiting, self either fails fast with ErrWouldBlock
// (deadlineNs == 0) or blocks as a sender until one arrives, is
// cancelled, or times out.
func (c *Channel) sendRendezvous(self *coro.Coroutine, val any, deadlineNs int64, tok *cancel.Token) error {
	c.mu.Lock()
	if c.closed {
		c.recordSendResult(val, ErrClosed)
		c.mu.Unlock()
		return ErrClosed
	}
	for len(c.receivers) > 0 {
		rt := c.receivers[0]
		c.receivers = c.receivers[1:]
		if !rt.TryClaim() {
			continue
		}
		rt.Payload = val
		c.counters.RVMatches++
		c.recordSendResult(val, nil)
		c.mu.Unlock()
		c.wake(rt)
		return nil
	}
	if deadlineNs == 0 {
		c.recordSendResult(val, ErrWouldBlock)
		c.mu.Unlock()
		return ErrWouldBlock
	}

	st := token.New(self, token.RoleSender)
	st.Payload = val
	c.senders = append(c.senders, st)
	c.mu.Unlock()

	err := c.park(self, st, deadlineNs, tok)
	c.mu.Lock()
	switch {
	case err == nil:
		c.counters.RVMatches++
	case errors.Is(err, ErrCancelled) && tok != nil && tok.Cancelled():
		c.counters.RVCancels++
	}
	c.recordSendResult(val, err)
	c.mu.Unlock()
	return err
}

// recvRendezvous claims a waiting sender's payload directly; if none is
// waiting, self either fails fast with ErrWouldBlock (deadlineNs == 0)
// or blocks as a receiver.
func (c *Channel) recvRendezvous(self *coro.Coroutine, deadlineNs int64, tok *cancel.Token) (any, error) {
	c.mu.Lock()
	if c.closed {
		c.recordRecvResult(nil, ErrClosed)
		c.mu.Unlock()
		return nil, ErrClosed
	}
	for len(c.senders) > 0 {
		st := c.senders[0]
		c.senders = c.senders[1:]
		if !st.TryClaim() {
			continue
		}
		val := st.Payload
		c.counters.RVMatches++
		c.recordRecvResult(val, nil)
		c.mu.Unlock()
		c.wake(st)
		return val, nil
	}
	if deadlineNs == 0 {
		c.recordRecvResult(nil, ErrWouldBlock)
		c.mu.Unlock()
		return nil, ErrWouldBlock
	}

	rt := token.New(self, token.RoleReceiver)
	c.receivers = append(c.receivers, rt)
	c.mu.Unlock()

	err := c.park(self, rt, deadlineNs, tok)
	c.mu.Lock()
	switch {
	case err == nil:
		c.counters.RVMatches++
	case errors.Is(err, ErrCancelled) && tok != nil && tok.Cancelled():
		c.counters.RVCancels++
	}
	c.recordRecvResult(rt.Payload, err)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return rt.Payload, nil
}
