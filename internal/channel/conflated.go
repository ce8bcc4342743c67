package channel

import (
	"github.com/corowrt/corowrt/internal/cancel"
	"github.com/corowrt/corowrt/internal/coro"
	"github.com/corowrt/corowrt/internal/token"
)

// sendConflated never blocks: it either hands the value directly to a
// waiting receiver, or overwrites whatever unconsumed value is
// currently held, so a receiver only ever observes the most recent
// send.
func (c *Channel) sendConflated(self *coro.Coroutine, val any) error {
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
		c.recordSendResult(val, nil)
		c.mu.Unlock()
		c.wake(rt)
		return nil
	}
	if c.ringCount == 0 {
		c.ring = append(c.ring[:0], val)
		c.ringCount = 1
	} else {
		c.ring[0] = val // overwrite, dropping the previous unconsumed value
	}
	c.recordSendResult(val, nil)
	c.mu.Unlock()
	return nil
}

// recvConflated takes the held value if present; otherwise self either
// fails fast with ErrWouldBlock (deadlineNs == 0) or blocks as a
// receiver until the next send, a cancellation, or a timeout.
func (c *Channel) recvConflated(self *coro.Coroutine, deadlineNs int64, tok *cancel.Token) (any, error) {
	c.mu.Lock()
	if c.ringCount > 0 {
		val := c.ring[0]
		c.ring[0] = nil
		c.ringCount = 0
		c.recordRecvResult(val, nil)
		c.mu.Unlock()
		return val, nil
	}
	if c.closed {
		c.recordRecvResult(nil, ErrClosed)
		c.mu.Unlock()
		return nil, ErrClosed
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
	c.recordRecvResult(rt.Payload, err)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return rt.Payload, nil
}
