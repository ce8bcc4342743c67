package channel

import (
	"github.com/corowrt/corowrt/internal/cancel"
	"github.com/corowrt/corowrt/internal/coro"
	"github.com/corowrt/corowrt/internal/token"
)

// sendBuffered first tries a direct handoff to an already-waiting
// receiver (so a receiver parked on an empty channel doesn't have to
// wait for its own next call to notice a value), then falls back to
// pushing into the ring if there's room, then either fails fast with
// ErrWouldBlock (deadlineNs == 0) or blocks.
func (c *Channel) sendBuffered(self *coro.Coroutine, val any, deadlineNs int64, tok *cancel.Token) error {
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
	if c.ringCount < len(c.ring) {
		c.ringPush(val)
		c.recordSendResult(val, nil)
		c.mu.Unlock()
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
	c.recordSendResult(val, err)
	c.mu.Unlock()
	return err
}

// recvBuffered pops from the ring if non-empty, promoting the oldest
// blocked sender's value into the freed slot; if the ring is empty it
// falls back to a direct handoff with a waiting sender (only reachable
// transiently), then either fails fast with ErrWouldBlock
// (deadlineNs == 0) or blocks.
func (c *Channel) recvBuffered(self *coro.Coroutine, deadlineNs int64, tok *cancel.Token) (any, error) {
	c.mu.Lock()
	if c.ringCount > 0 {
		val := c.ringPop()

		var promoted *token.Token
		for len(c.senders) > 0 {
			cand := c.senders[0]
			c.senders = c.senders[1:]
			if cand.TryClaim() {
				promoted = cand
				break
			}
		}
		if promoted != nil {
			c.ringPush(promoted.Payload)
		}
		c.recordRecvResult(val, nil)
		c.mu.Unlock()
		if promoted != nil {
			c.wake(promoted)
		}
		return val, nil
	}
	for len(c.senders) > 0 {
		st := c.senders[0]
		c.senders = c.senders[1:]
		if !st.TryClaim() {
			continue
		}
		val := st.Payload
		c.recordRecvResult(val, nil)
		c.mu.Unlock()
		c.wake(st)
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
