package channel

import (
	"github.com/corowrt/corowrt/internal/selectmux"
	"github.com/corowrt/corowrt/internal/token"
)

// TryNow and Register/Unregister make *Channel satisfy
// selectmux.Attempter, letting a select clause try a channel without
// blocking and, failing that, join its waiter queue exactly like a
// direct Send/Recv call would.

// TryNow attempts op immediately, performing it if possible rather than
// merely peeking: a successful RENDEZVOUS TryNow really does hand the
// value to a waiting peer, and a CONFLATED/UNBOUNDED send always
// succeeds since those kinds never block.
func (c *Channel) TryNow(op selectmux.Op, sendVal any) (any, bool, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, false, ErrClosed
	}

	switch op {
	case selectmux.OpSend:
		return c.trySend(sendVal)
	default:
		return c.tryRecv()
	}
}

// trySend must be called with c.mu held; it unlocks before returning.
func (c *Channel) trySend(val any) (any, bool, error) {
	for len(c.receivers) > 0 {
		rt := c.receivers[0]
		c.receivers = c.receivers[1:]
		if !rt.TryClaim() {
			continue
		}
		rt.Payload = val
		if c.kind == Rendezvous {
			c.counters.RVMatches++
		}
		c.recordSendResult(val, nil)
		c.mu.Unlock()
		c.wake(rt)
		return nil, true, nil
	}

	switch c.kind {
	case Buffered:
		if c.ringCount < len(c.ring) {
			c.ringPush(val)
			c.recordSendResult(val, nil)
			c.mu.Unlock()
			return nil, true, nil
		}
		c.mu.Unlock()
		return nil, false, nil
	case Conflated:
		if c.ringCount == 0 {
			c.ring = append(c.ring[:0], val)
			c.ringCount = 1
		} else {
			c.ring[0] = val
		}
		c.recordSendResult(val, nil)
		c.mu.Unlock()
		return nil, true, nil
	case Unbounded:
		c.ring = append(c.ring, val)
		c.ringCount++
		c.recordSendResult(val, nil)
		c.mu.Unlock()
		return nil, true, nil
	default: // Rendezvous with no waiting receiver: would block.
		c.mu.Unlock()
		return nil, false, nil
	}
}

// tryRecv must be called with c.mu held; it unlocks before returning.
func (c *Channel) tryRecv() (any, bool, error) {
	switch c.kind {
	case Buffered:
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
			return val, true, nil
		}
	case Conflated:
		if c.ringCount > 0 {
			val := c.ring[0]
			c.ring[0] = nil
			c.ringCount = 0
			c.recordRecvResult(val, nil)
			c.mu.Unlock()
			return val, true, nil
		}
	case Unbounded:
		if c.ringCount > 0 {
			val := c.ring[0]
			c.ring[0] = nil
			c.ring = c.ring[1:]
			c.ringCount--
			c.recordRecvResult(val, nil)
			c.mu.Unlock()
			return val, true, nil
		}
	}

	for len(c.senders) > 0 {
		st := c.senders[0]
		c.senders = c.senders[1:]
		if !st.TryClaim() {
			continue
		}
		val := st.Payload
		if c.kind == Rendezvous {
			c.counters.RVMatches++
		}
		c.recordRecvResult(val, nil)
		c.mu.Unlock()
		c.wake(st)
		return val, true, nil
	}

	c.mu.Unlock()
	return nil, false, nil
}

// Register places a waiter token for op on this channel's queue, owned
// by owner (a selectmux clause owner, in practice). If the channel is
// already closed the token is handed back pre-cancelled rather than
// queued, mirroring Send/Recv's own closed-channel behavior.
func (c *Channel) Register(op selectmux.Op, sendVal any, owner token.Owner) *token.Token {
	role := token.RoleReceiver
	if op == selectmux.OpSend {
		role = token.RoleSender
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		t := token.New(owner, role)
		t.TryCancelReason(reasonClosed)
		return t
	}
	t := token.New(owner, role)
	if op == selectmux.OpSend {
		t.Payload = sendVal
		c.senders = append(c.senders, t)
	} else {
		c.receivers = append(c.receivers, t)
	}
	c.mu.Unlock()
	return t
}

// Unregister splices tok out of whichever waiter queue it was placed
// on by Register. Best-effort: a tok already claimed or cancelled is
// simply absent from the queue and this is a no-op.
func (c *Channel) Unregister(tok *token.Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch tok.Role {
	case token.RoleSender:
		c.senders = spliceToken(c.senders, tok)
	case token.RoleReceiver:
		c.receivers = spliceToken(c.receivers, tok)
	}
}

func spliceToken(queue []*token.Token, tok *token.Token) []*token.Token {
	for i, t := range queue {
		if t == tok {
			return append(queue[:i], queue[i+1:]...)
		}
	}
	return queue
}
