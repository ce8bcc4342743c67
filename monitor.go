package corowrt

import "time"

// Monitor spawns a coroutine that samples r's scheduler metrics every
// interval and sends each MetricsSnapshot on a Conflated channel (so a
// slow reader only ever sees the latest sample, never a backlog),
// returning that channel for a caller like cmd/corostat to read.
// Stops sampling once stop is cancelled; the channel is closed at that
// point.
func (r *Runtime) Monitor(interval time.Duration, stop *CancelToken) (*Channel, error) {
	ch, err := r.NewChannel(Conflated, ChannelOptions{})
	if err != nil {
		return nil, err
	}
	if _, err := r.Spawn(func(self *Coroutine) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop.Done():
				_ = ch.Close()
				return
			case <-ticker.C:
				_ = ch.Send(self, r.Snapshot(), 0, stop)
			}
		}
	}); err != nil {
		return nil, err
	}
	return ch, nil
}
