package corowrt_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corowrt/corowrt"
)

func TestMonitor_EmitsSnapshotsUntilCancelled(t *testing.T) {
	rt := corowrt.NewTestRuntime(t)
	stop := corowrt.NewCancelToken()

	ch, err := rt.Monitor(10*time.Millisecond, stop)
	require.NoError(t, err)

	got := make(chan any, 1)
	rt.Go(func(self *corowrt.Coroutine) {
		v, err := ch.Recv(self, -1, nil)
		if err != nil {
			return
		}
		got <- v
	})

	select {
	case v := <-got:
		snap, ok := v.(corowrt.MetricsSnapshot)
		require.True(t, ok)
		require.GreaterOrEqual(t, snap.Workers, 1)
	case <-time.After(time.Second):
		t.Fatal("Monitor never emitted a snapshot")
	}

	stop.Cancel()
}
