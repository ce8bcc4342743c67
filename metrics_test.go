package corowrt_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corowrt/corowrt"
)

func TestSnapshot_ReflectsCompletedTasks(t *testing.T) {
	rt := corowrt.NewTestRuntime(t)

	before := rt.Snapshot()
	corowrt.RunAndWait(t, rt, func(self *corowrt.Coroutine) {})

	// Completion accounting happens on the worker goroutine right after
	// Resume returns FINISHED; give it a moment to land.
	require.Eventually(t, func() bool {
		return rt.Snapshot().TasksCompleted > before.TasksCompleted
	}, time.Second, time.Millisecond)
}

func TestRateSnapshot_TasksCompletedPerSec(t *testing.T) {
	prev := corowrt.MetricsSnapshot{TasksCompleted: 10, CapturedAtNs: 0}
	cur := corowrt.MetricsSnapshot{TasksCompleted: 20, CapturedAtNs: int64(time.Second)}
	rs := corowrt.RateSnapshot{Prev: prev, Cur: cur}
	require.InDelta(t, 10.0, rs.TasksCompletedPerSec(), 0.001)
}

func TestRateSnapshot_GuardsNearZeroDuration(t *testing.T) {
	prev := corowrt.MetricsSnapshot{TasksCompleted: 0, CapturedAtNs: 0}
	cur := corowrt.MetricsSnapshot{TasksCompleted: 5, CapturedAtNs: 0}
	rs := corowrt.RateSnapshot{Prev: prev, Cur: cur}
	require.Greater(t, rs.TasksCompletedPerSec(), 0.0)
}
