package corowrt

import (
	"time"

	"github.com/corowrt/corowrt/internal/channel"
	"github.com/corowrt/corowrt/internal/constants"
)

// MetricsSnapshot is a point-in-time view of a Runtime's scheduler
// counters, mirroring sched.Metrics and sched.Info with a stable,
// documented field order for callers that serialize it (e.g.
// cmd/corostat).
type MetricsSnapshot struct {
	Workers int
	Running bool

	TasksSubmitted uint64
	TasksCompleted uint64
	StealProbes    uint64
	StealSucceeded uint64
	StealFailed    uint64
	FastpathHits   uint64
	FastpathMisses uint64
	InjectPulls    uint64

	CapturedAtNs int64
}

// Snapshot returns the current scheduler metrics for r.
func (r *Runtime) Snapshot() MetricsSnapshot {
	info := r.sched.Info()
	m := r.sched.Snapshot()
	return MetricsSnapshot{
		Workers:        info.WorkerCount,
		Running:        info.Running,
		TasksSubmitted: m.TasksSubmitted,
		TasksCompleted: m.TasksCompleted,
		StealProbes:    m.StealProbes,
		StealSucceeded: m.StealSucceeded,
		StealFailed:    m.StealFailed,
		FastpathHits:   m.FastpathHits,
		FastpathMisses: m.FastpathMisses,
		InjectPulls:    m.InjectPulls,
		CapturedAtNs:   time.Now().UnixNano(),
	}
}

// ChannelMetrics is a point-in-time view of one channel's always-on
// counters, exported at the root so callers don't need to
// import internal/channel just to read Counters.
type ChannelMetrics = channel.Counters

// RateSnapshot holds two MetricsSnapshots far enough apart to compute
// meaningful per-second rates from.
type RateSnapshot struct {
	Prev, Cur MetricsSnapshot
}

// TasksCompletedPerSec computes the completed-task rate between Prev
// and Cur, guarding against a near-zero denominator for back-to-back
// samples.
func (r RateSnapshot) TasksCompletedPerSec() float64 {
	deltaNs := r.Cur.CapturedAtNs - r.Prev.CapturedAtNs
	if deltaNs < constants.MinRateDurationNs {
		deltaNs = constants.MinRateDurationNs
	}
	delta := r.Cur.TasksCompleted - r.Prev.TasksCompleted
	return float64(delta) / (float64(deltaNs) / 1e9)
}
