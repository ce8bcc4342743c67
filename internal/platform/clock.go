// Package platform is the runtime's narrow OS boundary: a monotonic
// clock, guard-paged stack mappings, and errno taxonomy mapping. Other
// packages reach these through platform; the two exceptions that call
// golang.org/x/sys/unix themselves are internal/sched (CPU pinning)
// and backend/iouring's giouring ring.
package platform

import "golang.org/x/sys/unix"

// NowNanos returns the current monotonic clock reading in nanoseconds.
// It is the single time source the timer service, channel timeouts, and
// metrics timestamps are built on.
func NowNanos() int64 {
	var ts unix.Timespec
	// CLOCK_MONOTONIC never runs backward and is unaffected by wall-clock
	// adjustments, which time.Now() on some platforms is not guaranteed
	// to be immune to when compared across processes.
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		// Only fails for an invalid clock id, which CLOCK_MONOTONIC never is.
		panic("platform: clock_gettime(CLOCK_MONOTONIC) failed: " + err.Error())
	}
	return ts.Sec*1_000_000_000 + int64(ts.Nsec)
}

// DeadlineFromTimeoutMs converts a timeout in milliseconds to an
// absolute monotonic deadline. A negative timeout means "no deadline"
// and is reported back as ok=false.
func DeadlineFromTimeoutMs(timeoutMs int64) (deadlineNs int64, ok bool) {
	if timeoutMs < 0 {
		return 0, false
	}
	return NowNanos() + timeoutMs*1_000_000, true
}
