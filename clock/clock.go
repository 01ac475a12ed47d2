// Package clock implements the process-wide Time Source described in the
// reactor design: a single monotonically-advancing Unix timestamp, written
// once per second by an Update-Time Event in one Worker and read lock-free
// by every other goroutine. Grounded on
// original_source/event_thread.{hpp,cpp}'s static EPollWorkerGroup::curTime
// (an fl::chrono::Time updated by UpdateTimeEvent::call).
package clock

import "sync/atomic"

var current atomic.Int64

// Now returns the last value written by Update, or zero before the first
// Update call. Readers may observe a value up to roughly one second stale,
// which matches the spec's single-writer, many-reader contract.
func Now() int64 {
	return current.Load()
}

// Update advances the clock to now. A value not later than the current one
// is ignored, so the clock never moves backward. The Worker Group seeds it
// when it is built, and its Update-Time Event advances it once per second.
func Update(now int64) {
	for {
		old := current.Load()
		if now <= old || current.CompareAndSwap(old, now) {
			return
		}
	}
}
