// Package timeutil provides small, stateless elapsed-time helpers used for
// optional diagnostics.
package timeutil

import (
	"runtime"
	"time"
)

// sleepGuard is the margin before a deadline where Hypersleep stops
// coarse sleeping and starts yield-spinning.
const sleepGuard = 50 * time.Microsecond

// minimalSleep is the shortest coarse sleep Hypersleep will issue.
const minimalSleep = 5 * time.Microsecond

// Stopwatch measures elapsed time from a start point.
type Stopwatch struct {
	start time.Time
}

// NewStopwatch returns a running stopwatch.
func NewStopwatch() *Stopwatch {
	return &Stopwatch{start: time.Now()}
}

// Reset restarts the stopwatch.
func (s *Stopwatch) Reset() {
	s.start = time.Now()
}

// Elapsed returns the time since the stopwatch started or was last reset.
func (s *Stopwatch) Elapsed() time.Duration {
	return time.Since(s.start)
}

// TimeFunc runs fn and returns how long it took.
func TimeFunc(fn func()) time.Duration {
	start := time.Now()
	fn()

	return time.Since(start)
}

// Hypersleep waits for d with better precision than time.Sleep by sleeping
// coarsely up to a guard margin before the deadline and yield-spinning the
// remainder. Intended for short waits where timer granularity matters.
func Hypersleep(d time.Duration) {
	deadline := time.Now().Add(d)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}

		if remaining > sleepGuard {
			sleepFor := remaining - sleepGuard
			if sleepFor < minimalSleep {
				sleepFor = minimalSleep
			}
			time.Sleep(sleepFor)
		} else {
			runtime.Gosched()
		}
	}
}
