// Package clock is the timekeeping collaborator tcpsst depends on at
// its interface only. The transport core never constructs a time.Time
// or time.Duration directly; it asks a Source.
package clock

import "time"

// Source supplies monotonic time to callers that need to schedule
// deadlines or measure elapsed intervals without depending on the
// standard library directly.
type Source interface {
	// Now returns the current monotonic time in fractional seconds.
	Now() float64
}

// System is the production Source, backed by time.Now().
var System Source = systemSource{}

type systemSource struct{}

// start anchors systemSource: time.Since reads the monotonic clock,
// so Now counts seconds since process start rather than Unix time.
var start = time.Now()

func (systemSource) Now() float64 {
	return time.Since(start).Seconds()
}

// Duration wraps a plain float64-seconds duration with the handful of
// conversions the transport needs (deadline math, keepalive intervals).
type Duration float64

// Seconds constructs a Duration from a count of seconds.
func Seconds(s float64) Duration { return Duration(s) }

// Add returns d+other.
func (d Duration) Add(other Duration) Duration { return d + other }

// Sub returns d-other.
func (d Duration) Sub(other Duration) Duration { return d - other }

// Millis returns the duration in milliseconds.
func (d Duration) Millis() float64 { return float64(d) * 1e3 }

// Micros returns the duration in microseconds.
func (d Duration) Micros() float64 { return float64(d) * 1e6 }

// AsStdlib converts to a time.Duration for use with timers/contexts at
// the point where tcpsst finally touches the standard library.
func (d Duration) AsStdlib() time.Duration {
	return time.Duration(float64(d) * float64(time.Second))
}
