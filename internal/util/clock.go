package util

import "time"

// Clock is the time source used wherever "now" is recorded (page creation,
// event time, seal time). Components take a Clock in their config so tests
// can move time deterministically.
type Clock func() time.Time

// SystemClock reads the wall clock.
func SystemClock() time.Time {
	return time.Now()
}

// OrSystem returns c, or SystemClock when c is nil.
func (c Clock) OrSystem() Clock {
	if c == nil {
		return SystemClock
	}
	return c
}

// FixedClock always returns t.
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// OffsetClock returns the wall clock shifted by d.
func OffsetClock(d time.Duration) Clock {
	return func() time.Time { return time.Now().Add(d) }
}
