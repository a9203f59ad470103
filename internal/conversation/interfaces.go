// Package conversation tracks the backend conversation that chat messages belong to.
package conversation

import "time"

// SessionTracker decides which backend conversation a message belongs to.
// A conversation groups related messages within an inactivity window.
type SessionTracker interface {
	// Touch records activity at now and returns the conversation ID to use.
	// A new ID is issued when no conversation exists or the current one expired.
	Touch(now time.Time) string

	// TouchNow is Touch at the tracker's own clock. The clock is read inside
	// the same critical section as the update, so concurrent callers record
	// activity in the order their times were taken.
	TouchNow() string

	// Snapshot returns the current conversation state without modifying it.
	Snapshot() Snapshot
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts an ordinary function to the Clock interface.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
