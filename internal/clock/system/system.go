// Package system supplies wall-clock time to eviction deadlines.
package system

import "time"

// Clock reads the wall clock in UTC so deadlines compare without zone
// surprises.
type Clock struct{}

// New returns a wall clock.
func New() *Clock {
	return &Clock{}
}

// Now is time.Now in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
