package reconcile

import "time"

// Clock supplies the current time for age and removal calculations.
// Tests substitute testutil.FixedClock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
