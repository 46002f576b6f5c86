// Package application contains the identity link and live-status use cases.
package application

import "time"

// Clock returns the current time. Components take one so tests can control
// expiry, debounce and rate-limit windows.
type Clock func() time.Time

// orNow returns c, or time.Now when c is nil.
func (c Clock) orNow() Clock {
	if c == nil {
		return time.Now
	}
	return c
}
