// Package clock provides the coarse wall-clock used throughout convoy.
//
// All KV scores and TTLs are expressed in whole unix seconds, so every
// component reads "now" through this package instead of calling
// time.Now() directly. Now reads the system clock; the package has no
// hook for substituting a fixed time.
package clock

import "time"

// Now returns the current unix time, floored to whole seconds.
func Now() int64 {
	return time.Now().Unix()
}

// DayStart returns the unix second of UTC midnight for the day
// containing t.
func DayStart(t int64) int64 {
	return t - (t % 86400)
}
