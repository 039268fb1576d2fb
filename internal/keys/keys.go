// Package keys namespaces the KV keys that make up a convoy queue.
package keys

import "fmt"

// Set is the KV keys owned by one named queue under a shared prefix,
// per the six-key layout in the data model.
type Set struct {
	base       string
	Committed  string
	Queued     string
	Processing string
	Failed     string
}

// New builds the key set for queue name under prefix.
func New(prefix, name string) Set {
	base := prefix + name
	return Set{
		base:       base,
		Committed:  base + ":committed",
		Queued:     base + ":queued",
		Processing: base + ":processing",
		Failed:     base + ":failed",
	}
}

// ErrorLog returns the error log key for the UTC day starting at
// dayStart (a unix second, see clock.DayStart).
func (s Set) ErrorLog(dayStart int64) string {
	return fmt.Sprintf("%s:errorLog.%d", s.base, dayStart)
}
