package relay

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Clock is the subset of clock.Clock the poll loop needs to wait between ticks.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

// SystemClock returns the wall clock.
func SystemClock() Clock { return clock.New() }
