package relay

import (
	"time"

	"github.com/jpillora/backoff"
)

const (
	// BaseBackoff is the delay after the first failed poll.
	BaseBackoff = 5 * time.Second
	// MaxBackoff caps the delay between failed polls.
	MaxBackoff = 60 * time.Second
	// ErrorThreshold is the consecutive failure count that forces a credential refresh.
	ErrorThreshold = 3
)

// BackoffDelay returns min(5s * 2^(errors-1), 60s). It returns 0 when errors < 1.
func BackoffDelay(errors int) time.Duration {
	if errors < 1 {
		return 0
	}
	b := &backoff.Backoff{Min: BaseBackoff, Max: MaxBackoff, Factor: 2}
	return b.ForAttempt(float64(errors - 1))
}
