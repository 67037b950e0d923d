package engine

import "time"

// RetryPolicy bounds automatic finish retries. Attempts counts the first
// call, so the default of 1 leaves retrying to the user.
type RetryPolicy struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// DefaultRetryPolicy retries nothing automatically.
var DefaultRetryPolicy = RetryPolicy{Attempts: 1, Backoff: time.Second, MaxBackoff: 30 * time.Second}

// delay is the wait before attempt+1 after attempt has failed, doubling from
// Backoff and capped at MaxBackoff.
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.Backoff
	if d <= 0 {
		d = time.Second
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// retries reports whether another automatic attempt follows attempt.
func (p RetryPolicy) retries(attempt int) bool {
	return attempt < p.Attempts
}
