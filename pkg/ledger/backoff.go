package ledger

import "time"

// backoff doubles the delay per attempt up to max.
type backoff struct {
	base time.Duration
	max  time.Duration
}

func (b backoff) delay(attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	d := b.base << attempt
	if d <= 0 || d > b.max {
		return b.max
	}
	return d
}
