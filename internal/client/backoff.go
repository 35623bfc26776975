package client

import "time"

// Backoff computes truncated exponential delays between retry attempts.
// The transport reconnect loop and the status monitor's probe burst are both
// instances of this one primitive with independently configured parameters.
type Backoff struct {
	Base       time.Duration
	Cap        time.Duration
	MaxRetries int
}

// Delay returns min(Base * 2^attempt, Cap) for a zero-based attempt count.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := b.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.Cap {
			return b.Cap
		}
	}
	if d > b.Cap {
		return b.Cap
	}
	return d
}

// Exhausted reports whether the attempt count has reached the retry cap.
func (b Backoff) Exhausted(attempt int) bool {
	return b.MaxRetries > 0 && attempt >= b.MaxRetries
}
