package jobs

import "time"

// Backoff computes retry delays: Base doubled per prior retry, capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before the retry that follows retryCount earlier
// retries. Delay(0) is Base.
func (b Backoff) Delay(retryCount int) time.Duration {
	d := b.Base
	for i := 0; i < retryCount; i++ {
		if d >= b.Max {
			break
		}
		d *= 2
	}
	if d > b.Max {
		return b.Max
	}
	return d
}
