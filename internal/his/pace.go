package his

import (
	"context"
	"time"
)

// Pacer enforces a minimum delay between consecutive portal requests. Each
// worker owns one; it is not safe for concurrent use.
type Pacer struct {
	delay time.Duration
	last  time.Time
}

// NewPacer creates a pacer with the given minimum inter-request delay. A
// non-positive delay disables pacing.
func NewPacer(delay time.Duration) *Pacer {
	return &Pacer{delay: delay}
}

// Wait blocks until the delay since the previous request has elapsed.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil || p.delay <= 0 {
		return nil
	}
	if wait := p.delay - time.Since(p.last); wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	p.last = time.Now()
	return nil
}
