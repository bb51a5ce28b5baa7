package network

import (
	"context"
	"math/rand"
	"time"
)

// Reconnect defaults
const (
	DefaultBaseDelay = time.Second
	DefaultMaxDelay  = 30 * time.Second
)

// Backoff computes exponential redial delays.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns Base * 2^attempt capped at Max, with ±10% jitter.
func (b Backoff) Delay(attempt int) time.Duration {
	base, limit := b.Base, b.Max
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if limit < base {
		limit = base
	}
	if attempt < 0 {
		attempt = 0
	}

	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= limit {
			delay = limit
			break
		}
	}

	jitter := time.Duration(float64(delay) * 0.1 * (2*rand.Float64() - 1))
	delay += jitter
	if delay <= 0 {
		delay = base
	}
	return delay
}

// sleepContext waits for d and reports false if ctx ended first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
