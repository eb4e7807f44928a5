package feed

import (
	"context"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// NewBackOff returns the retry policy shared by listeners and tracking
// sessions: exponential from 500ms, capped at maxInterval.
func NewBackOff(maxInterval time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	if maxInterval > 0 {
		b.MaxInterval = maxInterval
	}
	return b
}

// runForever calls listen until ctx is cancelled, sleeping with backoff
// between failed attempts. listen calls ready once it is connected, which
// resets the backoff.
func runForever(ctx context.Context, name string, maxInterval time.Duration, onDown func(error), listen func(ctx context.Context, ready func()) error) error {
	b := NewBackOff(maxInterval)
	for {
		err := listen(ctx, b.Reset)
		if ctx.Err() != nil {
			return nil
		}
		onDown(err)

		wait := b.NextBackOff()
		log.Printf("[feed] %s listener down: %v (retrying in %s)", name, err, wait.Round(time.Millisecond))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}
