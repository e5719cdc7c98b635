package connector

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Backoff grows the delay between reconnect attempts up to Max.
type Backoff struct {
	Initial    time.Duration `yaml:"initial_delay"`
	Max        time.Duration `yaml:"max_delay"`
	Multiplier float64       `yaml:"multiplier"`
	// Jitter spreads each delay by up to this fraction either way.
	Jitter float64 `yaml:"jitter"`
}

// ExponentialBackOff returns a fresh policy starting at Initial.
func (b Backoff) ExponentialBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	if b.Initial > 0 {
		bo.InitialInterval = b.Initial
	}
	if b.Max > 0 {
		bo.MaxInterval = b.Max
	}
	bo.Multiplier = max(b.Multiplier, 1)
	bo.RandomizationFactor = min(max(b.Jitter, 0), 1)
	bo.Reset()
	return bo
}

// Retry calls fn until it succeeds, at most attempts times, waiting delay
// between calls. The last error is wrapped in ErrRetriesExhausted; a
// cancelled ctx returns its error instead.
func Retry(ctx context.Context, attempts uint, delay time.Duration, fn func() error) error {
	attempts = max(attempts, 1)
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, fn()
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(delay)),
		backoff.WithMaxTries(attempts),
		backoff.WithMaxElapsedTime(0),
	)
	if err == nil || ctx.Err() != nil {
		return err
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, err)
}
