// Package retry provides the peer-request retry policy and per-peer circuit
// breakers used by the gossip and repair paths.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	initialInterval = 1 * time.Second
	maxInterval     = 60 * time.Second
	maxAttempts     = 5
	jitterFactor    = 0.1
)

// NewPeerBackoff returns the standard peer retry schedule: exponential from
// 1s doubling to a 60s cap with +/-10% jitter, for at most 5 attempts.
func NewPeerBackoff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialInterval
	bo.MaxInterval = maxInterval
	bo.Multiplier = 2
	bo.RandomizationFactor = jitterFactor
	bo.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(bo, maxAttempts-1), ctx)
}

// Do runs op under the standard peer retry schedule.
func Do(ctx context.Context, op func() error) error {
	return backoff.Retry(op, NewPeerBackoff(ctx))
}

// Permanent marks an error as non-retryable for Do.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
