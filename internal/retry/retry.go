// Package retry wraps transient operations with bounded exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config bounds the retry loop around a transient operation.
type Config struct {
	// MaxAttempts counts the initial attempt as well.
	MaxAttempts  uint64
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultConfig matches the extraction service envelope: three attempts with
// exponential backoff between two and ten seconds.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     10 * time.Second,
	}
}

// Do runs op until it succeeds, attempts are exhausted, or ctx is done.
// On exhaustion the last error from op is returned.
func Do(ctx context.Context, cfg Config, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.InitialDelay
	policy.MaxInterval = cfg.MaxDelay
	policy.MaxElapsedTime = 0

	attempts := cfg.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}

	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, attempts-1), ctx))
}
