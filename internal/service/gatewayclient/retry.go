package gatewayclient

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

// retryConfig controls the jittered exponential backoff applied to outbound
// gateway calls. It extends the shape used elsewhere in this codebase for
// plain exponential backoff by adding full jitter to the computed delay, as
// required for retries against a shared upstream: synchronized retries from
// many callers would otherwise arrive in lockstep bursts.
type retryConfig struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int
	// InitialDelay is the base delay before the second attempt.
	InitialDelay time.Duration
	// MaxDelay caps the backoff before jitter is applied.
	MaxDelay time.Duration
	// ShouldRetry classifies an error as retryable. Nil retries everything.
	ShouldRetry func(err error) bool
}

func defaultRetryConfig() retryConfig {
	return retryConfig{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
	}
}

// retryDo calls fn up to cfg.MaxAttempts times, waiting a full-jitter
// exponential backoff between attempts: each delay is drawn uniformly from
// [0, min(cap, base*2^attempt)) rather than the bare doubled value, so
// concurrent callers retrying the same failing target spread out instead of
// re-converging on the same instant. It stops early when ctx is cancelled or
// fn succeeds, and returns the last error otherwise.
func retryDo(ctx context.Context, cfg retryConfig, logger *slog.Logger, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = defaultRetryConfig().InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultRetryConfig().MaxDelay
	}
	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = func(err error) bool { return true }
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(lastErr, err)
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !shouldRetry(lastErr) {
			return lastErr
		}

		if attempt < cfg.MaxAttempts {
			delay := jitteredDelay(cfg.InitialDelay, cfg.MaxDelay, attempt)
			if logger != nil {
				logger.Debug("gateway client: attempt failed, retrying",
					"attempt", attempt, "max", cfg.MaxAttempts, "error", lastErr, "delay", delay)
			}
			select {
			case <-ctx.Done():
				return errors.Join(lastErr, ctx.Err())
			case <-time.After(delay):
			}
		}
	}
	return lastErr
}

func jitteredDelay(initial, max time.Duration, attempt int) time.Duration {
	base := initial
	for i := 1; i < attempt; i++ {
		base *= 2
		if base > max {
			base = max
			break
		}
	}
	if base <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(base)))
}

// isRetryableTransportError classifies transport-level failures as
// retryable: network errors and 5xx responses are, 4xx are not (retrying a
// malformed or unauthorized request never helps). Wrapped as *statusError by
// the HTTP transport below.
func isRetryableTransportError(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500
	}
	return true
}
