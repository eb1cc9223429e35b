// Package circuitbreaker wraps sony/gobreaker behind a small, per-target
// registry so callers that talk to many independent upstreams (gateway
// targets, SIEM sinks) get one breaker per target instead of one shared
// breaker whose trip state would conflate unrelated failures.
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Config controls the breaker every registry entry is built with.
type Config struct {
	// ConsecutiveFailures trips the breaker after this many failures in a
	// row. Defaults to 5.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before allowing a
	// single trial request through (half-open). Defaults to 30s.
	OpenTimeout time.Duration
	// CountWindow resets failure counts after this much idle time.
	// Defaults to 60s.
	CountWindow time.Duration
}

// DefaultConfig matches the cadence used by the SIEM forwarders' breakers.
func DefaultConfig() Config {
	return Config{ConsecutiveFailures: 5, OpenTimeout: 30 * time.Second, CountWindow: 60 * time.Second}
}

// Registry lazily creates and caches one circuit breaker per named target.
type Registry struct {
	config Config

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewRegistry constructs a Registry. config is applied to every breaker it
// creates.
func NewRegistry(config Config) *Registry {
	if config.ConsecutiveFailures == 0 {
		config.ConsecutiveFailures = 5
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 30 * time.Second
	}
	if config.CountWindow <= 0 {
		config.CountWindow = 60 * time.Second
	}
	return &Registry{config: config, breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

// Execute runs fn through the named target's breaker, creating it on first
// use. ctx is honored only insofar as fn itself respects it; the breaker
// wraps the call, it does not cancel it.
func (r *Registry) Execute(ctx context.Context, target string, fn func(ctx context.Context) error) error {
	breaker := r.breakerFor(target)
	_, err := breaker.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	return err
}

// State reports a target's current breaker state; unknown targets report
// gobreaker.StateClosed since no failures have been observed yet.
func (r *Registry) State(target string) gobreaker.State {
	return r.breakerFor(target).State()
}

func (r *Registry) breakerFor(target string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[target]; ok {
		return b
	}

	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        target,
		MaxRequests: 1,
		Interval:    r.config.CountWindow,
		Timeout:     r.config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= r.config.ConsecutiveFailures
		},
	})
	r.breakers[target] = b
	return b
}
