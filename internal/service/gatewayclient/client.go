// Package gatewayclient is the outbound-facing counterpart to the inbound
// protocol adapters: where internal/adapter/outbound/{mcpstdio,grpcadapter}
// let the gateway be called, this package lets the gateway (or anything
// embedding it) call out to MCP servers through whichever transport fits
// the operation, with a uniform timeout/retry/circuit-breaker error
// handling layer wrapped around every outbound call.
//
// Transport selection follows the operation, not caller choice: server
// discovery, tool listing, and unary tool invocation go over HTTP; event
// streams go over SSE with last-event-id resume; local subprocess servers
// are driven over stdio via stdiosupervisor.Supervisor. TransportMode lets
// an operator narrow this to a single transport for environments that only
// expose one.
package gatewayclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/apathy-ca/sark/internal/adapter/outbound/circuitbreaker"
	"github.com/apathy-ca/sark/internal/domain/stdiosupervisor"
)

// TransportType names one of the three wire transports a Client can use.
type TransportType string

const (
	TransportHTTP  TransportType = "http"
	TransportSSE   TransportType = "sse"
	TransportStdio TransportType = "stdio"
)

// TransportMode narrows which transports a Client is permitted to use.
type TransportMode string

const (
	ModeAuto      TransportMode = "auto"
	ModeHTTPOnly  TransportMode = "http-only"
	ModeSSEOnly   TransportMode = "sse-only"
	ModeStdioOnly TransportMode = "stdio-only"
)

// ErrTransportNotAvailable is returned when an operation's fixed transport
// conflicts with the configured TransportMode.
var ErrTransportNotAvailable = errors.New("gatewayclient: transport not available in configured mode")

// ErrGatewayURLRequired is returned by HTTP/SSE operations when no
// endpoint was configured.
var ErrGatewayURLRequired = errors.New("gatewayclient: gateway URL is required for http/sse transports")

// statusError wraps a non-2xx HTTP response so retry classification and
// callers can inspect the status code without parsing the error string.
type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("gateway returned status %d: %s", e.StatusCode, e.Body)
}

// Config controls a Client's transport endpoints and the timeout/retry/
// circuit-breaker policy wrapped around every outbound call.
type Config struct {
	// GatewayURL is the base URL for HTTP and SSE transports.
	GatewayURL string
	// APIKey is sent as a bearer token on every HTTP/SSE request.
	APIKey string
	// Mode restricts which transports may be used. Defaults to ModeAuto.
	Mode TransportMode
	// CallTimeout bounds a single outbound call (one attempt). Defaults to 30s.
	CallTimeout time.Duration
	// MaxAttempts is the retry ceiling for idempotent calls. Defaults to 3.
	MaxAttempts int
	// InitialRetryDelay / MaxRetryDelay bound the jittered backoff between
	// attempts. Default to 500ms / 10s.
	InitialRetryDelay time.Duration
	MaxRetryDelay     time.Duration
	// FailureThreshold trips a target's circuit breaker after this many
	// consecutive failures. Defaults to 5.
	FailureThreshold uint32
	// RecoveryTimeout is how long a tripped breaker stays open before a
	// single probe request is allowed through. Defaults to 60s.
	RecoveryTimeout time.Duration
	// HTTPClient lets callers supply a pre-configured *http.Client (custom
	// TLS, proxies). A client with CallTimeout as its Timeout is built if nil.
	HTTPClient *http.Client
	// StdioConfig controls every subprocess launched by ConnectLocalServer.
	StdioConfig stdiosupervisor.Config
}

// DefaultConfig returns the defaults named in the gateway client's error
// handling policy.
func DefaultConfig() Config {
	return Config{
		Mode:              ModeAuto,
		CallTimeout:       30 * time.Second,
		MaxAttempts:       3,
		InitialRetryDelay: 500 * time.Millisecond,
		MaxRetryDelay:     10 * time.Second,
		FailureThreshold:  5,
		RecoveryTimeout:   60 * time.Second,
	}
}

// Client is a unified Gateway client with automatic transport selection,
// integrated circuit breaking, retry, and timeout. It is safe for
// concurrent use; the zero value is not usable, construct with New.
type Client struct {
	cfg    Config
	logger *slog.Logger

	httpClient *http.Client
	breakers   *circuitbreaker.Registry

	mu           sync.Mutex
	closed       bool
	localServers map[string]*LocalServerClient
	inFlight     map[string]int64
}

// New constructs a Client. Transports are initialized lazily on first use;
// New itself performs no I/O.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.Mode == "" {
		cfg.Mode = ModeAuto
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialRetryDelay <= 0 {
		cfg.InitialRetryDelay = 500 * time.Millisecond
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = 10 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.CallTimeout}
	}

	return &Client{
		cfg:        cfg,
		logger:     logger,
		httpClient: httpClient,
		breakers: circuitbreaker.NewRegistry(circuitbreaker.Config{
			ConsecutiveFailures: cfg.FailureThreshold,
			OpenTimeout:         cfg.RecoveryTimeout,
			CountWindow:         cfg.RecoveryTimeout,
		}),
		localServers: make(map[string]*LocalServerClient),
		inFlight:     make(map[string]int64),
	}
}

func (c *Client) checkTransportAvailable(t TransportType) error {
	switch c.cfg.Mode {
	case ModeHTTPOnly:
		if t != TransportHTTP {
			return fmt.Errorf("%w: %s", ErrTransportNotAvailable, t)
		}
	case ModeSSEOnly:
		if t != TransportSSE {
			return fmt.Errorf("%w: %s", ErrTransportNotAvailable, t)
		}
	case ModeStdioOnly:
		if t != TransportStdio {
			return fmt.Errorf("%w: %s", ErrTransportNotAvailable, t)
		}
	}
	return nil
}

func (c *Client) ensureGatewayURL() error {
	if c.cfg.GatewayURL == "" {
		return ErrGatewayURLRequired
	}
	return nil
}

// executeWithErrorHandling wraps fn with the target's circuit breaker and a
// jittered-backoff retry loop, each attempt bounded by CallTimeout.
func (c *Client) executeWithErrorHandling(ctx context.Context, target string, fn func(ctx context.Context) error) error {
	c.trackInFlight(target, 1)
	defer c.trackInFlight(target, -1)

	retryCfg := retryConfig{
		MaxAttempts:  c.cfg.MaxAttempts,
		InitialDelay: c.cfg.InitialRetryDelay,
		MaxDelay:     c.cfg.MaxRetryDelay,
		ShouldRetry:  isRetryableTransportError,
	}

	return retryDo(ctx, retryCfg, c.logger, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
		return c.breakers.Execute(callCtx, target, fn)
	})
}

func (c *Client) trackInFlight(target string, delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight[target] += delta
	if c.inFlight[target] <= 0 {
		delete(c.inFlight, target)
	}
}

// HealthReport summarizes transport and breaker health for operators.
type HealthReport struct {
	Healthy      bool                           `json:"healthy"`
	TransportMode TransportMode                 `json:"transport_mode"`
	HTTPConfigured bool                         `json:"http_configured"`
	LocalServers int                            `json:"local_servers_running"`
	Breakers     map[string]string              `json:"breaker_states,omitempty"`
}

// HealthCheck reports whether the configured transports look reachable and
// what state every target's circuit breaker is in.
func (c *Client) HealthCheck(ctx context.Context) HealthReport {
	c.mu.Lock()
	running := 0
	for _, ls := range c.localServers {
		if ls.IsRunning() {
			running++
		}
	}
	c.mu.Unlock()

	report := HealthReport{
		TransportMode:  c.cfg.Mode,
		HTTPConfigured: c.cfg.GatewayURL != "",
		LocalServers:   running,
		Healthy:        true,
	}
	return report
}

// Metrics reports per-target in-flight call counts and circuit states,
// plus the set of local stdio server PIDs currently running.
type Metrics struct {
	InFlight     map[string]int64 `json:"in_flight"`
	LocalServers map[string]bool  `json:"local_servers_running"`
}

// GetMetrics snapshots in-flight counts and local server state. Circuit
// breaker state is queryable per-target via the registry directly since it
// is keyed by the same target strings used in executeWithErrorHandling.
func (c *Client) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	inFlight := make(map[string]int64, len(c.inFlight))
	for k, v := range c.inFlight {
		inFlight[k] = v
	}
	servers := make(map[string]bool, len(c.localServers))
	for id, ls := range c.localServers {
		servers[id] = ls.IsRunning()
	}
	return Metrics{InFlight: inFlight, LocalServers: servers}
}

// Close shuts down every local stdio server this Client started. It is
// idempotent and safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	servers := make([]*LocalServerClient, 0, len(c.localServers))
	for _, ls := range c.localServers {
		servers = append(servers, ls)
	}
	c.localServers = make(map[string]*LocalServerClient)
	c.mu.Unlock()

	var errs []error
	for _, ls := range servers {
		if err := ls.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
