// Package grpcadapter implements the adapter.Adapter contract for gRPC
// services. Generic gRPC invocation without a compiled proto descriptor
// requires server reflection plus dynamic message construction; no example
// in the retrieval pack exercises that path (google.golang.org/grpc is
// only ever pulled in transitively, never used directly), so this adapter
// takes the narrower, still-useful scope of connection lifecycle, standard
// health checking, and pass-through invocation of pre-encoded request/
// response bytes via a raw codec, documented in DESIGN.md.
package grpcadapter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/apathy-ca/sark/internal/domain/adapter"
)

const protocolName = "grpc"
const protocolVersion = "2"

// maxMessageBytes bounds both send and receive message sizes; 100 MiB
// matches the ceiling commonly configured for gRPC channels carrying
// bulk payloads rather than the library's conservative 4 MiB default.
const maxMessageBytes = 100 * 1024 * 1024

// Config controls channel-level behavior shared by every connection the
// adapter opens.
type Config struct {
	KeepaliveInterval time.Duration
	KeepaliveTimeout  time.Duration
}

// DefaultConfig returns a 30s/10s keepalive, matching the cadence commonly
// used for long-lived service-mesh gRPC channels.
func DefaultConfig() Config {
	return Config{KeepaliveInterval: 30 * time.Second, KeepaliveTimeout: 10 * time.Second}
}

// Adapter manages one *grpc.ClientConn per registered resource, keyed by
// resource ID. Resources carry their dial target in Metadata["target"]
// and, for Capabilities, a comma-separated Metadata["methods"] list since
// this adapter does not perform live reflection-based discovery.
type Adapter struct {
	config Config
	logger *slog.Logger

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

var _ adapter.Adapter = (*Adapter)(nil)

func New(config Config, logger *slog.Logger) *Adapter {
	return &Adapter{config: config, logger: logger, conns: make(map[string]*grpc.ClientConn)}
}

func (a *Adapter) ProtocolName() string    { return protocolName }
func (a *Adapter) ProtocolVersion() string { return protocolVersion }
func (a *Adapter) SupportsStreaming() bool { return false }

// DiscoverResources is a no-op: gRPC targets are registered explicitly via
// OnRegister with a dial target, not discovered from a remote registry.
func (a *Adapter) DiscoverResources(ctx context.Context, config map[string]string) ([]adapter.Resource, error) {
	return nil, nil
}

// Capabilities returns the method names the resource was registered with;
// see the package doc for why this isn't populated via reflection.
func (a *Adapter) Capabilities(ctx context.Context, resource adapter.Resource) ([]adapter.Capability, error) {
	methods := splitNonEmpty(resource.Metadata["methods"])
	capabilities := make([]adapter.Capability, 0, len(methods))
	for _, m := range methods {
		capabilities = append(capabilities, adapter.Capability{
			Name:        m,
			Sensitivity: adapter.ClassifySensitivity(m, ""),
		})
	}
	return capabilities, nil
}

// Validate confirms the resource has an open connection and the request
// names a method.
func (a *Adapter) Validate(ctx context.Context, req adapter.InvocationRequest) error {
	if req.Capability == "" {
		return adapter.NewError(adapter.ErrValidation, protocolName, fmt.Errorf("method name required")).WithResource(req.ResourceID)
	}
	a.mu.Lock()
	_, ok := a.conns[req.ResourceID]
	a.mu.Unlock()
	if !ok {
		return adapter.NewError(adapter.ErrConnection, protocolName, fmt.Errorf("resource not registered")).WithResource(req.ResourceID)
	}
	return nil
}

// Invoke performs a unary RPC. req.Arguments must carry a "request_bytes"
// entry holding the already wire-encoded protobuf request; the response
// is returned the same way under InvocationResult.Metadata["response_bytes"]
// is not used — the raw bytes are the Payload itself ([]byte).
func (a *Adapter) Invoke(ctx context.Context, req adapter.InvocationRequest) (adapter.InvocationResult, error) {
	a.mu.Lock()
	conn, ok := a.conns[req.ResourceID]
	a.mu.Unlock()
	if !ok {
		return adapter.InvocationResult{}, adapter.NewError(adapter.ErrConnection, protocolName, fmt.Errorf("resource not registered")).WithResource(req.ResourceID)
	}

	reqBytes, ok := req.Arguments["request_bytes"].([]byte)
	if !ok {
		return adapter.InvocationResult{}, adapter.NewError(adapter.ErrValidation, protocolName, fmt.Errorf("arguments[request_bytes] must be []byte")).
			WithResource(req.ResourceID).WithCapability(req.Capability)
	}

	var respBytes []byte
	if err := conn.Invoke(ctx, req.Capability, &reqBytes, &respBytes, grpc.ForceCodec(rawCodec{})); err != nil {
		return adapter.InvocationResult{}, adapter.NewError(adapter.ErrInvocation, protocolName, err).
			WithResource(req.ResourceID).WithCapability(req.Capability)
	}

	return adapter.InvocationResult{Payload: respBytes}, nil
}

// InvokeStreaming is unsupported; this adapter only performs unary calls.
func (a *Adapter) InvokeStreaming(ctx context.Context, req adapter.InvocationRequest) (<-chan adapter.StreamMessage, error) {
	return nil, adapter.NewError(adapter.ErrUnsupported, protocolName, fmt.Errorf("streaming not supported")).WithResource(req.ResourceID)
}

// Health calls the standard grpc.health.v1 Health service.
func (a *Adapter) Health(ctx context.Context, resource adapter.Resource) (bool, error) {
	a.mu.Lock()
	conn, ok := a.conns[resource.ID]
	a.mu.Unlock()
	if !ok {
		return false, nil
	}

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: resource.Metadata["health_service"]})
	if err != nil {
		return false, adapter.NewError(adapter.ErrConnection, protocolName, err).WithResource(resource.ID)
	}
	return resp.Status == healthpb.HealthCheckResponse_SERVING, nil
}

// OnRegister dials the resource's target.
func (a *Adapter) OnRegister(ctx context.Context, resource adapter.Resource) error {
	target := resource.Metadata["target"]
	if target == "" {
		return adapter.NewError(adapter.ErrConfiguration, protocolName, fmt.Errorf("metadata[target] required")).WithResource(resource.ID)
	}

	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxMessageBytes),
			grpc.MaxCallSendMsgSize(maxMessageBytes),
		),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    a.config.KeepaliveInterval,
			Timeout: a.config.KeepaliveTimeout,
		}),
	)
	if err != nil {
		return adapter.NewError(adapter.ErrConnection, protocolName, err).WithResource(resource.ID)
	}

	a.mu.Lock()
	a.conns[resource.ID] = conn
	a.mu.Unlock()
	return nil
}

// OnUnregister closes the resource's connection.
func (a *Adapter) OnUnregister(ctx context.Context, resource adapter.Resource) error {
	a.mu.Lock()
	conn, ok := a.conns[resource.ID]
	delete(a.conns, resource.ID)
	a.mu.Unlock()
	if !ok {
		return nil
	}
	if err := conn.Close(); err != nil {
		return adapter.NewError(adapter.ErrConnection, protocolName, err).WithResource(resource.ID)
	}
	return nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// rawCodec passes []byte payloads through grpc's wire format unchanged,
// letting Invoke carry pre-encoded protobuf bytes without a compiled
// descriptor for the target service.
type rawCodec struct{}

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	b, ok := v.(*[]byte)
	if !ok {
		return nil, fmt.Errorf("rawCodec: expected *[]byte, got %T", v)
	}
	return *b, nil
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("rawCodec: expected *[]byte, got %T", v)
	}
	*b = data
	return nil
}

func (rawCodec) Name() string { return "raw" }
