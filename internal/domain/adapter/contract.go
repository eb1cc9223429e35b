// Package adapter defines the protocol-agnostic contract every transport
// adapter (MCP, gRPC, HTTP) implements: resource discovery, capability
// listing, request validation, invocation, optional streaming, and health
// checks, plus the shared error taxonomy adapters report through.
package adapter

import (
	"context"
	"strings"
)

// SensitivityTier auto-classifies a capability from its name/description
// keyword so the policy engine has structural metadata to condition on; the
// adapter layer never decides allow/deny itself.
type SensitivityTier string

const (
	SensitivityCritical SensitivityTier = "critical"
	SensitivityHigh     SensitivityTier = "high"
	SensitivityMedium   SensitivityTier = "medium"
	SensitivityLow      SensitivityTier = "low"
)

// ClassifySensitivity keyword-tags a capability name/description: critical
// for credential/payment terms, high for delete/exec, medium for
// write/update, low for read/list, default medium.
func ClassifySensitivity(name, description string) SensitivityTier {
	text := name + " " + description
	switch {
	case containsAny(text, "credential", "payment", "secret", "token"):
		return SensitivityCritical
	case containsAny(text, "delete", "exec", "remove", "drop"):
		return SensitivityHigh
	case containsAny(text, "write", "update", "create", "modify"):
		return SensitivityMedium
	case containsAny(text, "read", "list", "get", "query"):
		return SensitivityLow
	default:
		return SensitivityMedium
	}
}

func containsAny(text string, terms ...string) bool {
	lower := strings.ToLower(text)
	for _, term := range terms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// Resource is a discoverable upstream endpoint (an MCP server, a gRPC
// service, an HTTP API) an adapter can invoke capabilities against.
type Resource struct {
	ID       string
	Name     string
	Protocol string
	Metadata map[string]string
}

// Capability is a single invocable operation a Resource exposes (an MCP
// tool, a gRPC method, an HTTP route).
type Capability struct {
	Name              string
	Description       string
	Sensitivity       SensitivityTier
	SupportsStreaming bool
	InputSchema       []byte
}

// InvocationRequest carries everything an adapter needs to perform (or
// validate) a single capability invocation.
type InvocationRequest struct {
	ResourceID  string
	Capability  string
	Arguments   map[string]interface{}
	BearerToken string // forwarded for HTTP adapters that authorize per-user
}

// InvocationResult is the unary result of Invoke.
type InvocationResult struct {
	Payload  interface{}
	Metadata map[string]string
}

// StreamMessage is a single item from an InvokeStreaming sequence.
type StreamMessage struct {
	Payload interface{}
	Err     error
	Done    bool
}

// Adapter is the uniform contract every protocol adapter implements.
// InvokeStreaming is optional; adapters that don't support it return
// ErrUnsupported wrapped in an Error with Kind ErrUnsupported.
type Adapter interface {
	ProtocolName() string
	ProtocolVersion() string
	SupportsStreaming() bool

	DiscoverResources(ctx context.Context, config map[string]string) ([]Resource, error)
	Capabilities(ctx context.Context, resource Resource) ([]Capability, error)
	Validate(ctx context.Context, req InvocationRequest) error
	Invoke(ctx context.Context, req InvocationRequest) (InvocationResult, error)
	InvokeStreaming(ctx context.Context, req InvocationRequest) (<-chan StreamMessage, error)
	Health(ctx context.Context, resource Resource) (bool, error)

	// OnRegister/OnUnregister are lifecycle hooks called when a resource is
	// added to or removed from the active upstream set.
	OnRegister(ctx context.Context, resource Resource) error
	OnUnregister(ctx context.Context, resource Resource) error
}
