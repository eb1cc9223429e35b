// Package mcpstdio implements the adapter.Adapter contract for MCP servers
// reached over stdio, backed by a stdiosupervisor.Supervisor per resource
// so each child process gets its own lifecycle state machine, heartbeat
// monitoring, and bounded auto-restart.
package mcpstdio

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/apathy-ca/sark/internal/domain/adapter"
	"github.com/apathy-ca/sark/internal/domain/stdiosupervisor"
)

const protocolName = "mcp-stdio"
const protocolVersion = "2.0"

// Adapter manages one Supervisor per discovered resource, keyed by
// resource ID. Resources are expected to carry their launch command in
// Metadata["command"] and (optionally) space-free args in
// Metadata["args_json"] as a JSON array of strings.
type Adapter struct {
	config stdiosupervisor.Config
	logger *slog.Logger

	mu          sync.Mutex
	supervisors map[string]*stdiosupervisor.Supervisor
}

var _ adapter.Adapter = (*Adapter)(nil)

// New constructs an Adapter. config supplies the heartbeat/resource-limit/
// restart defaults every managed child process is held to.
func New(config stdiosupervisor.Config, logger *slog.Logger) *Adapter {
	return &Adapter{config: config, logger: logger, supervisors: make(map[string]*stdiosupervisor.Supervisor)}
}

func (a *Adapter) ProtocolName() string    { return protocolName }
func (a *Adapter) ProtocolVersion() string { return protocolVersion }
func (a *Adapter) SupportsStreaming() bool { return false }

// DiscoverResources is a no-op for this adapter: stdio resources are
// registered explicitly (each one is a subprocess to launch), not
// discovered from a remote registry.
func (a *Adapter) DiscoverResources(ctx context.Context, config map[string]string) ([]adapter.Resource, error) {
	return nil, nil
}

// Capabilities lists the resource's tools via the MCP tools/list method.
func (a *Adapter) Capabilities(ctx context.Context, resource adapter.Resource) ([]adapter.Capability, error) {
	sup, err := a.supervisorFor(resource)
	if err != nil {
		return nil, err
	}

	raw, err := sup.Send(ctx, "tools/list", nil)
	if err != nil {
		return nil, adapter.NewError(adapter.ErrDiscovery, protocolName, err).WithResource(resource.ID)
	}

	var result struct {
		Tools []struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			InputSchema json.RawMessage `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, adapter.NewError(adapter.ErrProtocol, protocolName, err).WithResource(resource.ID)
	}

	capabilities := make([]adapter.Capability, 0, len(result.Tools))
	for _, t := range result.Tools {
		capabilities = append(capabilities, adapter.Capability{
			Name:        t.Name,
			Description: t.Description,
			Sensitivity: adapter.ClassifySensitivity(t.Name, t.Description),
			InputSchema: t.InputSchema,
		})
	}
	return capabilities, nil
}

// Validate confirms the resource has a running supervisor and the request
// names a capability; it never inspects arguments against the schema
// (that belongs to the caller's own validation layer).
func (a *Adapter) Validate(ctx context.Context, req adapter.InvocationRequest) error {
	if req.Capability == "" {
		return adapter.NewError(adapter.ErrValidation, protocolName, fmt.Errorf("capability name required")).WithResource(req.ResourceID)
	}
	a.mu.Lock()
	_, ok := a.supervisors[req.ResourceID]
	a.mu.Unlock()
	if !ok {
		return adapter.NewError(adapter.ErrConnection, protocolName, fmt.Errorf("resource not registered")).WithResource(req.ResourceID)
	}
	return nil
}

// Invoke calls the capability via the MCP tools/call method.
func (a *Adapter) Invoke(ctx context.Context, req adapter.InvocationRequest) (adapter.InvocationResult, error) {
	a.mu.Lock()
	sup, ok := a.supervisors[req.ResourceID]
	a.mu.Unlock()
	if !ok {
		return adapter.InvocationResult{}, adapter.NewError(adapter.ErrConnection, protocolName, fmt.Errorf("resource not registered")).WithResource(req.ResourceID)
	}

	params := map[string]interface{}{"name": req.Capability, "arguments": req.Arguments}
	raw, err := sup.Send(ctx, "tools/call", params)
	if err != nil {
		return adapter.InvocationResult{}, adapter.NewError(adapter.ErrInvocation, protocolName, err).
			WithResource(req.ResourceID).WithCapability(req.Capability)
	}

	var payload interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			return adapter.InvocationResult{}, adapter.NewError(adapter.ErrProtocol, protocolName, err).
				WithResource(req.ResourceID).WithCapability(req.Capability)
		}
	}
	return adapter.InvocationResult{Payload: payload}, nil
}

// InvokeStreaming is unsupported; the MCP stdio transport in this adapter
// speaks one request/response pair at a time.
func (a *Adapter) InvokeStreaming(ctx context.Context, req adapter.InvocationRequest) (<-chan adapter.StreamMessage, error) {
	return nil, adapter.NewError(adapter.ErrUnsupported, protocolName, fmt.Errorf("streaming not supported")).WithResource(req.ResourceID)
}

// Health pings the resource's supervisor with a cheap tools/list call.
func (a *Adapter) Health(ctx context.Context, resource adapter.Resource) (bool, error) {
	a.mu.Lock()
	sup, ok := a.supervisors[resource.ID]
	a.mu.Unlock()
	if !ok {
		return false, nil
	}
	return sup.State() == stdiosupervisor.StateRunning, nil
}

// OnRegister launches the resource's subprocess under a new Supervisor.
func (a *Adapter) OnRegister(ctx context.Context, resource adapter.Resource) error {
	command := resource.Metadata["command"]
	if command == "" {
		return adapter.NewError(adapter.ErrConfiguration, protocolName, fmt.Errorf("metadata[command] required")).WithResource(resource.ID)
	}

	var args []string
	if raw := resource.Metadata["args_json"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return adapter.NewError(adapter.ErrConfiguration, protocolName, err).WithResource(resource.ID)
		}
	}

	sup := stdiosupervisor.NewSupervisor(command, args, a.config, a.logger)
	if err := sup.Start(ctx); err != nil {
		return adapter.NewError(adapter.ErrConnection, protocolName, err).WithResource(resource.ID)
	}

	a.mu.Lock()
	a.supervisors[resource.ID] = sup
	a.mu.Unlock()
	return nil
}

// OnUnregister stops the resource's subprocess.
func (a *Adapter) OnUnregister(ctx context.Context, resource adapter.Resource) error {
	a.mu.Lock()
	sup, ok := a.supervisors[resource.ID]
	delete(a.supervisors, resource.ID)
	a.mu.Unlock()
	if !ok {
		return nil
	}
	if err := sup.Stop(ctx); err != nil {
		return adapter.NewError(adapter.ErrConnection, protocolName, err).WithResource(resource.ID)
	}
	return nil
}

func (a *Adapter) supervisorFor(resource adapter.Resource) (*stdiosupervisor.Supervisor, error) {
	a.mu.Lock()
	sup, ok := a.supervisors[resource.ID]
	a.mu.Unlock()
	if !ok {
		return nil, adapter.NewError(adapter.ErrConnection, protocolName, fmt.Errorf("resource not registered")).WithResource(resource.ID)
	}
	return sup, nil
}
