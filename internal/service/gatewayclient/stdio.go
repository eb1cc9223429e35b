package gatewayclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/apathy-ca/sark/internal/domain/stdiosupervisor"
)

// LocalServerClient wraps a single local MCP subprocess launched by
// ConnectLocalServer, mirroring the supervisor's lifecycle without
// exposing the supervisor type itself to callers.
type LocalServerClient struct {
	serverID   string
	supervisor *stdiosupervisor.Supervisor
}

// SendRequest issues a JSON-RPC call to the local server and blocks for its
// response.
func (l *LocalServerClient) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	return l.supervisor.Send(ctx, method, params)
}

// SendNotification issues a JSON-RPC notification (no response expected).
func (l *LocalServerClient) SendNotification(method string, params interface{}) error {
	return l.supervisor.Notify(method, params)
}

// IsRunning reports whether the subprocess is currently in the running state.
func (l *LocalServerClient) IsRunning() bool {
	return l.supervisor.State() == stdiosupervisor.StateRunning
}

// Stop gracefully terminates the subprocess.
func (l *LocalServerClient) Stop(ctx context.Context) error {
	return l.supervisor.Stop(ctx)
}

// ConnectLocalServer launches command as a local MCP subprocess over stdio
// and tracks it under serverID for later lookup/disconnect. Launching the
// same serverID twice without disconnecting first returns an error.
func (c *Client) ConnectLocalServer(ctx context.Context, serverID, command string, args []string) (*LocalServerClient, error) {
	if err := c.checkTransportAvailable(TransportStdio); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if _, exists := c.localServers[serverID]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("gatewayclient: local server %q already connected", serverID)
	}
	c.mu.Unlock()

	sup := stdiosupervisor.NewSupervisor(command, args, c.cfg.StdioConfig, c.logger)
	if err := sup.Start(ctx); err != nil {
		return nil, fmt.Errorf("start local server %q: %w", serverID, err)
	}

	local := &LocalServerClient{serverID: serverID, supervisor: sup}

	c.mu.Lock()
	c.localServers[serverID] = local
	c.mu.Unlock()

	return local, nil
}

// DisconnectLocalServer stops and forgets a server started by
// ConnectLocalServer. Disconnecting an unknown serverID is a no-op.
func (c *Client) DisconnectLocalServer(ctx context.Context, serverID string) error {
	c.mu.Lock()
	local, ok := c.localServers[serverID]
	if ok {
		delete(c.localServers, serverID)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return local.Stop(ctx)
}
