package mcpstdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/apathy-ca/sark/internal/domain/stdiosupervisor"
	"github.com/apathy-ca/sark/internal/port/outbound"
)

// RelayClient adapts a stdiosupervisor.Supervisor to the outbound.MCPClient
// raw-pipe contract so ProxyService's line-oriented copyMessages can drive a
// supervised subprocess (heartbeat-monitored, resource-limited,
// auto-restarting) exactly as it would drive a bare stdio client.
//
// It owns no subprocess pipes directly. Every line the proxy writes to the
// pipe returned from Start is decoded as a JSON-RPC request or notification
// and replayed through Supervisor.Send/Notify; every result or error that
// resolves from is re-encoded as a JSON-RPC response line and written back
// to the proxy's read pipe. Requests are relayed one at a time, so restart
// and heartbeat failures surface as an ordinary JSON-RPC error to the
// in-flight caller rather than silently dropping a message.
type RelayClient struct {
	supervisor *stdiosupervisor.Supervisor
	logger     *slog.Logger

	mu      sync.Mutex
	started bool
	proxyIn *io.PipeReader

	wg sync.WaitGroup
}

// NewRelayClient constructs a client that launches serverPath as a
// supervised subprocess on Start and relays JSON-RPC lines to it.
func NewRelayClient(serverPath string, serverArgs []string, config stdiosupervisor.Config, logger *slog.Logger) *RelayClient {
	return &RelayClient{
		supervisor: stdiosupervisor.NewSupervisor(serverPath, serverArgs, config, logger),
		logger:     logger,
	}
}

type relayRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type relayResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *relayErrorBody `json:"error,omitempty"`
}

type relayErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Start launches the supervised subprocess and returns the pipe ends the
// caller should treat as the upstream's stdin (for writing requests) and
// stdout (for reading responses).
func (c *RelayClient) Start(ctx context.Context) (io.WriteCloser, io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil, nil, errors.New("client already started")
	}

	if err := c.supervisor.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("start supervisor: %w", err)
	}

	requestsR, requestsW := io.Pipe()
	responsesR, responsesW := io.Pipe()

	c.proxyIn = requestsR
	c.started = true

	c.wg.Add(1)
	go c.relay(ctx, requestsR, responsesW)

	return requestsW, responsesR, nil
}

// relay drains newline-delimited JSON-RPC lines from in, forwards each
// through the supervisor, and writes a response line per request to out.
// Notifications (no "id") get no reply, matching JSON-RPC 2.0. The
// supervisor is stopped once in reaches EOF, since EOF here means the
// client side closed its write end (session ended, nothing left to relay).
func (c *RelayClient) relay(ctx context.Context, in io.ReadCloser, out io.WriteCloser) {
	defer c.wg.Done()
	defer func() { _ = c.supervisor.Stop(context.Background()) }()
	defer out.Close()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var req relayRequest
		if err := json.Unmarshal(line, &req); err != nil {
			c.logger.Warn("mcpstdio relay: malformed JSON-RPC line from client, dropping", "error", err)
			continue
		}

		if len(req.ID) == 0 {
			if err := c.supervisor.Notify(req.Method, req.Params); err != nil {
				c.logger.Warn("mcpstdio relay: notify failed", "method", req.Method, "error", err)
			}
			continue
		}

		result, sendErr := c.supervisor.Send(ctx, req.Method, req.Params)
		resp := relayResponse{JSONRPC: "2.0", ID: req.ID}
		if sendErr != nil {
			resp.Error = &relayErrorBody{Code: -32000, Message: sendErr.Error()}
		} else {
			resp.Result = result
		}

		encoded, err := json.Marshal(resp)
		if err != nil {
			c.logger.Warn("mcpstdio relay: failed to encode response", "method", req.Method, "error", err)
			continue
		}
		encoded = append(encoded, '\n')
		if _, err := out.Write(encoded); err != nil {
			return
		}
	}
}

// Wait blocks until the supervised subprocess reaches a permanent stopped
// state: graceful Stop (triggered by the relay loop hitting EOF), or the
// restart budget being exhausted.
func (c *RelayClient) Wait() error {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return errors.New("client not started")
	}

	<-c.supervisor.Done()
	return nil
}

// Close stops the supervisor (idempotent if the relay loop already did so)
// and waits for the relay goroutine to exit.
func (c *RelayClient) Close() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	proxyIn := c.proxyIn
	c.mu.Unlock()

	if proxyIn != nil {
		_ = proxyIn.Close()
	}
	err := c.supervisor.Stop(context.Background())
	c.wg.Wait()
	return err
}

var _ outbound.MCPClient = (*RelayClient)(nil)
