package mcp

import (
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// MaxMessageBytes bounds a single JSON-RPC message this gateway will
// decode. It matches ProxyService's scanner buffer ceiling
// (internal/service/proxy_service.go), so a message too large to have
// been read off the wire in the first place is also rejected here rather
// than only at the transport layer.
const MaxMessageBytes = 1024 * 1024

// EncodeMessage serializes a JSON-RPC message to its wire format.
// This delegates to the MCP SDK's jsonrpc package.
func EncodeMessage(msg jsonrpc.Message) ([]byte, error) {
	return jsonrpc.EncodeMessage(msg)
}

// DecodeMessage deserializes JSON-RPC wire format data into a Message.
// It returns either a *jsonrpc.Request or *jsonrpc.Response based on the
// message content, delegating to the MCP SDK's jsonrpc package. Messages
// over MaxMessageBytes are rejected before the SDK ever sees them.
func DecodeMessage(data []byte) (jsonrpc.Message, error) {
	if len(data) > MaxMessageBytes {
		return nil, fmt.Errorf("mcp: message of %d bytes exceeds %d byte limit", len(data), MaxMessageBytes)
	}
	return jsonrpc.DecodeMessage(data)
}

// WrapMessage decodes raw JSON-RPC bytes and wraps them in a Message struct
// with the specified direction and current timestamp.
//
// If decoding fails, returns an error. For passthrough scenarios where
// the raw bytes should be preserved even on decode failure, callers can
// construct a Message manually.
func WrapMessage(raw []byte, dir Direction) (*Message, error) {
	decoded, err := DecodeMessage(raw)
	if err != nil {
		return nil, err
	}

	return &Message{
		Raw:       raw,
		Direction: dir,
		Decoded:   decoded,
		Timestamp: time.Now(),
	}, nil
}
