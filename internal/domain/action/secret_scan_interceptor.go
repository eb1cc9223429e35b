package action

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"

	"github.com/apathy-ca/sark/internal/domain/audit"
	"github.com/apathy-ca/sark/internal/domain/secretscan"
	"github.com/apathy-ca/sark/pkg/mcp"
)

// SecretScanInterceptor scans tool invocation results for leaked secrets and
// redacts them before the response reaches the client. It sits between the
// upstream router and the response-injection scanner: the pipeline diagram
// in spec.md §2 places the secret scanner immediately after Adapter.invoke.
type SecretScanInterceptor struct {
	scanner  *secretscan.Scanner
	redactor *secretscan.Redactor
	next     ActionInterceptor
	logger   *slog.Logger
}

var _ ActionInterceptor = (*SecretScanInterceptor)(nil)

// NewSecretScanInterceptor constructs a SecretScanInterceptor with the
// default secret pattern catalog.
func NewSecretScanInterceptor(next ActionInterceptor, logger *slog.Logger) *SecretScanInterceptor {
	return &SecretScanInterceptor{
		scanner:  secretscan.NewScanner(),
		redactor: secretscan.NewRedactor(),
		next:     next,
		logger:   logger,
	}
}

// Intercept lets the inner chain execute the tool call, then scans and
// redacts any server-to-client result content before returning it.
func (s *SecretScanInterceptor) Intercept(ctx context.Context, a *CanonicalAction) (*CanonicalAction, error) {
	result, err := s.next.Intercept(ctx, a)
	if err != nil {
		return result, err
	}
	if result == nil {
		return nil, nil
	}

	mcpMsg, ok := result.OriginalMessage.(*mcp.Message)
	if !ok || mcpMsg.Direction != mcp.ServerToClient || mcpMsg.Raw == nil {
		return result, nil
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(mcpMsg.Raw, &envelope); err != nil || envelope.Result == nil {
		return result, nil
	}

	var decoded interface{}
	if err := json.Unmarshal(envelope.Result, &decoded); err != nil {
		return result, nil
	}

	findings := s.scanner.Scan(decoded)
	if len(findings) == 0 {
		return result, nil
	}

	redacted := s.redactor.Redact(decoded)
	redactedResult, err := json.Marshal(redacted)
	if err != nil {
		s.logger.Warn("secret redaction: failed to marshal redacted result", "error", err)
		return result, nil
	}

	rewritten, err := rewriteResultField(mcpMsg.Raw, redactedResult)
	if err != nil {
		s.logger.Warn("secret redaction: failed to rewrite message", "error", err)
		return result, nil
	}
	mcpMsg.Raw = rewritten

	kinds := make(map[string]bool, len(findings))
	for _, f := range findings {
		kinds[f.Kind] = true
	}
	kindList := make([]string, 0, len(kinds))
	for k := range kinds {
		kindList = append(kindList, k)
	}
	sort.Strings(kindList)

	s.logger.Warn("secret scanning: redacted leaked credentials",
		"tool", a.Name,
		"findings_count", len(findings),
		"kinds", strings.Join(kindList, ","),
		"session_id", a.Identity.SessionID,
	)

	if holder := audit.ScanResultFromContext(ctx); holder != nil {
		holder.Detections += len(findings)
		holder.Action = "redacted"
		if holder.Types == "" {
			holder.Types = strings.Join(kindList, ",")
		} else {
			holder.Types = holder.Types + "," + strings.Join(kindList, ",")
		}
	}

	return result, nil
}

// rewriteResultField replaces the "result" field of a JSON-RPC response
// envelope with newResult, preserving every other top-level field verbatim.
func rewriteResultField(raw []byte, newResult json.RawMessage) ([]byte, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}
	envelope["result"] = newResult
	return json.Marshal(envelope)
}
