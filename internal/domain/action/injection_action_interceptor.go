package action

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/apathy-ca/sark/internal/domain/injection"
)

// ErrInjectionBlocked is wrapped by the error InjectionActionInterceptor
// returns when a scan's risk score meets the block threshold.
var ErrInjectionBlocked = fmt.Errorf("prompt injection blocked")

// InjectionFinding is a condensed view of an injection.Finding suitable for
// attaching to an action's metadata for downstream audit logging.
type InjectionFinding struct {
	PatternID string
	Severity  string
	Path      string
}

// InjectionActionInterceptor scans tool-call and HTTP-request arguments for
// prompt-injection attempts before the action reaches policy evaluation.
// Runs ahead of PolicyActionInterceptor in the chain: spec.md's pipeline
// diagram places the injection detector before authorization.
type InjectionActionInterceptor struct {
	detector *injection.Detector
	handler  *injection.ResponseHandler
	next     ActionInterceptor
	logger   *slog.Logger
}

var _ ActionInterceptor = (*InjectionActionInterceptor)(nil)

// NewInjectionActionInterceptor constructs an InjectionActionInterceptor with
// the default pattern catalog and spec.md §4.4's default thresholds.
func NewInjectionActionInterceptor(next ActionInterceptor, logger *slog.Logger) *InjectionActionInterceptor {
	return NewInjectionActionInterceptorWithThresholds(injection.DefaultThresholds(), next, logger)
}

// NewInjectionActionInterceptorWithThresholds is like
// NewInjectionActionInterceptor but lets callers override the block/alert
// risk-score cut points (configured per deployment rather than hardcoded).
func NewInjectionActionInterceptorWithThresholds(thresholds injection.Thresholds, next ActionInterceptor, logger *slog.Logger) *InjectionActionInterceptor {
	return &InjectionActionInterceptor{
		detector: injection.NewDetector(),
		handler:  injection.NewResponseHandler(thresholds),
		next:     next,
		logger:   logger,
	}
}

// Intercept scans action.Arguments; only tool calls and HTTP requests carry
// argument maps worth scanning.
func (i *InjectionActionInterceptor) Intercept(ctx context.Context, a *CanonicalAction) (*CanonicalAction, error) {
	if a.Type != ActionToolCall && a.Type != ActionHTTPRequest {
		return i.next.Intercept(ctx, a)
	}

	result := i.detector.Detect(a.Arguments)
	resp := i.handler.Handle(result)

	if resp.Action == injection.ActionNone {
		return i.next.Intercept(ctx, a)
	}

	if a.Metadata == nil {
		a.Metadata = make(map[string]interface{})
	}
	a.Metadata["injection_risk_score"] = resp.Detail.RiskScore
	a.Metadata["injection_action"] = string(resp.Action)
	a.Metadata["injection_findings"] = condenseFindings(resp.Detail.TopFindings)

	switch resp.Action {
	case injection.ActionBlock:
		i.logger.Warn("prompt injection blocked",
			"tool", a.Name,
			"risk_score", resp.Detail.RiskScore,
			"session_id", a.Identity.SessionID,
		)
		return nil, fmt.Errorf("%w: risk_score=%d", ErrInjectionBlocked, resp.Detail.RiskScore)
	case injection.ActionAlert:
		i.logger.Warn("prompt injection alert",
			"tool", a.Name,
			"risk_score", resp.Detail.RiskScore,
			"session_id", a.Identity.SessionID,
		)
	case injection.ActionLog:
		i.logger.Info("prompt injection low-severity match",
			"tool", a.Name,
			"risk_score", resp.Detail.RiskScore,
		)
	}

	return i.next.Intercept(ctx, a)
}

func condenseFindings(findings []injection.Finding) []InjectionFinding {
	out := make([]InjectionFinding, 0, len(findings))
	for _, f := range findings {
		out = append(out, InjectionFinding{
			PatternID: f.PatternID,
			Severity:  string(f.Severity),
			Path:      f.Path,
		})
	}
	return out
}
