package policy

import (
	"context"
	"log/slog"
)

// EngineEvaluator adapts an existing PolicyEngine (e.g. a CEL-based
// in-process rule engine) to the Evaluator port, letting it stand in as the
// "external" evaluator when no remote decision service is configured.
type EngineEvaluator struct {
	engine PolicyEngine
}

// NewEngineEvaluator wraps engine as an Evaluator.
func NewEngineEvaluator(engine PolicyEngine) *EngineEvaluator {
	return &EngineEvaluator{engine: engine}
}

// Evaluate reconstructs an EvaluationContext from input and delegates to the
// wrapped engine, translating its Decision into an EvaluatorOutput.
func (e *EngineEvaluator) Evaluate(ctx context.Context, input EvaluatorInput) (EvaluatorOutput, error) {
	evalCtx := EvaluationContext{
		ToolName:       input.ToolName,
		ToolArguments:  input.ToolArguments,
		UserRoles:      input.UserRoles,
		IdentityID:     input.IdentityID,
		ActionType:     input.ActionType,
		ActionName:     input.Path,
		DestDomain:     input.DestDomain,
		DestIP:         input.DestIP,
		DestPort:       input.DestPort,
		Framework:      input.Framework,
		FrameworkAttrs: input.FrameworkAttrs,
	}

	decision, err := e.engine.Evaluate(ctx, evalCtx)
	if err != nil {
		return EvaluatorOutput{}, err
	}

	violations := []string(nil)
	if !decision.Allowed && decision.Reason != "" {
		violations = []string{decision.Reason}
	}

	return EvaluatorOutput{
		Allow:             decision.Allowed,
		Reason:            decision.Reason,
		PoliciesEvaluated: policiesEvaluated(decision),
		Violations:        violations,
		MFARequired:       decision.MFARequired,
	}, nil
}

func policiesEvaluated(d Decision) []string {
	if d.RuleID == "" {
		return nil
	}
	return []string{d.RuleID}
}

var _ Evaluator = (*EngineEvaluator)(nil)

// CacheAuditFunc is invoked once per decision with whether it was served
// from cache, so callers can emit the cache_hit audit field the decision
// cache requires.
type CacheAuditFunc func(ctx context.Context, evalCtx EvaluationContext, decision Decision, cacheHit bool)

// DelegatingPolicyEngine implements PolicyEngine by delegating every
// decision to an external evaluator via a narrow interface, never failing
// open: evaluator errors resolve to a deny decision with reason
// "policy engine error" rather than propagating.
type DelegatingPolicyEngine struct {
	evaluator *CachingEvaluator
	audit     CacheAuditFunc
	logger    *slog.Logger
}

// NewDelegatingPolicyEngine creates a DelegatingPolicyEngine backed by a
// caching evaluator. audit may be nil.
func NewDelegatingPolicyEngine(evaluator *CachingEvaluator, audit CacheAuditFunc, logger *slog.Logger) *DelegatingPolicyEngine {
	return &DelegatingPolicyEngine{evaluator: evaluator, audit: audit, logger: logger}
}

// Evaluate builds the authorization input, delegates to the external
// evaluator (transparently cached), and maps the result back to a Decision.
func (d *DelegatingPolicyEngine) Evaluate(ctx context.Context, evalCtx EvaluationContext) (Decision, error) {
	input := BuildEvaluatorInput(evalCtx)

	out, cacheHit, err := d.evaluator.EvaluateWithCacheInfo(ctx, input)
	if err != nil {
		d.logger.Error("external policy evaluator failed", "error", err, "tool_name", evalCtx.ToolName)
	}

	decision := Decision{
		Allowed:     out.Allow,
		Reason:      out.Reason,
		MFARequired: out.MFARequired,
	}
	if len(out.PoliciesEvaluated) > 0 {
		decision.RuleID = out.PoliciesEvaluated[0]
	}

	if d.audit != nil {
		d.audit(ctx, evalCtx, decision, cacheHit)
	}

	return decision, nil
}

var _ PolicyEngine = (*DelegatingPolicyEngine)(nil)
