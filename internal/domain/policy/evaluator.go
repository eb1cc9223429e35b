package policy

import "context"

// EvaluatorInput is the canonicalized shape passed to an external policy
// evaluator, distinct from EvaluationContext in that it excludes fields
// that would otherwise defeat cache-key stability (timestamp, request id).
type EvaluatorInput struct {
	Path           string
	ToolName       string
	ToolArguments  map[string]interface{}
	UserRoles      []string
	IdentityID     string
	ActionType     string
	DestDomain     string
	DestIP         string
	DestPort       int
	Framework      string
	FrameworkAttrs map[string]string
}

// EvaluatorOutput is the result contract any external evaluator must
// honor: allow/deny, an explanation, and optional modified parameters or
// per-policy detail for audit.
type EvaluatorOutput struct {
	Allow              bool
	Reason             string
	FilteredParameters map[string]interface{}
	Violations         []string
	PoliciesEvaluated  []string
	// TTLSeconds overrides the cache's default entry lifetime when > 0.
	TTLSeconds int
	// MFARequired indicates the action may not proceed until the principal
	// has a satisfied MFA challenge.
	MFARequired bool
}

// Evaluator is the black-box policy evaluation port. Any concrete engine
// (CEL, OPA, a remote service) implements this to be used by Engine.
type Evaluator interface {
	Evaluate(ctx context.Context, input EvaluatorInput) (EvaluatorOutput, error)
}

// BuildEvaluatorInput derives a cache-stable EvaluatorInput from an
// EvaluationContext, dropping RequestTime and any other per-request field.
func BuildEvaluatorInput(evalCtx EvaluationContext) EvaluatorInput {
	return EvaluatorInput{
		Path:          evalCtx.ActionName,
		ToolName:      evalCtx.ToolName,
		ToolArguments: evalCtx.ToolArguments,
		UserRoles:     evalCtx.UserRoles,
		IdentityID:    evalCtx.IdentityID,
		ActionType:    evalCtx.ActionType,
		DestDomain:    evalCtx.DestDomain,
		DestIP:        evalCtx.DestIP,
		DestPort:      evalCtx.DestPort,
		Framework:     evalCtx.Framework,
	}
}
