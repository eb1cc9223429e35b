package action

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/apathy-ca/sark/internal/domain/mfa"
	"github.com/apathy-ca/sark/internal/domain/policy"
)

// MFARequiredError signals that the policy decision for this action
// requires a satisfied MFA challenge before it may proceed. ChallengeID
// identifies the challenge just created so the caller can present it to
// the principal (e.g. as an HTTP 403 body field).
type MFARequiredError struct {
	ChallengeID string
}

func (e *MFARequiredError) Error() string {
	return fmt.Sprintf("mfa challenge required: %s", e.ChallengeID)
}

// MFAGateInterceptor blocks actions whose policy decision set MFARequired
// until the principal's session carries a verified MFA challenge. The
// first time a given action requires it, a new challenge is created and
// the action is denied with an MFARequiredError instead of proceeding.
type MFAGateInterceptor struct {
	manager *mfa.ChallengeManager
	next    ActionInterceptor
	logger  *slog.Logger
}

// Compile-time check that MFAGateInterceptor implements ActionInterceptor.
var _ ActionInterceptor = (*MFAGateInterceptor)(nil)

// NewMFAGateInterceptor creates an MFAGateInterceptor.
func NewMFAGateInterceptor(manager *mfa.ChallengeManager, next ActionInterceptor, logger *slog.Logger) *MFAGateInterceptor {
	return &MFAGateInterceptor{manager: manager, next: next, logger: logger}
}

// Intercept checks the upstream policy decision for MFARequired. Actions
// that don't require MFA, or whose identity is already MFA-verified, pass
// straight through.
func (m *MFAGateInterceptor) Intercept(ctx context.Context, a *CanonicalAction) (*CanonicalAction, error) {
	decision := policy.DecisionFromContext(ctx)
	if decision == nil || !decision.MFARequired || a.Identity.MFAVerified {
		return m.next.Intercept(ctx, a)
	}

	method := mfa.MethodTOTP
	if len(a.Identity.MFAMethods) > 0 {
		method = mfa.Method(a.Identity.MFAMethods[0])
	}

	challenge, err := m.manager.Create(ctx, a.Identity.ID, a.Name, method)
	if err != nil {
		m.logger.Error("failed to create mfa challenge",
			"error", err, "identity", a.Identity.ID, "action", a.Name)
		return nil, fmt.Errorf("mfa challenge creation failed: %w", err)
	}

	m.logger.Info("mfa challenge required",
		"identity", a.Identity.ID, "action", a.Name,
		"challenge_id", challenge.ID, "method", method)

	return nil, &MFARequiredError{ChallengeID: challenge.ID}
}
