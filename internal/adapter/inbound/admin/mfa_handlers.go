package admin

import (
	"net/http"

	"github.com/apathy-ca/sark/internal/domain/mfa"
	"github.com/apathy-ca/sark/internal/domain/session"
)

// WithMFAManager sets the MFA challenge manager used to verify submitted
// codes.
func WithMFAManager(m *mfa.ChallengeManager) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.mfaManager = m }
}

// SetMFAManager sets the MFA challenge manager after construction. This is
// needed because the manager is built after the AdminAPIHandler (BOOT-07
// constructs the interceptor chain, and the manager with it, after the
// admin handler).
func (h *AdminAPIHandler) SetMFAManager(m *mfa.ChallengeManager) {
	h.mfaManager = m
}

// WithSessionService sets the session service used to mark a session
// MFA-verified once its challenge is approved.
func WithSessionService(s *session.SessionService) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.sessionService = s }
}

// verifyMFARequest is the JSON request body for submitting an MFA code.
type verifyMFARequest struct {
	PrincipalID string `json:"principal_id"`
	ChallengeID string `json:"challenge_id"`
	Code        string `json:"code"`
	SessionID   string `json:"session_id"`
}

// handleVerifyMFA verifies a submitted MFA challenge code and, on success,
// marks the caller's session as MFA-verified so action.MFAGateInterceptor
// stops re-challenging it for the rest of the session.
// POST /admin/api/v1/mfa/verify
func (h *AdminAPIHandler) handleVerifyMFA(w http.ResponseWriter, r *http.Request) {
	if h.mfaManager == nil {
		h.respondError(w, http.StatusNotFound, "mfa is not configured")
		return
	}

	var req verifyMFARequest
	if err := h.readJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.PrincipalID == "" || req.ChallengeID == "" || req.Code == "" {
		h.respondError(w, http.StatusBadRequest, "principal_id, challenge_id, and code are required")
		return
	}

	ok, err := h.mfaManager.Verify(r.Context(), req.PrincipalID, req.ChallengeID, req.Code)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !ok {
		h.respondJSON(w, http.StatusOK, map[string]interface{}{"verified": false})
		return
	}

	if req.SessionID != "" && h.sessionService != nil {
		if err := h.sessionService.MarkMFAVerified(r.Context(), req.SessionID); err != nil {
			h.logger.Warn("failed to mark session mfa-verified", "session_id", req.SessionID, "error", err)
		}
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{"verified": true})
}
