package mfa

import (
	"context"
	"crypto/subtle"
	"errors"
	"sync"
	"time"
)

// ErrChallengeNotFound is returned when verify() targets an unknown or
// already-expired challenge id.
var ErrChallengeNotFound = errors.New("mfa challenge not found")

// ErrPrincipalMismatch is returned when the principal presenting a code
// does not match the challenge's principal.
var ErrPrincipalMismatch = errors.New("mfa challenge principal mismatch")

// AuditFunc receives a transition event emitted by the challenge manager.
// Implementations should never block; the manager does not retry or
// propagate audit errors (fail-open for observability per spec.md §7).
type AuditFunc func(ctx context.Context, c Challenge, result string)

// SecretStore resolves a principal's TOTP secret.
type SecretStore interface {
	TOTPSecret(ctx context.Context, principalID string) (string, bool)
}

// ChannelSender delivers an SMS/email/push challenge to its out-of-band
// channel. Delivery failures are logged by the caller but never transition
// challenge state.
type ChannelSender interface {
	SendSMS(ctx context.Context, principalID, code string) error
	SendEmail(ctx context.Context, principalID, code string) error
	SendPush(ctx context.Context, principalID, action, challengeID string) error
}

// ChallengeManager owns the challenge store and runs the create/verify
// lifecycle described in spec.md §4.7.
type ChallengeManager struct {
	mu         sync.Mutex
	challenges map[string]*Challenge

	config  Config
	secrets SecretStore
	sender  ChannelSender
	audit   AuditFunc
	now     func() time.Time
}

// NewChallengeManager constructs a ChallengeManager. sender and audit may
// be nil (TOTP-only deployments with no audit hook).
func NewChallengeManager(config Config, secrets SecretStore, sender ChannelSender, audit AuditFunc) *ChallengeManager {
	if config.TimeoutSeconds == 0 {
		config = DefaultConfig()
	}
	return &ChallengeManager{
		challenges: make(map[string]*Challenge),
		config:     config,
		secrets:    secrets,
		sender:     sender,
		audit:      audit,
		now:        time.Now,
	}
}

// Create issues a new challenge for principalID/action over method. For
// SMS/email it generates and (if a sender is configured) delivers a code;
// for push it notifies the approval channel; for TOTP no delivery happens.
func (m *ChallengeManager) Create(ctx context.Context, principalID, action string, method Method) (*Challenge, error) {
	now := m.now()

	var code string
	if method == MethodSMS || method == MethodEmail {
		generated, err := generateNumericCode(m.codeLength())
		if err != nil {
			return nil, err
		}
		code = generated
	}

	c := &Challenge{
		ID:          NewChallengeID(),
		PrincipalID: principalID,
		Method:      method,
		Action:      action,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Duration(m.config.TimeoutSeconds) * time.Second),
		Status:      StatusPending,
		Code:        code,
		MaxAttempts: m.maxAttempts(),
	}

	m.mu.Lock()
	m.challenges[c.ID] = c
	m.mu.Unlock()

	m.deliver(ctx, c)
	m.emit(ctx, *c, "created")

	return c, nil
}

func (m *ChallengeManager) deliver(ctx context.Context, c *Challenge) {
	if m.sender == nil {
		return
	}
	switch c.Method {
	case MethodSMS:
		_ = m.sender.SendSMS(ctx, c.PrincipalID, c.Code)
	case MethodEmail:
		_ = m.sender.SendEmail(ctx, c.PrincipalID, c.Code)
	case MethodPush:
		_ = m.sender.SendPush(ctx, c.PrincipalID, c.Action, c.ID)
	}
}

// ApprovePush transitions a pending push challenge to Approved, called by
// the out-of-band approval callback. No-op (returns false) on any other
// challenge state or method.
func (m *ChallengeManager) ApprovePush(ctx context.Context, challengeID string) bool {
	m.mu.Lock()
	c, ok := m.challenges[challengeID]
	if !ok || c.Method != MethodPush || c.Status != StatusPending || c.IsExpired(m.now()) {
		m.mu.Unlock()
		return false
	}
	c.Status = StatusApproved
	snapshot := *c
	m.mu.Unlock()

	m.emit(ctx, snapshot, "approved")
	return true
}

// Verify implements spec.md §4.7's verify() algorithm: fetch, expiry check,
// attempt increment, method-specific check, terminal transition.
func (m *ChallengeManager) Verify(ctx context.Context, principalID, challengeID, code string) (bool, error) {
	m.mu.Lock()
	c, ok := m.challenges[challengeID]
	if !ok {
		m.mu.Unlock()
		return false, ErrChallengeNotFound
	}
	if c.PrincipalID != principalID {
		m.mu.Unlock()
		return false, ErrPrincipalMismatch
	}
	if c.Status.terminal() {
		// No transition leaves a terminal state: re-verification reports
		// the existing outcome without incrementing attempts.
		approved := c.Status == StatusApproved
		snapshot := *c
		m.mu.Unlock()
		result := "failure"
		if approved {
			result = "success"
		}
		m.emit(ctx, snapshot, result)
		return approved, nil
	}

	now := m.now()
	if c.IsExpired(now) {
		c.Status = StatusExpired
		snapshot := *c
		m.mu.Unlock()
		m.emit(ctx, snapshot, "failure")
		return false, nil
	}

	c.Attempts++
	if c.Attempts > c.MaxAttempts {
		c.Status = StatusDenied
		snapshot := *c
		m.mu.Unlock()
		m.emit(ctx, snapshot, "failure")
		return false, nil
	}

	valid, err := m.checkCode(ctx, c, code)
	if err != nil {
		m.mu.Unlock()
		return false, err
	}

	switch {
	case valid:
		c.Status = StatusApproved
	case c.Attempts >= c.MaxAttempts:
		c.Status = StatusDenied
	default:
		c.Status = StatusPending
	}
	snapshot := *c
	m.mu.Unlock()

	result := "failure"
	if valid {
		result = "success"
	}
	m.emit(ctx, snapshot, result)

	return valid, nil
}

func (m *ChallengeManager) checkCode(ctx context.Context, c *Challenge, code string) (bool, error) {
	switch c.Method {
	case MethodTOTP:
		if m.secrets == nil {
			return false, nil
		}
		secret, found := m.secrets.TOTPSecret(ctx, c.PrincipalID)
		if !found {
			return false, nil
		}
		return VerifyTOTP(secret, code, m.now().Unix(), m.config.TOTPWindow)
	case MethodSMS, MethodEmail:
		return subtle.ConstantTimeCompare([]byte(code), []byte(c.Code)) == 1, nil
	case MethodPush:
		return c.Status == StatusApproved, nil
	default:
		return false, nil
	}
}

func (m *ChallengeManager) emit(ctx context.Context, c Challenge, result string) {
	if m.audit == nil {
		return
	}
	m.audit(ctx, c, result)
}

func (m *ChallengeManager) codeLength() int {
	if m.config.CodeLength == 0 {
		return DefaultConfig().CodeLength
	}
	return m.config.CodeLength
}

func (m *ChallengeManager) maxAttempts() int {
	if m.config.MaxAttempts == 0 {
		return DefaultConfig().MaxAttempts
	}
	return m.config.MaxAttempts
}
