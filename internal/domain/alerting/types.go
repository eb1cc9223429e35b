// Package alerting routes batches of behavioral anomalies to notification
// channels based on their severity mix, with an optional auto-suspend hook
// for critical alerts. All channel and suspend failures are caught and
// logged; none propagate to the caller (fail-open, per spec.md §4.5).
package alerting

import (
	"context"

	"github.com/apathy-ca/sark/internal/domain/behavior"
)

// Level is the alert severity bucket assigned to a batch of anomalies.
type Level string

const (
	LevelCritical Level = "critical"
	LevelWarning  Level = "warning"
	LevelNone     Level = "none"
)

// Config mirrors the thresholds and channel toggles spec.md §4.5 names.
type Config struct {
	CriticalHighCount    int  // default 2
	WarningHighCount     int  // default 1
	WarningMediumCount   int  // default 3
	AutoSuspendEnabled   bool // default false
	AutoSuspendOnCritical bool // default true
	PagerDutyEnabled     bool // default false
	SlackEnabled         bool // default true
	EmailEnabled         bool // default true
}

// DefaultConfig matches the original alert-manager defaults.
func DefaultConfig() Config {
	return Config{
		CriticalHighCount:     2,
		WarningHighCount:      1,
		WarningMediumCount:    3,
		AutoSuspendEnabled:    false,
		AutoSuspendOnCritical: true,
		PagerDutyEnabled:      false,
		SlackEnabled:          true,
		EmailEnabled:          true,
	}
}

// SlackSender delivers a formatted alert to a Slack channel.
type SlackSender interface {
	Send(ctx context.Context, summary string, anomalies []behavior.Anomaly) error
}

// PagerDutySender triggers a PagerDuty incident.
type PagerDutySender interface {
	Trigger(ctx context.Context, summary string, anomalies []behavior.Anomaly) error
}

// EmailSender delivers a plain-text alert email.
type EmailSender interface {
	Send(ctx context.Context, summary string, anomalies []behavior.Anomaly) error
}

// SuspendFunc suspends a principal's access. Implementations are provided
// by the identity/session layer; alerting never suspends directly.
type SuspendFunc func(ctx context.Context, principalID, reason string) error
