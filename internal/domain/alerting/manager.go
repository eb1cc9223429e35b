package alerting

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/apathy-ca/sark/internal/domain/behavior"
)

// Manager routes anomaly batches to configured channels and optionally
// triggers auto-suspend on critical alerts.
type Manager struct {
	config     Config
	slack      SlackSender
	pagerduty  PagerDutySender
	email      EmailSender
	suspend    SuspendFunc
	logger     *slog.Logger
}

// NewManager constructs a Manager. Any sender or suspend may be nil; a nil
// sender for an enabled channel is simply skipped.
func NewManager(config Config, slack SlackSender, pagerduty PagerDutySender, email EmailSender, suspend SuspendFunc, logger *slog.Logger) *Manager {
	return &Manager{config: config, slack: slack, pagerduty: pagerduty, email: email, suspend: suspend, logger: logger}
}

// ProcessAnomalies routes anomalies to the channels appropriate for the
// resulting alert level. All channel and suspend errors are caught and
// logged; this method never returns an error.
func (m *Manager) ProcessAnomalies(ctx context.Context, principalID string, anomalies []behavior.Anomaly) Level {
	if len(anomalies) == 0 {
		return LevelNone
	}

	level := DetermineLevel(m.config, anomalies)
	summary := buildSummary(principalID, anomalies)

	switch level {
	case LevelCritical:
		m.dispatchCritical(ctx, principalID, summary, anomalies)
	case LevelWarning:
		m.dispatchWarning(ctx, summary, anomalies)
	}

	return level
}

func (m *Manager) dispatchCritical(ctx context.Context, principalID, summary string, anomalies []behavior.Anomaly) {
	if m.config.PagerDutyEnabled && m.pagerduty != nil {
		if err := m.pagerduty.Trigger(ctx, summary, anomalies); err != nil {
			m.logger.Error("pagerduty alert failed", "error", err, "principal_id", principalID)
		}
	}
	if m.config.SlackEnabled && m.slack != nil {
		if err := m.slack.Send(ctx, summary, anomalies); err != nil {
			m.logger.Error("slack alert failed", "error", err, "principal_id", principalID)
		}
	}
	if m.config.AutoSuspendEnabled && m.config.AutoSuspendOnCritical && m.suspend != nil {
		if err := m.suspend(ctx, principalID, summary); err != nil {
			m.logger.Error("auto-suspend failed", "error", err, "principal_id", principalID)
		} else {
			m.logger.Warn("principal auto-suspended on critical anomaly alert", "principal_id", principalID)
		}
	}
}

func (m *Manager) dispatchWarning(ctx context.Context, summary string, anomalies []behavior.Anomaly) {
	if m.config.SlackEnabled && m.slack != nil {
		if err := m.slack.Send(ctx, summary, anomalies); err != nil {
			m.logger.Error("slack alert failed", "error", err)
		}
	}
	if m.config.EmailEnabled && m.email != nil {
		if err := m.email.Send(ctx, summary, anomalies); err != nil {
			m.logger.Error("email alert failed", "error", err)
		}
	}
}

func buildSummary(principalID string, anomalies []behavior.Anomaly) string {
	return fmt.Sprintf("%d anomal(y/ies) detected for principal %s", len(anomalies), principalID)
}
