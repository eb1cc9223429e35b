package alerting

import "github.com/apathy-ca/sark/internal/domain/behavior"

// DetermineLevel buckets anomalies by severity and returns the alert level
// per spec.md §4.5's routing table. None of the current detection rules
// emit behavior.SeverityCritical directly, but the check is kept so a
// future rule (or a manually-injected critical finding) routes correctly
// without touching this function.
func DetermineLevel(cfg Config, anomalies []behavior.Anomaly) Level {
	var criticalCount, highCount, mediumCount int
	for _, a := range anomalies {
		switch a.Severity {
		case behavior.SeverityCritical:
			criticalCount++
		case behavior.SeverityHigh:
			highCount++
		case behavior.SeverityMedium:
			mediumCount++
		}
	}

	switch {
	case criticalCount >= 1 || highCount >= cfg.CriticalHighCount:
		return LevelCritical
	case highCount >= cfg.WarningHighCount || mediumCount >= cfg.WarningMediumCount:
		return LevelWarning
	default:
		return LevelNone
	}
}
