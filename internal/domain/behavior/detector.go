package behavior

import (
	"fmt"
	"time"
)

const rapidRequestThreshold = 10
const rapidRequestWindow = 60 * time.Second
const excessiveDataMultiplier = 3.0

// DetectAnomalies evaluates event against baseline, and recent (events for
// the same principal within the last 60s, used for the rapid_requests
// check) to produce the set of triggered anomalies.
func DetectAnomalies(baseline BehavioralBaseline, event AuditEvent, recent []AuditEvent) []Anomaly {
	var anomalies []Anomaly

	if len(baseline.CommonCapabilities) > 0 && !baseline.CommonCapabilities[event.Capability] {
		anomalies = append(anomalies, Anomaly{
			Kind: AnomalyUnusualTool, Severity: SeverityLow, Confidence: 0.7,
			PrincipalID: event.PrincipalID,
			Detail:      fmt.Sprintf("capability %q not in common set", event.Capability),
		})
	}

	if len(baseline.TypicalHours) > 0 && !baseline.TypicalHours[event.Timestamp.Hour()] {
		anomalies = append(anomalies, Anomaly{
			Kind: AnomalyUnusualTime, Severity: SeverityMedium, Confidence: 0.8,
			PrincipalID: event.PrincipalID,
			Detail:      fmt.Sprintf("hour %d outside typical hours", event.Timestamp.Hour()),
		})
	}

	if len(baseline.TypicalDays) > 0 && !baseline.TypicalDays[event.Timestamp.Weekday()] {
		anomalies = append(anomalies, Anomaly{
			Kind: AnomalyUnusualDay, Severity: SeverityLow, Confidence: 0.6,
			PrincipalID: event.PrincipalID,
			Detail:      fmt.Sprintf("weekday %s outside typical days", event.Timestamp.Weekday()),
		})
	}

	if baseline.MaxRecordsPerQuery > 0 && float64(event.ResultSize) > excessiveDataMultiplier*float64(baseline.MaxRecordsPerQuery) {
		anomalies = append(anomalies, Anomaly{
			Kind: AnomalyExcessiveData, Severity: SeverityHigh, Confidence: 0.9,
			PrincipalID: event.PrincipalID,
			Detail:      fmt.Sprintf("result_size %d exceeds 3x max_records_per_query %d", event.ResultSize, baseline.MaxRecordsPerQuery),
		})
	}

	if parseSensitivity(event.Sensitivity) > baseline.MaxSensitivityLevel {
		anomalies = append(anomalies, Anomaly{
			Kind: AnomalySensitivityEscalation, Severity: SeverityHigh, Confidence: 0.95,
			PrincipalID: event.PrincipalID,
			Detail:      fmt.Sprintf("sensitivity %q exceeds baseline max", event.Sensitivity),
		})
	}

	if countWithin(recent, event.Timestamp, rapidRequestWindow) >= rapidRequestThreshold {
		anomalies = append(anomalies, Anomaly{
			Kind: AnomalyRapidRequests, Severity: SeverityMedium, Confidence: 0.85,
			PrincipalID: event.PrincipalID,
			Detail:      "10 or more requests within the last 60 seconds",
		})
	}

	if len(baseline.TypicalLocations) > 0 && event.Location != "" && !baseline.TypicalLocations[event.Location] {
		anomalies = append(anomalies, Anomaly{
			Kind: AnomalyGeographic, Severity: SeverityMedium, Confidence: 0.75,
			PrincipalID: event.PrincipalID,
			Detail:      fmt.Sprintf("location %q not in typical locations", event.Location),
		})
	}

	return anomalies
}

// countWithin counts events (typically including the current one) whose
// timestamp falls within window before ts, inclusive.
func countWithin(events []AuditEvent, ts time.Time, window time.Duration) int {
	cutoff := ts.Add(-window)
	count := 0
	for _, e := range events {
		if !e.Timestamp.Before(cutoff) && !e.Timestamp.After(ts) {
			count++
		}
	}
	return count
}
