// Package service contains application services.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/apathy-ca/sark/internal/domain/alerting"
	"github.com/apathy-ca/sark/internal/domain/audit"
	"github.com/apathy-ca/sark/internal/domain/behavior"
	"github.com/apathy-ca/sark/internal/domain/proxy"
)

// maxPrincipalHistory bounds per-principal event history kept in memory for
// baseline construction; oldest events are dropped once exceeded.
const maxPrincipalHistory = 2000

// recentWindowSize is how many of a principal's most recent events are
// passed to DetectAnomalies as the "recent" window for rapid-request checks.
const recentWindowSize = 50

// defaultLookbackDays matches behavior.BuildBaseline's intended lookback
// window when no override is configured.
const defaultLookbackDays = 30

// BehaviorMonitorService accumulates per-principal event history from the
// audit trail and runs the behavioral anomaly pipeline outside the
// request's critical path: Record appends and returns immediately, and
// baseline construction plus detection happen in a background goroutine.
type BehaviorMonitorService struct {
	mu      sync.Mutex
	history map[string][]behavior.AuditEvent

	lookback time.Duration
	manager  *alerting.Manager
	logger   *slog.Logger
}

// NewBehaviorMonitorService creates a BehaviorMonitorService that routes
// alert dispatch through manager, using the default 30-day baseline
// lookback window.
func NewBehaviorMonitorService(manager *alerting.Manager, logger *slog.Logger) *BehaviorMonitorService {
	return NewBehaviorMonitorServiceWithLookback(defaultLookbackDays*24*time.Hour, manager, logger)
}

// NewBehaviorMonitorServiceWithLookback is like NewBehaviorMonitorService but
// lets callers override how far back event history feeds baseline
// construction. Events older than lookback are still retained up to
// maxPrincipalHistory but excluded from BuildBaseline.
func NewBehaviorMonitorServiceWithLookback(lookback time.Duration, manager *alerting.Manager, logger *slog.Logger) *BehaviorMonitorService {
	if lookback <= 0 {
		lookback = defaultLookbackDays * 24 * time.Hour
	}
	return &BehaviorMonitorService{
		history:  make(map[string][]behavior.AuditEvent),
		lookback: lookback,
		manager:  manager,
		logger:   logger,
	}
}

// Record converts an audit record into a behavioral event, appends it to
// the principal's history, and kicks off an async anomaly check. It
// satisfies the same Record(audit.AuditRecord) shape as proxy.AuditRecorder
// so it can be fanned out to alongside the primary audit recorder.
func (s *BehaviorMonitorService) Record(record audit.AuditRecord) {
	if record.IdentityID == "" {
		return
	}

	event := behavior.AuditEvent{
		PrincipalID: record.IdentityID,
		Capability:  record.ToolName,
		Timestamp:   record.Timestamp,
	}

	principalID := record.IdentityID
	s.mu.Lock()
	events := append(s.history[principalID], event)
	if len(events) > maxPrincipalHistory {
		events = events[len(events)-maxPrincipalHistory:]
	}
	s.history[principalID] = events
	s.mu.Unlock()

	go s.evaluate(principalID)
}

// evaluate builds a baseline from all history but the latest event, runs
// the 7-signal detector against the latest event, and routes any
// anomalies to the alert manager. Called from a background goroutine;
// never blocks a request.
func (s *BehaviorMonitorService) evaluate(principalID string) {
	s.mu.Lock()
	events := append([]behavior.AuditEvent(nil), s.history[principalID]...)
	s.mu.Unlock()

	if len(events) < 2 {
		return
	}

	latest := events[len(events)-1]
	history := events[:len(events)-1]

	cutoff := time.Now().Add(-s.lookback)
	windowed := history[:0:0]
	for _, e := range history {
		if e.Timestamp.After(cutoff) {
			windowed = append(windowed, e)
		}
	}

	baseline := behavior.BuildBaseline(principalID, windowed)

	recent := events
	if len(recent) > recentWindowSize {
		recent = recent[len(recent)-recentWindowSize:]
	}

	anomalies := behavior.DetectAnomalies(baseline, latest, recent)
	if len(anomalies) == 0 {
		return
	}

	level := s.manager.ProcessAnomalies(context.Background(), principalID, anomalies)
	s.logger.Info("behavioral anomaly detected",
		"principal_id", principalID,
		"count", len(anomalies),
		"alert_level", level,
	)
}

// FanoutAuditRecorder forwards every audit record to each of its
// recorders in order, letting the behavioral monitor observe the same
// stream the audit sink persists without the audit sink needing to know
// about it.
type FanoutAuditRecorder struct {
	recorders []proxy.AuditRecorder
}

// NewFanoutAuditRecorder creates a FanoutAuditRecorder over the given sinks.
func NewFanoutAuditRecorder(sinks ...proxy.AuditRecorder) *FanoutAuditRecorder {
	return &FanoutAuditRecorder{recorders: sinks}
}

// Record forwards record to every registered sink.
func (f *FanoutAuditRecorder) Record(record audit.AuditRecord) {
	for _, sink := range f.recorders {
		sink.Record(record)
	}
}

var _ proxy.AuditRecorder = (*BehaviorMonitorService)(nil)
var _ proxy.AuditRecorder = (*FanoutAuditRecorder)(nil)
