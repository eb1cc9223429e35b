package siem

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/apathy-ca/sark/internal/domain/audit"
)

// DatadogConfig configures the Datadog Logs API forwarder.
type DatadogConfig struct {
	// APIKey is sent as the "DD-API-KEY" header.
	APIKey string
	// Site is the Datadog site domain, e.g. "datadoghq.com" or
	// "datadoghq.eu". Defaults to "datadoghq.com".
	Site string
	// Service and Tags are attached to every forwarded log.
	Service string
	Tags    string
	// BatchSize caps events per API call; Datadog enforces a hard ceiling
	// of 1000 per request, and exceeding it is a local bug, not a retry.
	BatchSize int
	// FlushInterval bounds how long a partial batch waits before sending
	// (default 10s).
	FlushInterval time.Duration
}

const datadogMaxBatch = 1000

type datadogLog struct {
	Message  audit.AuditRecord `json:"message"`
	Service  string            `json:"service,omitempty"`
	DDSource string            `json:"ddsource"`
	DDTags   string            `json:"ddtags,omitempty"`
}

// DatadogForwarder posts batches of audit records to the Datadog Logs
// intake API.
type DatadogForwarder struct {
	*bufferedForwarder
	cfg     DatadogConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewDatadogForwarder constructs a DatadogForwarder. Call Start to begin
// its background batching worker.
func NewDatadogForwarder(cfg DatadogConfig, logger *slog.Logger) *DatadogForwarder {
	if cfg.Site == "" {
		cfg.Site = "datadoghq.com"
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > datadogMaxBatch {
		cfg.BatchSize = datadogMaxBatch
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	f := &DatadogForwarder{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "siem-datadog",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
	f.bufferedForwarder = newBufferedForwarder("datadog-logs", f.sendBatch, cfg.BatchSize, cfg.FlushInterval, logger)
	return f
}

var _ Forwarder = (*DatadogForwarder)(nil)

func (f *DatadogForwarder) endpoint() string {
	return fmt.Sprintf("https://http-intake.logs.%s/api/v2/logs", f.cfg.Site)
}

func (f *DatadogForwarder) sendBatch(ctx context.Context, batch []audit.AuditRecord) error {
	_, err := f.breaker.Execute(func() (interface{}, error) {
		logs := make([]datadogLog, 0, len(batch))
		for _, rec := range batch {
			logs = append(logs, datadogLog{
				Message:  rec,
				Service:  f.cfg.Service,
				DDSource: "sark",
				DDTags:   f.cfg.Tags,
			})
		}

		body, err := json.Marshal(logs)
		if err != nil {
			return nil, fmt.Errorf("encode datadog logs: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint(), bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build datadog request: %w", err)
		}
		req.Header.Set("DD-API-KEY", f.cfg.APIKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("datadog logs request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("datadog logs api returned status %d", resp.StatusCode)
		}
		return nil, nil
	})
	return err
}
