package siem

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/apathy-ca/sark/internal/domain/audit"
)

// SplunkConfig configures the Splunk HTTP Event Collector forwarder.
type SplunkConfig struct {
	// URL is the HEC endpoint, e.g. "https://splunk.example.com:8088/services/collector/event".
	URL string
	// Token is the HEC token sent as "Authorization: Splunk <token>".
	Token string
	// Index and SourceType are optional HEC metadata fields.
	Index      string
	SourceType string
	// InsecureSkipVerify disables TLS certificate verification. Must stay
	// false in production; only useful against self-signed test instances.
	InsecureSkipVerify bool
	// BatchSize caps events per HEC POST (default 100).
	BatchSize int
	// FlushInterval bounds how long a partial batch waits before sending
	// (default 10s).
	FlushInterval time.Duration
}

type splunkEvent struct {
	Time       float64           `json:"time"`
	SourceType string            `json:"sourcetype,omitempty"`
	Index      string            `json:"index,omitempty"`
	Event      audit.AuditRecord `json:"event"`
}

// SplunkForwarder posts batches of audit records to a Splunk HEC endpoint.
type SplunkForwarder struct {
	*bufferedForwarder
	cfg     SplunkConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewSplunkForwarder constructs a SplunkForwarder. Call Start to begin its
// background batching worker.
func NewSplunkForwarder(cfg SplunkConfig, logger *slog.Logger) *SplunkForwarder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	f := &SplunkForwarder{
		cfg: cfg,
		client: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}, //nolint:gosec
			},
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "siem-splunk",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
	f.bufferedForwarder = newBufferedForwarder("splunk-hec", f.sendBatch, cfg.BatchSize, cfg.FlushInterval, logger)
	return f
}

var _ Forwarder = (*SplunkForwarder)(nil)

func (f *SplunkForwarder) sendBatch(ctx context.Context, batch []audit.AuditRecord) error {
	_, err := f.breaker.Execute(func() (interface{}, error) {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		for _, rec := range batch {
			ev := splunkEvent{
				Time:       float64(rec.Timestamp.UnixNano()) / 1e9,
				SourceType: f.cfg.SourceType,
				Index:      f.cfg.Index,
				Event:      rec,
			}
			if err := enc.Encode(ev); err != nil {
				return nil, fmt.Errorf("encode splunk event: %w", err)
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.URL, &buf)
		if err != nil {
			return nil, fmt.Errorf("build splunk request: %w", err)
		}
		req.Header.Set("Authorization", "Splunk "+f.cfg.Token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("splunk hec request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("splunk hec returned status %d", resp.StatusCode)
		}
		return nil, nil
	})
	return err
}
