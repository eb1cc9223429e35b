package action

import (
	"time"

	"github.com/apathy-ca/sark/internal/domain/injection"
	"github.com/apathy-ca/sark/internal/domain/secretscan"
)

// ScanMode controls how the response scanner handles detections.
type ScanMode string

const (
	// ScanModeMonitor logs detections without blocking responses.
	ScanModeMonitor ScanMode = "monitor"
	// ScanModeEnforce blocks responses containing prompt injection or leaked secrets.
	ScanModeEnforce ScanMode = "enforce"
)

// ScanFinding represents a single detection made while scanning a tool
// response, normalized from whichever domain detector produced it
// (injection.Finding or secretscan.SecretFinding) into one shape the
// httpgw/websocket/reverse-proxy call sites can log and act on uniformly.
type ScanFinding struct {
	// PatternName is the detector's identifier for what matched
	// (an injection.Finding.PatternID, "high_entropy", or a
	// secretscan.SecretFinding.Kind such as "aws_access_key").
	PatternName string
	// PatternCategory is "prompt_injection" or "secret_leak".
	PatternCategory string
	// MatchedText is the matched fragment, already truncated for display
	// by the underlying detector.
	MatchedText string
	// Position is the dotted field path the match was found under, or -1
	// for plain-string content where no path applies.
	Position int
}

// ScanResult contains the outcome of scanning a tool response for prompt
// injection and leaked secrets.
type ScanResult struct {
	// Detected is true if one or more findings were produced.
	Detected bool
	// Findings contains every injection and secret-leak finding.
	Findings []ScanFinding
	// ScanDurationNs is how long the scan took in nanoseconds.
	ScanDurationNs int64
}

// ResponseScanner detects prompt injection and leaked secrets in MCP tool
// results. It does not carry its own pattern catalog: both concerns are
// delegated to the same detectors the gateway already runs against
// outbound tool-call arguments (internal/domain/injection,
// internal/domain/secretscan), so a server's response is held to the
// identical standard as a client's request instead of a narrower,
// independently-maintained regex list.
type ResponseScanner struct {
	injector *injection.Detector
	secrets  *secretscan.Scanner
}

// NewResponseScanner creates a ResponseScanner backed by the shared
// injection detector and secret scanner.
func NewResponseScanner() *ResponseScanner {
	return &ResponseScanner{
		injector: injection.NewDetector(),
		secrets:  secretscan.NewScanner(),
	}
}

// Scan runs both detectors against a plain-string response body. Empty
// content returns immediately with no findings.
func (s *ResponseScanner) Scan(content string) ScanResult {
	start := time.Now()
	if content == "" {
		return ScanResult{ScanDurationNs: time.Since(start).Nanoseconds()}
	}
	return s.scan(content, start)
}

// ScanJSON recursively scans a JSON-compatible response value (strings,
// maps, slices) for prompt injection and leaked secrets. This handles the
// common case where MCP tool results are structured objects with string
// fields that may carry injected content or credentials.
func (s *ResponseScanner) ScanJSON(v interface{}) ScanResult {
	return s.scan(v, time.Now())
}

func (s *ResponseScanner) scan(v interface{}, start time.Time) ScanResult {
	var findings []ScanFinding

	injResult := s.injector.Detect(map[string]interface{}{"response": v})
	for _, f := range injResult.Findings {
		findings = append(findings, ScanFinding{
			PatternName:     f.PatternID,
			PatternCategory: "prompt_injection",
			MatchedText:     f.Fragment,
			Position:        fieldPosition(f.Path),
		})
	}
	for _, f := range injResult.HighEntropy {
		findings = append(findings, ScanFinding{
			PatternName:     f.PatternID,
			PatternCategory: "prompt_injection",
			MatchedText:     f.Fragment,
			Position:        fieldPosition(f.Path),
		})
	}

	for _, f := range s.secrets.Scan(map[string]interface{}{"response": v}) {
		findings = append(findings, ScanFinding{
			PatternName:     f.Kind,
			PatternCategory: "secret_leak",
			MatchedText:     f.Value,
			Position:        fieldPosition(f.Path),
		})
	}

	return ScanResult{
		Detected:       len(findings) > 0,
		Findings:       findings,
		ScanDurationNs: time.Since(start).Nanoseconds(),
	}
}

// fieldPosition collapses a dotted field path down to the interface
// ScanFinding.Position historically exposed (a byte offset into flat
// string content). Both delegated detectors report paths, not offsets, so
// a real position only exists for the degenerate single-field case; any
// nested path collapses to -1 (unknown) rather than a fabricated number.
func fieldPosition(path string) int {
	if path == "response" {
		return 0
	}
	return -1
}
