package injection

import "sort"

// Finding is a single pattern or entropy match discovered during a scan.
type Finding struct {
	PatternID   string
	Severity    Severity
	Fragment    string // matched text, truncated for display
	Path        string // dotted parameter path the match was found under
	Obfuscation []string
}

// Result is the outcome of scanning a full argument map.
type Result struct {
	Detected        bool
	Findings        []Finding
	HighEntropy     []Finding
	RiskScore       int
}

// Detector scans nested tool-call arguments for prompt-injection patterns.
type Detector struct{}

// NewDetector constructs a Detector. Stateless; patterns are package-level
// and compiled once.
func NewDetector() *Detector {
	return &Detector{}
}

// Detect scans args (and optionally a context map merged alongside it) for
// injection patterns, obfuscation, and high-entropy strings, returning a
// risk-scored Result. Empty input returns a zero Result (risk_score=0,
// detected=false), matching spec.md §8 invariant 8.
func (d *Detector) Detect(args map[string]interface{}) Result {
	fields := walkStrings(map[string]interface{}(args))

	var findings []Finding
	var highEntropy []Finding

	for _, f := range fields {
		findings = append(findings, matchPatterns(f.path, f.value)...)

		if len(f.value) >= entropyMinLength {
			if e := shannonEntropy(f.value); e >= entropyThreshold {
				highEntropy = append(highEntropy, Finding{
					PatternID: "high_entropy",
					Severity:  SeverityMedium,
					Fragment:  truncate(f.value, 50),
					Path:      f.path,
				})
			}
		}
	}

	all := append(append([]Finding{}, findings...), highEntropy...)
	score := riskScore(all)

	return Result{
		Detected:    len(all) > 0,
		Findings:    findings,
		HighEntropy: highEntropy,
		RiskScore:   score,
	}
}

// matchPatterns runs the full catalog against both the raw string and its
// obfuscation-normalized form, per spec.md §3's BypassCheck invariant.
// Normalized-pass hits are tagged with the obfuscation techniques detected.
func matchPatterns(path, value string) []Finding {
	var findings []Finding

	for _, p := range catalog {
		if loc := p.re.FindStringIndex(value); loc != nil {
			findings = append(findings, Finding{
				PatternID: p.id,
				Severity:  p.severity,
				Fragment:  truncate(value[loc[0]:loc[1]], 50),
				Path:      path,
			})
		}
	}

	normalized, techniques := normalize(value)
	if normalized == value || len(techniques) == 0 {
		return findings
	}

	for _, p := range catalog {
		if loc := p.re.FindStringIndex(normalized); loc != nil {
			findings = append(findings, Finding{
				PatternID:   p.id,
				Severity:    p.severity,
				Fragment:    truncate(normalized[loc[0]:loc[1]], 50),
				Path:        path,
				Obfuscation: techniques,
			})
		}
	}
	return findings
}

// riskScore sums severity weights across findings, capped at 100.
func riskScore(findings []Finding) int {
	total := 0
	for _, f := range findings {
		total += severityWeight(f.Severity)
	}
	if total > 100 {
		total = 100
	}
	return total
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// topN returns the first n findings ordered as given (catalog order already
// reflects priority), used by the response handler's audit-detail cap.
func topN(findings []Finding, n int) []Finding {
	if len(findings) <= n {
		return findings
	}
	out := make([]Finding, n)
	copy(out, findings[:n])
	return out
}

// sortBySeverityDesc orders findings from highest to lowest severity,
// stable so catalog priority order is preserved within a severity tier.
func sortBySeverityDesc(findings []Finding) []Finding {
	weight := func(s Severity) int { return severityWeight(s) }
	out := append([]Finding{}, findings...)
	sort.SliceStable(out, func(i, j int) bool {
		return weight(out[i].Severity) > weight(out[j].Severity)
	})
	return out
}
