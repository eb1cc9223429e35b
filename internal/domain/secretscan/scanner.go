package secretscan

import "sort"

// SecretFinding describes one matched secret. Value holds a truncated,
// display-safe prefix; the full match is kept only transiently during
// redaction and never surfaces on the finding itself.
type SecretFinding struct {
	Kind       string
	Path       string
	Value      string // 10-char prefix + "…"
	Confidence float64
}

// match is an internal record carrying the full matched text, used to
// drive redaction without re-scanning.
type match struct {
	kind       string
	path       string
	full       string
	confidence float64
}

// Scanner scans decoded JSON-like values for leaked secrets.
type Scanner struct{}

// NewScanner constructs a Scanner with the default pattern catalog.
func NewScanner() *Scanner {
	return &Scanner{}
}

// Scan walks data and returns one SecretFinding per matched secret,
// deduplicated by (path, kind, full match) and sorted by descending
// confidence.
func (s *Scanner) Scan(data interface{}) []SecretFinding {
	matches := s.findMatches(data)
	out := make([]SecretFinding, 0, len(matches))
	for _, m := range matches {
		out = append(out, SecretFinding{
			Kind:       m.kind,
			Path:       m.path,
			Value:      truncateDisplay(m.full),
			Confidence: m.confidence,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

func (s *Scanner) findMatches(data interface{}) []match {
	fields := walkStrings(data)
	var out []match
	seen := make(map[string]bool)

	for _, field := range fields {
		if len(field.value) < minStringLength {
			continue
		}
		if !couldContainSecret(field.value) {
			continue
		}

		for _, chunk := range chunksOf(field.value) {
			for _, p := range catalog {
				for _, loc := range p.re.FindAllStringIndex(chunk.text, -1) {
					full := chunk.text[loc[0]:loc[1]]
					if isFalsePositive(full) {
						continue
					}
					key := field.path + "|" + p.kind + "|" + full
					if seen[key] {
						continue
					}
					seen[key] = true
					out = append(out, match{kind: p.kind, path: field.path, full: full, confidence: p.confidence})
				}
			}
		}
	}
	return out
}
