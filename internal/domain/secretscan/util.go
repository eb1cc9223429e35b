package secretscan

import "strings"

func toLowerASCII(s string) string {
	return strings.ToLower(s)
}

func contains(s, substr string) bool {
	return strings.Contains(s, substr)
}

// looksLikeLongEncodedRun is a cheap heuristic that avoids running the full
// catalog against strings that can't possibly match a base64/hex pattern.
func looksLikeLongEncodedRun(s string) bool {
	if len(s) < minStringLength {
		return false
	}
	run := 0
	best := 0
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '+', r == '/', r == '=', r == '-', r == '_':
			run++
			if run > best {
				best = run
			}
		default:
			run = 0
		}
	}
	return best >= 32
}

func isFalsePositive(s string) bool {
	for _, re := range falsePositivePatterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func truncateDisplay(s string) string {
	const prefixLen = 10
	if len(s) <= prefixLen {
		return s
	}
	return s[:prefixLen] + "…"
}
