// Package secretscan scans invocation results for leaked secrets and
// redacts them in place while preserving the surrounding structure.
package secretscan

import "regexp"

// secretPattern is a single compiled catalog entry.
type secretPattern struct {
	kind       string
	confidence float64
	re         *regexp.Regexp
}

// catalog is the fixed, priority-ordered secret pattern set, carried over
// from the original detector's provider/key catalog in full (SPEC_FULL.md's
// "Secret scanner full pattern catalog" supplement).
var catalog = buildCatalog()

func buildCatalog() []secretPattern {
	raw := []struct {
		kind       string
		confidence float64
		pattern    string
	}{
		{"openai_api_key", 0.95, `sk-[a-zA-Z0-9]{20,}`},
		{"anthropic_api_key", 0.95, `sk-ant-[a-zA-Z0-9_-]{20,}`},
		{"github_token", 0.95, `gh[pousr]_[a-zA-Z0-9]{36,}`},
		{"gitlab_token", 0.9, `glpat-[a-zA-Z0-9_-]{20,}`},
		{"aws_access_key_id", 0.95, `\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`},
		{"aws_secret_access_key", 0.6, `(?i)aws_secret_access_key\s*[:=]\s*['"]?[A-Za-z0-9/+=]{40}['"]?`},
		{"google_api_key", 0.9, `AIza[0-9A-Za-z_-]{35}`},
		{"slack_token", 0.9, `xox[baprs]-[0-9a-zA-Z-]{10,}`},
		{"stripe_key", 0.9, `(?:sk|pk)_(?:live|test)_[0-9a-zA-Z]{24,}`},
		{"twilio_key", 0.85, `SK[0-9a-fA-F]{32}`},
		{"azure_storage_key", 0.6, `(?i)accountkey\s*=\s*[A-Za-z0-9+/=]{80,}`},
		{"heroku_api_key", 0.6, `(?i)heroku[_-]?api[_-]?key\s*[:=]\s*[0-9a-f-]{36}`},
		{"mailgun_key", 0.85, `key-[0-9a-zA-Z]{32}`},
		{"pem_private_key", 0.98, `-----BEGIN (?:RSA |EC |OPENSSH |DSA |)PRIVATE KEY-----`},
		{"jwt", 0.7, `eyJ[a-zA-Z0-9_-]{10,}\.eyJ[a-zA-Z0-9_-]{10,}\.[a-zA-Z0-9_-]{10,}`},
		{"db_connection_string", 0.7, `(?i)(?:postgres|postgresql|mysql|mongodb|redis)://[^:\s]+:[^@\s]+@[^\s]+`},
		{"generic_password_field", 0.5, `(?i)"?password"?\s*[:=]\s*"?[^\s"',}]{8,}"?`},
		{"generic_api_key_field", 0.5, `(?i)"?api[_-]?key"?\s*[:=]\s*"?[^\s"',}]{12,}"?`},
		{"generic_secret_field", 0.5, `(?i)"?secret"?\s*[:=]\s*"?[^\s"',}]{8,}"?`},
		{"generic_token_field", 0.45, `(?i)"?token"?\s*[:=]\s*"?[^\s"',}]{16,}"?`},
		{"long_base64_run", 0.3, `\b[A-Za-z0-9+/]{64,}={0,2}\b`},
	}

	out := make([]secretPattern, 0, len(raw))
	for _, r := range raw {
		out = append(out, secretPattern{kind: r.kind, confidence: r.confidence, re: regexp.MustCompile(r.pattern)})
	}
	return out
}

// falsePositivePatterns discard known-benign look-alikes (localhost,
// placeholders, documentation examples).
var falsePositivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\blocalhost\b`),
	regexp.MustCompile(`(?i)\b(?:dummy|sample|placeholder|example|test)\b`),
	regexp.MustCompile(`(?i)example\.com`),
	regexp.MustCompile(`\b127\.0\.0\.1\b`),
	regexp.MustCompile(`(?i)test@test\.com`),
}

// secretPrefixes is a fast pre-filter: a candidate string must contain one
// of these substrings (case-insensitive) or resemble a long base64/hex run
// before any regex in the catalog runs against it.
var secretPrefixes = []string{
	"sk-", "gh", "glpat-", "akia", "asia", "aiza", "xox", "sk_", "pk_",
	"-----begin", "eyj", "key-", "password", "secret", "token", "api_key",
	"apikey", "api-key", "accountkey",
}

func couldContainSecret(s string) bool {
	lower := toLowerASCII(s)
	for _, p := range secretPrefixes {
		if contains(lower, p) {
			return true
		}
	}
	return looksLikeLongEncodedRun(s)
}
