package secretscan

const redactedPlaceholder = "[REDACTED]"

// Redactor rewrites scanned values in place, replacing matched secret spans
// with a fixed placeholder while leaving the surrounding structure and any
// non-matching text untouched.
type Redactor struct{}

// NewRedactor constructs a Redactor with the default pattern catalog.
func NewRedactor() *Redactor {
	return &Redactor{}
}

// Redact returns a deep copy of data with every detected secret span
// replaced by redactedPlaceholder. Redacting an already-redacted value is a
// no-op: the placeholder text never matches the catalog, so
// Redact(Redact(x)) == Redact(x).
func (r *Redactor) Redact(data interface{}) interface{} {
	switch v := data.(type) {
	case string:
		return redactString(v)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[k] = r.Redact(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = r.Redact(val)
		}
		return out
	default:
		return v
	}
}

func redactString(s string) string {
	if len(s) < minStringLength || !couldContainSecret(s) {
		return s
	}

	var spans []span

	for _, chunk := range chunksOf(s) {
		for _, p := range catalog {
			for _, loc := range p.re.FindAllStringIndex(chunk.text, -1) {
				full := chunk.text[loc[0]:loc[1]]
				if isFalsePositive(full) {
					continue
				}
				spans = append(spans, span{start: chunk.offset + loc[0], end: chunk.offset + loc[1]})
			}
		}
	}
	if len(spans) == 0 {
		return s
	}

	mergeSpans(&spans)

	var out []byte
	cursor := 0
	for _, sp := range spans {
		if sp.start < cursor {
			continue
		}
		out = append(out, s[cursor:sp.start]...)
		out = append(out, redactedPlaceholder...)
		cursor = sp.end
	}
	out = append(out, s[cursor:]...)
	return string(out)
}

func mergeSpans(spans *[]span) {
	sortSpans(*spans)
	merged := (*spans)[:0]
	for _, sp := range *spans {
		if len(merged) > 0 && sp.start <= merged[len(merged)-1].end {
			if sp.end > merged[len(merged)-1].end {
				merged[len(merged)-1].end = sp.end
			}
			continue
		}
		merged = append(merged, sp)
	}
	*spans = merged
}

type span struct{ start, end int }

func sortSpans(spans []span) {
	for i := 1; i < len(spans); i++ {
		for j := i; j > 0 && spans[j-1].start > spans[j].start; j-- {
			spans[j-1], spans[j] = spans[j], spans[j-1]
		}
	}
}
