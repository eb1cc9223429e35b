package secretscan

import "sort"

const (
	// minStringLength discards candidate strings too short to carry a secret.
	minStringLength = 16
	// maxParameterDepth bounds nested-structure traversal.
	maxParameterDepth = 10
	// maxStringLength truncates any single string before scanning it.
	maxStringLength = 1_000_000
	// chunkSize is the scan window size for strings longer than chunkSize.
	chunkSize = 10_000
	// chunkOverlap re-scans this many trailing bytes of the previous chunk so
	// a match straddling a chunk boundary is not missed.
	chunkOverlap = 200
)

type stringField struct {
	path  string
	value string
}

// walkStrings performs an iterative, depth-bounded traversal of v (built
// from decoded JSON: map[string]interface{}, []interface{}, and scalars),
// collecting every string field reachable within maxParameterDepth.
func walkStrings(v interface{}) []stringField {
	type frame struct {
		path  string
		depth int
		value interface{}
	}

	var out []stringField
	stack := []frame{{path: "", depth: 0, value: v}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.depth > maxParameterDepth {
			continue
		}

		switch val := f.value.(type) {
		case string:
			out = append(out, stringField{path: f.path, value: val})
		case map[string]interface{}:
			keys := make([]string, 0, len(val))
			for k := range val {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				childPath := k
				if f.path != "" {
					childPath = f.path + "." + k
				}
				stack = append(stack, frame{path: childPath, depth: f.depth + 1, value: val[k]})
			}
		case []interface{}:
			for i, item := range val {
				childPath := indexPath(f.path, i)
				stack = append(stack, frame{path: childPath, depth: f.depth + 1, value: item})
			}
		}
	}

	return out
}

func indexPath(parent string, i int) string {
	if parent == "" {
		return itoa(i)
	}
	return parent + "[" + itoa(i) + "]"
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// textChunk is one scan window produced by chunksOf.
type textChunk struct {
	text   string
	offset int
}

// chunksOf splits s into overlapping windows of at most chunkSize runes when
// s exceeds chunkSize, so regex matching never backtracks over an
// unbounded string. Short strings return a single chunk with offset 0.
func chunksOf(s string) []textChunk {
	if len(s) > maxStringLength {
		s = s[:maxStringLength]
	}
	if len(s) <= chunkSize {
		return []textChunk{{text: s, offset: 0}}
	}

	var chunks []textChunk
	start := 0
	for start < len(s) {
		end := start + chunkSize
		if end > len(s) {
			end = len(s)
		}
		chunks = append(chunks, textChunk{text: s[start:end], offset: start})
		if end == len(s) {
			break
		}
		start = end - chunkOverlap
	}
	return chunks
}
