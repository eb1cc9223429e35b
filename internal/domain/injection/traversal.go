package injection

import (
	"fmt"
	"sort"
)

// maxParameterDepth bounds nested-structure traversal to avoid unbounded
// recursion on adversarially deep/cyclic-looking input.
const maxParameterDepth = 10

// stringField is a single (dotted path, string value) pair yielded by
// traversal over a nested argument map.
type stringField struct {
	path  string
	value string
}

// walkStrings iteratively yields every string leaf in v, addressed by a
// dotted path ("parent.key", "parent[i]" for array indices), bounded to
// maxParameterDepth. Matches spec.md §9's "iterative generators with an
// explicit depth cap; never recursion without bound" requirement using an
// explicit work-stack instead of language recursion.
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
				p := k
				if f.path != "" {
					p = f.path + "." + k
				}
				stack = append(stack, frame{path: p, depth: f.depth + 1, value: val[k]})
			}
		case []interface{}:
			for i, item := range val {
				p := fmt.Sprintf("%s[%d]", f.path, i)
				stack = append(stack, frame{path: p, depth: f.depth + 1, value: item})
			}
		}
	}
	return out
}
