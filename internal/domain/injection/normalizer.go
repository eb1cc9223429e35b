package injection

import (
	"strings"
	"unicode"
)

// zeroWidthAndCombining reports whether r is a zero-width or combining
// character that obfuscation techniques insert to break pattern matching.
func zeroWidthAndCombining(r rune) bool {
	switch r {
	case '​', '‌', '‍', '﻿', '­':
		return true
	}
	return unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Me, r)
}

// foldFullwidth maps fullwidth Latin variants (U+FF01-U+FF5E) to their ASCII
// equivalents, a common homoglyph-style bypass for keyword filters.
func foldFullwidth(r rune) rune {
	if r >= 0xFF01 && r <= 0xFF5E {
		return r - 0xFEE0
	}
	return r
}

// normalize folds fullwidth/homoglyph characters to ASCII, strips
// zero-width/combining marks, collapses non-breaking whitespace to ordinary
// spaces, and lowercases. Used as a second matching pass after the raw text
// to resist obfuscation (spec §4.4's "BypassCheck" invariant).
func normalize(s string) (normalized string, techniques []string) {
	var foldedFullwidth, strippedZeroWidth, collapsedSpace bool
	var b strings.Builder
	b.Grow(len(s))

	for _, r := range s {
		if zeroWidthAndCombining(r) {
			strippedZeroWidth = true
			continue
		}
		folded := foldFullwidth(r)
		if folded != r {
			foldedFullwidth = true
		}
		if unicode.IsSpace(folded) && folded != ' ' {
			collapsedSpace = true
			folded = ' '
		}
		b.WriteRune(folded)
	}

	if foldedFullwidth {
		techniques = append(techniques, "fullwidth")
	}
	if strippedZeroWidth {
		techniques = append(techniques, "zero_width")
	}
	if collapsedSpace {
		techniques = append(techniques, "nbsp")
	}

	normalized = strings.ToLower(b.String())
	return normalized, techniques
}
