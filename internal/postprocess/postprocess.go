// Package postprocess tidies provider output against the text it was
// translated from.
package postprocess

import (
	"strings"
	"unicode"
)

// Tidy returns translated with the leading and trailing whitespace of source
// restored. A quote pair wrapping the whole translation is removed unless
// source was wrapped in quotes too. Output that would end up empty is
// returned unchanged.
func Tidy(source, translated string) string {
	core := strings.TrimSpace(translated)
	if !isQuoted(strings.TrimSpace(source)) {
		core = removeQuoteWrapping(core)
	}
	if core == "" {
		return translated
	}
	return leadingSpace(source) + core + trailingSpace(source)
}

func leadingSpace(s string) string {
	return s[:len(s)-len(strings.TrimLeftFunc(s, unicode.IsSpace))]
}

func trailingSpace(s string) string {
	return s[len(strings.TrimRightFunc(s, unicode.IsSpace)):]
}

// quotePairs lists the opening and closing quotes recognised as wrapping.
var quotePairs = [][2]rune{
	{'"', '"'},
	{'\'', '\''},
	{'«', '»'},
	{'“', '”'},
	{'‘', '’'},
	{'„', '“'},
	{'「', '」'},
}

func isQuoted(text string) bool {
	runes := []rune(text)
	n := len(runes)
	if n < 2 {
		return false
	}
	for _, p := range quotePairs {
		if runes[0] == p[0] && runes[n-1] == p[1] {
			return true
		}
	}
	return false
}

func removeQuoteWrapping(text string) string {
	if !isQuoted(text) {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[1 : len(runes)-1]))
}
