// Package placeholder shields format specifiers in localizable strings from
// a translation provider. Printf verbs (%s, %1$d, %@), brace templates
// ({name}, {{count}}) and HTML tags are swapped for numbered markers
// ([PH0], [PH1], ...) before the call and put back afterwards.
package placeholder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// {{name}} before {name} so double braces are captured whole.
	reDoubleBrace = regexp.MustCompile(`\{\{[^{}]+\}\}`)
	reBrace       = regexp.MustCompile(`\{[A-Za-z0-9_.:]*\}`)

	// printf verbs with optional position, flags, width and precision; %% is literal.
	rePrintf = regexp.MustCompile(`%(?:\d+\$)?[-+#0]*\d*(?:\.\d+)?(?:l|ll|h|z)?[@dDiuUxXoOfFeEgGcCsSpaA]`)

	reHTMLTag = regexp.MustCompile(`<[^<>]+>`)

	rePlaceholder = regexp.MustCompile(`\[PH(\d+)\]`)
)

// Protect replaces placeholders with [PHn] markers in order of kind and then
// appearance. It returns the rewritten text and the captured originals.
func Protect(text string) (string, []string) {
	var markers []string

	replace := func(match string) string {
		id := fmt.Sprintf("[PH%d]", len(markers))
		markers = append(markers, match)
		return id
	}

	text = reDoubleBrace.ReplaceAllStringFunc(text, replace)
	text = reBrace.ReplaceAllStringFunc(text, replace)
	text = rePrintf.ReplaceAllStringFunc(text, replace)
	text = reHTMLTag.ReplaceAllStringFunc(text, replace)

	return text, markers
}

// Restore substitutes [PHn] markers in text with the originals captured by
// Protect. Unknown indices are left as they are.
func Restore(text string, markers []string) string {
	return rePlaceholder.ReplaceAllStringFunc(text, func(match string) string {
		sub := rePlaceholder.FindStringSubmatch(match)
		idx, err := strconv.Atoi(sub[1])
		if err != nil || idx < 0 || idx >= len(markers) {
			return match
		}
		return markers[idx]
	})
}

// Validate returns the indices of markers that are missing from text.
func Validate(text string, markers []string) []int {
	var missing []int
	for i := range markers {
		if !strings.Contains(text, fmt.Sprintf("[PH%d]", i)) {
			missing = append(missing, i)
		}
	}
	return missing
}
