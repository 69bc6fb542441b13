package extraction

import (
	"regexp"
	"strings"
)

var (
	excessNewlines = regexp.MustCompile(`\n{3,}`)
	multiSpaces    = regexp.MustCompile(` {2,}`)
)

// Normalize cleans extracted text into a stable markdown-friendly form:
// strip trailing whitespace per line, collapse 3+ newlines to exactly 2,
// collapse runs of spaces, and trim the whole string. Trailing whitespace
// goes first so whitespace-only lines are already empty when the newline
// collapse runs; applying Normalize twice yields the same output as once.
func Normalize(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	text = strings.Join(lines, "\n")

	text = excessNewlines.ReplaceAllString(text, "\n\n")
	text = multiSpaces.ReplaceAllString(text, " ")

	return strings.TrimSpace(text)
}
