package llm

import (
	"regexp"
	"strings"
)

var (
	fencedBlock = regexp.MustCompile("(?s)```(?:sql)?\\s*(.*?)```")
	sqlPrefix   = regexp.MustCompile(`(?is)^\s*(?:sql\s*:)?\s*`)
)

// ExtractSQL pulls the SQL statement out of model output. Models wrap SQL in
// markdown fences or prefix it with "SQL:" despite instructions; the first
// fenced block wins, otherwise the whole trimmed text is taken.
func ExtractSQL(output string) string {
	if m := fencedBlock.FindStringSubmatch(output); m != nil {
		output = m[1]
	}
	output = sqlPrefix.ReplaceAllString(output, "")
	return strings.TrimSpace(output)
}
