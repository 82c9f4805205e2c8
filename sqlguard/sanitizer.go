package sqlguard

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	trailingLineComments = regexp.MustCompile(`(?m)--.*$`)
	multiSemicolon       = regexp.MustCompile(`;\s*;`)
	limitClause          = regexp.MustCompile(`(?i)LIMIT\s+(\d+)`)
)

// Sanitize strips comments and redundant semicolons from model output before
// validation. Sanitization never makes a statement more permissive; it only
// removes decoration the validators would otherwise have to reason about.
func Sanitize(sql string) string {
	sql = trailingLineComments.ReplaceAllString(sql, "")
	sql = blockComment.ReplaceAllString(sql, "")
	sql = multiSemicolon.ReplaceAllString(sql, ";")
	return strings.TrimSuffix(strings.TrimSpace(sql), ";")
}

// EnforceRowLimit appends a LIMIT when the statement has none and clamps an
// existing LIMIT down to maxRows.
func EnforceRowLimit(sql string, maxRows int) string {
	m := limitClause.FindStringSubmatch(sql)
	if m == nil {
		return strings.TrimSuffix(strings.TrimSpace(sql), ";") + fmt.Sprintf(" LIMIT %d", maxRows)
	}
	if existing, err := strconv.Atoi(m[1]); err == nil && existing > maxRows {
		return limitClause.ReplaceAllString(sql, fmt.Sprintf("LIMIT %d", maxRows))
	}
	return sql
}
