// Package sqlguard validates model-generated SQL before it reaches the
// database. Two complementary validators run over every statement: the
// guardrails enforce a strict read-only policy (first failure wins), and the
// injection validator scores the statement against known attack patterns.
// Both must pass.
package sqlguard

import (
	"regexp"
	"strings"

	"github.com/xwb1989/sqlparser"
	"go.uber.org/zap"
)

// Keywords that must never appear in generated SQL. REPLACE is deliberately
// absent: REPLACE() is a safe string function, and the SELECT-only gate
// already blocks REPLACE INTO statements.
var blockedKeywords = compileKeywords([]string{
	"INSERT", "UPDATE", "DELETE", "DROP", "TRUNCATE", "ALTER",
	"CREATE", "GRANT", "REVOKE", "EXEC", "EXECUTE", "CALL",
	"MERGE", "UPSERT", "LOCK", "UNLOCK",
	"INTO", "COPY", "LOAD", "SET", "DECLARE",
})

type keywordPattern struct {
	keyword string
	re      *regexp.Regexp
}

func compileKeywords(keywords []string) []keywordPattern {
	out := make([]keywordPattern, 0, len(keywords))
	for _, kw := range keywords {
		out = append(out, keywordPattern{kw, regexp.MustCompile(`\b` + kw + `\b`)})
	}
	return out
}

// Patterns commonly used for statement chaining, comment smuggling, or
// system-catalog probing.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`;\s*--`),
	regexp.MustCompile(`--\s*$`),
	regexp.MustCompile(`(?s)/\*.*?\*/`),
	regexp.MustCompile(`;\s*\w+`),
	regexp.MustCompile(`(?i)pg_catalog`),
	regexp.MustCompile(`(?i)information_schema`),
	regexp.MustCompile(`(?i)\bpg_\w+`),
}

var (
	lineComment  = regexp.MustCompile(`--[^\n]*`)
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	whitespace   = regexp.MustCompile(`\s+`)

	// EXTRACT(MONTH FROM date) and DATE_TRUNC('day', ts) embed FROM-like
	// syntax that must not be mistaken for table references.
	extractFunc   = regexp.MustCompile(`(?i)\bEXTRACT\s*\([^)]*\bFROM\b[^)]*\)`)
	dateTruncFunc = regexp.MustCompile(`(?i)\bDATE_TRUNC\s*\([^)]*\)`)

	fromTable = regexp.MustCompile(`(?i)\bFROM\s+([a-zA-Z_][a-zA-Z0-9_]*)`)
	joinTable = regexp.MustCompile(`(?i)\bJOIN\s+([a-zA-Z_][a-zA-Z0-9_]*)`)

	passwordLiteral = regexp.MustCompile(`(?i)password\s*=\s*'[^']*'`)
)

// Guardrails enforces the read-only SQL policy: SELECT (or WITH/CTE) only,
// no mutation keywords, no chaining, single statement, and an optional table
// allowlist. The zero allowlist disables table checking.
type Guardrails struct {
	allowedTables map[string]struct{}
	logger        *zap.Logger
}

// NewGuardrails creates guardrails. Table names in the allowlist are
// case-insensitive; an empty allowlist skips the table check.
func NewGuardrails(allowedTables []string, logger *zap.Logger) *Guardrails {
	allowed := make(map[string]struct{}, len(allowedTables))
	for _, t := range allowedTables {
		allowed[strings.ToLower(t)] = struct{}{}
	}
	return &Guardrails{
		allowedTables: allowed,
		logger:        logger.With(zap.String("component", "sql_guardrails")),
	}
}

// Validate checks sql against the read-only policy. Returns ok and a message:
// "Query validated successfully" on success, otherwise the first failure.
//
// Comments are stripped up front so a model that annotates its SQL does not
// trip the checks on benign text; keyword and pattern scans then run on the
// stripped, whitespace-normalized statement.
func (g *Guardrails) Validate(sql string) (bool, string) {
	if strings.TrimSpace(sql) == "" {
		return false, "Empty SQL query"
	}

	noComments := blockComment.ReplaceAllString(lineComment.ReplaceAllString(sql, ""), "")
	clean := strings.TrimSpace(whitespace.ReplaceAllString(noComments, " "))
	upper := strings.ToUpper(clean)

	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return false, "Only read-only SELECT queries are allowed"
	}

	for _, kw := range blockedKeywords {
		if kw.re.MatchString(upper) {
			g.logger.Warn("blocked SQL operation", zap.String("keyword", kw.keyword))
			return false, "Blocked SQL operation detected: " + kw.keyword
		}
	}

	for _, re := range dangerousPatterns {
		if re.MatchString(upper) {
			g.logger.Warn("dangerous SQL pattern matched", zap.String("pattern", re.String()))
			return false, "Dangerous SQL pattern detected"
		}
	}

	if ok, msg := validateStructure(clean); !ok {
		return false, msg
	}

	if len(g.allowedTables) > 0 {
		var unauthorized []string
		for _, t := range ExtractTables(clean) {
			if _, ok := g.allowedTables[t]; !ok {
				unauthorized = append(unauthorized, t)
			}
		}
		if len(unauthorized) > 0 {
			g.logger.Warn("unauthorized table access", zap.Strings("tables", unauthorized))
			return false, "Unauthorized tables accessed: " + strings.Join(unauthorized, ", ")
		}
	}

	return true, "Query validated successfully"
}

// validateStructure parses the statement and confirms it is a single SELECT.
// The parser does not understand WITH-led CTEs, so those fall back to the
// keyword checks that already ran; that mirrors treating an unparseable
// read-only prefix as structurally acceptable rather than failing closed on
// legitimate CTE queries.
func validateStructure(clean string) (bool, string) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(clean), ";")
	if strings.Contains(trimmed, ";") {
		return false, "Multiple SQL statements are not allowed"
	}

	stmt, err := sqlparser.Parse(trimmed)
	if err != nil {
		if strings.HasPrefix(strings.ToUpper(clean), "WITH") {
			return true, ""
		}
		return false, "Only read-only SELECT queries are allowed"
	}

	switch stmt.(type) {
	case *sqlparser.Select, *sqlparser.Union:
		return true, ""
	default:
		return false, "Only read-only SELECT queries are allowed"
	}
}

// ExtractTables returns the lowercase table names referenced in FROM and JOIN
// clauses, excluding the FROM inside EXTRACT() and DATE_TRUNC() calls.
func ExtractTables(sql string) []string {
	cleaned := dateTruncFunc.ReplaceAllString(extractFunc.ReplaceAllString(sql, ""), "")

	seen := make(map[string]struct{})
	for _, re := range []*regexp.Regexp{fromTable, joinTable} {
		for _, m := range re.FindAllStringSubmatch(cleaned, -1) {
			seen[strings.ToLower(m[1])] = struct{}{}
		}
	}

	tables := make([]string, 0, len(seen))
	for t := range seen {
		tables = append(tables, t)
	}
	return tables
}

// SanitizeForDisplay masks credential literals so SQL can be logged safely.
func SanitizeForDisplay(sql string) string {
	return passwordLiteral.ReplaceAllString(sql, "password='***'")
}
