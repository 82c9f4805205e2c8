package sqlguard

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// injectionSafeThreshold: a statement is safe only when its risk score stays
// below this and no individual check raised an issue.
const injectionSafeThreshold = 0.3

// Keywords the injection validator treats as outright dangerous, including
// SQL Server procedure prefixes seen in automated attack tooling.
var injectionKeywords = func() []keywordPattern {
	keywords := []string{
		"DROP", "DELETE", "TRUNCATE", "ALTER", "CREATE",
		"EXEC", "EXECUTE", "SCRIPT", "DECLARE", "CAST",
		"SHUTDOWN", "GRANT", "REVOKE",
	}
	out := make([]keywordPattern, 0, len(keywords)+2)
	for _, kw := range keywords {
		out = append(out, keywordPattern{kw, regexp.MustCompile(`(?i)\b` + kw + `\b`)})
	}
	// SQL Server extended/system procedure prefixes
	out = append(out,
		keywordPattern{"XP_", regexp.MustCompile(`(?i)\bXP_`)},
		keywordPattern{"SP_", regexp.MustCompile(`(?i)\bSP_`)},
	)
	return out
}()

type injectionPattern struct {
	re   *regexp.Regexp
	name string
}

var injectionPatterns = []injectionPattern{
	{regexp.MustCompile(`(?i)'\s*OR\s*'1'\s*=\s*'1`), "OR-based injection"},
	{regexp.MustCompile(`(?i)'\s*OR\s*1\s*=\s*1`), "OR-based injection"},
	{regexp.MustCompile(`(?i);\s*DROP\s+TABLE`), "DROP TABLE injection"},
	{regexp.MustCompile(`(?i)UNION\s+ALL\s+SELECT`), "UNION-based injection"},
	{regexp.MustCompile(`(?i)UNION\s+SELECT`), "UNION-based injection"},
	{regexp.MustCompile(`(?m)--\s*$`), "Comment-based injection"},
	{regexp.MustCompile(`(?s)/\*.*\*/`), "Multiline comment injection"},
	{regexp.MustCompile(`(?i)<script`), "Script tag injection"},
	{regexp.MustCompile(`(?i)\\x[0-9a-f]+`), "Hex encoding injection"},
	{regexp.MustCompile(`(?i)CHAR\s*\(`), "CHAR function injection"},
	{regexp.MustCompile(`(?i)CONCAT\s*\(.*SELECT`), "CONCAT injection"},
}

// InjectionResult is the scored outcome of an injection scan.
type InjectionResult struct {
	Safe      bool     `json:"is_safe"`
	Issues    []string `json:"issues"`
	Score     float64  `json:"score"`
	Tables    []string `json:"tables"`
	Operation string   `json:"operation"`
}

// InjectionValidator scores SQL against layered injection checks: operation
// type, dangerous keywords, table allowlist, known attack patterns, and
// stacked statements. Unlike the guardrails it accumulates evidence instead
// of stopping at the first hit, so audit records carry the full issue list.
type InjectionValidator struct {
	allowedTables map[string]struct{}
	logger        *zap.Logger
}

// NewInjectionValidator creates an injection validator over the given table
// allowlist.
func NewInjectionValidator(allowedTables []string, logger *zap.Logger) *InjectionValidator {
	allowed := make(map[string]struct{}, len(allowedTables))
	for _, t := range allowedTables {
		allowed[strings.ToLower(t)] = struct{}{}
	}
	return &InjectionValidator{
		allowedTables: allowed,
		logger:        logger.With(zap.String("component", "injection_validator")),
	}
}

// Validate runs every check and sums weighted risk. Weights: wrong operation
// 0.4, dangerous keyword 0.5, unauthorized table 0.3, injection pattern 0.6,
// stacked queries 0.5; the score is capped at 1.0.
func (v *InjectionValidator) Validate(sql string) InjectionResult {
	if strings.TrimSpace(sql) == "" {
		return InjectionResult{Safe: false, Issues: []string{"Empty SQL query"}, Score: 1.0}
	}

	var issues []string
	score := 0.0
	upper := strings.ToUpper(strings.TrimSpace(sql))

	op := operationOf(upper)
	if op != "SELECT" {
		issues = append(issues, "Only SELECT allowed, got "+op)
		score += 0.4
	}

	var dangerous []string
	for _, kw := range injectionKeywords {
		if kw.re.MatchString(sql) {
			dangerous = append(dangerous, kw.keyword)
		}
	}
	if len(dangerous) > 0 {
		issues = append(issues, "Dangerous keywords detected: "+strings.Join(dangerous, ", "))
		score += 0.5
	}

	tables := ExtractTables(sql)
	if len(v.allowedTables) > 0 {
		var unknown []string
		for _, t := range tables {
			if _, ok := v.allowedTables[t]; !ok {
				unknown = append(unknown, t)
			}
		}
		if len(unknown) > 0 {
			issues = append(issues, "Unauthorized table access: "+strings.Join(unknown, ", "))
			score += 0.3
		}
	}

	var matched []string
	seen := make(map[string]struct{})
	for _, p := range injectionPatterns {
		if p.re.MatchString(sql) {
			if _, dup := seen[p.name]; !dup {
				seen[p.name] = struct{}{}
				matched = append(matched, p.name)
			}
		}
	}
	if len(matched) > 0 {
		issues = append(issues, "Potential SQL injection: "+strings.Join(matched, ", "))
		score += 0.6
	}

	if hasStackedQueries(sql) {
		issues = append(issues, "Stacked queries detected")
		score += 0.5
	}

	if score > 1.0 {
		score = 1.0
	}

	result := InjectionResult{
		Safe:      score < injectionSafeThreshold && len(issues) == 0,
		Issues:    issues,
		Score:     score,
		Tables:    tables,
		Operation: op,
	}
	if !result.Safe {
		v.logger.Warn("sql injection validation failed",
			zap.Strings("issues", issues),
			zap.Float64("score", score))
	}
	return result
}

func operationOf(upper string) string {
	for _, op := range []string{"SELECT", "INSERT", "UPDATE", "DELETE", "DROP", "ALTER", "CREATE", "TRUNCATE"} {
		if strings.HasPrefix(upper, op) {
			return op
		}
	}
	return "UNKNOWN"
}

// hasStackedQueries reports whether more than one statement-separating
// semicolon appears outside string literals.
func hasStackedQueries(sql string) bool {
	count := 0
	inQuote := false
	for _, r := range sql {
		switch {
		case r == '\'':
			inQuote = !inQuote
		case r == ';' && !inQuote:
			count++
		}
	}
	return count > 1
}
