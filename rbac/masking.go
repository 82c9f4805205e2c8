package rbac

import "strings"

// MaskedValue replaces sensitive cell values in masked results.
const MaskedValue = "***MASKED***"

// sensitivePatterns expands the `*` wildcard: any column whose name contains
// one of these substrings is masked.
var sensitivePatterns = []string{"cost", "price", "supplier", "composition", "internal", "secret"}

// Masker redacts sensitive columns from result rows according to the
// caller's role policy.
type Masker struct {
	enforcer *Enforcer
}

// NewMasker creates a masking engine over the enforcer's policies.
func NewMasker(enforcer *Enforcer) *Masker {
	return &Masker{enforcer: enforcer}
}

// MaskResult returns a copy of rows with masked-column values replaced.
// Matching is substring-based on the lowercase column name, so "unit_cost"
// is caught by the "cost" pattern. Input rows are never mutated.
func (m *Masker) MaskResult(rows []map[string]interface{}, role string) []map[string]interface{} {
	patterns := m.enforcer.MaskedColumns(role)
	if len(patterns) == 0 {
		return rows
	}

	for _, p := range patterns {
		if p == "*" {
			patterns = sensitivePatterns
			break
		}
	}

	masked := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		out := make(map[string]interface{}, len(row))
		for key, value := range row {
			if matchesAny(strings.ToLower(key), patterns) {
				out[key] = MaskedValue
			} else {
				out[key] = value
			}
		}
		masked = append(masked, out)
	}
	return masked
}

func matchesAny(lowerKey string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(lowerKey, p) {
			return true
		}
	}
	return false
}
