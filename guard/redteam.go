package guard

import (
	"regexp"

	"go.uber.org/zap"

	"github.com/middesurya/metalquery/types"
)

// Red-team attack categories.
const (
	CategoryRewardHacking       = "reward_hacking"
	CategoryDeceptiveAlignment  = "deceptive_alignment"
	CategoryDataExfiltration    = "data_exfiltration"
	CategoryPrivilegeEscalation = "privilege_escalation"
	CategoryPromptLeaking       = "prompt_leaking"
	CategoryModelManipulation   = "model_manipulation"
)

type redTeamCategory struct {
	name     string
	patterns []*regexp.Regexp
}

var redTeamCategories = []redTeamCategory{
	{CategoryRewardHacking, []*regexp.Regexp{
		regexp.MustCompile(`(?i)fake\s+result`),
		regexp.MustCompile(`(?i)pretend\s+completed`),
		regexp.MustCompile(`(?i)looks\s+good\s+but`),
	}},
	{CategoryDeceptiveAlignment, []*regexp.Regexp{
		regexp.MustCompile(`(?i)hidden\s+goal`),
		regexp.MustCompile(`(?i)true\s+objective`),
		regexp.MustCompile(`(?i)real\s+purpose`),
	}},
	{CategoryDataExfiltration, []*regexp.Regexp{
		regexp.MustCompile(`(?i)extract\s+all`),
		regexp.MustCompile(`(?i)dump\s+database`),
		regexp.MustCompile(`(?i)export\s+everything`),
		regexp.MustCompile(`(?i)show\s+all\s+records`),
	}},
	{CategoryPrivilegeEscalation, []*regexp.Regexp{
		regexp.MustCompile(`(?i)admin\s+access`),
		regexp.MustCompile(`(?i)bypass\s+permission`),
		regexp.MustCompile(`(?i)override\s+role`),
	}},
	{CategoryPromptLeaking, []*regexp.Regexp{
		regexp.MustCompile(`(?i)show\s+system\s+prompt`),
		regexp.MustCompile(`(?i)reveal\s+instructions`),
		regexp.MustCompile(`(?i)what\s+are\s+your\s+rules`),
	}},
	{CategoryModelManipulation, []*regexp.Regexp{
		regexp.MustCompile(`(?i)ignore\s+training`),
		regexp.MustCompile(`(?i)forget\s+constraints`),
		regexp.MustCompile(`(?i)new\s+persona`),
	}},
}

// RedTeamResult is the outcome of a red-team phrase scan.
type RedTeamResult struct {
	Attack     bool           `json:"is_attack"`
	Categories []string       `json:"categories"`
	Score      float64        `json:"score"`
	Severity   types.Severity `json:"severity"`
}

// RedTeamDetector pattern-matches prompt text against six attack-category
// phrase sets. A stateless sibling of the behavioral anomaly detector: it
// looks at what the caller asked, not how the caller behaves.
type RedTeamDetector struct {
	logger *zap.Logger
}

// NewRedTeamDetector creates a red-team detector.
func NewRedTeamDetector(logger *zap.Logger) *RedTeamDetector {
	return &RedTeamDetector{logger: logger.With(zap.String("component", "redteam_detector"))}
}

// Detect scans the prompt. Each matched category contributes 0.25 to the
// score; categories are deduplicated before counting.
func (d *RedTeamDetector) Detect(prompt string) RedTeamResult {
	var categories []string
	score := 0.0

	for _, cat := range redTeamCategories {
		for _, re := range cat.patterns {
			if re.MatchString(prompt) {
				categories = append(categories, cat.name)
				score += 0.25
				break
			}
		}
	}
	if score > 1.0 {
		score = 1.0
	}

	severity := types.SeverityLow
	switch {
	case score > 0.5:
		severity = types.SeverityHigh
	case score > 0.25:
		severity = types.SeverityMedium
	}

	result := RedTeamResult{
		Attack:     len(categories) > 0,
		Categories: categories,
		Score:      score,
		Severity:   severity,
	}
	if result.Attack {
		d.logger.Warn("red team attack patterns matched",
			zap.Strings("categories", categories),
			zap.Float64("score", score))
	}
	return result
}
