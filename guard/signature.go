package guard

import (
	"regexp"

	"go.uber.org/zap"
)

// signatureThreshold is the threat score at which text is rejected.
const signatureThreshold = 0.4

// Threat is one matched attack signature.
type Threat struct {
	Type     string  `json:"type"`
	Severity float64 `json:"severity"`
}

// SignatureResult is the outcome of a signature scan.
type SignatureResult struct {
	Safe        bool     `json:"is_safe"`
	ThreatTypes []string `json:"threat_types"`
	ThreatScore float64  `json:"threat_score"`
	Threats     []Threat `json:"threats"`
}

type attackSignature struct {
	re         *regexp.Regexp
	attackType string
	severity   float64
}

// Ordered signature table: prompt injection, role assumption, code execution,
// and SQL-specific payloads. Severity weights are in (0,1].
var attackSignatures = []attackSignature{
	// Direct prompt injection
	{regexp.MustCompile(`(?i)(ignore.*previous|disregard|forget)`), "direct_injection", 0.8},
	{regexp.MustCompile(`(?i)(system prompt|system message|admin mode)`), "role_assumption", 0.7},
	{regexp.MustCompile(`(?i)(execute.*command|run.*code|unsafe)`), "code_execution", 0.9},
	// Indirect injection
	{regexp.MustCompile(`(?i)(curl|http|request|fetch).*https?`), "external_data", 0.6},
	{regexp.MustCompile(`(?i)(eval|exec|compile)`), "code_eval", 0.9},
	// SQL-specific payloads
	{regexp.MustCompile(`(?i)(union\s+select|drop\s+table|delete\s+from|update\s+.*set|insert\s+into)`), "direct_sql", 0.95},
	{regexp.MustCompile(`(?im)(--\s*$|;\s*--|/\*|\*/)`), "sql_comment", 0.7},
	{regexp.MustCompile(`(?i)('\s*or\s+'1'\s*=\s*'1|'\s*or\s+1\s*=\s*1)`), "sql_tautology", 0.95},
	// Red-team probes
	{regexp.MustCompile(`(?i)(metric|game|fake|cheat|fake result)`), "reward_hack", 0.5},
	{regexp.MustCompile(`(?i)(hidden.*goal|secret|deceptive)`), "deceptive_align", 0.6},
	{regexp.MustCompile(`(?i)(leak|extract|exfiltrate|dump)`), "data_exfil", 0.8},
	// Jailbreaks
	{regexp.MustCompile(`(?i)(pretend|roleplay|act as|you are now)`), "jailbreak", 0.5},
	{regexp.MustCompile(`(?i)(\bdan\b|developer mode|no restrictions)`), "jailbreak", 0.7},
}

// SignatureValidator scans raw user text for known injection and jailbreak
// signatures. Stateless; deterministic over the input and the static table.
type SignatureValidator struct {
	logger *zap.Logger
}

// NewSignatureValidator creates a signature validator.
func NewSignatureValidator(logger *zap.Logger) *SignatureValidator {
	return &SignatureValidator{logger: logger.With(zap.String("component", "signature_validator"))}
}

// Validate checks text against the attack-signature table. Each matching
// pattern adds severity*0.15 to the threat score, capped at 1.0. Text is
// unsafe once the score reaches 0.4. False positives are an accepted
// trade-off: this layer errs toward rejection.
func (v *SignatureValidator) Validate(text string) SignatureResult {
	var threats []Threat
	score := 0.0

	for _, sig := range attackSignatures {
		if sig.re.MatchString(text) {
			threats = append(threats, Threat{Type: sig.attackType, Severity: sig.severity})
			score += sig.severity * 0.15
		}
	}
	if score > 1.0 {
		score = 1.0
	}

	seen := make(map[string]struct{}, len(threats))
	var threatTypes []string
	for _, t := range threats {
		if _, ok := seen[t.Type]; !ok {
			seen[t.Type] = struct{}{}
			threatTypes = append(threatTypes, t.Type)
		}
	}

	result := SignatureResult{
		Safe:        score < signatureThreshold,
		ThreatTypes: threatTypes,
		ThreatScore: score,
		Threats:     threats,
	}

	if !result.Safe {
		v.logger.Warn("injection signatures matched",
			zap.Strings("threat_types", threatTypes),
			zap.Float64("threat_score", score))
	}
	return result
}
