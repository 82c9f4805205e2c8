package guard

import (
	"strings"

	"github.com/agnivade/levenshtein"
	"go.uber.org/zap"

	"github.com/middesurya/metalquery/session"
)

// maxIdenticalQueries is the per-caller cap on repeats of the same question
// within the bounded history window.
const maxIdenticalQueries = 3

// fuzzyTolerance is the minimum similarity ratio for a token to count as a
// domain-keyword match.
const fuzzyTolerance = 0.75

const helpMessage = "Hello! I can help with manufacturing data questions.\n" +
	"Try: \"Show OEE for furnace 1 last week\", \"What is the average efficiency by shift?\" " +
	"or \"What is the EHS incident reporting process?\""

// IntentGuard is the multi-layer relevance filter. Layers run in a fixed
// order and short-circuit on the first rejection:
//
//	empty input
//	security (delegates to the signature validator)
//	gibberish and spam
//	greetings and meta questions
//	semantic validity
//	off-topic (general knowledge, programming, arithmetic)
//	domain relevance (phrase short-circuit, then fuzzy keyword match)
//	identical-query rate limiting over the caller's bounded history
type IntentGuard struct {
	signatures *SignatureValidator
	sessions   *session.Store
	logger     *zap.Logger
}

// NewIntentGuard creates an intent guard backed by the given session store.
func NewIntentGuard(signatures *SignatureValidator, sessions *session.Store, logger *zap.Logger) *IntentGuard {
	return &IntentGuard{
		signatures: signatures,
		sessions:   sessions,
		logger:     logger.With(zap.String("component", "intent_guard")),
	}
}

// Check runs every layer against the query. A rejection carries a distinct
// reason and a pre-authored caller-facing message; passing all layers yields
// an allow decision with confidence 0.95.
func (g *IntentGuard) Check(query, callerID string) Decision {
	// L0: empty input rejects before any layer runs.
	query = strings.TrimSpace(query)
	if query == "" {
		return reject(LayerIntent, RelevanceIrrelevant,
			"empty query", 1.0, "Please provide a question.")
	}

	if d, rejected := g.checkSecurity(query); rejected {
		return d
	}
	if d, rejected := g.checkGibberish(query); rejected {
		return d
	}
	if d, rejected := g.checkGreetingMeta(query); rejected {
		return d
	}
	if d, rejected := g.checkSemanticValidity(query); rejected {
		return d
	}
	if d, rejected := g.checkOffTopic(query); rejected {
		return d
	}
	if d, rejected := g.checkDomainRelevance(query); rejected {
		return d
	}
	if d, rejected := g.checkRepetition(query, callerID); rejected {
		return d
	}

	g.sessions.RecordQuery(callerID, query)
	return allow(LayerIntent, 0.95)
}

// L1: known security threat classes in the raw text.
func (g *IntentGuard) checkSecurity(query string) (Decision, bool) {
	for _, tp := range securityPatterns {
		if tp.re.MatchString(query) {
			g.logger.Warn("security threat in query", zap.String("threat_type", tp.threatType))
			d := reject(LayerIntent, RelevanceHarmful,
				"security threat detected: "+tp.threatType, 1.0,
				"I cannot process that request. Suspicious syntax detected.")
			d.Details = map[string]any{"threat_type": tp.threatType}
			return d, true
		}
	}
	if sig := g.signatures.Validate(query); !sig.Safe {
		d := reject(LayerIntent, RelevanceHarmful,
			"attack signatures matched: "+strings.Join(sig.ThreatTypes, ","), sig.ThreatScore,
			"I cannot process that request. Suspicious syntax detected.")
		d.Details = map[string]any{"threat_types": sig.ThreatTypes}
		return d, true
	}
	return Decision{}, false
}

// L2: gibberish patterns, excessive repetition, low character diversity.
func (g *IntentGuard) checkGibberish(query string) (Decision, bool) {
	clean := strings.ToLower(strings.TrimSpace(query))

	for _, re := range gibberishPatterns {
		if re.MatchString(clean) {
			return reject(LayerIntent, RelevanceSpam,
				"query appears to be gibberish or spam", 0.95,
				"I didn't understand that. Please ask a clear question about manufacturing data."), true
		}
	}
	if isRepeatedChar(clean) {
		return reject(LayerIntent, RelevanceSpam,
			"query appears to be gibberish or spam", 0.95,
			"I didn't understand that. Please ask a clear question about manufacturing data."), true
	}

	words := strings.Fields(clean)
	if len(words) > 3 {
		freq := make(map[string]int, len(words))
		maxFreq := 0
		for _, w := range words {
			freq[w]++
			if freq[w] > maxFreq {
				maxFreq = freq[w]
			}
		}
		if ratio := float64(maxFreq) / float64(len(words)); ratio > 0.4 {
			return reject(LayerIntent, RelevanceSpam,
				"excessive word repetition", 0.85,
				"Your query has too many repetitions. Please ask clearly."), true
		}
	}

	compact := strings.ReplaceAll(clean, " ", "")
	if len(compact) > 10 {
		unique := make(map[rune]struct{})
		for _, r := range compact {
			unique[r] = struct{}{}
		}
		if float64(len(unique))/float64(len(compact)) < 0.15 {
			return reject(LayerIntent, RelevanceObfuscated,
				"suspiciously low character diversity", 0.75,
				"I couldn't understand that query format. Please ask clearly."), true
		}
	}
	return Decision{}, false
}

// L3: minimum token count, action-word presence, suspicious vocabulary.
func (g *IntentGuard) checkSemanticValidity(query string) (Decision, bool) {
	lower := strings.ToLower(query)
	tokens := tokenPattern.FindAllString(lower, -1)

	if len(tokens) < 2 {
		return reject(LayerIntent, RelevanceIrrelevant,
			"query too short to be meaningful", 0.7,
			"Please provide more context in your question."), true
	}

	hasAction := false
	for _, t := range tokens {
		if _, ok := actionWords[t]; ok {
			hasAction = true
			break
		}
	}
	// Domain phrases make the query valid without an action word
	// ("explain about plant config").
	hasOverride := false
	for _, phrase := range domainOverridePhrases {
		if strings.Contains(lower, phrase) {
			hasOverride = true
			break
		}
	}
	if !hasAction && !hasOverride {
		return reject(LayerIntent, RelevanceIrrelevant,
			"no action word detected", 0.65,
			"Please start with an action word: Show, What, Get, How, Explain."), true
	}

	var suspicious []string
	for _, t := range tokens {
		if _, ok := suspiciousWords[t]; ok {
			suspicious = append(suspicious, t)
		}
	}
	if len(suspicious) > 0 {
		d := reject(LayerIntent, RelevanceIrrelevant,
			"suspicious non-domain terms: "+strings.Join(suspicious, ","), 0.75,
			"That doesn't look like a manufacturing data question.\nTry: \"Show OEE for furnace 1 last week\"")
		d.Details = map[string]any{"suspicious_words": suspicious}
		return d, true
	}
	return Decision{}, false
}

// L4: greetings and meta questions about the assistant.
func (g *IntentGuard) checkGreetingMeta(query string) (Decision, bool) {
	lower := strings.ToLower(strings.TrimSpace(query))

	for _, re := range greetingPatterns {
		if re.MatchString(lower) {
			return reject(LayerIntent, RelevanceGreeting,
				"greeting detected", 0.95, helpMessage), true
		}
	}
	for _, re := range metaPatterns {
		if re.MatchString(lower) {
			return reject(LayerIntent, RelevanceIrrelevant,
				"meta question about the assistant", 0.9,
				"I'm a manufacturing data assistant. Ask me about furnace, OEE, production or EHS data."), true
		}
	}
	return Decision{}, false
}

// L5: general knowledge, programming, and arithmetic questions.
func (g *IntentGuard) checkOffTopic(query string) (Decision, bool) {
	lower := strings.ToLower(query)

	for _, re := range generalKnowledgePatterns {
		if re.MatchString(lower) {
			return reject(LayerIntent, RelevanceIrrelevant,
				"general knowledge query (off-topic)", 0.9,
				"I specialize in manufacturing data. Ask about furnace, OEE, efficiency, production or defects."), true
		}
	}
	for _, re := range programmingPatterns {
		if re.MatchString(lower) {
			return reject(LayerIntent, RelevanceIrrelevant,
				"programming question detected", 0.9,
				"I'm not a programming assistant. I specialize in manufacturing data queries."), true
		}
	}
	for _, re := range mathPatterns {
		if re.MatchString(query) {
			return reject(LayerIntent, RelevanceIrrelevant,
				"arithmetic question detected", 0.9,
				"I'm not a calculator. I can only query manufacturing data.\nTry: \"Show OEE for furnace 1\""), true
		}
	}
	return Decision{}, false
}

// L6: domain relevance. Curated multi-word phrases short-circuit as an
// automatic pass; otherwise every token is fuzzy-matched against the two-tier
// domain vocabulary and zero matches reject the query.
func (g *IntentGuard) checkDomainRelevance(query string) (Decision, bool) {
	lower := strings.ToLower(query)

	for _, phrase := range domainPhrases {
		if strings.Contains(lower, phrase) {
			return Decision{}, false
		}
	}

	if len(fuzzyKeywordMatch(lower)) == 0 {
		return reject(LayerIntent, RelevanceIrrelevant,
			"no manufacturing domain keywords found", 0.8,
			"That doesn't seem to be about manufacturing data.\nTry: \"Show OEE for furnace 1 last week\""), true
	}
	return Decision{}, false
}

// L7: identical-query spam over the caller's bounded history.
func (g *IntentGuard) checkRepetition(query, callerID string) (Decision, bool) {
	if g.sessions.IdenticalCount(callerID, query) >= maxIdenticalQueries {
		g.logger.Warn("identical query limit hit", zap.String("caller_id", callerID))
		return reject(LayerIntent, RelevanceSpam,
			"too many identical queries", 0.95,
			"Please don't repeat the same question. Ask something different!"), true
	}
	return Decision{}, false
}

// fuzzyKeywordMatch finds domain keywords in the query with typo tolerance.
// Exact membership, known variant spellings, and edit-distance similarity
// above the tolerance all count.
func fuzzyKeywordMatch(lowerQuery string) []string {
	tokens := tokenPattern.FindAllString(lowerQuery, -1)
	matched := make(map[string]struct{})

	for _, token := range tokens {
		if canonical, ok := keywordVariants[token]; ok {
			matched[canonical] = struct{}{}
			continue
		}
		if containsKeyword(primaryKeywords, token) || containsKeyword(secondaryKeywords, token) {
			matched[token] = struct{}{}
			continue
		}
		if kw := closestKeyword(token); kw != "" {
			matched[kw] = struct{}{}
		}
	}

	result := make([]string, 0, len(matched))
	for kw := range matched {
		result = append(result, kw)
	}
	return result
}

// closestKeyword returns the best fuzzy domain-keyword match for a token, or
// empty when no keyword reaches the similarity tolerance.
func closestKeyword(token string) string {
	best := ""
	bestRatio := fuzzyTolerance
	for _, kw := range primaryKeywords {
		if r := similarity(token, kw); r >= bestRatio {
			best, bestRatio = kw, r
		}
	}
	for _, kw := range secondaryKeywords {
		if r := similarity(token, kw); r >= bestRatio {
			best, bestRatio = kw, r
		}
	}
	return best
}

// similarity maps Levenshtein distance to a [0,1] ratio comparable to
// difflib-style cutoffs.
func similarity(a, b string) float64 {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1.0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(maxLen)
}

func containsKeyword(list []string, token string) bool {
	for _, kw := range list {
		if kw == token {
			return true
		}
	}
	return false
}
