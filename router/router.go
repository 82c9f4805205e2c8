// Package router classifies accepted questions as structured-data requests
// (answered with generated SQL) or knowledge requests (answered from process
// documentation). Pure keyword and phrase scoring; degrades gracefully with
// no model in the loop.
package router

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Category is the routing outcome for a question.
type Category string

const (
	CategoryStructured Category = "structured-data"
	CategoryKnowledge  Category = "knowledge"
	CategoryUnknown    Category = "unknown"
)

// maxConfidence caps routing confidence; keyword scoring is never certain.
const maxConfidence = 0.95

// Keywords that suggest structured-data queries. Multi-word phrases score by
// word count, so more specific phrases weigh more.
var structuredKeywords = []string{
	"show", "get", "list", "display", "how many", "what is",
	"total", "average", "sum", "count", "minimum", "maximum",
	"oee", "efficiency", "yield", "downtime", "mtbf", "mttr",
	"output", "defect", "incidents", "energy", "production",
	"last week", "last month", "last year", "yesterday", "today", "between",
	"last 7 days", "last 30 days", "last 90 days", "last 365 days",
	"january", "february", "march", "april", "may", "june",
	"july", "august", "september", "october", "november", "december",
	"furnace 1", "furnace 2", "furnace 3", "furnace no",
	"by furnace", "per furnace", "by date", "trend", "compare",
}

// KPI metric vocabulary: "what is <metric>" routes to structured data.
var metricVocabulary = []string{
	"oee", "efficiency", "yield", "downtime", "mtbf", "mttr", "mtbs",
	"production", "energy", "defect", "output", "cycle time",
	"maintenance compliance", "first pass yield", "rework rate",
	"capacity utilization", "on time delivery", "safety incidents",
}

// Keywords that suggest documentation/knowledge queries. Weighted double:
// documentation phrases are rarer and thus more diagnostic.
var knowledgeKeywords = []string{
	"how to", "how do", "what is the process", "what are the steps",
	"procedure", "workflow", "guidelines", "policy", "rule",
	"define", "definition", "meaning", "explain", "describe",
	"what does", "what is a", "tell me about",
	"what is ehs", "what is brd", "what is sop",
	"ehs", "environment health safety", "incident reporting", "safety reporting",
	"requirement", "specification", "brd", "document",
	"configure", "configuration", "setup", "setting",
	"role", "permission", "access", "user access", "who can",
	"report format", "report structure", "report fields",
	"master data", "material maintenance", "grading plan",
	"lab analysis", "spout analysis", "tap analysis", "raw material analysis",
	"log book", "tap hole log", "furnace bed", "downtime log",
}

// Concept vocabulary: "what is <concept>" is always a documentation question,
// checked before the metric vocabulary because concept phrases are more
// specific than generic metric phrases.
var conceptVocabulary = []string{
	"ehs", "sop", "brd", "policy", "procedure", "guideline",
	"workflow", "configuration", "requirement",
}

var (
	whatIsPattern      = regexp.MustCompile(`what (is|are|was|were)`)
	explainPattern     = regexp.MustCompile(`^\s*(explain|describe|tell me about)\b|^(what|how) does\b`)
	dimensionPattern   = regexp.MustCompile(`\b(show|display|list|get)\b.*\b(by|per)\s+(furnace|shift|date|day|month|week)`)
	aggregationPattern = regexp.MustCompile(`\b(average|avg|total|sum|count|max|maximum|min|minimum|trend)\b.*\b(oee|efficiency|yield|downtime|defect|production|energy|output|incidents)\b`)
	numeralPattern     = regexp.MustCompile(`\b\d+\b`)
	unitPattern        = regexp.MustCompile(`(percentage|%|hours|tons|kwh)`)
	howToPattern       = regexp.MustCompile(`how (to|do|does|can|should)`)
)

// Router routes questions by priority rules first, falling back to weighted
// keyword scoring when no rule fires.
type Router struct {
	logger *zap.Logger
}

// New creates a query router.
func New(logger *zap.Logger) *Router {
	return &Router{logger: logger.With(zap.String("component", "query_router"))}
}

// Route determines the question's category and a confidence in [0, 0.95].
//
// Priority rules, first match wins:
//  1. Explanatory phrasing ("explain", "describe", "tell me about",
//     leading "what/how does") -> knowledge, 0.95.
//  2. "what is <concept>" over the concept vocabulary -> knowledge, 0.90.
//  3. "what is <metric>" over the KPI vocabulary -> structured-data, 0.90.
//  4. "show/list/get X by <dimension>" -> structured-data, 0.92.
//  5. Aggregation verb + KPI noun -> structured-data, 0.91.
//
// Generic scoring alone misclassifies "what is the EHS process" (knowledge)
// vs "what is the OEE for furnace 1" (structured) because both start
// identically; the explicit vocabularies resolve that before the noisier
// fallback runs.
func (r *Router) Route(question string) (Category, float64) {
	lower := strings.ToLower(strings.TrimSpace(question))

	if explainPattern.MatchString(lower) {
		return CategoryKnowledge, 0.95
	}

	if whatIsPattern.MatchString(lower) {
		for _, concept := range conceptVocabulary {
			if strings.Contains(lower, concept) {
				return CategoryKnowledge, 0.90
			}
		}
		for _, metric := range metricVocabulary {
			if strings.Contains(lower, metric) {
				r.logger.Debug("routed to structured data",
					zap.String("rule", "what_is_metric"), zap.String("metric", metric))
				return CategoryStructured, 0.90
			}
		}
	}

	if dimensionPattern.MatchString(lower) {
		return CategoryStructured, 0.92
	}
	if aggregationPattern.MatchString(lower) {
		return CategoryStructured, 0.91
	}

	return r.scoreFallback(lower)
}

// scoreFallback scores the question against both keyword vocabularies and
// picks the higher side.
func (r *Router) scoreFallback(lower string) (Category, float64) {
	structuredScore := 0
	knowledgeScore := 0

	for _, kw := range structuredKeywords {
		if strings.Contains(lower, kw) {
			structuredScore += len(strings.Fields(kw))
		}
	}
	for _, kw := range knowledgeKeywords {
		if strings.Contains(lower, kw) {
			knowledgeScore += len(strings.Fields(kw)) * 2
		}
	}
	for _, concept := range conceptVocabulary {
		if strings.Contains(lower, concept) {
			knowledgeScore += 5
		}
	}

	if numeralPattern.MatchString(lower) {
		structuredScore += 2
	}
	if unitPattern.MatchString(lower) {
		structuredScore += 3
	}
	if howToPattern.MatchString(lower) {
		knowledgeScore += 5
	}
	if strings.Contains(lower, "process") && !strings.Contains(lower, "production") {
		knowledgeScore += 3
	}

	total := structuredScore + knowledgeScore
	if total == 0 {
		return CategoryUnknown, 0.0
	}

	switch {
	case structuredScore > knowledgeScore:
		return CategoryStructured, capConfidence(float64(structuredScore) / float64(total))
	case knowledgeScore > structuredScore:
		return CategoryKnowledge, capConfidence(float64(knowledgeScore) / float64(total))
	default:
		return CategoryUnknown, 0.5
	}
}

// Explain reports which keywords drove a routing decision, for debugging.
func (r *Router) Explain(question string) string {
	category, confidence := r.Route(question)
	lower := strings.ToLower(question)

	var matchedStructured, matchedKnowledge []string
	for _, kw := range structuredKeywords {
		if strings.Contains(lower, kw) {
			matchedStructured = append(matchedStructured, kw)
		}
	}
	for _, kw := range knowledgeKeywords {
		if strings.Contains(lower, kw) {
			matchedKnowledge = append(matchedKnowledge, kw)
		}
	}
	sort.Strings(matchedStructured)
	sort.Strings(matchedKnowledge)

	return fmt.Sprintf("category: %s (confidence %.2f)\nstructured keywords: %v\nknowledge keywords: %v",
		category, confidence, matchedStructured, matchedKnowledge)
}

func capConfidence(c float64) float64 {
	if c > maxConfidence {
		return maxConfidence
	}
	return c
}
