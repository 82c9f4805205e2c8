package guard

// Layer identifies which guard layer produced a decision.
type Layer string

const (
	LayerSignature Layer = "signature"
	LayerFlipping  Layer = "flipping"
	LayerIntent    Layer = "intent"
	LayerRate      Layer = "rate"
	LayerSQL       Layer = "sql"
	LayerRBAC      Layer = "rbac"
	LayerAnomaly   Layer = "anomaly"
	LayerRedTeam   Layer = "redteam"
)

// Relevance classifies why the intent guard accepted or rejected a query.
type Relevance string

const (
	RelevanceRelevant   Relevance = "relevant"
	RelevanceIrrelevant Relevance = "irrelevant"
	RelevanceHarmful    Relevance = "harmful"
	RelevanceGreeting   Relevance = "greeting"
	RelevanceObfuscated Relevance = "obfuscated"
	RelevanceSpam       Relevance = "spam"
)

// Decision is the outcome of one guard layer for one request. Produced fresh
// per call and never mutated afterwards.
type Decision struct {
	Allowed    bool
	Layer      Layer
	Relevance  Relevance
	Reason     string
	Confidence float64
	// UserMessage is the pre-authored caller-facing text for rejections. The
	// internal Reason may contain pattern-matching detail and must never be
	// surfaced to the caller directly.
	UserMessage string
	Details     map[string]any
}

func allow(layer Layer, confidence float64) Decision {
	return Decision{
		Allowed:    true,
		Layer:      layer,
		Relevance:  RelevanceRelevant,
		Reason:     "passed all validation layers",
		Confidence: confidence,
	}
}

func reject(layer Layer, rel Relevance, reason string, confidence float64, userMessage string) Decision {
	return Decision{
		Allowed:     false,
		Layer:       layer,
		Relevance:   rel,
		Reason:      reason,
		Confidence:  confidence,
		UserMessage: userMessage,
	}
}
