package guard

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Flip-attack detection thresholds.
const (
	flipConfidenceThreshold = 0.65
	flipModeThreshold       = 0.6
)

// Flipping modes.
const (
	ModeWordOrder      = "word_order"       // "bomb a build to how"
	ModeCharInWord     = "char_in_word"     // "woH ot dliub a bmob"
	ModeCharInSentence = "char_in_sentence" // full reversal
	ModeFoolModel      = "fool_model"       // conflicting flip instructions
)

// FlipResult is the outcome of a flip-attack scan.
type FlipResult struct {
	Flipped       bool               `json:"is_flipped"`
	Confidence    float64            `json:"confidence"`
	DetectedModes []string           `json:"detected_modes"`
	Scores        map[string]float64 `json:"individual_scores"`
}

// FlippingDetector detects prompt-flipping obfuscation: attacks that reorder
// words or characters to slip harmful intent past keyword filters. Running the
// reverse transform and re-checking the same harmful-keyword table catches
// this cheaply without a language model.
type FlippingDetector struct {
	logger *zap.Logger
}

// NewFlippingDetector creates a flipping detector.
func NewFlippingDetector(logger *zap.Logger) *FlippingDetector {
	return &FlippingDetector{logger: logger.With(zap.String("component", "flipping_detector"))}
}

// Detect runs the four flip heuristics and combines them by max. Pure
// function; no persisted state.
func (d *FlippingDetector) Detect(text string) FlipResult {
	words := strings.Fields(text)

	scores := map[string]float64{
		ModeWordOrder:      checkWordOrderReversal(words),
		ModeCharInWord:     checkCharReversal(words),
		ModeCharInSentence: checkFullReversal(text),
		ModeFoolModel:      checkFoolModel(text),
	}

	confidence := 0.0
	var modes []string
	for mode, score := range scores {
		if score > confidence {
			confidence = score
		}
		if score > flipModeThreshold {
			modes = append(modes, mode)
		}
	}

	result := FlipResult{
		Flipped:       confidence > flipConfidenceThreshold,
		Confidence:    confidence,
		DetectedModes: modes,
		Scores:        scores,
	}

	if result.Flipped {
		d.logger.Warn("flip attack detected",
			zap.Strings("modes", modes),
			zap.Float64("confidence", confidence))
	}
	return result
}

// checkWordOrderReversal reverses the word sequence and counts harmful-keyword
// hits in the result; 0.25 per hit, capped at 1.0.
func checkWordOrderReversal(words []string) float64 {
	reversed := make([]string, len(words))
	for i, w := range words {
		reversed[len(words)-1-i] = w
	}
	text := strings.ToLower(strings.Join(reversed, " "))

	hits := 0
	for kw := range harmfulKeywords {
		if strings.Contains(text, kw) {
			hits++
		}
	}
	return capScore(float64(hits) * 0.25)
}

var nonWordChars = regexp.MustCompile(`[^\w]`)

// checkCharReversal reverses the characters of each word (length > 2) and
// checks membership in the harmful-keyword set; 0.4 per hit, capped at 1.0.
func checkCharReversal(words []string) float64 {
	hits := 0
	for _, w := range words {
		clean := nonWordChars.ReplaceAllString(w, "")
		if len(clean) <= 2 {
			continue
		}
		if _, ok := harmfulKeywords[strings.ToLower(reverseString(clean))]; ok {
			hits++
		}
	}
	return capScore(float64(hits) * 0.4)
}

var longLowercaseRun = regexp.MustCompile(`[a-z]{5,}`)

// checkFullReversal detects full-sentence character reversal. The whole text
// is reversed and re-scanned against the harmful-keyword table (0.5 per hit);
// on top of that, the ratio of unusually long unbroken lowercase runs to total
// tokens serves as an anomaly proxy for obfuscated text that avoids true
// perplexity modeling.
func checkFullReversal(text string) float64 {
	total := len(tokenPattern.FindAllString(text, -1))
	if total == 0 {
		return 0.0
	}
	unusual := len(longLowercaseRun.FindAllString(text, -1))
	proxy := float64(unusual) / float64(total)

	reversed := strings.ToLower(reverseString(text))
	hits := 0
	for kw := range harmfulKeywords {
		if strings.Contains(reversed, kw) {
			hits++
		}
	}
	return capScore(float64(hits)*0.5 + proxy)
}

// checkFoolModel catches meta-requests that ask the model to flip word order,
// a conflicting-instruction pattern used to weaponize the reversal itself.
func checkFoolModel(text string) float64 {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "flip") &&
		strings.Contains(text, "word") && !strings.Contains(text, "character") {
		return 0.5
	}
	return 0.0
}

func reverseString(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}

func capScore(s float64) float64 {
	if s > 1.0 {
		return 1.0
	}
	return s
}
