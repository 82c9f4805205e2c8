package ratelimit

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// EstimateTokens counts the tokens a text would consume upstream. Uses the
// cl100k_base encoding when its BPE data is available; otherwise falls back
// to the rough 4-characters-per-token heuristic, which overestimates slightly
// and therefore stays safe for budgeting.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}

	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}

	n := len(text) / 4
	if n < 1 {
		return 1
	}
	return n
}
