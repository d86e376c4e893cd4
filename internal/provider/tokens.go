package provider

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// estimateTokens approximates the token count of text for usage
// normalization when a provider omits its counts. Uses the cl100k_base
// encoding when available and a bytes/4 heuristic otherwise (encoding data
// may be unavailable offline).
func estimateTokens(text string) int {
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
	return (len(text) + 3) / 4
}

// normalizeUsage fills missing token counts with zero or an estimate and
// flags the result so callers can distinguish trustworthy from best-guess
// accounting.
func normalizeUsage(raw *GenerateResult, promptText string) Usage {
	usage := Usage{}
	if raw.InputTokens != nil {
		usage.InputTokens = *raw.InputTokens
	} else {
		usage.InputTokens = estimateTokens(promptText)
		usage.Normalized = true
	}
	if raw.OutputTokens != nil {
		usage.OutputTokens = *raw.OutputTokens
	} else {
		usage.OutputTokens = estimateTokens(raw.Text)
		usage.Normalized = true
	}
	if raw.TotalTokens != nil {
		usage.TotalTokens = *raw.TotalTokens
	} else {
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
		usage.Normalized = true
	}
	return usage
}
