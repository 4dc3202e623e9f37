// Package budget estimates prompt sizes and trims conversation history so a
// grounded prompt fits the chat model's context window. Documents may be in
// any language and tokenizers differ per backend, so estimation counts runes
// with a fixed ratio instead of calling a tokenizer.
package budget

import (
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
)

const (
	// runesPerToken is the rune-to-token ratio used for estimation.
	runesPerToken = 4

	// messageOverhead is the per-message framing cost charged by chat APIs.
	messageOverhead = 4

	// DefaultMaxContextTokens is the default prompt budget in tokens. It fits
	// 8k-context models with room left for the answer.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s. Any non-empty string costs at
// least one token.
func Estimate(s string) int {
	runes := utf8.RuneCountInString(s)
	n := runes / runesPerToken
	if n == 0 && runes > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count of msgs, charging
// role, content and framing overhead for each.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverhead + Estimate(string(m.Role)) + Estimate(m.Content)
	}
	return total
}

// Remaining returns how many tokens of maxTokens are left after fixed.
// The result is negative when fixed alone is over budget.
func Remaining(fixed []*schema.Message, maxTokens int) int {
	return maxTokens - EstimateMessages(fixed)
}

// TrimHistory drops the oldest history messages until fixed plus history
// fits within maxTokens. fixed (system prompt with retrieved context, current
// question) is never trimmed. A history that would start with an assistant
// reply after trimming loses that reply too, so the model never sees an
// answer without its question.
func TrimHistory(fixed, history []*schema.Message, maxTokens int) []*schema.Message {
	if len(history) == 0 {
		return history
	}

	left := Remaining(fixed, maxTokens)
	size := EstimateMessages(history)
	for len(history) > 0 && size > left {
		size -= EstimateMessages(history[:1])
		history = history[1:]
	}
	for len(history) > 0 && history[0].Role == schema.Assistant {
		history = history[1:]
	}
	return history
}
