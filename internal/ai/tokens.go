package ai

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// perMessageOverhead approximates the role and separator tokens the chat
// format adds around each message.
const perMessageOverhead = 4

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
	codecErr  error
)

func defaultCodec() (tokenizer.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codec, codecErr
}

// CountTokens estimates the prompt size of messages. When the tokenizer is
// unavailable it falls back to four characters per token.
func CountTokens(messages []Message) int {
	c, err := defaultCodec()
	total := 0
	for _, m := range messages {
		total += perMessageOverhead
		if err != nil {
			total += len(m.Content)/4 + 1
			continue
		}
		ids, _, cerr := c.Encode(m.Content)
		n := len(ids)
		if cerr != nil {
			n = len(m.Content)/4 + 1
		}
		total += n
	}
	return total
}

// TrimToTokenBudget drops the oldest non-system messages until the rest fit
// in budget. System messages and the newest message are always kept.
func TrimToTokenBudget(messages []Message, budget int) []Message {
	if budget <= 0 || CountTokens(messages) <= budget {
		return messages
	}

	var system, rest []Message
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}
	for len(rest) > 1 && CountTokens(append(append([]Message(nil), system...), rest...)) > budget {
		rest = rest[1:]
	}
	return append(system, rest...)
}
