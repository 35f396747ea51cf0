package ai

import (
	"context"
	"strings"
)

// MockProvider echoes the latest user message. It lets the base chat
// pipeline run without a model server.
type MockProvider struct {
	Prefix string
}

func (p *MockProvider) reply(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return p.Prefix + messages[i].Content
		}
	}
	return p.Prefix
}

func (p *MockProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.reply(messages), nil
}

func (p *MockProvider) StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		for _, w := range SplitWords(p.reply(messages)) {
			select {
			case chunks <- w:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()
	return chunks, errs
}

// SplitWords cuts s into chunks that concatenate back to s, one word and its
// trailing space per chunk.
func SplitWords(s string) []string {
	var out []string
	for s != "" {
		i := strings.IndexByte(s, ' ')
		if i < 0 {
			out = append(out, s)
			break
		}
		out = append(out, s[:i+1])
		s = s[i+1:]
	}
	return out
}
