package ai

import (
	"context"
	"errors"
	"strings"
)

// StreamProvider is an optional interface. Providers may implement streaming chat.
// Both channels are closed when streaming ends; errs carries at most one error.
type StreamProvider interface {
	StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error)
}

var ErrStreamUnsupported = errors.New("provider does not support streaming")

// Stream calls emit for every chunk and returns the assembled reply. Providers
// without streaming support fall back to a single Chat call.
func Stream(ctx context.Context, p Provider, messages []Message, emit func(string) error) (string, error) {
	sp, ok := p.(StreamProvider)
	if !ok {
		reply, err := p.Chat(ctx, messages)
		if err != nil {
			return "", err
		}
		if reply != "" {
			if err := emit(reply); err != nil {
				return "", err
			}
		}
		return reply, nil
	}

	chunks, errs := sp.StreamChat(ctx, messages)
	var b strings.Builder
	for c := range chunks {
		b.WriteString(c)
		if err := emit(c); err != nil {
			// drain so the producer goroutine can exit
			for range chunks {
			}
			return "", err
		}
	}
	if err := <-errs; err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return b.String(), nil
}
