package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIProvider speaks the chat-completions protocol to OpenAI or to any
// compatible server (vLLM, llama.cpp, LiteLLM, OpenRouter).
type OpenAIProvider struct {
	client   *openai.Client
	model    string
	settings GenerationSettings
}

// NewOpenAIProvider expects apiBase without the /v1 suffix.
func NewOpenAIProvider(apiBase, apiKey, model string, settings GenerationSettings) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if apiBase != "" {
		cfg.BaseURL = strings.TrimRight(apiBase, "/") + "/v1"
	}
	return &OpenAIProvider{
		client:   openai.NewClientWithConfig(cfg),
		model:    model,
		settings: settings,
	}
}

func (p *OpenAIProvider) buildRequest(messages []Message, stream bool) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    p.model,
		Stream:   stream,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	s := p.settings
	if s.Temperature != nil {
		req.Temperature = *s.Temperature
	}
	if s.MaxTokens != nil {
		req.MaxTokens = *s.MaxTokens
	}
	if s.TopP != nil {
		req.TopP = *s.TopP
	}
	if s.FrequencyPenalty != nil {
		req.FrequencyPenalty = *s.FrequencyPenalty
	}
	if s.PresencePenalty != nil {
		req.PresencePenalty = *s.PresencePenalty
	}
	if s.Seed != nil && *s.Seed >= 0 {
		seed := *s.Seed
		req.Seed = &seed
	}
	if s.N != nil && !stream {
		req.N = *s.N
	}
	if s.ResponseFormat == ResponseFormatJSONObject {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	req.LogProbs = s.LogProbs
	if len(s.Stop) > 0 {
		req.Stop = s.Stop
	}
	return req
}

func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(messages, false))
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		stream, err := p.client.CreateChatCompletionStream(ctx, p.buildRequest(messages, true))
		if err != nil {
			errs <- fmt.Errorf("openai: open stream: %w", err)
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				errs <- fmt.Errorf("openai: stream: %w", err)
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case chunks <- delta:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()

	return chunks, errs
}
