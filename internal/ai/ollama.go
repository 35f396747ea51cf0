package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaProvider talks to Ollama's native /api/chat endpoint (NDJSON stream).
type OllamaProvider struct {
	BaseURL  string
	Model    string
	Settings GenerationSettings
	Client   *http.Client
}

func NewOllamaProvider(baseURL, model string, settings GenerationSettings) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3:latest"
	}
	return &OllamaProvider{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Model:    model,
		Settings: settings,
		Client:   &http.Client{Timeout: 90 * time.Second},
	}
}

type ollamaMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature      *float32 `json:"temperature,omitempty"`
	TopP             *float32 `json:"top_p,omitempty"`
	NumPredict       *int     `json:"num_predict,omitempty"`
	Seed             *int     `json:"seed,omitempty"`
	FrequencyPenalty *float32 `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float32 `json:"presence_penalty,omitempty"`
	Stop             []string `json:"stop,omitempty"`
}

func (o *ollamaOptions) empty() bool {
	return o.Temperature == nil && o.TopP == nil && o.NumPredict == nil && o.Seed == nil &&
		o.FrequencyPenalty == nil && o.PresencePenalty == nil && len(o.Stop) == 0
}

type ollamaChatReq struct {
	Model    string         `json:"model"`
	Messages []ollamaMsg    `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  *ollamaOptions `json:"options,omitempty"`
}

type ollamaChatResp struct {
	Message ollamaMsg `json:"message"`
	Done    bool      `json:"done"`
	Error   string    `json:"error,omitempty"`
}

func (p *OllamaProvider) request(ctx context.Context, messages []Message, stream bool) (*http.Request, error) {
	body := ollamaChatReq{
		Model:    p.Model,
		Stream:   stream,
		Messages: make([]ollamaMsg, 0, len(messages)),
	}
	for _, m := range messages {
		body.Messages = append(body.Messages, ollamaMsg{Role: m.Role, Content: m.Content})
	}

	s := p.Settings
	if s.ResponseFormat == ResponseFormatJSONObject {
		body.Format = "json"
	}
	opts := &ollamaOptions{
		Temperature:      s.Temperature,
		TopP:             s.TopP,
		NumPredict:       s.MaxTokens,
		FrequencyPenalty: s.FrequencyPenalty,
		PresencePenalty:  s.PresencePenalty,
		Stop:             s.Stop,
	}
	// -1 means "random" to the UI; Ollama wants the field absent
	if s.Seed != nil && *s.Seed >= 0 {
		opts.Seed = s.Seed
	}
	if !opts.empty() {
		body.Options = opts
	}

	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/api/chat", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (p *OllamaProvider) do(req *http.Request, client *http.Client) (*http.Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		resp.Body.Close()
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			return nil, fmt.Errorf("ollama: status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("ollama: status %d: %s", resp.StatusCode, msg)
	}
	return resp, nil
}

func (p *OllamaProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	if p.Client == nil {
		return "", errors.New("ollama: http client is nil")
	}
	req, err := p.request(ctx, messages, false)
	if err != nil {
		return "", err
	}
	resp, err := p.do(req, p.Client)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var decoded ollamaChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if decoded.Error != "" {
		return "", errors.New(decoded.Error)
	}
	return decoded.Message.Content, nil
}

// StreamChat streams assistant content chunks.
// It returns immediately with two channels; both will be closed when streaming ends.
func (p *OllamaProvider) StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		if p.Client == nil {
			errs <- errors.New("ollama: http client is nil")
			return
		}
		req, err := p.request(ctx, messages, true)
		if err != nil {
			errs <- err
			return
		}

		// streaming can outlive the client timeout; ctx bounds it instead
		client := p.Client
		if client.Timeout > 0 {
			c := *client
			c.Timeout = 0
			client = &c
		}

		resp, err := p.do(req, client)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

		for sc.Scan() {
			line := sc.Bytes()
			if len(line) == 0 {
				continue
			}

			var decoded ollamaChatResp
			if err := json.Unmarshal(line, &decoded); err != nil {
				errs <- err
				return
			}
			if decoded.Error != "" {
				errs <- errors.New(decoded.Error)
				return
			}

			if decoded.Message.Content != "" {
				select {
				case chunks <- decoded.Message.Content:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}

			if decoded.Done {
				return
			}
		}

		if err := sc.Err(); err != nil {
			errs <- err
		}
	}()

	return chunks, errs
}
