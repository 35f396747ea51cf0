package transcript

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/suPer8Hu/podflix/internal/metrics"
)

// Whisper transcribes audio through an OpenAI-compatible speech-to-text API.
type Whisper struct {
	client *openai.Client
	model  string
}

// NewWhisper expects apiBase without the /v1 suffix.
func NewWhisper(apiBase, apiKey, model string) *Whisper {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(apiBase, "/") + "/v1"
	return &Whisper{client: openai.NewClientWithConfig(cfg), model: model}
}

// TranscribeFile sends the audio and maps verbose_json segments one to one.
func (w *Whisper) TranscribeFile(ctx context.Context, name string, r io.Reader) (Transcript, error) {
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: name,
		Reader:   r,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		metrics.Transcriptions.WithLabelValues(SourceAudio, "error").Inc()
		return Transcript{}, fmt.Errorf("transcribe %s: %w", name, err)
	}

	segs := make([]Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		segs = append(segs, Segment{ID: s.ID, Start: s.Start, End: s.End, Text: strings.TrimSpace(s.Text)})
	}
	if len(segs) == 0 {
		metrics.Transcriptions.WithLabelValues(SourceAudio, "empty").Inc()
		return Transcript{}, fmt.Errorf("transcribe %s: %w", name, ErrEmptyTranscript)
	}
	metrics.Transcriptions.WithLabelValues(SourceAudio, "ok").Inc()
	return Transcript{Text: strings.TrimSpace(resp.Text), Segments: segs}, nil
}
