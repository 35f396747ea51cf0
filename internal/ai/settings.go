package ai

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	ResponseFormatText       = "text"
	ResponseFormatJSONObject = "json_object"
)

// GenerationSettings are the per-session knobs of the base chat model.
// Nil fields leave the provider default in place.
type GenerationSettings struct {
	Model            string   `json:"model,omitempty"`
	Temperature      *float32 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxTokens        *int     `json:"max_tokens,omitempty" validate:"omitempty,gte=1,lte=32000"`
	TopP             *float32 `json:"top_p,omitempty" validate:"omitempty,gte=0,lte=1"`
	FrequencyPenalty *float32 `json:"frequency_penalty,omitempty" validate:"omitempty,gte=-2,lte=2"`
	PresencePenalty  *float32 `json:"presence_penalty,omitempty" validate:"omitempty,gte=-2,lte=2"`
	Seed             *int     `json:"seed,omitempty" validate:"omitempty,gte=-1"`
	N                *int     `json:"n,omitempty" validate:"omitempty,gte=1,lte=5"`
	ResponseFormat   string   `json:"response_format,omitempty" validate:"omitempty,oneof=text json_object"`
	LogProbs         bool     `json:"logprobs,omitempty"`
	Stop             []string `json:"stop,omitempty" validate:"omitempty,max=4"`
}

var settingsValidate = validator.New()

var openAIModels = []string{"gpt-3.5-turbo", "gpt-4", "gpt-4o-mini"}

// AvailableModels lists the models a session may pick. Self-hosted servers
// expose only the configured model.
func AvailableModels(openAIEnabled bool, configured string) []string {
	if openAIEnabled {
		return append([]string(nil), openAIModels...)
	}
	return []string{configured}
}

func DefaultModel(openAIEnabled bool, configured string) string {
	if openAIEnabled {
		return "gpt-4o-mini"
	}
	return configured
}

// DefaultSettings mirrors the sliders offered on a fresh base chat session.
func DefaultSettings(model string) GenerationSettings {
	temp := float32(0.7)
	maxTokens := 2000
	topP := float32(1)
	zero := float32(0)
	seed := -1
	n := 1
	return GenerationSettings{
		Model:            model,
		Temperature:      &temp,
		MaxTokens:        &maxTokens,
		TopP:             &topP,
		FrequencyPenalty: &zero,
		PresencePenalty:  &zero,
		Seed:             &seed,
		N:                &n,
		ResponseFormat:   ResponseFormatText,
	}
}

func (s GenerationSettings) Validate() error {
	err := settingsValidate.Struct(s)
	if err == nil {
		return nil
	}
	var fe validator.ValidationErrors
	if !errors.As(err, &fe) {
		return err
	}
	parts := make([]string, 0, len(fe))
	for _, e := range fe {
		parts = append(parts, fmt.Sprintf("%s %s=%s", strings.ToLower(e.Field()), e.Tag(), e.Param()))
	}
	return fmt.Errorf("invalid generation settings: %s", strings.Join(parts, ", "))
}

// Merge overlays the non-empty fields of o onto s.
func (s GenerationSettings) Merge(o GenerationSettings) GenerationSettings {
	if o.Model != "" {
		s.Model = o.Model
	}
	if o.Temperature != nil {
		s.Temperature = o.Temperature
	}
	if o.MaxTokens != nil {
		s.MaxTokens = o.MaxTokens
	}
	if o.TopP != nil {
		s.TopP = o.TopP
	}
	if o.FrequencyPenalty != nil {
		s.FrequencyPenalty = o.FrequencyPenalty
	}
	if o.PresencePenalty != nil {
		s.PresencePenalty = o.PresencePenalty
	}
	if o.Seed != nil {
		s.Seed = o.Seed
	}
	if o.N != nil {
		s.N = o.N
	}
	if o.ResponseFormat != "" {
		s.ResponseFormat = o.ResponseFormat
	}
	if o.LogProbs {
		s.LogProbs = true
	}
	if len(o.Stop) > 0 {
		s.Stop = o.Stop
	}
	return s
}
