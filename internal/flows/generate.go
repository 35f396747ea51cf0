package flows

import (
	"context"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"

	"github.com/suPer8Hu/podflix/internal/ai"
	"github.com/suPer8Hu/podflix/internal/graph"
)

var answerPrompt = prompts.NewChatPromptTemplate([]prompts.MessageFormatter{
	prompts.NewSystemMessagePromptTemplate("Use the following context to answer the question: {{.context}}", []string{"context"}),
	prompts.NewHumanMessagePromptTemplate("{{.question}}", []string{"question"}),
})

// RenderAnswerPrompt builds the messages sent to the model for one question.
func RenderAnswerPrompt(transcript, question string) ([]ai.Message, error) {
	msgs, err := answerPrompt.FormatMessages(map[string]any{"context": transcript, "question": question})
	if err != nil {
		return nil, err
	}
	out := make([]ai.Message, 0, len(msgs))
	for _, m := range msgs {
		role := ai.RoleUser
		switch m.GetType() {
		case llms.ChatMessageTypeSystem:
			role = ai.RoleSystem
		case llms.ChatMessageTypeAI:
			role = ai.RoleAssistant
		}
		out = append(out, ai.Message{Role: role, Content: m.GetContent()})
	}
	return out, nil
}

func generateNode(p ai.Provider) graph.NodeFunc {
	return func(ctx context.Context, s graph.State, emit graph.Emitter) (graph.Update, error) {
		msgs, err := RenderAnswerPrompt(s.Context, s.LastUserMessage())
		if err != nil {
			return graph.Update{}, err
		}
		reply, err := ai.Stream(ctx, p, msgs, emit)
		if err != nil {
			return graph.Update{}, err
		}
		return assistant(reply), nil
	}
}
