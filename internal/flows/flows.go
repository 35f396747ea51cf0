// Package flows holds the chat pipelines: the canned mock answer, plain
// chat, and question answering over a podcast transcript.
package flows

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/suPer8Hu/podflix/internal/ai"
	"github.com/suPer8Hu/podflix/internal/config"
	"github.com/suPer8Hu/podflix/internal/graph"
)

const (
	NodeMockAnswer = "mock_answer"
	NodeChat       = "chat"
	NodeRetrieve   = "retrieve"
	NodeGenerate   = "generate"
)

// BaseChatSystemPrompt opens every base_chat conversation.
const BaseChatSystemPrompt = "You are a helpful assistant. Respond to user messages using markdown."

var MockResponses = []string{
	"This is a long response from the mock model for showing streaming capabilities",
	"I am a mock model",
	"I am a mock model too",
}

// Flow is a compiled pipeline plus the steps whose tokens reach the user.
type Flow struct {
	Graph       *graph.Graph
	StreamNodes []string
}

// Options configures Build. Provider is unused by the mock flow.
type Options struct {
	Provider ai.Provider
	Retrieve RetrieveOptions
	// Pick chooses a mock response index in [0, n). Defaults to rand.IntN.
	Pick func(n int) int
}

// Build compiles the flow for an app type.
func Build(appType string, opts Options) (Flow, error) {
	switch appType {
	case config.AppTypeMock:
		g, err := Mock(opts.Pick)
		return Flow{Graph: g, StreamNodes: []string{NodeMockAnswer}}, err
	case config.AppTypeBaseChat:
		g, err := BaseChat(opts.Provider)
		return Flow{Graph: g, StreamNodes: []string{NodeChat}}, err
	case config.AppTypeAudio:
		g, err := Podcast(opts.Provider, opts.Retrieve)
		return Flow{Graph: g, StreamNodes: []string{NodeGenerate}}, err
	default:
		return Flow{}, fmt.Errorf("flows: unknown app type %q", appType)
	}
}

// Mock answers with one of MockResponses, streamed word by word.
func Mock(pick func(n int) int) (*graph.Graph, error) {
	if pick == nil {
		pick = rand.IntN
	}
	answer := func(ctx context.Context, s graph.State, emit graph.Emitter) (graph.Update, error) {
		reply := MockResponses[pick(len(MockResponses))]
		for _, w := range ai.SplitWords(reply) {
			if err := emit(w); err != nil {
				return graph.Update{}, err
			}
		}
		return assistant(reply), nil
	}
	return graph.NewBuilder("mock").
		AddNode(NodeMockAnswer, answer).
		AddEdge(NodeMockAnswer, graph.End).
		SetEntry(NodeMockAnswer).
		Compile()
}

// BaseChat sends the whole message history to the model and streams the
// reply. The caller supplies the system prompt as the first message.
func BaseChat(p ai.Provider) (*graph.Graph, error) {
	if p == nil {
		return nil, fmt.Errorf("flows: base_chat needs a provider")
	}
	chat := func(ctx context.Context, s graph.State, emit graph.Emitter) (graph.Update, error) {
		reply, err := ai.Stream(ctx, p, s.Messages, emit)
		if err != nil {
			return graph.Update{}, err
		}
		return assistant(reply), nil
	}
	return graph.NewBuilder("base_chat").
		AddNode(NodeChat, chat).
		AddEdge(NodeChat, graph.End).
		SetEntry(NodeChat).
		Compile()
}

// Podcast narrows the transcript to the parts relevant to the question and
// answers from them.
func Podcast(p ai.Provider, opts RetrieveOptions) (*graph.Graph, error) {
	if p == nil {
		return nil, fmt.Errorf("flows: podcast needs a provider")
	}
	return graph.NewBuilder("podcast").
		AddNode(NodeRetrieve, retrieveNode(opts)).
		AddNode(NodeGenerate, generateNode(p)).
		AddEdge(NodeRetrieve, NodeGenerate).
		AddEdge(NodeGenerate, graph.End).
		SetEntry(NodeRetrieve).
		Compile()
}

func assistant(reply string) graph.Update {
	return graph.Update{Messages: []ai.Message{{Role: ai.RoleAssistant, Content: reply}}}
}
