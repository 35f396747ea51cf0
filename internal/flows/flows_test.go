package flows

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/podflix/internal/ai"
	"github.com/suPer8Hu/podflix/internal/config"
	"github.com/suPer8Hu/podflix/internal/graph"
)

type recordingProvider struct {
	got   []ai.Message
	reply string
}

func (r *recordingProvider) Chat(ctx context.Context, msgs []ai.Message) (string, error) {
	r.got = msgs
	return r.reply, nil
}

func tokensOf(t *testing.T, g *graph.Graph, in graph.State) (map[string][]string, graph.State) {
	t.Helper()
	events, errs := g.Stream(context.Background(), in, graph.RunConfig{})
	byNode := map[string][]string{}
	for ev := range events {
		if ev.Kind == graph.EventToken {
			byNode[ev.Node] = append(byNode[ev.Node], ev.Text)
		}
	}
	require.NoError(t, <-errs)
	final, err := g.Invoke(context.Background(), in, graph.RunConfig{})
	require.NoError(t, err)
	return byNode, final
}

func question(q string) graph.State {
	return graph.State{Messages: []ai.Message{{Role: ai.RoleUser, Content: q}}}
}

func TestMock_StreamsChosenResponse(t *testing.T) {
	g, err := Mock(func(n int) int {
		assert.Equal(t, len(MockResponses), n)
		return 0
	})
	require.NoError(t, err)

	toks, final := tokensOf(t, g, question("Hello"))
	assert.Equal(t, MockResponses[0], strings.Join(toks[NodeMockAnswer], ""))
	assert.Greater(t, len(toks[NodeMockAnswer]), 1)
	assert.Equal(t, MockResponses[0], final.Messages[len(final.Messages)-1].Content)
}

func TestMock_DefaultPickStaysInRange(t *testing.T) {
	g, err := Mock(nil)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		out, err := g.Invoke(context.Background(), question("hi"), graph.RunConfig{})
		require.NoError(t, err)
		assert.Contains(t, MockResponses, out.Messages[1].Content)
	}
}

func TestBaseChat_SendsHistory(t *testing.T) {
	p := &recordingProvider{reply: "**sure**"}
	g, err := BaseChat(p)
	require.NoError(t, err)

	in := graph.State{Messages: []ai.Message{
		{Role: ai.RoleSystem, Content: BaseChatSystemPrompt},
		{Role: ai.RoleUser, Content: "Tell me about yourself."},
	}}
	toks, final := tokensOf(t, g, in)
	assert.Equal(t, in.Messages, p.got)
	assert.Equal(t, []string{"**sure**"}, toks[NodeChat])
	assert.Len(t, final.Messages, 3)
}

func TestRenderAnswerPrompt(t *testing.T) {
	msgs, err := RenderAnswerPrompt("RAG is retrieval.", "What is RAG?")
	require.NoError(t, err)
	assert.Equal(t, []ai.Message{
		{Role: ai.RoleSystem, Content: "Use the following context to answer the question: RAG is retrieval."},
		{Role: ai.RoleUser, Content: "What is RAG?"},
	}, msgs)
}

func TestPodcast_ShortTranscriptPassesThrough(t *testing.T) {
	p := &recordingProvider{reply: "It is a method."}
	g, err := Podcast(p, RetrieveOptions{MaxChars: 1000})
	require.NoError(t, err)
	assert.Equal(t, []string{NodeRetrieve, NodeGenerate}, g.Path())

	in := question("What can you tell me about RAG?")
	in.Context = "RAG is a method for generating responses based on retrieved context."
	toks, final := tokensOf(t, g, in)

	require.Len(t, p.got, 2)
	assert.Equal(t, "Use the following context to answer the question: "+in.Context, p.got[0].Content)
	assert.Equal(t, in.Messages[0].Content, p.got[1].Content)
	assert.Empty(t, toks[NodeRetrieve])
	assert.Equal(t, []string{"It is a method."}, toks[NodeGenerate])
	assert.Equal(t, in.Context, final.Context)
}

func TestSelectChunks_KeepsOverlappingChunksInOrder(t *testing.T) {
	paras := []string{
		strings.Repeat("weather sunny today. ", 8),
		strings.Repeat("guitar amplifier tone settings. ", 8),
		strings.Repeat("football match score. ", 8),
		strings.Repeat("guitar pedals and amplifier gain. ", 8),
	}
	text := strings.Join(paras, "\n\n")

	got, err := SelectChunks(text, "Which guitar amplifier did they use?", RetrieveOptions{ChunkSize: 300, ChunkOverlap: 0, TopK: 2})
	require.NoError(t, err)
	assert.Contains(t, got, "guitar amplifier tone")
	assert.Contains(t, got, "guitar pedals")
	assert.NotContains(t, got, "football")
	assert.Less(t, strings.Index(got, "tone settings"), strings.Index(got, "pedals"))
}

func TestBuild(t *testing.T) {
	p := &recordingProvider{}
	for appType, want := range map[string][]string{
		config.AppTypeMock:     {NodeMockAnswer},
		config.AppTypeBaseChat: {NodeChat},
		config.AppTypeAudio:    {NodeGenerate},
	} {
		f, err := Build(appType, Options{Provider: p})
		require.NoError(t, err, appType)
		assert.Equal(t, want, f.StreamNodes)
	}
	_, err := Build("nope", Options{})
	assert.Error(t, err)
	_, err = Build(config.AppTypeAudio, Options{})
	assert.Error(t, err)
}
