package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/podflix/internal/ai"
)

func tokens(parts ...string) NodeFunc {
	return func(ctx context.Context, s State, emit Emitter) (Update, error) {
		reply := ""
		for _, p := range parts {
			if err := emit(p); err != nil {
				return Update{}, err
			}
			reply += p
		}
		return Update{Messages: []ai.Message{{Role: ai.RoleAssistant, Content: reply}}}, nil
	}
}

func collect(t *testing.T, g *Graph, in State, cfg RunConfig) ([]Event, error) {
	t.Helper()
	events, errs := g.Stream(context.Background(), in, cfg)
	var out []Event
	for ev := range events {
		out = append(out, ev)
	}
	return out, <-errs
}

func TestCompile_Rejects(t *testing.T) {
	noop := tokens()
	cases := map[string]*Builder{
		"missing entry": NewBuilder("g").AddNode("a", noop).AddEdge("a", End),
		"unknown target": NewBuilder("g").AddNode("a", noop).AddEdge("a", "b").SetEntry("a"),
		"two successors": NewBuilder("g").AddNode("a", noop).AddNode("b", noop).
			AddEdge("a", "b").AddEdge("a", End).AddEdge("b", End).SetEntry("a"),
		"dangling node": NewBuilder("g").AddNode("a", noop).AddNode("b", noop).AddEdge("a", End).SetEntry("a"),
		"cycle": NewBuilder("g").AddNode("a", noop).AddNode("b", noop).
			AddEdge("a", "b").AddEdge("b", "a").SetEntry("a"),
		"reserved name": NewBuilder("g").AddNode(End, noop).SetEntry(End),
	}
	for name, b := range cases {
		_, err := b.Compile()
		assert.ErrorIs(t, err, ErrInvalidGraph, name)
	}
}

func TestStream_EventOrder(t *testing.T) {
	var seen string
	g, err := NewBuilder("podcast").
		AddNode("retrieve", func(ctx context.Context, s State, emit Emitter) (Update, error) {
			c := "ctx"
			return Update{Context: &c}, emit("X")
		}).
		AddNode("generate", func(ctx context.Context, s State, emit Emitter) (Update, error) {
			seen = s.Context
			return tokens("Hel", "lo")(ctx, s, emit)
		}).
		AddEdge("retrieve", "generate").
		AddEdge("generate", End).
		SetEntry("retrieve").
		Compile()
	require.NoError(t, err)
	assert.Equal(t, []string{"retrieve", "generate"}, g.Path())

	events, err := collect(t, g, State{Messages: []ai.Message{{Role: ai.RoleUser, Content: "hi"}}}, RunConfig{RunID: "run-1"})
	require.NoError(t, err)

	type step struct {
		kind EventKind
		node string
		text string
	}
	var got []step
	runEnds := 0
	for _, ev := range events {
		assert.Equal(t, "run-1", ev.RunID)
		got = append(got, step{ev.Kind, ev.Node, ev.Text})
		if ev.Kind == EventRunEnd {
			runEnds++
		}
	}
	assert.Equal(t, []step{
		{EventRunStart, "", ""},
		{EventNodeStart, "retrieve", ""},
		{EventToken, "retrieve", "X"},
		{EventNodeEnd, "retrieve", ""},
		{EventNodeStart, "generate", ""},
		{EventToken, "generate", "Hel"},
		{EventToken, "generate", "lo"},
		{EventNodeEnd, "generate", ""},
		{EventRunEnd, "", ""},
	}, got)
	assert.Equal(t, 1, runEnds)
	assert.Equal(t, "ctx", seen)
}

func TestStream_GeneratesRunID(t *testing.T) {
	g, err := NewBuilder("g").AddNode("a", tokens("x")).AddEdge("a", End).SetEntry("a").Compile()
	require.NoError(t, err)

	first, err := collect(t, g, State{}, RunConfig{})
	require.NoError(t, err)
	second, err := collect(t, g, State{}, RunConfig{})
	require.NoError(t, err)

	a, b := first[len(first)-1].RunID, second[len(second)-1].RunID
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestStream_RecursionLimit(t *testing.T) {
	b := NewBuilder("long")
	names := []string{"a", "b", "c"}
	for i, n := range names {
		b.AddNode(n, tokens())
		if i+1 < len(names) {
			b.AddEdge(n, names[i+1])
		} else {
			b.AddEdge(n, End)
		}
	}
	g, err := b.SetEntry("a").Compile()
	require.NoError(t, err)

	events, err := collect(t, g, State{}, RunConfig{RecursionLimit: 2})
	assert.ErrorIs(t, err, ErrRecursionLimit)
	for _, ev := range events {
		assert.NotEqual(t, EventRunEnd, ev.Kind)
	}
}

func TestStream_NodeErrorStopsRun(t *testing.T) {
	boom := errors.New("model down")
	g, err := NewBuilder("g").
		AddNode("a", func(context.Context, State, Emitter) (Update, error) { return Update{}, boom }).
		AddEdge("a", End).SetEntry("a").Compile()
	require.NoError(t, err)

	events, err := collect(t, g, State{}, RunConfig{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, EventNodeStart, events[len(events)-1].Kind)
}

func TestStream_CancelStopsRun(t *testing.T) {
	g, err := NewBuilder("g").
		AddNode("a", func(ctx context.Context, s State, emit Emitter) (Update, error) {
			for {
				if err := emit("tick"); err != nil {
					return Update{}, err
				}
			}
		}).
		AddEdge("a", End).SetEntry("a").Compile()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, errs := g.Stream(ctx, State{}, RunConfig{})
	for ev := range events {
		if ev.Kind == EventToken {
			cancel()
			break
		}
	}

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}

func TestInvoke_FreshStatePerRun(t *testing.T) {
	g, err := NewBuilder("g").AddNode("a", tokens("ok")).AddEdge("a", End).SetEntry("a").Compile()
	require.NoError(t, err)

	in := State{Messages: []ai.Message{{Role: ai.RoleUser, Content: "q"}}}
	out1, err := g.Invoke(context.Background(), in, RunConfig{})
	require.NoError(t, err)
	out2, err := g.Invoke(context.Background(), in, RunConfig{})
	require.NoError(t, err)

	assert.Len(t, in.Messages, 1)
	assert.Len(t, out1.Messages, 2)
	assert.Equal(t, out1, out2)
	assert.Equal(t, "q", out2.LastUserMessage())
}
