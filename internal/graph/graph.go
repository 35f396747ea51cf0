// Package graph runs small fixed pipelines of named steps and reports their
// progress as a stream of events.
package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/suPer8Hu/podflix/internal/ai"
)

// End is the terminal marker used as the target of the last edge.
const End = "__end__"

var (
	ErrRecursionLimit = errors.New("graph: recursion limit reached")
	ErrInvalidGraph   = errors.New("graph: invalid graph")
)

// State flows from step to step. Each run starts from a fresh copy of the
// input; nothing is kept on the graph between runs.
type State struct {
	Messages []ai.Message
	Context  string
}

// LastUserMessage returns the newest user utterance, or "".
func (s State) LastUserMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == ai.RoleUser {
			return s.Messages[i].Content
		}
	}
	return ""
}

// Update is what a step returns. Messages are appended; Context replaces the
// current context when non-nil.
type Update struct {
	Messages []ai.Message
	Context  *string
}

func (s State) apply(u Update) State {
	if len(u.Messages) > 0 {
		msgs := make([]ai.Message, 0, len(s.Messages)+len(u.Messages))
		msgs = append(msgs, s.Messages...)
		s.Messages = append(msgs, u.Messages...)
	}
	if u.Context != nil {
		s.Context = *u.Context
	}
	return s
}

func (s State) clone() State {
	s.Messages = append([]ai.Message(nil), s.Messages...)
	return s
}

// Emitter publishes one model output token from the running step.
type Emitter func(text string) error

type NodeFunc func(ctx context.Context, s State, emit Emitter) (Update, error)

// Builder collects steps and edges. Errors are reported by Compile.
type Builder struct {
	name  string
	nodes map[string]NodeFunc
	next  map[string][]string
	entry string
	errs  []error
}

func NewBuilder(name string) *Builder {
	return &Builder{name: name, nodes: map[string]NodeFunc{}, next: map[string][]string{}}
}

func (b *Builder) AddNode(name string, fn NodeFunc) *Builder {
	switch {
	case name == "" || name == End:
		b.errs = append(b.errs, fmt.Errorf("reserved or empty node name %q", name))
	case fn == nil:
		b.errs = append(b.errs, fmt.Errorf("node %q has no function", name))
	case b.nodes[name] != nil:
		b.errs = append(b.errs, fmt.Errorf("duplicate node %q", name))
	default:
		b.nodes[name] = fn
	}
	return b
}

func (b *Builder) AddEdge(from, to string) *Builder {
	b.next[from] = append(b.next[from], to)
	return b
}

func (b *Builder) SetEntry(name string) *Builder {
	b.entry = name
	return b
}

// Compile checks that every step has exactly one known successor, that the
// entry exists and that no path loops back on itself.
func (b *Builder) Compile() (*Graph, error) {
	errs := append([]error(nil), b.errs...)

	if _, ok := b.nodes[b.entry]; !ok {
		errs = append(errs, fmt.Errorf("entry %q is not a node", b.entry))
	}
	next := make(map[string]string, len(b.nodes))
	for from, tos := range b.next {
		if _, ok := b.nodes[from]; !ok {
			errs = append(errs, fmt.Errorf("edge from unknown node %q", from))
			continue
		}
		if len(tos) != 1 {
			errs = append(errs, fmt.Errorf("node %q has %d successors, want 1", from, len(tos)))
			continue
		}
		if _, ok := b.nodes[tos[0]]; !ok && tos[0] != End {
			errs = append(errs, fmt.Errorf("edge %q -> unknown node %q", from, tos[0]))
			continue
		}
		next[from] = tos[0]
	}
	for name := range b.nodes {
		if _, ok := b.next[name]; !ok {
			errs = append(errs, fmt.Errorf("node %q has no outgoing edge", name))
		}
	}
	if len(errs) == 0 {
		for start := range b.nodes {
			seen := map[string]bool{}
			for n := start; n != End; n = next[n] {
				if seen[n] {
					errs = append(errs, fmt.Errorf("cycle through %q", n))
					break
				}
				seen[n] = true
			}
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidGraph, b.name, errors.Join(errs...))
	}

	nodes := make(map[string]NodeFunc, len(b.nodes))
	for k, v := range b.nodes {
		nodes[k] = v
	}
	return &Graph{name: b.name, nodes: nodes, next: next, entry: b.entry}, nil
}

// Graph is immutable after Compile and safe to run concurrently.
type Graph struct {
	name  string
	nodes map[string]NodeFunc
	next  map[string]string
	entry string
}

func (g *Graph) Name() string { return g.name }

// Path lists the steps in execution order.
func (g *Graph) Path() []string {
	var out []string
	for n := g.entry; n != End; n = g.next[n] {
		out = append(out, n)
	}
	return out
}
