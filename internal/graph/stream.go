package graph

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/suPer8Hu/podflix/internal/metrics"
)

type EventKind string

const (
	EventRunStart  EventKind = "run_start"
	EventNodeStart EventKind = "node_start"
	EventToken     EventKind = "token"
	EventNodeEnd   EventKind = "node_end"
	EventRunEnd    EventKind = "run_end"
)

// Event is one observation of a run. Node is empty for run level events;
// RunID is set on every event of the run.
type Event struct {
	Kind  EventKind
	Node  string
	Text  string
	RunID string
}

const DefaultRecursionLimit = 10

type RunConfig struct {
	// RunID overrides the generated run id.
	RunID          string
	SessionID      string
	RecursionLimit int
}

var tracer = otel.Tracer("github.com/suPer8Hu/podflix/internal/graph")

// Stream starts a run in its own goroutine. Events arrive in production
// order on the first channel, which is closed when the run stops. The second
// channel then yields the run error, if any. A successful run ends with
// exactly one run_end event.
func (g *Graph) Stream(ctx context.Context, input State, cfg RunConfig) (<-chan Event, <-chan error) {
	events := make(chan Event)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(events)
		if _, err := g.run(ctx, input, cfg, events); err != nil {
			errs <- err
		}
	}()
	return events, errs
}

// Invoke runs the graph to completion and returns the final state.
func (g *Graph) Invoke(ctx context.Context, input State, cfg RunConfig) (State, error) {
	return g.run(ctx, input, cfg, nil)
}

func (g *Graph) run(ctx context.Context, input State, cfg RunConfig, events chan<- Event) (final State, err error) {
	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	limit := cfg.RecursionLimit
	if limit <= 0 {
		limit = DefaultRecursionLimit
	}

	start := time.Now()
	ctx, span := tracer.Start(ctx, "graph."+g.name, trace.WithAttributes(
		attribute.String("graph.run_id", runID),
		attribute.String("session.id", cfg.SessionID),
	))
	defer func() {
		status := "ok"
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			status = "canceled"
		case err != nil:
			status = "error"
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		metrics.GraphRuns.WithLabelValues(g.name, status).Inc()
		metrics.GraphRunDuration.WithLabelValues(g.name).Observe(time.Since(start).Seconds())
	}()

	send := func(ev Event) error {
		if events == nil {
			return ctx.Err()
		}
		ev.RunID = runID
		select {
		case events <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	state := input.clone()
	if err := send(Event{Kind: EventRunStart}); err != nil {
		return state, err
	}

	steps := 0
	for node := g.entry; node != End; node = g.next[node] {
		if steps >= limit {
			return state, ErrRecursionLimit
		}
		steps++

		if state, err = g.step(ctx, node, state, send); err != nil {
			return state, err
		}
	}

	return state, send(Event{Kind: EventRunEnd})
}

func (g *Graph) step(ctx context.Context, node string, state State, send func(Event) error) (State, error) {
	ctx, span := tracer.Start(ctx, "node."+node)
	defer span.End()

	if err := send(Event{Kind: EventNodeStart, Node: node}); err != nil {
		return state, err
	}
	emit := func(text string) error {
		if text == "" {
			return nil
		}
		return send(Event{Kind: EventToken, Node: node, Text: text})
	}

	upd, err := g.nodes[node](ctx, state.clone(), emit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return state, err
	}
	state = state.apply(upd)
	return state, send(Event{Kind: EventNodeEnd, Node: node})
}
