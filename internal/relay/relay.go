// Package relay drives one graph run and forwards the model tokens of
// selected steps to a live chat message.
package relay

import (
	"context"
	"errors"
	"strings"

	"github.com/suPer8Hu/podflix/internal/graph"
	"github.com/suPer8Hu/podflix/internal/logging"
	"github.com/suPer8Hu/podflix/internal/metrics"
)

var (
	ErrMissingRunID    = errors.New("relay: run finished without a run id")
	ErrDuplicateRunEnd = errors.New("relay: run reported more than one end")
)

// Streamer is satisfied by *graph.Graph.
type Streamer interface {
	Stream(ctx context.Context, input graph.State, cfg graph.RunConfig) (<-chan graph.Event, <-chan error)
}

// Message is the live UI message tokens are appended to.
type Message interface {
	StreamToken(ctx context.Context, text string) error
}

// TraceLinker turns a run id into a trace link. *tracing.Tracer implements it.
type TraceLinker interface {
	TraceURL(ctx context.Context, runID string) string
}

type Runner struct {
	Graph          Streamer
	Input          graph.State
	StreamNodes    []string
	Tracer         TraceLinker
	SessionID      string
	Message        Message
	RecursionLimit int

	runID string
	reply strings.Builder
}

var log = logging.New("relay")

// Run consumes the whole event stream. Tokens from StreamNodes go to Message
// in arrival order, the run id is taken from the single run_end event and
// every other event is dropped. Errors are returned as is.
func (r *Runner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	forward := make(map[string]bool, len(r.StreamNodes))
	for _, n := range r.StreamNodes {
		forward[n] = true
	}

	events, errs := r.Graph.Stream(ctx, r.Input, graph.RunConfig{
		SessionID:      r.SessionID,
		RecursionLimit: r.RecursionLimit,
	})

	var (
		runID   string
		runEnds int
		sendErr error
	)
	for ev := range events {
		if sendErr != nil {
			continue
		}
		switch ev.Kind {
		case graph.EventToken:
			if !forward[ev.Node] {
				continue
			}
			if err := r.Message.StreamToken(ctx, ev.Text); err != nil {
				// stop the run, then drain so the producer can exit
				sendErr = err
				cancel()
				continue
			}
			r.reply.WriteString(ev.Text)
			metrics.RelayedTokens.WithLabelValues(ev.Node).Inc()
		case graph.EventRunEnd:
			runEnds++
			runID = ev.RunID
		}
	}

	if sendErr != nil {
		return sendErr
	}
	if err := <-errs; err != nil {
		return err
	}
	switch {
	case runEnds == 0 || runID == "":
		return ErrMissingRunID
	case runEnds > 1:
		return ErrDuplicateRunEnd
	}
	r.runID = runID
	log.WithField("session_id", r.SessionID).WithField("run_id", runID).Debug("run finished")
	return nil
}

// RunID is set after a successful Run.
func (r *Runner) RunID() string { return r.runID }

// Reply is the concatenation of every forwarded token.
func (r *Runner) Reply() string { return r.reply.String() }

// TraceURL links the finished run, or returns "" without a tracer or run id.
func (r *Runner) TraceURL(ctx context.Context) string {
	if r.Tracer == nil || r.runID == "" {
		return ""
	}
	return r.Tracer.TraceURL(ctx, r.runID)
}
