package chat

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/suPer8Hu/podflix/internal/ai"
	"github.com/suPer8Hu/podflix/internal/config"
	"github.com/suPer8Hu/podflix/internal/flows"
	"github.com/suPer8Hu/podflix/internal/graph"
	"github.com/suPer8Hu/podflix/internal/relay"
	"github.com/suPer8Hu/podflix/internal/session"
)

// TurnResult describes one completed round.
type TurnResult struct {
	Reply          string `json:"reply"`
	RunID          string `json:"run_id"`
	TraceURL       string `json:"trace_url,omitempty"`
	AssistantMsgID uint64 `json:"assistant_message_id"`
}

const sessionNameMax = 60

// SendMessage runs one chat round. Tokens reach out as the model produces
// them; the round is stored only when the run completes. A second call for
// the same session while one is running fails with ErrRunInProgress.
func (s *Service) SendMessage(ctx context.Context, userID uint64, sessionID, content string, out relay.Message) (*TurnResult, error) {
	sess, err := s.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.EndedAt != nil {
		return nil, ErrSessionEnded
	}

	release, err := s.Sessions.Acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	st, err := s.loadState(ctx, sess)
	if err != nil {
		return nil, err
	}

	if sess.AppType == config.AppTypeAudio && st.TranscriptContext == "" {
		if sess.TranscriptID == nil {
			// an upload may still be transcribing
			if _, err := s.awaitTranscript(ctx, sess); err != nil {
				return nil, err
			}
		}
		if st, err = s.rebuildState(ctx, sess); err != nil {
			return nil, err
		}
	}

	flow, err := s.buildFlow(ctx, sess, st)
	if err != nil {
		return nil, err
	}

	input := graph.State{
		Messages: s.contextMessages(st, content),
		Context:  st.TranscriptContext,
	}
	runner := &relay.Runner{
		Graph:          flow.Graph,
		Input:          input,
		StreamNodes:    flow.StreamNodes,
		Tracer:         s.Tracer,
		SessionID:      sessionID,
		Message:        out,
		RecursionLimit: s.opts.RecursionLimit,
	}
	if err := runner.Run(ctx); err != nil {
		log.WithError(err).WithField("session_id", sessionID).Warn("run failed")
		return nil, err
	}

	reply := runner.Reply()
	runID := runner.RunID()
	userMsg := &Message{SessionID: sessionID, UserID: userID, Role: ai.RoleUser, Content: content}
	asstMsg := &Message{SessionID: sessionID, UserID: userID, Role: ai.RoleAssistant, Content: reply, RunID: &runID}
	if err := s.Repo.InsertRound(ctx, userMsg, asstMsg); err != nil {
		return nil, err
	}

	st.AppendRound(content, reply)
	if err := s.Sessions.Put(ctx, st); err != nil {
		return nil, err
	}
	if err := s.Repo.NameSessionIfEmpty(ctx, sessionID, sessionName(content)); err != nil {
		log.WithError(err).WithField("session_id", sessionID).Warn("name session failed")
	}

	return &TurnResult{
		Reply:          reply,
		RunID:          runID,
		TraceURL:       runner.TraceURL(ctx),
		AssistantMsgID: asstMsg.ID,
	}, nil
}

func (s *Service) buildFlow(ctx context.Context, sess *Session, st session.State) (flows.Flow, error) {
	opts := flows.Options{Retrieve: s.opts.Retrieve, Pick: s.opts.MockPick}
	if sess.AppType != config.AppTypeMock {
		p, err := s.Registry.GetWithSettings(ctx, sess.Provider, sess.Model, st.Settings)
		if err != nil {
			return flows.Flow{}, err
		}
		opts.Provider = p
	}
	return flows.Build(sess.AppType, opts)
}

// contextMessages keeps system messages plus the newest turns, appends the
// new user message and trims to the token budget.
func (s *Service) contextMessages(st session.State, content string) []ai.Message {
	var system, turns []ai.Message
	for _, m := range st.History {
		if m.Role == ai.RoleSystem {
			system = append(system, m)
		} else {
			turns = append(turns, m)
		}
	}
	// the window counts the new message too
	if n := s.opts.ContextWindowSize - 1; len(turns) > n {
		turns = turns[len(turns)-n:]
	}

	msgs := make([]ai.Message, 0, len(system)+len(turns)+1)
	msgs = append(msgs, system...)
	msgs = append(msgs, turns...)
	msgs = append(msgs, ai.Message{Role: ai.RoleUser, Content: content})

	if s.opts.MaxContextTokens > 0 {
		msgs = ai.TrimToTokenBudget(msgs, s.opts.MaxContextTokens)
	}
	return msgs
}

func sessionName(content string) string {
	name := strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(name) <= sessionNameMax {
		return name
	}
	r := []rune(name)
	return string(r[:sessionNameMax]) + "…"
}
