package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"gorm.io/gorm"

	"github.com/suPer8Hu/podflix/internal/ai"
	"github.com/suPer8Hu/podflix/internal/common"
	"github.com/suPer8Hu/podflix/internal/config"
	"github.com/suPer8Hu/podflix/internal/flows"
	"github.com/suPer8Hu/podflix/internal/logging"
	"github.com/suPer8Hu/podflix/internal/session"
	"github.com/suPer8Hu/podflix/internal/storage"
	"github.com/suPer8Hu/podflix/internal/transcript"
)

var (
	ErrRunInProgress      = session.ErrRunInProgress
	ErrSessionEnded       = errors.New("chat: session has ended")
	ErrTranscriptRequired = errors.New("chat: upload an audio file or a youtube link first")
	ErrNoTranscript       = errors.New("chat: session has no transcript")
	ErrWrongAppType       = errors.New("chat: session does not accept media")
	ErrInvalidSettings    = errors.New("chat: invalid generation settings")
	ErrAsyncDisabled      = errors.New("chat: async transcription is disabled")
	ErrUnknownAppType     = errors.New("chat: unknown app type")
)

// FileTranscriber is satisfied by *transcript.Whisper.
type FileTranscriber interface {
	TranscribeFile(ctx context.Context, name string, r io.Reader) (transcript.Transcript, error)
}

// VideoTranscriber is satisfied by *transcript.YouTube.
type VideoTranscriber interface {
	Fetch(ctx context.Context, videoURL, lang string) (transcript.Transcript, error)
}

// JobPublisher is satisfied by *rabbitmq.Publisher.
type JobPublisher interface {
	PublishJob(ctx context.Context, jobID string) error
}

// Linker is satisfied by *tracing.Tracer.
type Linker interface {
	SessionURL(ctx context.Context, sessionID string) string
	TraceURL(ctx context.Context, runID string) string
}

type Deps struct {
	Repo      *Repo
	Registry  *ai.Registry
	Sessions  session.Store
	Storage   storage.Client
	Whisper   FileTranscriber
	YouTube   VideoTranscriber
	Publisher JobPublisher
	Tracer    Linker
}

type Options struct {
	AppType       string
	Provider      string
	Model         string
	OpenAIEnabled bool

	ContextWindowSize int
	MaxContextTokens  int
	RecursionLimit    int
	Retrieve          flows.RetrieveOptions

	TranscribeAsync   bool
	UploadWaitTimeout time.Duration
	PollInterval      time.Duration

	// MockPick overrides the random choice of the mock flow.
	MockPick func(n int) int
}

// OptionsFromConfig maps settings onto service options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		AppType:           cfg.AppType,
		Provider:          cfg.ModelProvider,
		Model:             cfg.ModelName,
		OpenAIEnabled:     cfg.EnableOpenAIAPI,
		ContextWindowSize: cfg.ChatContextWindowSize,
		MaxContextTokens:  cfg.MaxContextTokens,
		RecursionLimit:    cfg.GraphRecursionLimit,
		Retrieve: flows.RetrieveOptions{
			MaxChars:     cfg.RetrievalMaxChars,
			ChunkSize:    cfg.RetrievalChunkSize,
			ChunkOverlap: cfg.RetrievalChunkOverlap,
			TopK:         cfg.RetrievalTopK,
		},
		TranscribeAsync:   cfg.TranscribeAsync,
		UploadWaitTimeout: cfg.UploadWaitTimeout,
	}
}

type Service struct {
	Deps
	opts Options
}

var log = logging.New("chat")

func NewService(d Deps, o Options) *Service {
	if o.ContextWindowSize <= 0 || o.ContextWindowSize > 100 {
		o.ContextWindowSize = 20
	}
	if o.AppType == "" {
		o.AppType = config.AppTypeMock
	}
	if o.Provider == "" {
		o.Provider = "mock"
	}
	if o.UploadWaitTimeout <= 0 {
		o.UploadWaitTimeout = 360 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if d.Sessions == nil {
		d.Sessions = session.NewMemory()
	}
	return &Service{Deps: d, opts: o}
}

// AppType is the default app type of new sessions.
func (s *Service) AppType() string { return s.opts.AppType }

// AvailableModels lists the models a session may switch to.
func (s *Service) AvailableModels() []string {
	return ai.AvailableModels(s.opts.OpenAIEnabled, s.opts.Model)
}

func (s *Service) CreateSession(ctx context.Context, userID uint64, appType string) (*Session, error) {
	if appType == "" {
		appType = s.opts.AppType
	}
	switch appType {
	case config.AppTypeMock, config.AppTypeBaseChat, config.AppTypeAudio:
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownAppType, appType)
	}

	sid, err := common.NewULID()
	if err != nil {
		return nil, err
	}

	model := ai.DefaultModel(s.opts.OpenAIEnabled, s.opts.Model)
	settings, err := json.Marshal(ai.DefaultSettings(model))
	if err != nil {
		return nil, err
	}

	sess := &Session{
		SessionID: sid,
		UserID:    userID,
		AppType:   appType,
		Provider:  s.opts.Provider,
		Model:     model,
		Settings:  string(settings),
	}
	if err := s.Repo.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	if _, err := s.rebuildState(ctx, sess); err != nil {
		return nil, err
	}
	log.WithField("session_id", sid).WithField("app_type", appType).Info("session created")
	return sess, nil
}

// GetSession returns the session if userID owns it.
func (s *Service) GetSession(ctx context.Context, userID uint64, sessionID string) (*Session, error) {
	sess, err := s.Repo.GetSessionBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	return sess, nil
}

func (s *Service) ValidateSessionOwner(ctx context.Context, userID uint64, sessionID string) error {
	_, err := s.GetSession(ctx, userID, sessionID)
	return err
}

func (s *Service) ListSessions(ctx context.Context, userID uint64, limit int) ([]Session, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.Repo.ListSessions(ctx, userID, limit)
}

// ResumeSession reopens an ended session and rebuilds its live state from
// the stored messages and transcript.
func (s *Service) ResumeSession(ctx context.Context, userID uint64, sessionID string) (*Session, error) {
	sess, err := s.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.EndedAt != nil {
		if err := s.Repo.ReopenSession(ctx, sessionID); err != nil {
			return nil, err
		}
		sess.EndedAt = nil
	}
	if _, err := s.rebuildState(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// EndSession marks the session ended and drops its live state.
func (s *Service) EndSession(ctx context.Context, userID uint64, sessionID string) error {
	if err := s.ValidateSessionOwner(ctx, userID, sessionID); err != nil {
		return err
	}
	if err := s.Repo.EndSession(ctx, sessionID, time.Now()); err != nil {
		return err
	}
	return s.Sessions.Delete(ctx, sessionID)
}

// State returns the live state, rebuilding it if the store lost it.
func (s *Service) State(ctx context.Context, userID uint64, sessionID string) (session.State, error) {
	sess, err := s.GetSession(ctx, userID, sessionID)
	if err != nil {
		return session.State{}, err
	}
	return s.loadState(ctx, sess)
}

func (s *Service) loadState(ctx context.Context, sess *Session) (session.State, error) {
	st, err := s.Sessions.Get(ctx, sess.SessionID)
	if errors.Is(err, session.ErrNotFound) {
		return s.rebuildState(ctx, sess)
	}
	return st, err
}

func (s *Service) rebuildState(ctx context.Context, sess *Session) (session.State, error) {
	st := session.State{
		SessionID:    sess.SessionID,
		UserID:       sess.UserID,
		AppType:      sess.AppType,
		Settings:     sess.GenerationSettings(),
		TranscriptID: sess.TranscriptID,
	}
	if sess.AppType == config.AppTypeBaseChat {
		st.History = []ai.Message{{Role: ai.RoleSystem, Content: flows.BaseChatSystemPrompt}}
	}

	recentDesc, err := s.Repo.ListRecentMessagesDesc(ctx, sess.UserID, sess.SessionID, s.opts.ContextWindowSize)
	if err != nil {
		return st, err
	}
	// reverse to ASC (oldest -> newest)
	for i := len(recentDesc) - 1; i >= 0; i-- {
		m := recentDesc[i]
		st.History = append(st.History, ai.Message{Role: m.Role, Content: m.Content})
	}

	if sess.TranscriptID != nil {
		t, err := s.Repo.GetTranscript(ctx, *sess.TranscriptID)
		if err != nil {
			return st, err
		}
		st.TranscriptContext = t.Text
	}
	if s.Tracer != nil {
		st.TraceSessionURL = s.Tracer.SessionURL(ctx, sess.SessionID)
	}

	if err := s.Sessions.Put(ctx, st); err != nil {
		return st, err
	}
	return st, nil
}

// UpdateSettings merges in over the session's current settings, validates
// the result and stores it.
func (s *Service) UpdateSettings(ctx context.Context, userID uint64, sessionID string, in ai.GenerationSettings) (ai.GenerationSettings, error) {
	sess, err := s.GetSession(ctx, userID, sessionID)
	if err != nil {
		return ai.GenerationSettings{}, err
	}

	merged := sess.GenerationSettings().Merge(in)
	if !slices.Contains(s.AvailableModels(), merged.Model) {
		return ai.GenerationSettings{}, fmt.Errorf("%w: model %q is not available", ErrInvalidSettings, merged.Model)
	}
	if err := merged.Validate(); err != nil {
		return ai.GenerationSettings{}, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}

	raw, err := json.Marshal(merged)
	if err != nil {
		return ai.GenerationSettings{}, err
	}
	if err := s.Repo.UpdateSessionSettings(ctx, sessionID, merged.Model, string(raw)); err != nil {
		return ai.GenerationSettings{}, err
	}
	sess.Model, sess.Settings = merged.Model, string(raw)

	st, err := s.loadState(ctx, sess)
	if err != nil {
		return ai.GenerationSettings{}, err
	}
	st.Settings = merged
	return merged, s.Sessions.Put(ctx, st)
}

func (s *Service) ListMessages(ctx context.Context, userID uint64, sessionID string, limit int, beforeID uint64) ([]Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.Repo.ListMessages(ctx, userID, sessionID, limit, beforeID)
}

func (s *Service) GetJob(ctx context.Context, userID uint64, jobID string) (*Job, error) {
	j, err := s.Repo.GetJobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	return j, nil
}
