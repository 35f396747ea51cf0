// Package session keeps the live conversation state of open chat sessions
// and guards against overlapping runs on one session.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/suPer8Hu/podflix/internal/ai"
	"github.com/suPer8Hu/podflix/internal/config"
)

var (
	ErrNotFound      = errors.New("session: not found")
	ErrRunInProgress = errors.New("session: a run is already in progress")
)

// State is created on chat start, grows by one user and one assistant turn
// per successful round and is deleted on chat end.
type State struct {
	SessionID         string                `json:"session_id"`
	UserID            uint64                `json:"user_id"`
	AppType           string                `json:"app_type"`
	History           []ai.Message          `json:"history"`
	TranscriptContext string                `json:"transcript_context,omitempty"`
	TranscriptID      *uint64               `json:"transcript_id,omitempty"`
	Settings          ai.GenerationSettings `json:"settings"`
	TraceSessionURL   string                `json:"trace_session_url,omitempty"`
}

// AppendRound adds one completed user/assistant exchange.
func (s *State) AppendRound(user, assistant string) {
	s.History = append(s.History,
		ai.Message{Role: ai.RoleUser, Content: user},
		ai.Message{Role: ai.RoleAssistant, Content: assistant},
	)
}

type Store interface {
	Get(ctx context.Context, sessionID string) (State, error)
	Put(ctx context.Context, s State) error
	Delete(ctx context.Context, sessionID string) error
	// Acquire marks a run as active on the session. The returned func
	// releases it. A second Acquire before release fails with
	// ErrRunInProgress.
	Acquire(ctx context.Context, sessionID string) (release func(), err error)
}

// New picks the backend named by SESSION_BACKEND.
func New(cfg config.Config) (Store, error) {
	switch cfg.SessionBackend {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("session: redis ping: %w", err)
		}
		return NewRedis(rdb, cfg.SessionTTL, cfg.UploadWaitTimeout+cfg.RequestTimeout()*10), nil
	default:
		return nil, fmt.Errorf("session: unknown backend %q", cfg.SessionBackend)
	}
}
