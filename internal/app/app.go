// Package app wires configuration into the services shared by the server
// and the worker.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/suPer8Hu/podflix/internal/ai"
	"github.com/suPer8Hu/podflix/internal/chat"
	"github.com/suPer8Hu/podflix/internal/config"
	"github.com/suPer8Hu/podflix/internal/db"
	"github.com/suPer8Hu/podflix/internal/logging"
	"github.com/suPer8Hu/podflix/internal/session"
	"github.com/suPer8Hu/podflix/internal/storage"
	"github.com/suPer8Hu/podflix/internal/store/rabbitmq"
	"github.com/suPer8Hu/podflix/internal/tracing"
	"github.com/suPer8Hu/podflix/internal/transcript"
)

const transcriptCacheTTL = 7 * 24 * time.Hour

var log = logging.New("app")

type App struct {
	Cfg     config.Config
	DB      *gorm.DB
	Service *chat.Service
	Tracer  *tracing.Tracer

	closers []func() error
}

type Options struct {
	// Publish enables the job publisher when async transcription is on.
	// The worker leaves it off.
	Publish bool
}

// NewRegistry registers the providers a session can name.
func NewRegistry(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()
	reg.Register("openai", func(ctx context.Context, model string, s ai.GenerationSettings) (ai.Provider, error) {
		if strings.TrimSpace(model) == "" {
			model = cfg.ModelName
		}
		return ai.NewOpenAIProvider(cfg.ModelAPIBase, cfg.ModelAPIKey(), model, s), nil
	})
	reg.Register("ollama", func(ctx context.Context, model string, s ai.GenerationSettings) (ai.Provider, error) {
		if strings.TrimSpace(model) == "" {
			model = cfg.ModelName
		}
		return ai.NewOllamaProvider(cfg.ModelAPIBase, model, s), nil
	})
	reg.Register("mock", func(ctx context.Context, model string, s ai.GenerationSettings) (ai.Provider, error) {
		return &ai.MockProvider{}, nil
	})
	return reg
}

// New connects every backing service named by cfg. Close releases them.
func New(ctx context.Context, cfg config.Config, o Options) (*App, error) {
	a := &App{Cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	desc, err := db.NewFactory().Create(db.OptionsFromConfig(cfg))
	if err != nil {
		return nil, err
	}
	gdb, err := db.Connect(desc.AsyncConnectionString())
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.DB = gdb
	a.closers = append(a.closers, func() error { return db.Close(gdb) })

	store, err := storage.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if c, ok := store.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}

	sessions, err := session.New(cfg)
	if err != nil {
		return nil, err
	}

	cache, err := transcript.OpenCache(cfg.TranscriptCacheDir, transcriptCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("open transcript cache: %w", err)
	}
	a.closers = append(a.closers, cache.Close)

	a.Tracer = tracing.New(tracing.Options{
		Host:      cfg.LangfuseHost,
		PublicKey: cfg.LangfusePublicKey,
		SecretKey: cfg.LangfuseSecretKey,
		ProjectID: cfg.LangfuseProjectID,
	})

	deps := chat.Deps{
		Repo:     chat.NewRepo(gdb),
		Registry: NewRegistry(cfg),
		Sessions: sessions,
		Storage:  store,
		Whisper:  transcript.NewWhisper(cfg.WhisperAPIBase, cfg.ModelAPIKey(), cfg.WhisperModelName),
		YouTube: transcript.NewYouTube(transcript.YouTubeOptions{
			TimedTextURL: cfg.YouTubeTimedTextURL,
			YTDLPPath:    cfg.YTDLPPath,
			Cache:        cache,
		}),
		Tracer: a.Tracer,
	}

	if o.Publish && cfg.TranscribeAsync {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			return nil, fmt.Errorf("connect rabbitmq: %w", err)
		}
		deps.Publisher = pub
		a.closers = append(a.closers, pub.Close)
	}

	a.Service = chat.NewService(deps, chat.OptionsFromConfig(cfg))
	ok = true
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// CheckTracing logs whether the trace server accepts the configured keys.
// Links still render when it does not.
func (a *App) CheckTracing(ctx context.Context) {
	if err := a.Tracer.CheckCredentials(ctx); err != nil {
		log.WithError(err).Warn("trace server check failed")
		return
	}
	log.Info("trace server credentials accepted")
}
