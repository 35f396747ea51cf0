package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/podflix/internal/app"
	"github.com/suPer8Hu/podflix/internal/auth"
	"github.com/suPer8Hu/podflix/internal/config"
	"github.com/suPer8Hu/podflix/internal/httpapi"
	"github.com/suPer8Hu/podflix/internal/logging"
	"github.com/suPer8Hu/podflix/internal/tracing"
)

func main() {
	log := logging.New("server")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	logging.Configure(cfg.LogLevel, cfg.LogFormat)
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	shutdownTracing, err := tracing.InitProvider("podflix", cfg.TracingExporter)
	if err != nil {
		log.WithError(err).Fatal("init tracing")
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.WithError(err).Error("shutdown tracing")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{Publish: true})
	if err != nil {
		log.WithError(err).Fatal("init app")
	}
	defer a.Close()

	// uploads fall back to transcripts without media links when this fails
	bucketCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := a.Service.Storage.EnsureBucket(bucketCtx); err != nil {
		log.WithError(err).Warn("object storage unavailable")
	}
	cancel()
	go a.CheckTracing(ctx)

	creds, err := auth.NewCredentials(cfg.AuthUserName, cfg.AuthUserPassword)
	if err != nil {
		log.WithError(err).Fatal("hash credentials")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(a.DB, cfg, a.Service, creds),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.HTTPAddr).WithField("app_type", cfg.AppType).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("serve")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown")
	}
}
