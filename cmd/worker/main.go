package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/suPer8Hu/podflix/internal/app"
	"github.com/suPer8Hu/podflix/internal/chat"
	"github.com/suPer8Hu/podflix/internal/config"
	"github.com/suPer8Hu/podflix/internal/logging"
	"github.com/suPer8Hu/podflix/internal/metrics"
	"github.com/suPer8Hu/podflix/internal/store/rabbitmq"
	"github.com/suPer8Hu/podflix/internal/tracing"
)

const maxJobRetries = 3

var log = logging.New("worker")

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	logging.Configure(cfg.LogLevel, cfg.LogFormat)

	shutdownTracing, err := tracing.InitProvider("podflix-worker", cfg.TracingExporter)
	if err != nil {
		log.WithError(err).Fatal("init tracing")
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		log.WithError(err).Fatal("init app")
	}
	defer a.Close()

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, rabbitmq.ConsumerOptions{
		Concurrency: cfg.WorkerConcurrency,
		MaxRetries:  maxJobRetries,
	})
	if err != nil {
		log.WithError(err).Fatal("connect rabbitmq")
	}
	defer consumer.Close()

	if err := consumer.Run(ctx, func(ctx context.Context, jobID string) error {
		return handleJob(ctx, a.Service, jobID)
	}); err != nil {
		log.WithError(err).Error("consumer stopped")
	}
}

func handleJob(ctx context.Context, svc *chat.Service, jobID string) error {
	jobStart := time.Now()
	err := svc.ProcessJob(ctx, jobID)
	total := time.Since(jobStart)

	entry := log.WithFields(logrus.Fields{"job_id": jobID, "total": total.String()})
	if err != nil {
		metrics.JobsProcessed.WithLabelValues("failed").Inc()
		entry.WithError(err).Warn("job_timing_failed")
		return err
	}
	metrics.JobsProcessed.WithLabelValues("succeeded").Inc()
	if total > 2*time.Second {
		entry.Info("job_timing")
	}
	return nil
}
