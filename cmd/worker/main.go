package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cassiomorais/newsletters/internal/bootstrap"
	"github.com/cassiomorais/newsletters/internal/domain/newsletter"
	"github.com/cassiomorais/newsletters/internal/domain/spool"
	"github.com/cassiomorais/newsletters/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/newsletters/internal/infrastructure/redis"
	"github.com/cassiomorais/newsletters/internal/service"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "newsletter-worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	svc, err := app.Services(ctx)
	if err != nil {
		app.Logger.Error().Err(err).Msg("Failed to wire services")
		os.Exit(1)
	}

	workerCfg := app.Config.Worker
	consumer := infraRedis.NewStreamConsumer(
		app.Redis,
		infraRedis.IssueStream,
		workerCfg.ConsumerGroup,
		app.Config.InstanceID,
		workerCfg.BatchSize,
		workerCfg.BlockDuration,
	)
	if err := consumer.CreateGroup(ctx); err != nil {
		app.Logger.Error().Err(err).Msg("Failed to create consumer group")
	}

	app.Logger.Info().
		Str("stream", infraRedis.IssueStream).
		Str("group", workerCfg.ConsumerGroup).
		Dur("poll_interval", workerCfg.PollInterval).
		Msg("Worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	// 1. Periodic spool run, the cron equivalent.
	g.Go(func() error {
		return runSpoolDrain(gCtx, app.Logger, svc.Mailer, app.Config.Mailer.Throttle, workerCfg.PollInterval)
	})

	// 2. Issue events: send freshly spooled issues without waiting for the
	// next run when immediate sending is on.
	g.Go(func() error {
		return runIssueConsumer(gCtx, app.Logger, consumer, svc.Mailer, app.Metrics)
	})

	// 3. Retention of sent entries.
	g.Go(func() error {
		return runSpoolCleanup(gCtx, app.Logger, svc.Spool, app.Config.Spool.RetentionDays, workerCfg.CleanupInterval)
	})

	// 4. Wait for shutdown signal.
	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		case <-quit:
			app.Logger.Info().Msg("Shutting down worker...")
			cancel()
			return nil
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.Error().Err(err).Msg("Worker error")
	}
	app.Logger.Info().Msg("Worker exited")
}

func runSpoolDrain(
	ctx context.Context,
	logger zerolog.Logger,
	mailer *service.MailerService,
	throttle int,
	interval time.Duration,
) error {
	logger = observability.Component(logger, "spool-drain")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if _, err := mailer.SendSpool(ctx, throttle, spool.Filter{}); err != nil {
			logger.Error().Err(err).Msg("Spool run failed")
		}
	}
}

func runIssueConsumer(
	ctx context.Context,
	logger zerolog.Logger,
	consumer *infraRedis.StreamConsumer,
	mailer *service.MailerService,
	metrics *observability.Metrics,
) error {
	logger = observability.Component(logger, "issue-consumer")
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		messages, err := consumer.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error().Err(err).Msg("Failed to read from stream")
			time.Sleep(1 * time.Second)
			continue
		}

		for _, msg := range messages {
			start := time.Now()
			status := "success"

			event, err := infraRedis.ParseIssueEvent(msg)
			switch {
			case err != nil:
				logger.Error().Err(err).Msg("Dropping malformed issue event")
				status = "invalid"
			case event.EventType != infraRedis.EventIssueSpooled:
				status = "ignored"
			default:
				ref := spool.IssueRef{EntityType: newsletter.IssueEntityType, EntityID: event.IssueID}
				sent, err := mailer.AttemptImmediateSend(ctx, spool.ForIssue(ref))
				if err != nil {
					logger.Error().Err(err).Str("issue_id", event.IssueID.String()).Msg("Immediate send failed")
					status = "error"
				} else if sent > 0 {
					logger.Info().Str("issue_id", event.IssueID.String()).Int("count", sent).Msg("Issue sent immediately")
				}
			}

			metrics.WorkerMessagesProcessed.WithLabelValues(infraRedis.IssueStream, status).Inc()
			metrics.WorkerProcessingDuration.WithLabelValues(infraRedis.IssueStream).Observe(time.Since(start).Seconds())
			if err := consumer.Ack(ctx, msg.ID); err != nil {
				logger.Warn().Err(err).Str("message_id", msg.ID).Msg("Failed to ack message")
			}
		}
	}
}

func runSpoolCleanup(
	ctx context.Context,
	logger zerolog.Logger,
	spoolSvc *service.SpoolService,
	retentionDays int,
	interval time.Duration,
) error {
	logger = observability.Component(logger, "spool-cleanup")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if _, err := spoolSvc.PurgeExpired(ctx, retentionDays); err != nil {
			logger.Error().Err(err).Msg("Spool cleanup failed")
		}
	}
}
