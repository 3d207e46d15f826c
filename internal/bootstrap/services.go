package bootstrap

import (
	"context"
	"fmt"

	"github.com/cassiomorais/newsletters/internal/confirmation"
	infraRedis "github.com/cassiomorais/newsletters/internal/infrastructure/redis"
	"github.com/cassiomorais/newsletters/internal/mail"
	"github.com/cassiomorais/newsletters/internal/recipient"
	"github.com/cassiomorais/newsletters/internal/render"
	"github.com/cassiomorais/newsletters/internal/repository/postgres"
	"github.com/cassiomorais/newsletters/internal/service"
	"github.com/cassiomorais/newsletters/internal/transport"
	"github.com/cassiomorais/newsletters/pkg/signer"
	"github.com/go-playground/validator/v10"
)

// Services is the wired service graph shared by the api and the worker.
type Services struct {
	Spool         *service.SpoolService
	Mailer        *service.MailerService
	Confirmations *service.ConfirmationService
	Subscriptions *service.SubscriptionService
	Issues        *service.IssueService
}

// Services builds repositories, the transport and every service on top of
// the app's connections.
func (a *App) Services(ctx context.Context) (*Services, error) {
	cfg := a.Config
	clock := service.SystemClock{}
	validate := validator.New()

	spoolRepo := postgres.NewSpoolRepository(a.Pool)
	subscriberRepo := postgres.NewSubscriberRepository(a.Pool)
	newsletterRepo := postgres.NewNewsletterRepository(a.Pool)
	txManager := postgres.NewTxManager(a.Pool)

	tr, err := transport.New(ctx, cfg, a.Metrics, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}

	tokens := confirmation.NewTokens(
		signer.New(cfg.Confirmation.Secret, cfg.Confirmation.HashExpiration),
		cfg.Mailer.BaseURL,
	)
	builder := mail.NewBuilder(cfg.Mailer, cfg.Confirmation.Messages, render.New(), tokens, clock.Now)

	spoolSvc := service.NewSpoolService(
		spoolRepo,
		infraRedis.NewNamedLocker(a.Redis, cfg.Spool.LockTTL),
		clock,
		service.SpoolConfig{
			ProgressExpiration: cfg.Spool.ProgressExpiration,
			LockName:           cfg.Spool.LockName,
		},
		a.Metrics,
		a.Logger,
	)

	mailerSvc := service.NewMailerService(
		spoolSvc,
		subscriberRepo,
		newsletterRepo,
		builder,
		tr,
		txManager,
		clock,
		service.MailerConfig{
			Throttle:      cfg.Mailer.Throttle,
			Concurrency:   cfg.Mailer.Concurrency,
			RatePerSecond: cfg.Mailer.RatePerSecond,
			SendTimeout:   cfg.Mailer.SendTimeout,
			ImmediateSend: cfg.Mailer.ImmediateSend,
		},
		a.Metrics,
		a.Logger,
	)

	confirmSvc := service.NewConfirmationService(
		subscriberRepo,
		newsletterRepo,
		mailerSvc,
		tokens,
		clock,
		service.ConfirmationConfig{RequireMail: cfg.Confirmation.RequireMail},
		a.Metrics,
		a.Logger,
	)

	subscriptionSvc := service.NewSubscriptionService(
		subscriberRepo,
		newsletterRepo,
		confirmSvc,
		validate,
		clock,
		a.Metrics,
		a.Logger,
	)

	handlers := recipient.NewRegistry(recipient.Deps{
		Subscribers: subscriberRepo,
		Spool:       spoolSvc,
		Now:         clock.Now,
		Validate:    validate,
	})

	issueSvc := service.NewIssueService(
		newsletterRepo,
		spoolSvc,
		handlers,
		txManager,
		infraRedis.NewStreamProducer(a.Redis),
		clock,
		a.Logger,
	)

	return &Services{
		Spool:         spoolSvc,
		Mailer:        mailerSvc,
		Confirmations: confirmSvc,
		Subscriptions: subscriptionSvc,
		Issues:        issueSvc,
	}, nil
}
