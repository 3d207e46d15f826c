package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/newsletters/internal/domain/errors"
	"github.com/cassiomorais/newsletters/internal/domain/newsletter"
	"github.com/cassiomorais/newsletters/internal/domain/spool"
	"github.com/cassiomorais/newsletters/internal/domain/subscriber"
	"github.com/cassiomorais/newsletters/internal/infrastructure/observability"
	"github.com/cassiomorais/newsletters/internal/mail"
	"github.com/cassiomorais/newsletters/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type MailerConfig struct {
	// Throttle caps the entries claimed per spool run; 0 means unlimited.
	Throttle      int
	Concurrency   int
	RatePerSecond float64
	SendTimeout   time.Duration
	ImmediateSend bool
}

// MailerService drains the spool through the transport and sends
// confirmation and test mails.
type MailerService struct {
	spool       *SpoolService
	subscribers subscriber.Repository
	newsletters newsletter.Repository
	builder     *mail.Builder
	transport   transport.Transport
	txManager   TransactionManager
	limiter     *rate.Limiter
	clock       Clock
	cfg         MailerConfig
	metrics     *observability.Metrics
	logger      zerolog.Logger
}

func NewMailerService(
	spoolSvc *SpoolService,
	subscribers subscriber.Repository,
	newsletters newsletter.Repository,
	builder *mail.Builder,
	tr transport.Transport,
	txManager TransactionManager,
	clock Clock,
	cfg MailerConfig,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *MailerService {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &MailerService{
		spool:       spoolSvc,
		subscribers: subscribers,
		newsletters: newsletters,
		builder:     builder,
		transport:   tr,
		txManager:   txManager,
		limiter:     rate.NewLimiter(limit, cfg.Concurrency),
		clock:       clock,
		cfg:         cfg,
		metrics:     metrics,
		logger:      observability.Component(logger, "mailer"),
	}
}

type sendOutcome int

const (
	// outcomeAbandoned leaves the entry in progress; its lease expires and
	// a later run picks it up again.
	outcomeAbandoned sendOutcome = iota
	outcomeSent
	outcomeSkipped
	outcomeFailed
)

// batch caches what a spool run needs more than once.
type batch struct {
	issues      map[uuid.UUID]*newsletter.Issue
	newsletters map[string]*newsletter.Newsletter
}

// SendSpool claims up to limit entries matching filter, sends them and
// records each outcome. Transport failures mark the entry skipped with the
// error flag and never abort the batch. Recipients that are gone, blocked
// or no longer subscribed are skipped silently. It returns the number of
// mails sent.
func (s *MailerService) SendSpool(ctx context.Context, limit int, filter spool.Filter) (int, error) {
	entries, err := s.spool.Claim(ctx, limit, filter)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	b := s.loadBatch(ctx, entries)
	outcomes := make([]sendOutcome, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, e := range entries {
		g.Go(func() error {
			outcomes[i] = s.sendEntry(gctx, e, b)
			return nil
		})
	}
	_ = g.Wait()

	ids := make(map[sendOutcome][]int64)
	for i, e := range entries {
		ids[outcomes[i]] = append(ids[outcomes[i]], e.ID)
	}

	// Outcomes are recorded even when ctx was cancelled mid-batch, otherwise
	// sent entries would be sent again after the lease expires.
	recordCtx := context.WithoutCancel(ctx)
	var errs []error
	if err := s.spool.Complete(recordCtx, ids[outcomeSent], spool.StatusDone, false); err != nil {
		errs = append(errs, err)
	}
	if err := s.spool.Complete(recordCtx, ids[outcomeSkipped], spool.StatusSkipped, false); err != nil {
		errs = append(errs, err)
	}
	if err := s.spool.Complete(recordCtx, ids[outcomeFailed], spool.StatusSkipped, true); err != nil {
		errs = append(errs, err)
	}

	sent := len(ids[outcomeSent])
	s.logger.Info().
		Int("claimed", len(entries)).
		Int("count", sent).
		Int("skipped", len(ids[outcomeSkipped])).
		Int("failed", len(ids[outcomeFailed])).
		Int("abandoned", len(ids[outcomeAbandoned])).
		Msg("Spool run finished")

	if err := s.UpdateSendStatus(recordCtx); err != nil {
		errs = append(errs, err)
	}
	return sent, errors.Join(errs...)
}

func (s *MailerService) loadBatch(ctx context.Context, entries []*spool.Entry) *batch {
	b := &batch{
		issues:      make(map[uuid.UUID]*newsletter.Issue),
		newsletters: make(map[string]*newsletter.Newsletter),
	}
	for _, e := range entries {
		if e.Issue.EntityType == newsletter.IssueEntityType {
			if _, ok := b.issues[e.Issue.EntityID]; !ok {
				issue, err := s.newsletters.GetIssue(ctx, e.Issue.EntityID)
				if err != nil {
					s.logger.Error().Err(err).Str("issue_id", e.Issue.EntityID.String()).Msg("Failed to load issue")
				}
				b.issues[e.Issue.EntityID] = issue
			}
		}
		if _, ok := b.newsletters[e.NewsletterID]; !ok {
			nl, err := s.newsletters.GetNewsletter(ctx, e.NewsletterID)
			if err != nil {
				s.logger.Error().Err(err).Str("newsletter_id", e.NewsletterID).Msg("Failed to load newsletter")
			}
			b.newsletters[e.NewsletterID] = nl
		}
	}
	return b
}

func (s *MailerService) sendEntry(ctx context.Context, e *spool.Entry, b *batch) sendOutcome {
	if ctx.Err() != nil {
		return outcomeAbandoned
	}
	log := s.logger.With().Int64("spool_id", e.ID).Str("issue_id", e.Issue.EntityID.String()).Logger()

	issue := b.issues[e.Issue.EntityID]
	nl := b.newsletters[e.NewsletterID]
	if issue == nil || nl == nil {
		log.Error().Str("newsletter_id", e.NewsletterID).Msg("Spool entry references a missing issue or newsletter")
		return outcomeFailed
	}

	to, ok, err := s.resolveRecipient(ctx, e)
	if err != nil {
		log.Error().Err(err).Msg("Failed to resolve recipient")
		return outcomeFailed
	}
	if !ok {
		return outcomeSkipped
	}

	msg, err := s.builder.Issue(issue, nl, to)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build message")
		return outcomeFailed
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return outcomeAbandoned
	}
	if err := s.send(ctx, msg); err != nil {
		log.Warn().Err(err).Msg("Send failed")
		return outcomeFailed
	}
	return outcomeSent
}

// resolveRecipient returns ok false for recipients that must not get the
// mail anymore.
func (s *MailerService) resolveRecipient(ctx context.Context, e *spool.Entry) (mail.Recipient, bool, error) {
	if e.Recipient.SubscriberID == nil {
		return mail.Recipient{Mail: e.Recipient.Data}, true, nil
	}
	sub, err := s.subscribers.GetByID(ctx, *e.Recipient.SubscriberID)
	if errors.Is(err, domainErrors.ErrSubscriberNotFound) {
		return mail.Recipient{}, false, nil
	}
	if err != nil {
		return mail.Recipient{}, false, err
	}
	if !sub.IsActive() || !sub.IsSubscribed(e.NewsletterID) {
		return mail.Recipient{}, false, nil
	}
	return mail.Recipient{Mail: sub.Mail, Langcode: sub.Langcode, Subscriber: sub}, true, nil
}

func (s *MailerService) send(ctx context.Context, msg *mail.Message) error {
	if s.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SendTimeout)
		defer cancel()
	}

	receipt, err := s.transport.Send(ctx, msg)
	if err != nil {
		s.metrics.MailsSent.WithLabelValues(string(msg.Kind), "failure").Inc()
		return err
	}
	s.metrics.MailsSent.WithLabelValues(string(msg.Kind), "success").Inc()
	s.logger.Debug().
		Str("key", msg.Key).
		Str("message_id", receipt.MessageID).
		Msg("Mail sent")
	return nil
}

// UpdateSendStatus recomputes the counters of every pending issue from the
// spool and marks issues with nothing left unsent as sent.
func (s *MailerService) UpdateSendStatus(ctx context.Context) error {
	issues, err := s.newsletters.ListIssuesByStatus(ctx, newsletter.IssuePending)
	if err != nil {
		return fmt.Errorf("list pending issues: %w", err)
	}
	var errs []error
	for _, issue := range issues {
		if err := s.updateIssueStatus(ctx, issue.ID); err != nil {
			errs = append(errs, fmt.Errorf("issue %s: %w", issue.ID, err))
		}
	}
	return errors.Join(errs...)
}

// updateIssueStatus recomputes the counters under the issue row lock. An
// issue stopped since it was listed is left alone.
func (s *MailerService) updateIssueStatus(ctx context.Context, id uuid.UUID) error {
	var (
		issue          *newsletter.Issue
		sent, errCount int
	)
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		issue, err = s.newsletters.GetIssueForUpdate(txCtx, id)
		if err != nil {
			return err
		}
		if issue.Status != newsletter.IssuePending {
			return nil
		}

		filter := spool.ForIssue(issue.Ref())
		if sent, err = s.spool.Count(txCtx, filter.WithStatuses(spool.StatusDone)); err != nil {
			return err
		}
		if errCount, err = s.spool.CountErrors(txCtx, filter); err != nil {
			return err
		}
		unsent, err := s.spool.Count(txCtx, filter)
		if err != nil {
			return err
		}

		issue.ApplyProgress(sent, errCount, unsent, s.clock.Now())
		return s.newsletters.UpdateIssue(txCtx, issue, newsletter.IssuePending)
	})
	if err != nil {
		return err
	}
	if issue.Status == newsletter.IssueSent {
		s.logger.Info().
			Str("issue_id", issue.ID.String()).
			Int("count", sent).
			Int("errors", errCount).
			Msg("Issue sent")
	}
	return nil
}

// AttemptImmediateSend drains the entries matching filter right away when
// immediate sending is enabled. Otherwise the worker's regular run sends
// them and 0 is returned.
func (s *MailerService) AttemptImmediateSend(ctx context.Context, filter spool.Filter) (int, error) {
	if !s.cfg.ImmediateSend {
		return 0, nil
	}
	return s.SendSpool(ctx, spool.Unlimited, filter)
}

// SendCombinedConfirmation asks sub to confirm all of sub.Changes.
func (s *MailerService) SendCombinedConfirmation(ctx context.Context, sub *subscriber.Subscriber) error {
	list, err := s.newsletters.ListNewsletters(ctx)
	if err != nil {
		return fmt.Errorf("list newsletters: %w", err)
	}
	byID := make(map[string]*newsletter.Newsletter, len(list))
	for _, nl := range list {
		byID[nl.ID] = nl
	}

	msg, err := s.builder.CombinedConfirmation(sub, byID)
	if err != nil {
		return err
	}
	return s.send(ctx, msg)
}

// SendConfirmation asks sub to confirm a single action on nl.
func (s *MailerService) SendConfirmation(ctx context.Context, action subscriber.Action, sub *subscriber.Subscriber, nl *newsletter.Newsletter) error {
	msg, err := s.builder.Confirmation(action, sub, nl)
	if err != nil {
		return err
	}
	return s.send(ctx, msg)
}

// SendTest sends issue to each address as a test mail, bypassing the spool.
// Known subscribers get their personal footer. It returns how many were
// sent; failures are joined into the error.
func (s *MailerService) SendTest(ctx context.Context, issue *newsletter.Issue, addresses []string) (int, error) {
	nl, err := s.newsletters.GetNewsletter(ctx, issue.PrimaryNewsletterID())
	if err != nil {
		return 0, err
	}

	sent := 0
	var errs []error
	for _, address := range addresses {
		to := mail.Recipient{Mail: address}
		if sub, err := s.subscribers.GetByMail(ctx, address); err == nil {
			to = mail.Recipient{Mail: sub.Mail, Langcode: sub.Langcode, Subscriber: sub}
		}
		msg, err := s.builder.Test(issue, nl, to)
		if err != nil {
			return sent, err
		}
		if err := s.send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", address, err))
			continue
		}
		sent++
	}
	if sent > 0 {
		s.logger.Info().Str("issue_id", issue.ID.String()).Int("count", sent).Msg("Test newsletter sent")
	}
	return sent, errors.Join(errs...)
}
