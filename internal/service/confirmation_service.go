package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/cassiomorais/newsletters/internal/confirmation"
	domainErrors "github.com/cassiomorais/newsletters/internal/domain/errors"
	"github.com/cassiomorais/newsletters/internal/domain/newsletter"
	"github.com/cassiomorais/newsletters/internal/domain/subscriber"
	"github.com/cassiomorais/newsletters/internal/infrastructure/config"
	"github.com/cassiomorais/newsletters/internal/infrastructure/observability"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ConfirmationMailer delivers confirmation requests.
type ConfirmationMailer interface {
	SendCombinedConfirmation(ctx context.Context, s *subscriber.Subscriber) error
	SendConfirmation(ctx context.Context, action subscriber.Action, s *subscriber.Subscriber, nl *newsletter.Newsletter) error
}

// ConfirmOutcome tells the caller what a confirmation link did.
type ConfirmOutcome string

const (
	// OutcomePending means the link is valid and nothing was applied yet.
	OutcomePending        ConfirmOutcome = "pending"
	OutcomeApplied        ConfirmOutcome = "applied"
	OutcomeAlreadyApplied ConfirmOutcome = "already_applied"
)

// CombinedLink is the parsed form of a combined confirmation link.
type CombinedLink struct {
	SubscriberID uuid.UUID
	Timestamp    int64
	Hash         string
}

// SingleLink is the parsed form of a single action confirmation link.
type SingleLink struct {
	Action       confirmation.LinkAction
	SubscriberID uuid.UUID
	NewsletterID string
	Timestamp    int64
	Hash         string
}

// ConfirmResult describes a confirmation link and, when applied, its effect.
type ConfirmResult struct {
	Outcome      ConfirmOutcome
	SubscriberID uuid.UUID
	Mail         string
	Changes      subscriber.Changes
	Action       subscriber.Action
	NewsletterID string
	// Applied counts subscriptions that actually changed.
	Applied int
}

type ConfirmationConfig struct {
	RequireMail string
}

// ConfirmationService validates confirmation links, applies confirmed
// changes and sends buffered confirmation requests.
type ConfirmationService struct {
	subscribers subscriber.Repository
	newsletters newsletter.Repository
	mailer      ConfirmationMailer
	tokens      *confirmation.Tokens
	clock       Clock
	cfg         ConfirmationConfig
	metrics     *observability.Metrics
	logger      zerolog.Logger
}

func NewConfirmationService(
	subscribers subscriber.Repository,
	newsletters newsletter.Repository,
	mailer ConfirmationMailer,
	tokens *confirmation.Tokens,
	clock Clock,
	cfg ConfirmationConfig,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ConfirmationService {
	if cfg.RequireMail == "" {
		cfg.RequireMail = config.RequireMailStrict
	}
	return &ConfirmationService{
		subscribers: subscribers,
		newsletters: newsletters,
		mailer:      mailer,
		tokens:      tokens,
		clock:       clock,
		cfg:         cfg,
		metrics:     metrics,
		logger:      observability.Component(logger, "confirmation"),
	}
}

// RequireConfirmation reports whether a change for sub on nl needs an
// explicit confirmation. Owners acting on their own linked subscription never
// confirm; everyone else confirms on double opt-in newsletters.
func (s *ConfirmationService) RequireConfirmation(nl *newsletter.Newsletter, sub *subscriber.Subscriber, actor Actor) bool {
	if actor.IsAuthenticated() && sub != nil && sub.IsLinkedTo(actor.UserID) {
		return false
	}
	return nl.OptIn == newsletter.OptInDouble
}

// GenerateToken returns the hash for a link issued at ts.
func (s *ConfirmationService) GenerateToken(mail, discriminator string, ts int64) string {
	return s.tokens.Generate(mail, discriminator, ts)
}

// ValidateToken checks a link hash against the current time.
func (s *ConfirmationService) ValidateToken(mail, discriminator string, ts int64, hash string) error {
	return s.tokens.Validate(mail, discriminator, ts, hash, s.clock.Now())
}

// Flush sends one combined confirmation per buffered address and empties the
// buffer. Addresses without a stored subscriber get an unsaved one; stored
// subscribers keep their pending changes so the link can be checked later.
// It reports whether anything was buffered.
func (s *ConfirmationService) Flush(ctx context.Context, buf *confirmation.Buffer) (bool, error) {
	pending := buf.Drain()
	if len(pending) == 0 {
		return false, nil
	}

	var errs []error
	for _, p := range pending {
		sub, err := s.subscribers.GetByMail(ctx, p.Mail)
		if errors.Is(err, domainErrors.ErrSubscriberNotFound) {
			sub, err = subscriber.New(p.Mail, "", s.clock.Now())
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("load subscriber %s: %w", p.Mail, err))
			continue
		}

		sub.SetChanges(p.Changes)
		if err := s.mailer.SendCombinedConfirmation(ctx, sub); err != nil {
			errs = append(errs, fmt.Errorf("send confirmation to %s: %w", p.Mail, err))
			continue
		}
		if sub.IsNew() {
			continue
		}
		if err := s.subscribers.Save(ctx, sub); err != nil {
			errs = append(errs, fmt.Errorf("save subscriber %s: %w", p.Mail, err))
		}
	}
	return true, errors.Join(errs...)
}

// ConfirmCombined checks a combined link. Without immediate it only reports
// the pending changes; with immediate it applies and clears them.
func (s *ConfirmationService) ConfirmCombined(ctx context.Context, link CombinedLink, immediate bool) (*ConfirmResult, error) {
	const kind = "combined"

	sub, err := s.loadSubscriber(ctx, link.SubscriberID)
	if err != nil {
		s.observe(kind, err)
		return nil, err
	}
	// Without pending changes the hash cannot be checked, so nothing about
	// the subscriber is reported.
	if len(sub.Changes) == 0 {
		s.observeOutcome(kind, OutcomeAlreadyApplied)
		return &ConfirmResult{Outcome: OutcomeAlreadyApplied}, nil
	}

	now := s.clock.Now()
	if err := s.tokens.Validate(sub.Mail, confirmation.CombinedDiscriminator(sub.Changes), link.Timestamp, link.Hash, now); err != nil {
		s.observe(kind, err)
		return nil, err
	}
	result := &ConfirmResult{SubscriberID: sub.ID, Mail: sub.Mail, Changes: sub.Changes}
	if !immediate {
		result.Outcome = OutcomePending
		s.observeOutcome(kind, result.Outcome)
		return result, nil
	}

	result.Applied = sub.ApplyChanges(subscriber.SourceWebsite, now)
	if err := s.subscribers.Save(ctx, sub); err != nil {
		return nil, fmt.Errorf("save subscriber: %w", err)
	}
	result.Outcome = OutcomeApplied
	s.observeOutcome(kind, result.Outcome)
	s.logger.Info().
		Str("subscriber_id", sub.ID.String()).
		Int("count", result.Applied).
		Msg("Subscription changes confirmed")
	return result, nil
}

// ConfirmSingle checks a single action link and applies it when immediate.
func (s *ConfirmationService) ConfirmSingle(ctx context.Context, link SingleLink, immediate bool) (*ConfirmResult, error) {
	kind := string(link.Action)

	sub, nl, err := s.checkSingle(ctx, link)
	if err != nil {
		s.observe(kind, err)
		return nil, err
	}
	action := link.Action.SubscriberAction()
	result := &ConfirmResult{
		SubscriberID: sub.ID,
		Mail:         sub.Mail,
		Action:       action,
		NewsletterID: nl.ID,
		Outcome:      OutcomePending,
	}
	if !immediate {
		s.observeOutcome(kind, result.Outcome)
		return result, nil
	}

	now := s.clock.Now()
	var changed bool
	switch action {
	case subscriber.ActionSubscribe:
		changed = sub.Subscribe(nl.ID, subscriber.SubscriptionSubscribed, subscriber.SourceWebsite, now)
	case subscriber.ActionUnsubscribe:
		changed = sub.IsSubscribed(nl.ID) && sub.Unsubscribe(nl.ID, subscriber.SourceWebsite, now)
	}
	if changed {
		if err := s.subscribers.Save(ctx, sub); err != nil {
			return nil, fmt.Errorf("save subscriber: %w", err)
		}
		result.Applied = 1
	}
	result.Outcome = OutcomeApplied
	s.observeOutcome(kind, result.Outcome)
	s.logger.Info().
		Str("subscriber_id", sub.ID.String()).
		Str("newsletter_id", nl.ID).
		Str("action", string(action)).
		Bool("changed", changed).
		Msg("Subscription confirmed")
	return result, nil
}

// RenewCombined sends a fresh combined confirmation for a link whose hash is
// genuine, expired or not.
func (s *ConfirmationService) RenewCombined(ctx context.Context, link CombinedLink) error {
	sub, err := s.loadSubscriber(ctx, link.SubscriberID)
	if err != nil {
		return err
	}
	if len(sub.Changes) == 0 {
		return domainErrors.ErrInvalidToken
	}
	err = s.tokens.Validate(sub.Mail, confirmation.CombinedDiscriminator(sub.Changes), link.Timestamp, link.Hash, s.clock.Now())
	if err != nil && !errors.Is(err, domainErrors.ErrTokenExpired) {
		return err
	}
	if err := s.mailer.SendCombinedConfirmation(ctx, sub); err != nil {
		return fmt.Errorf("send confirmation: %w", err)
	}
	s.observeOutcome("combined", "renewed")
	return nil
}

// RenewSingle sends a fresh single confirmation for a genuine link.
func (s *ConfirmationService) RenewSingle(ctx context.Context, link SingleLink) error {
	sub, nl, err := s.checkSingle(ctx, link)
	if err != nil && !errors.Is(err, domainErrors.ErrTokenExpired) {
		return err
	}
	if err := s.mailer.SendConfirmation(ctx, link.Action.SubscriberAction(), sub, nl); err != nil {
		return fmt.Errorf("send confirmation: %w", err)
	}
	s.observeOutcome(string(link.Action), "renewed")
	return nil
}

// checkSingle loads what a single link refers to. On ErrTokenExpired the
// subscriber and newsletter are still returned.
func (s *ConfirmationService) checkSingle(ctx context.Context, link SingleLink) (*subscriber.Subscriber, *newsletter.Newsletter, error) {
	sub, err := s.loadSubscriber(ctx, link.SubscriberID)
	if err != nil {
		return nil, nil, err
	}
	tokenErr := s.tokens.Validate(sub.Mail, string(link.Action), link.Timestamp, link.Hash, s.clock.Now())
	if errors.Is(tokenErr, domainErrors.ErrInvalidToken) {
		return nil, nil, tokenErr
	}
	nl, err := s.newsletters.GetNewsletter(ctx, link.NewsletterID)
	if err != nil {
		return nil, nil, err
	}
	return sub, nl, tokenErr
}

// loadSubscriber loads the subscriber a link was issued for and applies the
// require_mail policy.
func (s *ConfirmationService) loadSubscriber(ctx context.Context, id uuid.UUID) (*subscriber.Subscriber, error) {
	sub, err := s.subscribers.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Mail == "" {
		if s.cfg.RequireMail == config.RequireMailStrict {
			return nil, fmt.Errorf("%w: subscriber has no mail address", domainErrors.ErrInvalidToken)
		}
		s.logger.Warn().Str("subscriber_id", sub.ID.String()).Msg("Confirming subscriber without mail address")
	}
	return sub, nil
}

func (s *ConfirmationService) observe(kind string, err error) {
	outcome := "error"
	switch {
	case errors.Is(err, domainErrors.ErrTokenExpired):
		outcome = "expired"
	case errors.Is(err, domainErrors.ErrInvalidToken):
		outcome = "invalid"
	case domainErrors.IsNotFound(err):
		outcome = "not_found"
	}
	s.observeOutcome(kind, ConfirmOutcome(outcome))
}

func (s *ConfirmationService) observeOutcome(kind string, outcome ConfirmOutcome) {
	s.metrics.Confirmations.WithLabelValues(kind, string(outcome)).Inc()
}
