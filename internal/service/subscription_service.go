package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/cassiomorais/newsletters/internal/confirmation"
	domainErrors "github.com/cassiomorais/newsletters/internal/domain/errors"
	"github.com/cassiomorais/newsletters/internal/domain/newsletter"
	"github.com/cassiomorais/newsletters/internal/domain/subscriber"
	"github.com/cassiomorais/newsletters/internal/infrastructure/observability"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// SubscriptionService changes subscriptions, either directly or through the
// confirmation workflow. Per-request state lives in a Session.
type SubscriptionService struct {
	subscribers   subscriber.Repository
	newsletters   newsletter.Repository
	confirmations *ConfirmationService
	validate      *validator.Validate
	clock         Clock
	metrics       *observability.Metrics
	logger        zerolog.Logger
}

func NewSubscriptionService(
	subscribers subscriber.Repository,
	newsletters newsletter.Repository,
	confirmations *ConfirmationService,
	validate *validator.Validate,
	clock Clock,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *SubscriptionService {
	if validate == nil {
		validate = validator.New()
	}
	return &SubscriptionService{
		subscribers:   subscribers,
		newsletters:   newsletters,
		confirmations: confirmations,
		validate:      validate,
		clock:         clock,
		metrics:       metrics,
		logger:        observability.Component(logger, "subscription"),
	}
}

// NewSession starts a scope for actor. Callers must Flush it; WithSession
// does that for them.
func (s *SubscriptionService) NewSession(actor Actor) *Session {
	return &Session{
		svc:    s,
		actor:  actor,
		buffer: confirmation.NewBuffer(),
		cache:  make(map[string]map[string]bool),
	}
}

// WithSession runs fn in a new session and flushes buffered confirmations
// on every exit path, panics included. Flush failures are logged; the
// subscription changes themselves are already stored.
func (s *SubscriptionService) WithSession(ctx context.Context, actor Actor, fn func(*Session) error) error {
	sess := s.NewSession(actor)
	defer func() {
		if _, err := sess.Flush(context.WithoutCancel(ctx)); err != nil {
			s.logger.Error().Err(err).Msg("Failed to send confirmations")
		}
	}()
	return fn(sess)
}

// Session buffers confirmation requests and caches subscription lookups for
// one request or batch.
type Session struct {
	svc    *SubscriptionService
	actor  Actor
	buffer *confirmation.Buffer

	mu    sync.Mutex
	cache map[string]map[string]bool
}

func (ss *Session) Actor() Actor { return ss.actor }

// Pending returns the number of addresses with buffered confirmations.
func (ss *Session) Pending() int { return ss.buffer.Len() }

// Flush sends the buffered confirmations.
func (ss *Session) Flush(ctx context.Context) (bool, error) {
	return ss.svc.confirmations.Flush(ctx, ss.buffer)
}

// Reset drops the IsSubscribed cache.
func (ss *Session) Reset() {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.cache = make(map[string]map[string]bool)
}

// Subscribe subscribes mail to newsletterID, creating the subscriber when
// needed. confirm nil applies the newsletter's opt-in policy. Subscribing
// twice is a no-op and a confirmed subscription is never downgraded.
func (ss *Session) Subscribe(ctx context.Context, mail, newsletterID string, confirm *bool, source, langcode string) error {
	svc := ss.svc
	mail = strings.TrimSpace(mail)
	now := svc.clock.Now()

	nl, err := svc.newsletters.GetNewsletter(ctx, newsletterID)
	if err != nil {
		return err
	}

	sub, err := svc.subscribers.GetByMail(ctx, mail)
	switch {
	case errors.Is(err, domainErrors.ErrSubscriberNotFound):
		sub, err = subscriber.New(mail, langcode, now)
		if err != nil {
			return err
		}
		if ss.actor.IsAuthenticated() && strings.EqualFold(ss.actor.Mail, mail) {
			sub.LinkAccount(ss.actor.Account())
		}
		if err := svc.subscribers.Save(ctx, sub); err != nil {
			return fmt.Errorf("create subscriber: %w", err)
		}
	case err != nil:
		return err
	case sub.IsLinkedTo(ss.actor.UserID):
		sub.SyncFromAccount(ss.actor.Account())
	}

	needConfirm := svc.confirmations.RequireConfirmation(nl, sub, ss.actor)
	if confirm != nil {
		needConfirm = *confirm
	}

	log := svc.logger.With().Str("subscriber_id", sub.ID.String()).Str("newsletter_id", nl.ID).Logger()
	if needConfirm {
		if !sub.IsSubscribed(nl.ID) && sub.Subscribe(nl.ID, subscriber.SubscriptionUnconfirmed, source, now) {
			if err := svc.subscribers.Save(ctx, sub); err != nil {
				return fmt.Errorf("save subscriber: %w", err)
			}
		}
		ss.buffer.Add(sub.Mail, nl.ID, subscriber.ActionSubscribe)
		svc.metrics.SubscriptionChanges.WithLabelValues(string(subscriber.ActionSubscribe), "confirm").Inc()
		log.Debug().Msg("Subscription awaits confirmation")
		return nil
	}

	if sub.Subscribe(nl.ID, subscriber.SubscriptionSubscribed, source, now) {
		if err := svc.subscribers.Save(ctx, sub); err != nil {
			return fmt.Errorf("save subscriber: %w", err)
		}
		svc.metrics.SubscriptionChanges.WithLabelValues(string(subscriber.ActionSubscribe), "direct").Inc()
		log.Info().Str("source", source).Msg("Subscribed")
	}
	return nil
}

// Unsubscribe removes mail from newsletterID. An unknown address is
// ErrSubscriberNotFound; an unknown newsletter is logged and ignored.
func (ss *Session) Unsubscribe(ctx context.Context, mail, newsletterID string, confirm *bool, source string) error {
	svc := ss.svc
	sub, err := svc.subscribers.GetByMail(ctx, strings.TrimSpace(mail))
	if err != nil {
		return err
	}
	if sub.IsLinkedTo(ss.actor.UserID) {
		sub.SyncFromAccount(ss.actor.Account())
	}

	nl, err := svc.newsletters.GetNewsletter(ctx, newsletterID)
	if errors.Is(err, domainErrors.ErrNewsletterNotFound) {
		svc.logger.Error().Str("newsletter_id", newsletterID).Msg("Attempt to unsubscribe from non existing newsletter")
		return nil
	}
	if err != nil {
		return err
	}

	needConfirm := svc.confirmations.RequireConfirmation(nl, sub, ss.actor)
	if confirm != nil {
		needConfirm = *confirm
	}

	if needConfirm {
		ss.buffer.Add(sub.Mail, nl.ID, subscriber.ActionUnsubscribe)
		svc.metrics.SubscriptionChanges.WithLabelValues(string(subscriber.ActionUnsubscribe), "confirm").Inc()
		return nil
	}

	if sub.IsSubscribed(nl.ID) && sub.Unsubscribe(nl.ID, source, svc.clock.Now()) {
		if err := svc.subscribers.Save(ctx, sub); err != nil {
			return fmt.Errorf("save subscriber: %w", err)
		}
		svc.metrics.SubscriptionChanges.WithLabelValues(string(subscriber.ActionUnsubscribe), "direct").Inc()
		svc.logger.Info().
			Str("subscriber_id", sub.ID.String()).
			Str("newsletter_id", nl.ID).
			Str("source", source).
			Msg("Unsubscribed")
	}
	return nil
}

// IsSubscribed reports whether mail belongs to an active subscriber with a
// confirmed subscription to newsletterID. Answers are cached until Reset.
func (ss *Session) IsSubscribed(ctx context.Context, mail, newsletterID string) (bool, error) {
	ss.mu.Lock()
	if v, ok := ss.cache[mail][newsletterID]; ok {
		ss.mu.Unlock()
		return v, nil
	}
	ss.mu.Unlock()

	sub, err := ss.svc.subscribers.GetByMail(ctx, mail)
	if err != nil && !errors.Is(err, domainErrors.ErrSubscriberNotFound) {
		return false, err
	}
	subscribed := sub != nil && sub.IsActive() && sub.IsSubscribed(newsletterID)

	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.cache[mail] == nil {
		ss.cache[mail] = make(map[string]bool)
	}
	ss.cache[mail][newsletterID] = subscribed
	return subscribed, nil
}

var addressSeparators = regexp.MustCompile(`[\s,]+`)

// MassRequest is an administrative bulk change.
type MassRequest struct {
	Addresses     string
	NewsletterIDs []string
	// Resubscribe also subscribes addresses that unsubscribed before.
	Resubscribe bool
	Langcode    string
}

// MassResult reports a bulk change per address.
type MassResult struct {
	Added   []string            `json:"added,omitempty"`
	Removed []string            `json:"removed,omitempty"`
	Invalid []string            `json:"invalid,omitempty"`
	Unknown []string            `json:"unknown,omitempty"`
	Skipped map[string][]string `json:"skipped,omitempty"`
}

// MassSubscribe subscribes every valid address without confirmation.
// Addresses that unsubscribed before are skipped unless Resubscribe is set.
func (ss *Session) MassSubscribe(ctx context.Context, req MassRequest) (*MassResult, error) {
	newsletters, err := ss.loadNewsletters(ctx, req.NewsletterIDs)
	if err != nil {
		return nil, err
	}

	noConfirm := false
	result := &MassResult{Skipped: make(map[string][]string)}
	for _, mail := range ss.splitAddresses(req.Addresses, result) {
		sub, err := ss.svc.subscribers.GetByMail(ctx, mail)
		if err != nil && !errors.Is(err, domainErrors.ErrSubscriberNotFound) {
			return result, err
		}
		added := false
		for _, nl := range newsletters {
			if sub != nil && sub.IsUnsubscribed(nl.ID) && !req.Resubscribe {
				result.Skipped[nl.Name] = append(result.Skipped[nl.Name], mail)
				continue
			}
			if err := ss.Subscribe(ctx, mail, nl.ID, &noConfirm, subscriber.SourceMassSubscribe, req.Langcode); err != nil {
				return result, fmt.Errorf("subscribe %s: %w", mail, err)
			}
			added = true
		}
		if added {
			result.Added = append(result.Added, mail)
		}
	}
	return result, nil
}

// MassUnsubscribe unsubscribes every valid address without confirmation.
// Unknown addresses are reported, not treated as errors.
func (ss *Session) MassUnsubscribe(ctx context.Context, req MassRequest) (*MassResult, error) {
	newsletters, err := ss.loadNewsletters(ctx, req.NewsletterIDs)
	if err != nil {
		return nil, err
	}

	noConfirm := false
	result := &MassResult{}
	for _, mail := range ss.splitAddresses(req.Addresses, result) {
		removed := true
		for _, nl := range newsletters {
			err := ss.Unsubscribe(ctx, mail, nl.ID, &noConfirm, subscriber.SourceMassUnsubscribe)
			if errors.Is(err, domainErrors.ErrSubscriberNotFound) {
				result.Unknown = append(result.Unknown, mail)
				removed = false
				break
			}
			if err != nil {
				return result, fmt.Errorf("unsubscribe %s: %w", mail, err)
			}
		}
		if removed {
			result.Removed = append(result.Removed, mail)
		}
	}
	return result, nil
}

func (ss *Session) loadNewsletters(ctx context.Context, ids []string) ([]*newsletter.Newsletter, error) {
	if len(ids) == 0 {
		return nil, domainErrors.NewValidationError("newsletter_ids", "at least one newsletter is required")
	}
	out := make([]*newsletter.Newsletter, 0, len(ids))
	for _, id := range ids {
		nl, err := ss.svc.newsletters.GetNewsletter(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, nl)
	}
	return out, nil
}

// splitAddresses returns the valid, distinct addresses in input order and
// records invalid ones on result.
func (ss *Session) splitAddresses(input string, result *MassResult) []string {
	seen := make(map[string]bool)
	var valid []string
	for _, a := range addressSeparators.Split(input, -1) {
		a = strings.TrimSpace(a)
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		if ss.svc.validate.Var(a, "required,email") != nil {
			result.Invalid = append(result.Invalid, a)
			continue
		}
		valid = append(valid, a)
	}
	return valid
}
