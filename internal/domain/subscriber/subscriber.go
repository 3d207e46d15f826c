package subscriber

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/cassiomorais/newsletters/internal/domain/errors"
	"github.com/google/uuid"
)

type Status string

const (
	StatusActive  Status = "active"
	StatusBlocked Status = "blocked"
)

type SubscriptionStatus string

const (
	SubscriptionUnconfirmed  SubscriptionStatus = "unconfirmed"
	SubscriptionSubscribed   SubscriptionStatus = "subscribed"
	SubscriptionUnsubscribed SubscriptionStatus = "unsubscribed"
)

// Action is a pending subscription change awaiting confirmation.
type Action string

const (
	ActionSubscribe   Action = "subscribe"
	ActionUnsubscribe Action = "unsubscribe"
)

// Sources recorded on subscriptions.
const (
	SourceWebsite         = "website"
	SourceMassSubscribe   = "mass subscribe"
	SourceMassUnsubscribe = "mass unsubscribe"
	SourceAdmin           = "admin action"
	SourceConfirmation    = "confirmation"
)

// Changes maps newsletter id to the requested action.
type Changes map[string]Action

// Serialize returns a stable encoding of the change set. Keys are sorted so
// equal sets always produce equal output, which token hashes depend on.
func (c Changes) Serialize() string {
	if len(c) == 0 {
		return "{}"
	}
	// encoding/json sorts map keys
	b, err := json.Marshal(map[string]Action(c))
	if err != nil {
		return "{}"
	}
	return string(b)
}

// NewsletterIDs returns the changed newsletter ids in sorted order.
func (c Changes) NewsletterIDs() []string {
	return slices.Sorted(maps.Keys(c))
}

// Subscription is a subscriber's membership in one newsletter.
type Subscription struct {
	NewsletterID string
	Status       SubscriptionStatus
	Source       string
	Timestamp    time.Time
}

// Account is the user identity a subscriber may be linked to.
type Account struct {
	UserID   string
	Mail     string
	Langcode string
}

type Subscriber struct {
	ID            uuid.UUID
	Mail          string
	Status        Status
	UserID        *string
	Langcode      string
	Subscriptions map[string]*Subscription
	Changes       Changes
	CreatedAt     time.Time
}

// New builds an unsaved, active subscriber. The id stays uuid.Nil until the
// repository persists it.
func New(mail, langcode string, now time.Time) (*Subscriber, error) {
	mail = strings.TrimSpace(mail)
	if mail == "" {
		return nil, errors.NewValidationError("mail", "cannot be empty")
	}
	return &Subscriber{
		Mail:          mail,
		Status:        StatusActive,
		Langcode:      langcode,
		Subscriptions: make(map[string]*Subscription),
		CreatedAt:     now,
	}, nil
}

func (s *Subscriber) IsNew() bool {
	return s.ID == uuid.Nil
}

func (s *Subscriber) IsActive() bool {
	return s.Status == StatusActive
}

// IsSubscribed reports a confirmed subscription; unconfirmed does not count.
func (s *Subscriber) IsSubscribed(newsletterID string) bool {
	sub, ok := s.Subscriptions[newsletterID]
	return ok && sub.Status == SubscriptionSubscribed
}

// IsUnsubscribed reports an explicit unsubscribe record, as opposed to never
// having been subscribed.
func (s *Subscriber) IsUnsubscribed(newsletterID string) bool {
	sub, ok := s.Subscriptions[newsletterID]
	return ok && sub.Status == SubscriptionUnsubscribed
}

// Subscription returns the subscription for newsletterID, or nil.
func (s *Subscriber) Subscription(newsletterID string) *Subscription {
	return s.Subscriptions[newsletterID]
}

// Subscribe sets the subscription status for a newsletter. A subscribed
// membership is never downgraded to unconfirmed. It reports whether anything
// changed.
func (s *Subscriber) Subscribe(newsletterID string, status SubscriptionStatus, source string, at time.Time) bool {
	if s.Subscriptions == nil {
		s.Subscriptions = make(map[string]*Subscription)
	}
	sub, ok := s.Subscriptions[newsletterID]
	if ok {
		if sub.Status == SubscriptionSubscribed || sub.Status == status {
			return false
		}
		sub.Status = status
		sub.Source = source
		sub.Timestamp = at
		return true
	}
	s.Subscriptions[newsletterID] = &Subscription{
		NewsletterID: newsletterID,
		Status:       status,
		Source:       source,
		Timestamp:    at,
	}
	return true
}

// Unsubscribe marks the newsletter as unsubscribed, recording the row even if
// the subscriber was never subscribed. It reports whether anything changed.
func (s *Subscriber) Unsubscribe(newsletterID, source string, at time.Time) bool {
	if s.IsUnsubscribed(newsletterID) {
		return false
	}
	if s.Subscriptions == nil {
		s.Subscriptions = make(map[string]*Subscription)
	}
	s.Subscriptions[newsletterID] = &Subscription{
		NewsletterID: newsletterID,
		Status:       SubscriptionUnsubscribed,
		Source:       source,
		Timestamp:    at,
	}
	return true
}

// SubscribedNewsletterIDs returns confirmed newsletter ids, sorted.
func (s *Subscriber) SubscribedNewsletterIDs() []string {
	var ids []string
	for id, sub := range s.Subscriptions {
		if sub.Status == SubscriptionSubscribed {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

func (s *Subscriber) SetChanges(changes Changes) {
	s.Changes = maps.Clone(changes)
}

// CountActualChanges returns how many pending changes would alter the
// current subscription state if applied.
func (s *Subscriber) CountActualChanges() int {
	n := 0
	for id, action := range s.Changes {
		if s.wouldChange(id, action) {
			n++
		}
	}
	return n
}

func (s *Subscriber) wouldChange(newsletterID string, action Action) bool {
	switch action {
	case ActionSubscribe:
		return !s.IsSubscribed(newsletterID)
	case ActionUnsubscribe:
		return s.IsSubscribed(newsletterID)
	default:
		return false
	}
}

// ApplyChanges applies all pending changes and clears them. It returns the
// number of subscriptions that actually changed.
func (s *Subscriber) ApplyChanges(source string, at time.Time) int {
	n := 0
	for _, id := range s.Changes.NewsletterIDs() {
		var changed bool
		switch s.Changes[id] {
		case ActionSubscribe:
			changed = s.Subscribe(id, SubscriptionSubscribed, source, at)
		case ActionUnsubscribe:
			changed = s.IsSubscribed(id) && s.Unsubscribe(id, source, at)
		}
		if changed {
			n++
		}
	}
	s.Changes = nil
	return n
}

// LinkAccount links the subscriber to a user account; mail and language are
// taken from the account from then on.
func (s *Subscriber) LinkAccount(acct Account) {
	uid := acct.UserID
	s.UserID = &uid
	s.SyncFromAccount(acct)
}

// SyncFromAccount copies mail and language from the linked account.
func (s *Subscriber) SyncFromAccount(acct Account) {
	if s.UserID == nil || *s.UserID != acct.UserID {
		return
	}
	if acct.Mail != "" {
		s.Mail = acct.Mail
	}
	if acct.Langcode != "" {
		s.Langcode = acct.Langcode
	}
}

// IsLinkedTo reports whether the subscriber belongs to userID.
func (s *Subscriber) IsLinkedTo(userID string) bool {
	return userID != "" && s.UserID != nil && *s.UserID == userID
}
