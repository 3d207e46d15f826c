// Package confirmation holds the signed links of the opt-in workflow and the
// per-scope buffer that collapses a subscriber's pending changes into one
// combined confirmation.
package confirmation

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	domainErrors "github.com/cassiomorais/newsletters/internal/domain/errors"
	"github.com/cassiomorais/newsletters/internal/domain/subscriber"
	"github.com/cassiomorais/newsletters/pkg/signer"
	"github.com/google/uuid"
)

// LinkAction is the action encoded in a single confirmation link.
type LinkAction string

const (
	LinkAdd    LinkAction = "add"
	LinkRemove LinkAction = "remove"
)

const combinedPrefix = "combined"

// ParseLinkAction accepts "add" and "remove".
func ParseLinkAction(s string) (LinkAction, error) {
	switch a := LinkAction(s); a {
	case LinkAdd, LinkRemove:
		return a, nil
	default:
		return "", fmt.Errorf("%w: unknown action %q", domainErrors.ErrInvalidToken, s)
	}
}

// SubscriberAction maps the link action to the subscription change.
func (a LinkAction) SubscriberAction() subscriber.Action {
	if a == LinkRemove {
		return subscriber.ActionUnsubscribe
	}
	return subscriber.ActionSubscribe
}

// LinkActionFor maps a subscription change to its link action.
func LinkActionFor(action subscriber.Action) LinkAction {
	if action == subscriber.ActionUnsubscribe {
		return LinkRemove
	}
	return LinkAdd
}

// CombinedDiscriminator binds a combined hash to the exact change set, so a
// link stops validating once the changes are applied or replaced.
func CombinedDiscriminator(changes subscriber.Changes) string {
	return combinedPrefix + changes.Serialize()
}

// Tokens signs and checks confirmation links.
type Tokens struct {
	signer  *signer.Signer
	baseURL string
}

func NewTokens(s *signer.Signer, baseURL string) *Tokens {
	return &Tokens{signer: s, baseURL: strings.TrimRight(baseURL, "/")}
}

func (t *Tokens) Expiry() time.Duration {
	return t.signer.Expiry()
}

// Generate returns the hash for mail, discriminator and timestamp.
func (t *Tokens) Generate(mail, discriminator string, ts int64) string {
	return t.signer.Generate(mail, discriminator, ts)
}

// Validate maps signer failures onto domain errors: a wrong hash is
// ErrInvalidToken, an old one ErrTokenExpired.
func (t *Tokens) Validate(mail, discriminator string, ts int64, hash string, now time.Time) error {
	err := t.signer.Validate(mail, discriminator, ts, hash, now)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, signer.ErrExpired):
		return domainErrors.ErrTokenExpired
	default:
		return domainErrors.ErrInvalidToken
	}
}

// CombinedURL returns the absolute link confirming all of s.Changes.
func (t *Tokens) CombinedURL(s *subscriber.Subscriber, at time.Time) string {
	ts := at.Unix()
	hash := t.Generate(s.Mail, CombinedDiscriminator(s.Changes), ts)
	return t.baseURL + CombinedPath(s.ID, ts, hash)
}

// SingleURL returns the absolute link confirming one action on one
// newsletter.
func (t *Tokens) SingleURL(action LinkAction, s *subscriber.Subscriber, newsletterID string, at time.Time) string {
	ts := at.Unix()
	hash := t.Generate(s.Mail, string(action), ts)
	return t.baseURL + SinglePath(action, s.ID, newsletterID, ts, hash)
}

func CombinedPath(subscriberID uuid.UUID, ts int64, hash string) string {
	return fmt.Sprintf("/newsletter/confirm/combined/%s/%d/%s", subscriberID, ts, url.PathEscape(hash))
}

func SinglePath(action LinkAction, subscriberID uuid.UUID, newsletterID string, ts int64, hash string) string {
	return fmt.Sprintf("/newsletter/confirm/%s/%s/%s/%d/%s",
		action, subscriberID, url.PathEscape(newsletterID), ts, url.PathEscape(hash))
}

// ParseTimestamp parses the timestamp segment of a link.
func ParseTimestamp(s string) (int64, error) {
	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ts < 0 {
		return 0, fmt.Errorf("%w: bad timestamp", domainErrors.ErrInvalidToken)
	}
	return ts, nil
}
