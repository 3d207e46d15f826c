package testutil

import (
	"time"

	"github.com/cassiomorais/newsletters/internal/domain/newsletter"
	"github.com/cassiomorais/newsletters/internal/domain/subscriber"
	"github.com/cassiomorais/newsletters/internal/infrastructure/observability"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Epoch is the default fake clock start.
var Epoch = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func NewTestNewsletter(id string, optIn newsletter.OptIn) *newsletter.Newsletter {
	return &newsletter.Newsletter{ID: id, Name: "The " + id + " letter", OptIn: optIn}
}

// NewTestSubscriber builds an active, persisted subscriber confirmed for the
// given newsletters.
func NewTestSubscriber(mail string, subscribedTo ...string) *subscriber.Subscriber {
	s := &subscriber.Subscriber{
		ID:            uuid.New(),
		Mail:          mail,
		Status:        subscriber.StatusActive,
		Langcode:      "en",
		Subscriptions: make(map[string]*subscriber.Subscription),
		CreatedAt:     Epoch,
	}
	for _, id := range subscribedTo {
		s.Subscribe(id, subscriber.SubscriptionSubscribed, subscriber.SourceWebsite, Epoch)
	}
	return s
}

func NewTestIssue(newsletterIDs ...string) *newsletter.Issue {
	return &newsletter.Issue{
		ID:              uuid.New(),
		Title:           "Spring edition",
		Subject:         "[{{ newsletter_name }}] Spring edition",
		Body:            "Hello {{ mail }}, here is the news.",
		Format:          "plain",
		NewsletterIDs:   newsletterIDs,
		Status:          newsletter.IssueNotSent,
		Handler:         newsletter.DefaultHandler,
		HandlerSettings: map[string]any{},
		Published:       true,
		CreatedAt:       Epoch,
		UpdatedAt:       Epoch,
	}
}

// NewTestMetrics registers metrics on a throwaway registry.
func NewTestMetrics() *observability.Metrics {
	return observability.NewMetrics("test", prometheus.NewRegistry())
}

func UUIDPtr(id uuid.UUID) *uuid.UUID {
	return &id
}

func BoolPtr(b bool) *bool {
	return &b
}
