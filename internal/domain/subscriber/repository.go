package subscriber

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines subscriber persistence. Lookups return
// errors.ErrSubscriberNotFound when nothing matches.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Subscriber, error)
	GetByMail(ctx context.Context, mail string) (*Subscriber, error)
	// Save upserts the subscriber and its subscriptions, assigning an id to
	// new subscribers.
	Save(ctx context.Context, s *Subscriber) error
	// ListSubscribedIDs returns active subscribers confirmed for the
	// newsletter, optionally only those subscribed at or after since.
	ListSubscribedIDs(ctx context.Context, newsletterID string, since *time.Time) ([]uuid.UUID, error)
	CountSubscribed(ctx context.Context, newsletterID string, since *time.Time) (int, error)
}
