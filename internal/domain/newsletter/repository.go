package newsletter

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines newsletter and issue persistence.
type Repository interface {
	// GetNewsletter returns errors.ErrNewsletterNotFound for unknown ids.
	GetNewsletter(ctx context.Context, id string) (*Newsletter, error)
	ListNewsletters(ctx context.Context) ([]*Newsletter, error)

	// GetIssue returns errors.ErrIssueNotFound for unknown ids.
	GetIssue(ctx context.Context, id uuid.UUID) (*Issue, error)
	// GetIssueForUpdate is GetIssue holding a row lock until the surrounding
	// transaction ends.
	GetIssueForUpdate(ctx context.Context, id uuid.UUID) (*Issue, error)
	// UpdateIssue stores issue only while the stored status is still from.
	// A lost race returns an error wrapping errors.ErrInvalidStateTransition.
	UpdateIssue(ctx context.Context, issue *Issue, from IssueStatus) error
	ListIssuesByStatus(ctx context.Context, status IssueStatus) ([]*Issue, error)
}
