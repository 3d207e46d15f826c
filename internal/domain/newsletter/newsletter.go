package newsletter

import (
	"fmt"
	"time"

	"github.com/cassiomorais/newsletters/internal/domain/errors"
	"github.com/cassiomorais/newsletters/internal/domain/spool"
	"github.com/google/uuid"
)

// OptIn is the confirmation policy of a newsletter.
type OptIn string

const (
	OptInSingle OptIn = "single"
	OptInDouble OptIn = "double"
)

type Newsletter struct {
	ID     string
	Name   string
	OptIn  OptIn
	Weight int
}

// IssueStatus represents the send status of an issue
type IssueStatus string

const (
	IssueNotSent IssueStatus = "not_sent"
	IssuePublish IssueStatus = "publish"
	IssuePending IssueStatus = "pending"
	IssueSent    IssueStatus = "sent"
)

// IssueEntityType is the entity type recorded on spool entries of issues.
const IssueEntityType = "issue"

// DefaultHandler is the recipient handler used when an issue names none.
const DefaultHandler = "default"

type Issue struct {
	ID              uuid.UUID
	Title           string
	Subject         string
	Body            string
	Format          string
	NewsletterIDs   []string
	Status          IssueStatus
	Subscribers     int
	SentCount       int
	ErrorCount      int
	Handler         string
	HandlerSettings map[string]any
	Published       bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Ref returns the spool reference of the issue.
func (i *Issue) Ref() spool.IssueRef {
	return spool.IssueRef{EntityType: IssueEntityType, EntityID: i.ID}
}

// HandlerName returns the configured recipient handler or the default.
func (i *Issue) HandlerName() string {
	if i.Handler == "" {
		return DefaultHandler
	}
	return i.Handler
}

// PrimaryNewsletterID returns the first target newsletter, or "".
func (i *Issue) PrimaryNewsletterID() string {
	if len(i.NewsletterIDs) == 0 {
		return ""
	}
	return i.NewsletterIDs[0]
}

// NewStatusChangedError reports an update of an issue that is no longer in
// the status it was read with.
func NewStatusChangedError(expected IssueStatus) error {
	return errors.NewDomainError(
		"issue_changed",
		fmt.Sprintf("issue is no longer %s", expected),
		errors.ErrInvalidStateTransition,
	)
}

// MarkQueued records that recipients were spooled.
func (i *Issue) MarkQueued(recipients int, now time.Time) error {
	if i.Status == IssuePending || i.Status == IssueSent {
		return errors.NewDomainError(
			"invalid_state",
			fmt.Sprintf("cannot queue issue in status %s", i.Status),
			errors.ErrInvalidStateTransition,
		)
	}
	i.Status = IssuePending
	i.Subscribers = recipients
	i.SentCount = 0
	i.ErrorCount = 0
	i.UpdatedAt = now
	return nil
}

// MarkSendOnPublish defers sending until the issue is published.
func (i *Issue) MarkSendOnPublish(now time.Time) error {
	if i.Status != IssueNotSent {
		return errors.NewDomainError(
			"invalid_state",
			fmt.Sprintf("cannot schedule issue in status %s", i.Status),
			errors.ErrInvalidStateTransition,
		)
	}
	i.Status = IssuePublish
	i.UpdatedAt = now
	return nil
}

// MarkStopped returns the issue to not sent, discarding counters.
func (i *Issue) MarkStopped(now time.Time) error {
	if i.Status != IssuePending && i.Status != IssuePublish {
		return errors.NewDomainError(
			"invalid_state",
			fmt.Sprintf("cannot stop issue in status %s", i.Status),
			errors.ErrInvalidStateTransition,
		)
	}
	i.Status = IssueNotSent
	i.Subscribers = 0
	i.SentCount = 0
	i.ErrorCount = 0
	i.UpdatedAt = now
	return nil
}

// ApplyProgress stores counters recomputed from the spool and marks the
// issue sent once nothing is left unsent.
func (i *Issue) ApplyProgress(sent, errs, unsent int, now time.Time) {
	i.SentCount = sent
	i.ErrorCount = errs
	if unsent == 0 {
		i.Status = IssueSent
	}
	i.UpdatedAt = now
}
