package spool

import (
	"slices"
	"time"

	"github.com/cassiomorais/newsletters/internal/domain/errors"
	"github.com/google/uuid"
)

// Status represents the spool entry status in the send state machine
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusSkipped    Status = "skipped"
)

// Unlimited disables the claim cap.
const Unlimited = 0

// UnsentStatuses is the default status filter: everything not yet sent.
var UnsentStatuses = []Status{StatusPending, StatusInProgress}

// IsTerminal reports whether the status is a final outcome.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusSkipped
}

// IssueRef identifies the entity an entry was spooled for.
type IssueRef struct {
	EntityType string
	EntityID   uuid.UUID
}

// Recipient is either a subscriber id or a raw address, never both.
type Recipient struct {
	SubscriberID *uuid.UUID
	Data         string
}

// SubscriberRecipient builds a recipient keyed by subscriber id.
func SubscriberRecipient(id uuid.UUID) Recipient {
	return Recipient{SubscriberID: &id}
}

// AddressRecipient builds a recipient keyed by a raw address.
func AddressRecipient(address string) Recipient {
	return Recipient{Data: address}
}

// Validate checks that exactly one recipient key is set.
func (r Recipient) Validate() error {
	hasID := r.SubscriberID != nil && *r.SubscriberID != uuid.Nil
	hasData := r.Data != ""
	if hasID == hasData {
		return errors.ErrInvalidRecipient
	}
	return nil
}

// Entry is one queued outbound message for one recipient of one issue.
type Entry struct {
	ID           int64
	Issue        IssueRef
	NewsletterID string
	Recipient    Recipient
	Status       Status
	Error        bool
	Timestamp    time.Time
}

// NewEntry creates a pending entry stamped at now.
func NewEntry(issue IssueRef, newsletterID string, recipient Recipient, now time.Time) (*Entry, error) {
	if err := recipient.Validate(); err != nil {
		return nil, err
	}
	return &Entry{
		Issue:        issue,
		NewsletterID: newsletterID,
		Recipient:    recipient,
		Status:       StatusPending,
		Timestamp:    now,
	}, nil
}

// EffectiveStatus returns the status an entry logically has at now. An
// in-progress lease older than expiry is reported as pending; the stored
// status is never rewritten for this.
func EffectiveStatus(e *Entry, now time.Time, expiry time.Duration) Status {
	if e.Status == StatusInProgress && e.Timestamp.Before(now.Add(-expiry)) {
		return StatusPending
	}
	return e.Status
}

// Filter narrows spool queries. Empty fields match everything; an empty
// Statuses slice means UnsentStatuses.
type Filter struct {
	Issue        *IssueRef
	NewsletterID string
	Statuses     []Status
}

// ForIssue returns a filter matching all unsent entries of one issue.
func ForIssue(ref IssueRef) Filter {
	return Filter{Issue: &ref}
}

// WithStatuses returns a copy of f restricted to the given statuses.
func (f Filter) WithStatuses(statuses ...Status) Filter {
	f.Statuses = statuses
	return f
}

// EffectiveStatuses returns the statuses the filter selects.
func (f Filter) EffectiveStatuses() []Status {
	if len(f.Statuses) == 0 {
		return UnsentStatuses
	}
	return f.Statuses
}

// Matches reports whether e satisfies the filter at now, comparing against the
// effective status.
func (f Filter) Matches(e *Entry, now time.Time, expiry time.Duration) bool {
	if f.Issue != nil && e.Issue != *f.Issue {
		return false
	}
	if f.NewsletterID != "" && e.NewsletterID != f.NewsletterID {
		return false
	}
	return slices.Contains(f.EffectiveStatuses(), EffectiveStatus(e, now, expiry))
}
