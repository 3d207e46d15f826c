package newsletter

import (
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/newsletters/internal/domain/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssue_Transitions(t *testing.T) {
	now := time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		from    IssueStatus
		act     func(i *Issue) error
		want    IssueStatus
		wantErr bool
	}{
		{"queue not sent", IssueNotSent, func(i *Issue) error { return i.MarkQueued(3, now) }, IssuePending, false},
		{"queue scheduled", IssuePublish, func(i *Issue) error { return i.MarkQueued(3, now) }, IssuePending, false},
		{"queue pending", IssuePending, func(i *Issue) error { return i.MarkQueued(3, now) }, IssuePending, true},
		{"queue sent", IssueSent, func(i *Issue) error { return i.MarkQueued(3, now) }, IssueSent, true},
		{"schedule not sent", IssueNotSent, func(i *Issue) error { return i.MarkSendOnPublish(now) }, IssuePublish, false},
		{"schedule pending", IssuePending, func(i *Issue) error { return i.MarkSendOnPublish(now) }, IssuePending, true},
		{"stop pending", IssuePending, func(i *Issue) error { return i.MarkStopped(now) }, IssueNotSent, false},
		{"stop scheduled", IssuePublish, func(i *Issue) error { return i.MarkStopped(now) }, IssueNotSent, false},
		{"stop sent", IssueSent, func(i *Issue) error { return i.MarkStopped(now) }, IssueSent, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issue := &Issue{ID: uuid.New(), Status: tt.from}
			err := tt.act(issue)
			if tt.wantErr {
				assert.ErrorIs(t, err, domainErrors.ErrInvalidStateTransition)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, issue.Status)
		})
	}
}

func TestIssue_MarkQueuedResetsCounters(t *testing.T) {
	issue := &Issue{Status: IssueNotSent, SentCount: 9, ErrorCount: 2}
	require.NoError(t, issue.MarkQueued(12, time.Now()))

	assert.Equal(t, 12, issue.Subscribers)
	assert.Zero(t, issue.SentCount)
	assert.Zero(t, issue.ErrorCount)
}

func TestIssue_ApplyProgress(t *testing.T) {
	issue := &Issue{Status: IssuePending, Subscribers: 3}

	issue.ApplyProgress(2, 0, 1, time.Now())
	assert.Equal(t, IssuePending, issue.Status)
	assert.Equal(t, 2, issue.SentCount)

	issue.ApplyProgress(2, 1, 0, time.Now())
	assert.Equal(t, IssueSent, issue.Status)
	assert.Equal(t, 1, issue.ErrorCount)
}

func TestIssue_RefAndHandler(t *testing.T) {
	id := uuid.New()
	issue := &Issue{ID: id, NewsletterIDs: []string{"weekly", "daily"}}

	assert.Equal(t, IssueEntityType, issue.Ref().EntityType)
	assert.Equal(t, id, issue.Ref().EntityID)
	assert.Equal(t, DefaultHandler, issue.HandlerName())
	assert.Equal(t, "weekly", issue.PrimaryNewsletterID())

	issue.Handler = "addresses"
	assert.Equal(t, "addresses", issue.HandlerName())
	assert.Equal(t, "", (&Issue{}).PrimaryNewsletterID())
}
