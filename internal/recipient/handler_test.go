package recipient

import (
	"context"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/newsletters/internal/domain/errors"
	"github.com/cassiomorais/newsletters/internal/domain/spool"
	"github.com/cassiomorais/newsletters/internal/domain/subscriber"
	"github.com/cassiomorais/newsletters/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type enqueued struct {
	issue        spool.IssueRef
	newsletterID string
	recipients   []spool.Recipient
}

type recordingEnqueuer struct {
	calls []enqueued
}

func (e *recordingEnqueuer) Enqueue(ctx context.Context, issue spool.IssueRef, newsletterID string, recipients []spool.Recipient) (int, error) {
	e.calls = append(e.calls, enqueued{issue: issue, newsletterID: newsletterID, recipients: recipients})
	return len(recipients), nil
}

func newTestRegistry(subs *testutil.MockSubscriberRepository, enq Enqueuer) *Registry {
	clock := testutil.NewFakeClock(testutil.Epoch)
	return NewRegistry(Deps{Subscribers: subs, Spool: enq, Now: clock.Now})
}

func TestRegistry_Names(t *testing.T) {
	r := newTestRegistry(testutil.NewMockSubscriberRepository(), &recordingEnqueuer{})
	assert.Equal(t, []string{"addresses", "default", "recent"}, r.Names())
}

func TestRegistry_UnknownHandler(t *testing.T) {
	r := newTestRegistry(testutil.NewMockSubscriberRepository(), &recordingEnqueuer{})
	issue := testutil.NewTestIssue("weekly")
	issue.Handler = "nope"

	_, err := r.ForIssue(issue)
	assert.ErrorIs(t, err, domainErrors.ErrHandlerNotFound)
}

func TestRegistry_RequiresSingleNewsletter(t *testing.T) {
	r := newTestRegistry(testutil.NewMockSubscriberRepository(), &recordingEnqueuer{})

	tests := []struct {
		name        string
		newsletters []string
	}{
		{name: "none", newsletters: nil},
		{name: "two", newsletters: []string{"weekly", "monthly"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issue := testutil.NewTestIssue(tt.newsletters...)
			_, err := r.ForIssue(issue)
			assert.ErrorIs(t, err, domainErrors.ErrSingleNewsletterOnly)
		})
	}
}

func TestSubscribersHandler_AddToSpool(t *testing.T) {
	subs := testutil.NewMockSubscriberRepository()
	a := testutil.NewTestSubscriber("a@example.com", "weekly")
	b := testutil.NewTestSubscriber("b@example.com", "weekly", "monthly")
	c := testutil.NewTestSubscriber("c@example.com", "monthly")
	blocked := testutil.NewTestSubscriber("d@example.com", "weekly")
	blocked.Status = subscriber.StatusBlocked
	for _, s := range []*subscriber.Subscriber{a, b, c, blocked} {
		subs.Add(s)
	}
	enq := &recordingEnqueuer{}
	r := newTestRegistry(subs, enq)
	issue := testutil.NewTestIssue("weekly")

	h, err := r.ForIssue(issue)
	require.NoError(t, err)

	count, err := h.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	n, err := h.AddToSpool(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, enq.calls, 1)
	call := enq.calls[0]
	assert.Equal(t, issue.Ref(), call.issue)
	assert.Equal(t, "weekly", call.newsletterID)
	var ids []string
	for _, rcpt := range call.recipients {
		require.NotNil(t, rcpt.SubscriberID)
		assert.Empty(t, rcpt.Data)
		ids = append(ids, rcpt.SubscriberID.String())
	}
	assert.ElementsMatch(t, []string{a.ID.String(), b.ID.String()}, ids)
}

func TestSubscribersHandler_SkipsUnsubscribed(t *testing.T) {
	subs := testutil.NewMockSubscriberRepository()
	s := testutil.NewTestSubscriber("a@example.com", "weekly")
	s.Unsubscribe("weekly", subscriber.SourceWebsite, testutil.Epoch)
	subs.Add(s)
	r := newTestRegistry(subs, &recordingEnqueuer{})

	h, err := r.ForIssue(testutil.NewTestIssue("weekly"))
	require.NoError(t, err)
	count, err := h.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRecentSubscribersHandler(t *testing.T) {
	subs := testutil.NewMockSubscriberRepository()
	old := testutil.NewTestSubscriber("old@example.com")
	old.Subscribe("weekly", subscriber.SubscriptionSubscribed, subscriber.SourceWebsite, testutil.Epoch.Add(-30*24*time.Hour))
	fresh := testutil.NewTestSubscriber("fresh@example.com")
	fresh.Subscribe("weekly", subscriber.SubscriptionSubscribed, subscriber.SourceWebsite, testutil.Epoch.Add(-2*24*time.Hour))
	subs.Add(old)
	subs.Add(fresh)
	enq := &recordingEnqueuer{}
	r := newTestRegistry(subs, enq)

	tests := []struct {
		name string
		days any
	}{
		{name: "int", days: 7},
		{name: "json number", days: float64(7)},
		{name: "string", days: "7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issue := testutil.NewTestIssue("weekly")
			issue.Handler = "recent"
			issue.HandlerSettings = map[string]any{"days": tt.days}

			h, err := r.ForIssue(issue)
			require.NoError(t, err)
			count, err := h.Count(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, count)
		})
	}
}

func TestRecentSubscribersHandler_InvalidDays(t *testing.T) {
	r := newTestRegistry(testutil.NewMockSubscriberRepository(), &recordingEnqueuer{})

	for _, days := range []any{nil, 0, -1, "soon", true} {
		issue := testutil.NewTestIssue("weekly")
		issue.Handler = "recent"
		issue.HandlerSettings = map[string]any{"days": days}

		_, err := r.ForIssue(issue)
		var vErr *domainErrors.ValidationError
		assert.ErrorAs(t, err, &vErr, "days=%v", days)
	}
}

func TestAddressesHandler(t *testing.T) {
	tests := []struct {
		name     string
		setting  any
		expected []string
	}{
		{
			name:     "string list",
			setting:  []string{"a@example.com", "b@example.com"},
			expected: []string{"a@example.com", "b@example.com"},
		},
		{
			name:     "json list",
			setting:  []any{"a@example.com", " b@example.com "},
			expected: []string{"a@example.com", "b@example.com"},
		},
		{
			name:     "text",
			setting:  "a@example.com\nb@example.com, c@example.com\r\n",
			expected: []string{"a@example.com", "b@example.com", "c@example.com"},
		},
		{
			name:     "invalid and duplicates dropped",
			setting:  []string{"a@example.com", "not-an-address", "a@example.com", ""},
			expected: []string{"a@example.com"},
		},
		{
			name:     "missing",
			setting:  nil,
			expected: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enq := &recordingEnqueuer{}
			r := newTestRegistry(testutil.NewMockSubscriberRepository(), enq)
			issue := testutil.NewTestIssue("weekly")
			issue.Handler = "addresses"
			issue.HandlerSettings = map[string]any{"addresses": tt.setting}

			h, err := r.ForIssue(issue)
			require.NoError(t, err)

			count, err := h.Count(context.Background())
			require.NoError(t, err)
			assert.Equal(t, len(tt.expected), count)

			n, err := h.AddToSpool(context.Background())
			require.NoError(t, err)
			assert.Equal(t, len(tt.expected), n)

			require.Len(t, enq.calls, 1)
			var got []string
			for _, rcpt := range enq.calls[0].recipients {
				assert.Nil(t, rcpt.SubscriberID)
				got = append(got, rcpt.Data)
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestAddressesHandler_InvalidSetting(t *testing.T) {
	r := newTestRegistry(testutil.NewMockSubscriberRepository(), &recordingEnqueuer{})
	issue := testutil.NewTestIssue("weekly")
	issue.Handler = "addresses"
	issue.HandlerSettings = map[string]any{"addresses": []any{"a@example.com", 42}}

	_, err := r.ForIssue(issue)
	var vErr *domainErrors.ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestRegistry_CustomHandler(t *testing.T) {
	r := newTestRegistry(testutil.NewMockSubscriberRepository(), &recordingEnqueuer{})
	var got Params
	r.Register("custom", func(deps Deps, p Params) (Handler, error) {
		got = p
		return &addressesHandler{deps: deps, params: p}, nil
	})
	issue := testutil.NewTestIssue("weekly", "monthly")
	issue.Handler = "custom"
	issue.HandlerSettings = map[string]any{"k": "v"}

	_, err := r.ForIssue(issue)
	require.NoError(t, err)
	assert.Equal(t, []string{"weekly", "monthly"}, got.NewsletterIDs)
	assert.Equal(t, "v", got.Settings["k"])
	assert.Same(t, issue, got.Issue)
}
