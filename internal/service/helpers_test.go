package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/cassiomorais/newsletters/internal/confirmation"
	"github.com/cassiomorais/newsletters/internal/domain/newsletter"
	"github.com/cassiomorais/newsletters/internal/domain/spool"
	"github.com/cassiomorais/newsletters/internal/infrastructure/config"
	"github.com/cassiomorais/newsletters/internal/infrastructure/observability"
	"github.com/cassiomorais/newsletters/internal/mail"
	"github.com/cassiomorais/newsletters/internal/recipient"
	"github.com/cassiomorais/newsletters/internal/render"
	"github.com/cassiomorais/newsletters/internal/testutil"
	"github.com/cassiomorais/newsletters/internal/transport"
	"github.com/cassiomorais/newsletters/pkg/signer"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type publishedEvent struct {
	issueID uuid.UUID
	count   int
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) PublishIssueSpooled(ctx context.Context, issueID uuid.UUID, count int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{issueID: issueID, count: count})
	return p.err
}

// fixture wires every service against in-memory repositories.
type fixture struct {
	clock       *testutil.FakeClock
	spoolRepo   *testutil.MockSpoolRepository
	subscribers *testutil.MockSubscriberRepository
	newsletters *testutil.MockNewsletterRepository
	txManager   *testutil.MockTransactionManager
	transport   *transport.MockTransport
	tokens      *confirmation.Tokens
	publisher   *recordingPublisher
	metrics     *observability.Metrics

	spool         *SpoolService
	mailer        *MailerService
	confirmations *ConfirmationService
	subscriptions *SubscriptionService
	issues        *IssueService
}

type fixtureOption func(*fixtureOptions)

type fixtureOptions struct {
	mailer      MailerConfig
	requireMail string
	transport   []transport.MockOption
	logOutput   io.Writer
}

func withMailerConfig(cfg MailerConfig) fixtureOption {
	return func(o *fixtureOptions) { o.mailer = cfg }
}

func withRequireMail(mode string) fixtureOption {
	return func(o *fixtureOptions) { o.requireMail = mode }
}

func withTransport(opts ...transport.MockOption) fixtureOption {
	return func(o *fixtureOptions) { o.transport = opts }
}

func withLogOutput(w io.Writer) fixtureOption {
	return func(o *fixtureOptions) { o.logOutput = w }
}

func testMessageConfig() config.MessageConfig {
	return config.MessageConfig{
		CombinedSubject:             "Confirm your subscriptions at {{ site_name }}",
		CombinedBody:                "{{ changes_list }}Confirm: {{ confirm_url }}",
		CombinedBodyUnchanged:       "{{ changes_list }}Nothing to confirm.",
		LineSubscribeUnsubscribed:   "Subscribe to {{ newsletter_name }}",
		LineSubscribeSubscribed:     "Already subscribed to {{ newsletter_name }}",
		LineUnsubscribeSubscribed:   "Unsubscribe from {{ newsletter_name }}",
		LineUnsubscribeUnsubscribed: "Already unsubscribed from {{ newsletter_name }}",
		SubscribeSubject:            "Confirm {{ newsletter_name }}",
		SubscribeBody:               "Subscribe: {{ confirm_url }}",
		UnsubscribeSubject:          "Leave {{ newsletter_name }}",
		UnsubscribeBody:             "Unsubscribe: {{ confirm_url }}",
	}
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	o := fixtureOptions{mailer: MailerConfig{Concurrency: 2}}
	for _, opt := range opts {
		opt(&o)
	}

	f := &fixture{
		clock:       testutil.NewFakeClock(testutil.Epoch),
		spoolRepo:   testutil.NewMockSpoolRepository(),
		subscribers: testutil.NewMockSubscriberRepository(),
		newsletters: testutil.NewMockNewsletterRepository(),
		txManager:   testutil.NewMockTransactionManager(),
		transport:   transport.NewMockTransport("mock", o.transport...),
		tokens:      confirmation.NewTokens(signer.New(testSecret, 24*time.Hour), "https://news.example.com"),
		publisher:   &recordingPublisher{},
		metrics:     testutil.NewTestMetrics(),
	}
	logger := zerolog.Nop()
	if o.logOutput != nil {
		logger = zerolog.New(zerolog.SyncWriter(o.logOutput))
	}

	f.spool = NewSpoolService(f.spoolRepo, testutil.NewMemoryLocker(), f.clock, SpoolConfig{
		ProgressExpiration: 10 * time.Minute,
		LockName:           testLockName,
	}, f.metrics, logger)

	builder := mail.NewBuilder(config.MailerConfig{
		FromAddress:      "news@example.com",
		FromName:         "Example News",
		SiteName:         "Example",
		NewsletterFooter: "Unsubscribe: {{ unsubscribe_url }}",
	}, testMessageConfig(), render.New(), f.tokens, f.clock.Now)

	f.mailer = NewMailerService(f.spool, f.subscribers, f.newsletters, builder, f.transport, f.txManager, f.clock, o.mailer, f.metrics, logger)
	f.confirmations = NewConfirmationService(f.subscribers, f.newsletters, f.mailer, f.tokens, f.clock,
		ConfirmationConfig{RequireMail: o.requireMail}, f.metrics, logger)
	f.subscriptions = NewSubscriptionService(f.subscribers, f.newsletters, f.confirmations, nil, f.clock, f.metrics, logger)

	registry := recipient.NewRegistry(recipient.Deps{Subscribers: f.subscribers, Spool: f.spool, Now: f.clock.Now})
	f.issues = NewIssueService(f.newsletters, f.spool, registry, f.txManager, f.publisher, f.clock, logger)

	f.spoolRepo.Sending = func(ref spool.IssueRef) bool {
		issue, err := f.newsletters.GetIssue(context.Background(), ref.EntityID)
		return err == nil && issue.Status == newsletter.IssuePending
	}

	f.newsletters.AddNewsletter(testutil.NewTestNewsletter("weekly", newsletter.OptInDouble))
	f.newsletters.AddNewsletter(testutil.NewTestNewsletter("daily", newsletter.OptInSingle))
	return f
}

// combinedLink rebuilds the link a combined confirmation mail carries.
func (f *fixture) combinedLink(t *testing.T, mail string) CombinedLink {
	t.Helper()
	sub, err := f.subscribers.GetByMail(context.Background(), mail)
	if err != nil {
		t.Fatalf("load %s: %v", mail, err)
	}
	ts := f.clock.Now().Unix()
	return CombinedLink{
		SubscriberID: sub.ID,
		Timestamp:    ts,
		Hash:         f.tokens.Generate(sub.Mail, confirmation.CombinedDiscriminator(sub.Changes), ts),
	}
}

func (f *fixture) singleLink(t *testing.T, action confirmation.LinkAction, mail, newsletterID string) SingleLink {
	t.Helper()
	sub, err := f.subscribers.GetByMail(context.Background(), mail)
	if err != nil {
		t.Fatalf("load %s: %v", mail, err)
	}
	ts := f.clock.Now().Unix()
	return SingleLink{
		Action:       action,
		SubscriberID: sub.ID,
		NewsletterID: newsletterID,
		Timestamp:    ts,
		Hash:         f.tokens.Generate(sub.Mail, string(action), ts),
	}
}
