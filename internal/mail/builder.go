package mail

import (
	"fmt"
	"strings"
	"time"

	"github.com/cassiomorais/newsletters/internal/confirmation"
	"github.com/cassiomorais/newsletters/internal/domain/newsletter"
	"github.com/cassiomorais/newsletters/internal/domain/subscriber"
	"github.com/cassiomorais/newsletters/internal/infrastructure/config"
	"github.com/cassiomorais/newsletters/internal/render"
)

// FormatHTML marks issues whose body is HTML.
const FormatHTML = "html"

// Recipient is who an issue is rendered for. Subscriber is nil for raw
// addresses, which get no unsubscribe link.
type Recipient struct {
	Mail       string
	Langcode   string
	Subscriber *subscriber.Subscriber
}

// Builder renders messages from the configured templates.
type Builder struct {
	mailer   config.MailerConfig
	messages config.MessageConfig
	renderer *render.Renderer
	tokens   *confirmation.Tokens
	now      func() time.Time
}

func NewBuilder(mailer config.MailerConfig, messages config.MessageConfig, renderer *render.Renderer, tokens *confirmation.Tokens, now func() time.Time) *Builder {
	return &Builder{
		mailer:   mailer,
		messages: messages,
		renderer: renderer,
		tokens:   tokens,
		now:      now,
	}
}

func (b *Builder) newMessage(key string, kind Kind, to, langcode string) *Message {
	return &Message{
		Key:      key,
		Kind:     kind,
		To:       to,
		From:     b.mailer.FromAddress,
		FromName: b.mailer.FromName,
		Langcode: langcode,
	}
}

func (b *Builder) baseVars(mail string) map[string]any {
	return map[string]any{
		"mail":      mail,
		"site_name": b.mailer.SiteName,
	}
}

// Issue renders an issue for one recipient. Subscribers get the footer with
// a one-click unsubscribe link for nl.
func (b *Builder) Issue(issue *newsletter.Issue, nl *newsletter.Newsletter, to Recipient) (*Message, error) {
	return b.issue(KeyIssue, KindNewsletter, issue, nl, to)
}

// Test renders an issue as a test mail for an arbitrary address.
func (b *Builder) Test(issue *newsletter.Issue, nl *newsletter.Newsletter, to Recipient) (*Message, error) {
	msg, err := b.issue(KeyTest, KindTest, issue, nl, to)
	if err != nil {
		return nil, err
	}
	msg.Subject = "[Test] " + msg.Subject
	return msg, nil
}

func (b *Builder) issue(key string, kind Kind, issue *newsletter.Issue, nl *newsletter.Newsletter, to Recipient) (*Message, error) {
	vars := b.baseVars(to.Mail)
	vars["issue_title"] = issue.Title
	vars["newsletter_name"] = nl.Name
	vars["newsletter_id"] = nl.ID

	var unsubscribeURL string
	if to.Subscriber != nil && !to.Subscriber.IsNew() {
		unsubscribeURL = b.tokens.SingleURL(confirmation.LinkRemove, to.Subscriber, nl.ID, b.now())
		vars["unsubscribe_url"] = unsubscribeURL
	}

	subject, err := b.renderer.Render(issue.Subject, vars)
	if err != nil {
		return nil, fmt.Errorf("issue subject: %w", err)
	}
	body, err := b.renderer.Render(issue.Body, vars)
	if err != nil {
		return nil, fmt.Errorf("issue body: %w", err)
	}
	if unsubscribeURL != "" && b.mailer.NewsletterFooter != "" {
		footer, err := b.renderer.Render(b.mailer.NewsletterFooter, vars)
		if err != nil {
			return nil, fmt.Errorf("issue footer: %w", err)
		}
		body = strings.TrimRight(body, "\n") + "\n\n-- \n" + footer
	}

	msg := b.newMessage(key, kind, to.Mail, to.Langcode)
	msg.Subject = subject
	if issue.Format == FormatHTML {
		msg.HTML = body
	} else {
		msg.Body = body
	}
	if unsubscribeURL != "" {
		msg.SetHeader("List-Unsubscribe", "<"+unsubscribeURL+">")
	}
	msg.SetHeader("X-Newsletter-Issue", issue.ID.String())
	return msg, nil
}

// CombinedConfirmation renders one mail asking s to confirm all of
// s.Changes. When applying them would change nothing the body says so and
// carries no link. newsletters supplies display names; unknown ids are shown
// as is.
func (b *Builder) CombinedConfirmation(s *subscriber.Subscriber, newsletters map[string]*newsletter.Newsletter) (*Message, error) {
	vars := b.baseVars(s.Mail)

	list, err := b.ChangesList(s, newsletters)
	if err != nil {
		return nil, err
	}
	vars["changes_list"] = list

	bodyTpl := b.messages.CombinedBodyUnchanged
	if s.CountActualChanges() > 0 {
		bodyTpl = b.messages.CombinedBody
		vars["confirm_url"] = b.tokens.CombinedURL(s, b.now())
	}

	subject, err := b.renderer.Render(b.messages.CombinedSubject, vars)
	if err != nil {
		return nil, fmt.Errorf("combined subject: %w", err)
	}
	body, err := b.renderer.Render(bodyTpl, vars)
	if err != nil {
		return nil, fmt.Errorf("combined body: %w", err)
	}

	msg := b.newMessage(KeySubscribeCombined, KindConfirmation, s.Mail, s.Langcode)
	msg.Subject = subject
	msg.Body = body
	return msg, nil
}

// ChangesList renders one line per pending change, sorted by newsletter id.
// The line text depends on the action and on the current state.
func (b *Builder) ChangesList(s *subscriber.Subscriber, newsletters map[string]*newsletter.Newsletter) (string, error) {
	var sb strings.Builder
	for _, id := range s.Changes.NewsletterIDs() {
		name := id
		if nl, ok := newsletters[id]; ok && nl.Name != "" {
			name = nl.Name
		}
		line, err := b.renderer.Render(b.changeLine(s, id, s.Changes[id]), map[string]any{
			"newsletter_name": name,
			"mail":            s.Mail,
		})
		if err != nil {
			return "", fmt.Errorf("changes line: %w", err)
		}
		sb.WriteString("- ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func (b *Builder) changeLine(s *subscriber.Subscriber, newsletterID string, action subscriber.Action) string {
	subscribed := s.IsSubscribed(newsletterID)
	switch {
	case action == subscriber.ActionSubscribe && subscribed:
		return b.messages.LineSubscribeSubscribed
	case action == subscriber.ActionSubscribe:
		return b.messages.LineSubscribeUnsubscribed
	case subscribed:
		return b.messages.LineUnsubscribeSubscribed
	default:
		return b.messages.LineUnsubscribeUnsubscribed
	}
}

// Confirmation renders a single subscribe or unsubscribe confirmation for
// one newsletter.
func (b *Builder) Confirmation(action subscriber.Action, s *subscriber.Subscriber, nl *newsletter.Newsletter) (*Message, error) {
	subjectTpl, bodyTpl, key := b.messages.SubscribeSubject, b.messages.SubscribeBody, KeySubscribe
	if action == subscriber.ActionUnsubscribe {
		subjectTpl, bodyTpl, key = b.messages.UnsubscribeSubject, b.messages.UnsubscribeBody, KeyUnsubscribe
	}

	vars := b.baseVars(s.Mail)
	vars["newsletter_name"] = nl.Name
	vars["confirm_url"] = b.tokens.SingleURL(confirmation.LinkActionFor(action), s, nl.ID, b.now())

	subject, err := b.renderer.Render(subjectTpl, vars)
	if err != nil {
		return nil, fmt.Errorf("confirmation subject: %w", err)
	}
	body, err := b.renderer.Render(bodyTpl, vars)
	if err != nil {
		return nil, fmt.Errorf("confirmation body: %w", err)
	}

	msg := b.newMessage(key, KindConfirmation, s.Mail, s.Langcode)
	msg.Subject = subject
	msg.Body = body
	return msg, nil
}
