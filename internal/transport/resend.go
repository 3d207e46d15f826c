package transport

import (
	"context"
	"fmt"

	"github.com/cassiomorais/newsletters/internal/infrastructure/config"
	"github.com/cassiomorais/newsletters/internal/mail"
	"github.com/resend/resend-go/v2"
)

// ResendTransport delivers through the Resend API.
type ResendTransport struct {
	client *resend.Client
}

func NewResendTransport(cfg config.ResendConfig) *ResendTransport {
	return &ResendTransport{client: resend.NewClient(cfg.APIKey)}
}

// NewResendTransportWithClient uses a preconfigured client, e.g. one with a
// custom base URL.
func NewResendTransportWithClient(client *resend.Client) *ResendTransport {
	return &ResendTransport{client: client}
}

func (t *ResendTransport) Name() string { return NameResend }

func (t *ResendTransport) Send(ctx context.Context, msg *mail.Message) (*Receipt, error) {
	req := &resend.SendEmailRequest{
		From:    msg.FromHeader(),
		To:      []string{msg.To},
		Subject: msg.Subject,
		Text:    msg.Body,
		Html:    msg.HTML,
		Headers: msg.Headers,
		ReplyTo: msg.ReplyTo,
	}
	sent, err := t.client.Emails.SendWithContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("resend send: %w", err)
	}
	return &Receipt{MessageID: sent.Id, Transport: NameResend}, nil
}
