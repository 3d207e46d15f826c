// Package transport delivers rendered messages through a mail provider.
package transport

import (
	"context"

	"github.com/cassiomorais/newsletters/internal/mail"
)

// Names of the built-in transports.
const (
	NameLog    = "log"
	NameSMTP   = "smtp"
	NameSES    = "ses"
	NameResend = "resend"
)

// Receipt is returned for every accepted message.
type Receipt struct {
	MessageID string
	Transport string
}

// Transport is implemented by mail providers. Send returns an error wrapping
// errors.ErrTransportRejected when the provider refused this message for good
// and a plain error when the provider could not be reached.
type Transport interface {
	// Name returns the transport name.
	Name() string
	// Send hands one message to the provider.
	Send(ctx context.Context, msg *mail.Message) (*Receipt, error)
}
