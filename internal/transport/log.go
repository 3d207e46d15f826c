package transport

import (
	"context"

	"github.com/cassiomorais/newsletters/internal/mail"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LogTransport writes messages to the log instead of delivering them.
type LogTransport struct {
	logger zerolog.Logger
}

func NewLogTransport(logger zerolog.Logger) *LogTransport {
	return &LogTransport{logger: logger.With().Str("transport", NameLog).Logger()}
}

func (t *LogTransport) Name() string { return NameLog }

func (t *LogTransport) Send(ctx context.Context, msg *mail.Message) (*Receipt, error) {
	id := uuid.NewString()
	t.logger.Info().
		Str("message_id", id).
		Str("key", msg.Key).
		Str("to", msg.To).
		Str("from", msg.FromHeader()).
		Str("subject", msg.Subject).
		Int("body_bytes", len(msg.Body)).
		Msg("Mail logged")
	t.logger.Debug().Str("message_id", id).Msg(msg.Body)
	return &Receipt{MessageID: id, Transport: NameLog}, nil
}
