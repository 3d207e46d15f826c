package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"maps"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"net/textproto"
	"slices"
	"time"

	domainErrors "github.com/cassiomorais/newsletters/internal/domain/errors"
	"github.com/cassiomorais/newsletters/internal/infrastructure/config"
	"github.com/cassiomorais/newsletters/internal/mail"
	"github.com/cassiomorais/newsletters/pkg/retry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const smtpDialTimeout = 30 * time.Second

// SMTPTransport delivers through an SMTP relay, retrying transient failures.
type SMTPTransport struct {
	cfg    config.SMTPConfig
	retry  retry.Config
	logger zerolog.Logger
}

func NewSMTPTransport(cfg config.SMTPConfig, logger zerolog.Logger) *SMTPTransport {
	rc := retry.DefaultConfig()
	if cfg.Retries > 0 {
		rc.MaxAttempts = cfg.Retries
	}
	return &SMTPTransport{
		cfg:    cfg,
		retry:  rc,
		logger: logger.With().Str("transport", NameSMTP).Logger(),
	}
}

func (t *SMTPTransport) Name() string { return NameSMTP }

func (t *SMTPTransport) Send(ctx context.Context, msg *mail.Message) (*Receipt, error) {
	id := fmt.Sprintf("<%s@%s>", uuid.NewString(), msg.Domain())
	raw, err := buildMIME(msg, id)
	if err != nil {
		return nil, fmt.Errorf("build message: %w", err)
	}

	err = retry.Do(ctx, t.retry, t.logger, "smtp.send", func() error {
		err := t.deliver(ctx, msg.From, msg.To, raw)
		if isPermanentSMTPError(err) {
			return retry.Unrecoverable(fmt.Errorf("%w: %w", domainErrors.ErrTransportRejected, err))
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Receipt{MessageID: id, Transport: NameSMTP}, nil
}

func (t *SMTPTransport) deliver(ctx context.Context, from, to string, raw []byte) error {
	dialer := &net.Dialer{Timeout: smtpDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.cfg.Addr())
	if err != nil {
		return fmt.Errorf("connect to smtp server: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("create smtp client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: t.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("start tls: %w", err)
		}
	}
	if t.cfg.Username != "" {
		auth := smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("set recipient: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("start data: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close message: %w", err)
	}
	return client.Quit()
}

// isPermanentSMTPError reports 5xx replies, which retrying cannot fix.
func isPermanentSMTPError(err error) bool {
	var tpErr *textproto.Error
	return errors.As(err, &tpErr) && tpErr.Code >= 500 && tpErr.Code < 600
}

// buildMIME renders msg as an RFC 5322 message. Messages with an HTML part
// are sent as multipart/alternative.
func buildMIME(msg *mail.Message, messageID string) ([]byte, error) {
	var buf bytes.Buffer
	header := func(k, v string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
	}

	header("From", msg.FromHeader())
	header("To", msg.To)
	if msg.ReplyTo != "" {
		header("Reply-To", msg.ReplyTo)
	}
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Message-ID", messageID)
	header("Date", time.Now().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	if msg.Langcode != "" {
		header("Content-Language", msg.Langcode)
	}
	for _, k := range slices.Sorted(maps.Keys(msg.Headers)) {
		header(textproto.CanonicalMIMEHeaderKey(k), msg.Headers[k])
	}

	if msg.HTML == "" {
		header("Content-Type", "text/plain; charset=UTF-8")
		header("Content-Transfer-Encoding", "quoted-printable")
		buf.WriteString("\r\n")
		if err := writeQP(&buf, msg.Body); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	mw := multipart.NewWriter(&buf)
	header("Content-Type", "multipart/alternative; boundary="+mw.Boundary())
	buf.WriteString("\r\n")
	for _, part := range []struct{ ctype, body string }{
		{"text/plain; charset=UTF-8", msg.Body},
		{"text/html; charset=UTF-8", msg.HTML},
	} {
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {part.ctype},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, err
		}
		if err := writeQP(w, part.body); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeQP(w io.Writer, body string) error {
	qp := quotedprintable.NewWriter(w)
	if _, err := qp.Write([]byte(body)); err != nil {
		return err
	}
	return qp.Close()
}
