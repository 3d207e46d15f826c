package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	domainErrors "github.com/cassiomorais/newsletters/internal/domain/errors"
	"github.com/cassiomorais/newsletters/internal/infrastructure/config"
	"github.com/cassiomorais/newsletters/internal/infrastructure/observability"
	"github.com/cassiomorais/newsletters/internal/mail"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage(to string) *mail.Message {
	return &mail.Message{
		Key:      mail.KeyIssue,
		Kind:     mail.KindNewsletter,
		To:       to,
		From:     "news@example.com",
		FromName: "Example News",
		Subject:  "Spring édition",
		Body:     "Hello there",
		Langcode: "en",
	}
}

func testBreaker() config.BreakerConfig {
	return config.BreakerConfig{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  3,
		FailureRatio: 0.6,
	}
}

func TestMockTransport_Send(t *testing.T) {
	tr := NewMockTransport("mock")
	receipt, err := tr.Send(context.Background(), testMessage("a@example.com"))
	require.NoError(t, err)
	assert.Equal(t, "mock", receipt.Transport)
	assert.Contains(t, receipt.MessageID, "mock_")

	require.Len(t, tr.Sent(), 1)
	assert.Equal(t, "a@example.com", tr.Sent()[0].To)
	assert.Len(t, tr.SentTo("a@example.com"), 1)
	assert.Empty(t, tr.SentTo("b@example.com"))

	tr.Reset()
	assert.Empty(t, tr.Sent())
}

func TestMockTransport_Failures(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name   string
		opts   []MockOption
		target error
	}{
		{name: "rejected", opts: []MockOption{WithRejected("a@example.com")}, target: domainErrors.ErrTransportRejected},
		{name: "error", opts: []MockOption{WithError(boom)}, target: boom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewMockTransport("mock", tt.opts...)
			_, err := tr.Send(context.Background(), testMessage("a@example.com"))
			assert.ErrorIs(t, err, tt.target)
			assert.Empty(t, tr.Sent())
		})
	}

	t.Run("always failing", func(t *testing.T) {
		tr := NewMockTransport("mock", WithFailureRate(1.0))
		_, err := tr.Send(context.Background(), testMessage("a@example.com"))
		assert.ErrorContains(t, err, "simulated")
	})
}

func TestMockTransport_LatencyHonoursContext(t *testing.T) {
	tr := NewMockTransport("mock", WithLatency(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := tr.Send(ctx, testMessage("a@example.com"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFactory_Get(t *testing.T) {
	f := NewFactory(testBreaker(), nil, NewMockTransport("mock"))

	tr, breaker, err := f.Get("mock")
	require.NoError(t, err)
	assert.Equal(t, "mock", tr.Name())
	assert.NotNil(t, breaker)

	_, _, err = f.Get("pigeon")
	assert.ErrorIs(t, err, domainErrors.ErrTransportNotFound)

	_, err = f.Guarded("pigeon")
	assert.ErrorIs(t, err, domainErrors.ErrTransportNotFound)
}

func TestFactory_BreakerOpensOnFailures(t *testing.T) {
	metrics := observability.NewMetrics("test", prometheus.NewRegistry())
	f := NewFactory(testBreaker(), metrics, NewMockTransport("mock", WithError(errors.New("connection refused"))))
	tr, err := f.Guarded("mock")
	require.NoError(t, err)

	for range 3 {
		_, err := tr.Send(context.Background(), testMessage("a@example.com"))
		require.Error(t, err)
		assert.NotErrorIs(t, err, domainErrors.ErrTransportUnavailable)
	}

	_, err = tr.Send(context.Background(), testMessage("a@example.com"))
	assert.ErrorIs(t, err, domainErrors.ErrTransportUnavailable)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.CircuitBreakerState.WithLabelValues("mock")))
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.CircuitBreakerRequests.WithLabelValues("mock", "failure")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CircuitBreakerRequests.WithLabelValues("mock", "rejected_open")))
}

func TestFactory_RejectionsDoNotOpenBreaker(t *testing.T) {
	f := NewFactory(testBreaker(), nil, NewMockTransport("mock", WithRejected("bad@example.com")))
	tr, err := f.Guarded("mock")
	require.NoError(t, err)

	for range 5 {
		_, err := tr.Send(context.Background(), testMessage("bad@example.com"))
		assert.ErrorIs(t, err, domainErrors.ErrTransportRejected)
	}

	receipt, err := tr.Send(context.Background(), testMessage("good@example.com"))
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.MessageID)
}

func TestNew(t *testing.T) {
	cfg := &config.Config{}
	cfg.Mailer.Transport = NameLog
	cfg.Transport.Breaker = testBreaker()

	tr, err := New(context.Background(), cfg, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, NameLog, tr.Name())

	cfg.Mailer.Transport = "pigeon"
	_, err = New(context.Background(), cfg, nil, zerolog.Nop())
	assert.ErrorIs(t, err, domainErrors.ErrTransportNotFound)
}

func TestLogTransport_Send(t *testing.T) {
	var buf bytes.Buffer
	tr := NewLogTransport(zerolog.New(&buf))

	receipt, err := tr.Send(context.Background(), testMessage("a@example.com"))
	require.NoError(t, err)
	assert.Equal(t, NameLog, receipt.Transport)
	assert.Contains(t, buf.String(), `"to":"a@example.com"`)
	assert.Contains(t, buf.String(), receipt.MessageID)
}

func TestBuildMIME_PlainText(t *testing.T) {
	msg := testMessage("a@example.com")
	msg.SetHeader("list-unsubscribe", "<https://example.com/u>")

	raw, err := buildMIME(msg, "<id@example.com>")
	require.NoError(t, err)
	s := string(raw)

	assert.Contains(t, s, "From: \"Example News\" <news@example.com>\r\n")
	assert.Contains(t, s, "To: a@example.com\r\n")
	assert.Contains(t, s, "Subject: =?utf-8?q?Spring_=C3=A9dition?=\r\n")
	assert.Contains(t, s, "Message-ID: <id@example.com>\r\n")
	assert.Contains(t, s, "List-Unsubscribe: <https://example.com/u>\r\n")
	assert.Contains(t, s, "Content-Type: text/plain; charset=UTF-8\r\n")
	assert.True(t, strings.HasSuffix(s, "\r\n\r\nHello there"))
}

func TestBuildMIME_Alternative(t *testing.T) {
	msg := testMessage("a@example.com")
	msg.HTML = "<p>Hello there</p>"

	raw, err := buildMIME(msg, "<id@example.com>")
	require.NoError(t, err)
	s := string(raw)

	assert.Contains(t, s, "Content-Type: multipart/alternative; boundary=")
	assert.Contains(t, s, "text/plain; charset=UTF-8")
	assert.Contains(t, s, "text/html; charset=UTF-8")
	assert.Contains(t, s, "<p>Hello there</p>")
}

func TestIsPermanentSMTPError(t *testing.T) {
	assert.True(t, isPermanentSMTPError(fmt.Errorf("set recipient: %w", &textproto.Error{Code: 550, Msg: "no such user"})))
	assert.False(t, isPermanentSMTPError(&textproto.Error{Code: 421, Msg: "try again later"}))
	assert.False(t, isPermanentSMTPError(errors.New("dial tcp: refused")))
	assert.False(t, isPermanentSMTPError(nil))
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

func TestSESTransport_Send(t *testing.T) {
	client := &fakeSES{}
	tr := NewSESTransportWithClient(client, "newsletters")

	msg := testMessage("a@example.com")
	msg.HTML = "<p>hi</p>"
	receipt, err := tr.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "ses-1", receipt.MessageID)

	in := client.input
	assert.Equal(t, `"Example News" <news@example.com>`, aws.ToString(in.FromEmailAddress))
	assert.Equal(t, []string{"a@example.com"}, in.Destination.ToAddresses)
	assert.Equal(t, "newsletters", aws.ToString(in.ConfigurationSetName))
	assert.Equal(t, "Hello there", aws.ToString(in.Content.Simple.Body.Text.Data))
	assert.Equal(t, "<p>hi</p>", aws.ToString(in.Content.Simple.Body.Html.Data))
}

func TestSESTransport_Errors(t *testing.T) {
	tr := NewSESTransportWithClient(&fakeSES{err: &types.MessageRejected{Message: aws.String("no")}}, "")
	_, err := tr.Send(context.Background(), testMessage("a@example.com"))
	assert.ErrorIs(t, err, domainErrors.ErrTransportRejected)

	tr = NewSESTransportWithClient(&fakeSES{err: errors.New("timeout")}, "")
	_, err = tr.Send(context.Background(), testMessage("a@example.com"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, domainErrors.ErrTransportRejected)
}

func newResendServer(t *testing.T, status int, got *map[string]any) *ResendTransport {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/emails", r.URL.Path)
		assert.Equal(t, "Bearer re_test", r.Header.Get("Authorization"))
		if got != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(got))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = w.Write([]byte(`{"id":"re_123"}`))
			return
		}
		_, _ = w.Write([]byte(`{"statusCode":422,"name":"validation_error","message":"invalid to"}`))
	}))
	t.Cleanup(srv.Close)

	client := resend.NewClient("re_test")
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	client.BaseURL = base
	return NewResendTransportWithClient(client)
}

func TestResendTransport_Send(t *testing.T) {
	var body map[string]any
	tr := newResendServer(t, http.StatusOK, &body)

	receipt, err := tr.Send(context.Background(), testMessage("a@example.com"))
	require.NoError(t, err)
	assert.Equal(t, "re_123", receipt.MessageID)
	assert.Equal(t, NameResend, receipt.Transport)
	assert.Equal(t, []any{"a@example.com"}, body["to"])
	assert.Equal(t, "Spring édition", body["subject"])
	assert.Equal(t, "Hello there", body["text"])
}

func TestResendTransport_Error(t *testing.T) {
	tr := newResendServer(t, http.StatusUnprocessableEntity, nil)

	_, err := tr.Send(context.Background(), testMessage("a@example.com"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resend send")
}
