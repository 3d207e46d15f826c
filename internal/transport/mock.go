package transport

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/newsletters/internal/domain/errors"
	"github.com/cassiomorais/newsletters/internal/mail"
	"github.com/google/uuid"
)

// MockTransport records every message it accepts. Failures can be injected
// per recipient, at random or for every call.
type MockTransport struct {
	name        string
	latency     time.Duration
	failureRate float64 // 0.0 to 1.0
	reject      map[string]bool
	err         error

	mu   sync.Mutex
	sent []*mail.Message
}

type MockOption func(*MockTransport)

func WithLatency(d time.Duration) MockOption {
	return func(t *MockTransport) { t.latency = d }
}

func WithFailureRate(rate float64) MockOption {
	return func(t *MockTransport) { t.failureRate = rate }
}

// WithRejected makes sends to the given addresses fail as rejected.
func WithRejected(addresses ...string) MockOption {
	return func(t *MockTransport) {
		for _, a := range addresses {
			t.reject[a] = true
		}
	}
}

// WithError makes every send fail with err.
func WithError(err error) MockOption {
	return func(t *MockTransport) { t.err = err }
}

func NewMockTransport(name string, opts ...MockOption) *MockTransport {
	t := &MockTransport{name: name, reject: make(map[string]bool)}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *MockTransport) Name() string { return t.name }

func (t *MockTransport) Send(ctx context.Context, msg *mail.Message) (*Receipt, error) {
	if t.latency > 0 {
		select {
		case <-time.After(t.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if t.err != nil {
		return nil, t.err
	}
	if t.reject[msg.To] {
		return nil, fmt.Errorf("%w: %s", domainErrors.ErrTransportRejected, msg.To)
	}
	if t.failureRate > 0 && rand.Float64() < t.failureRate {
		return nil, fmt.Errorf("%s: simulated delivery failure", t.name)
	}

	cp := *msg
	t.mu.Lock()
	t.sent = append(t.sent, &cp)
	t.mu.Unlock()
	return &Receipt{MessageID: fmt.Sprintf("%s_%s", t.name, uuid.NewString()[:8]), Transport: t.name}, nil
}

// Sent returns the accepted messages in send order.
func (t *MockTransport) Sent() []*mail.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*mail.Message, len(t.sent))
	copy(out, t.sent)
	return out
}

// SentTo returns the accepted messages addressed to to.
func (t *MockTransport) SentTo(to string) []*mail.Message {
	var out []*mail.Message
	for _, m := range t.Sent() {
		if m.To == to {
			out = append(out, m)
		}
	}
	return out
}

func (t *MockTransport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = nil
}
