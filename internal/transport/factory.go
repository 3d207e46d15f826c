package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/newsletters/internal/domain/errors"
	"github.com/cassiomorais/newsletters/internal/infrastructure/config"
	"github.com/cassiomorais/newsletters/internal/infrastructure/observability"
	"github.com/cassiomorais/newsletters/internal/mail"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// Factory holds the configured transports, each behind its own circuit
// breaker.
type Factory struct {
	mu              sync.RWMutex
	transports      map[string]Transport
	circuitBreakers map[string]*gobreaker.CircuitBreaker[*Receipt]
	settings        config.BreakerConfig
	metrics         *observability.Metrics
}

// NewFactory creates a factory with the given transports registered.
func NewFactory(settings config.BreakerConfig, metrics *observability.Metrics, transports ...Transport) *Factory {
	f := &Factory{
		transports:      make(map[string]Transport),
		circuitBreakers: make(map[string]*gobreaker.CircuitBreaker[*Receipt]),
		settings:        settings,
		metrics:         metrics,
	}
	for _, t := range transports {
		f.Register(t)
	}
	return f
}

// Register registers a transport and creates a circuit breaker for it.
func (f *Factory) Register(t Transport) {
	name := t.Name()
	minRequests := f.settings.MinRequests
	ratio := f.settings.FailureRatio

	f.mu.Lock()
	defer f.mu.Unlock()
	f.transports[name] = t
	f.circuitBreakers[name] = gobreaker.NewCircuitBreaker[*Receipt](gobreaker.Settings{
		Name:        name,
		MaxRequests: f.settings.MaxRequests,
		Interval:    f.settings.Interval,
		Timeout:     f.settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests || counts.Requests == 0 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
		},
		// A rejected message says nothing about the provider's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domainErrors.ErrTransportRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if f.metrics != nil {
				f.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
}

// Get returns the transport and its circuit breaker for the given name.
func (f *Factory) Get(name string) (Transport, *gobreaker.CircuitBreaker[*Receipt], error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.transports[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", domainErrors.ErrTransportNotFound, name)
	}
	return t, f.circuitBreakers[name], nil
}

// Guarded returns the named transport wrapped with its circuit breaker and
// send metrics.
func (f *Factory) Guarded(name string) (Transport, error) {
	t, breaker, err := f.Get(name)
	if err != nil {
		return nil, err
	}
	return &guarded{next: t, breaker: breaker, metrics: f.metrics}, nil
}

type guarded struct {
	next    Transport
	breaker *gobreaker.CircuitBreaker[*Receipt]
	metrics *observability.Metrics
}

func (g *guarded) Name() string { return g.next.Name() }

func (g *guarded) Send(ctx context.Context, msg *mail.Message) (*Receipt, error) {
	start := time.Now()
	receipt, err := g.breaker.Execute(func() (*Receipt, error) {
		return g.next.Send(ctx, msg)
	})

	result := "success"
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		result = "rejected_open"
		err = fmt.Errorf("%w: %s: %w", domainErrors.ErrTransportUnavailable, g.next.Name(), err)
	case err != nil:
		result = "failure"
	}
	if g.metrics != nil {
		g.metrics.MailSendDuration.WithLabelValues(g.next.Name()).Observe(time.Since(start).Seconds())
		g.metrics.CircuitBreakerRequests.WithLabelValues(g.next.Name(), result).Inc()
	}
	return receipt, err
}

// New builds the transport selected by cfg.Mailer.Transport and returns it
// behind a circuit breaker.
func New(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger zerolog.Logger) (Transport, error) {
	var (
		t   Transport
		err error
	)
	switch cfg.Mailer.Transport {
	case NameLog:
		t = NewLogTransport(logger)
	case NameSMTP:
		t = NewSMTPTransport(cfg.Transport.SMTP, logger)
	case NameSES:
		t, err = NewSESTransport(ctx, cfg.Transport.SES)
	case NameResend:
		t = NewResendTransport(cfg.Transport.Resend)
	default:
		return nil, fmt.Errorf("%w: %q", domainErrors.ErrTransportNotFound, cfg.Mailer.Transport)
	}
	if err != nil {
		return nil, err
	}
	return NewFactory(cfg.Transport.Breaker, metrics, t).Guarded(t.Name())
}
