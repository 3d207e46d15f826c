// Package recipient resolves the recipients of an issue and appends them to
// the spool. Handlers are selected by the name stored on the issue.
package recipient

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/newsletters/internal/domain/errors"
	"github.com/cassiomorais/newsletters/internal/domain/newsletter"
	"github.com/cassiomorais/newsletters/internal/domain/spool"
	"github.com/cassiomorais/newsletters/internal/domain/subscriber"
	"github.com/go-playground/validator/v10"
)

// Handler selects recipients for one issue.
type Handler interface {
	// AddToSpool spools all recipients and returns how many were added.
	AddToSpool(ctx context.Context) (int, error)
	// Count returns how many recipients AddToSpool would add now.
	Count(ctx context.Context) (int, error)
}

// Enqueuer appends recipients to the spool.
type Enqueuer interface {
	Enqueue(ctx context.Context, issue spool.IssueRef, newsletterID string, recipients []spool.Recipient) (int, error)
}

// Params is what a handler is constructed from. Settings are handler
// specific and passed through untouched.
type Params struct {
	Issue         *newsletter.Issue
	NewsletterIDs []string
	Settings      map[string]any
}

// Deps are the services handlers may use.
type Deps struct {
	Subscribers subscriber.Repository
	Spool       Enqueuer
	Now         func() time.Time
	Validate    *validator.Validate
}

// Constructor builds a handler.
type Constructor func(deps Deps, p Params) (Handler, error)

// Registry maps handler names to constructors.
type Registry struct {
	mu           sync.RWMutex
	deps         Deps
	constructors map[string]Constructor
}

// NewRegistry returns a registry with the built-in handlers registered.
func NewRegistry(deps Deps) *Registry {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Validate == nil {
		deps.Validate = validator.New()
	}
	r := &Registry{
		deps:         deps,
		constructors: make(map[string]Constructor),
	}
	r.Register(newsletter.DefaultHandler, newSubscribersHandler)
	r.Register("recent", newRecentSubscribersHandler)
	r.Register("addresses", newAddressesHandler)
	return r
}

func (r *Registry) Register(name string, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[name] = c
}

// Names returns the registered handler names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Create builds a handler by name.
func (r *Registry) Create(name string, p Params) (Handler, error) {
	r.mu.RLock()
	c, ok := r.constructors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", domainErrors.ErrHandlerNotFound, name)
	}
	return c(r.deps, p)
}

// ForIssue builds the handler configured on the issue.
func (r *Registry) ForIssue(issue *newsletter.Issue) (Handler, error) {
	return r.Create(issue.HandlerName(), Params{
		Issue:         issue,
		NewsletterIDs: issue.NewsletterIDs,
		Settings:      issue.HandlerSettings,
	})
}

// singleNewsletter returns the only target newsletter id.
func singleNewsletter(p Params) (string, error) {
	if len(p.NewsletterIDs) != 1 {
		return "", domainErrors.ErrSingleNewsletterOnly
	}
	return p.NewsletterIDs[0], nil
}
