package recipient

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cassiomorais/newsletters/internal/domain/errors"
	"github.com/cassiomorais/newsletters/internal/domain/spool"
)

// subscribersHandler sends to active subscribers confirmed for the issue's
// newsletter, optionally only those who subscribed recently.
type subscribersHandler struct {
	deps         Deps
	params       Params
	newsletterID string
	since        *time.Time
}

func newSubscribersHandler(deps Deps, p Params) (Handler, error) {
	nl, err := singleNewsletter(p)
	if err != nil {
		return nil, err
	}
	return &subscribersHandler{deps: deps, params: p, newsletterID: nl}, nil
}

func newRecentSubscribersHandler(deps Deps, p Params) (Handler, error) {
	nl, err := singleNewsletter(p)
	if err != nil {
		return nil, err
	}
	days, err := intSetting(p.Settings, "days")
	if err != nil {
		return nil, err
	}
	if days <= 0 {
		return nil, errors.NewValidationError("days", "must be positive")
	}
	since := deps.Now().Add(-time.Duration(days) * 24 * time.Hour)
	return &subscribersHandler{deps: deps, params: p, newsletterID: nl, since: &since}, nil
}

func (h *subscribersHandler) AddToSpool(ctx context.Context) (int, error) {
	ids, err := h.deps.Subscribers.ListSubscribedIDs(ctx, h.newsletterID, h.since)
	if err != nil {
		return 0, fmt.Errorf("list subscribers: %w", err)
	}
	recipients := make([]spool.Recipient, len(ids))
	for i, id := range ids {
		recipients[i] = spool.SubscriberRecipient(id)
	}
	return h.deps.Spool.Enqueue(ctx, h.params.Issue.Ref(), h.newsletterID, recipients)
}

func (h *subscribersHandler) Count(ctx context.Context) (int, error) {
	return h.deps.Subscribers.CountSubscribed(ctx, h.newsletterID, h.since)
}

// addressesHandler sends to a fixed list of raw addresses. Invalid and
// duplicate addresses are dropped.
type addressesHandler struct {
	deps         Deps
	params       Params
	newsletterID string
	addresses    []string
}

func newAddressesHandler(deps Deps, p Params) (Handler, error) {
	nl, err := singleNewsletter(p)
	if err != nil {
		return nil, err
	}
	raw, err := stringsSetting(p.Settings, "addresses")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(raw))
	var addresses []string
	for _, a := range raw {
		a = strings.TrimSpace(a)
		if a == "" || seen[a] {
			continue
		}
		if deps.Validate.Var(a, "email") != nil {
			continue
		}
		seen[a] = true
		addresses = append(addresses, a)
	}
	return &addressesHandler{deps: deps, params: p, newsletterID: nl, addresses: addresses}, nil
}

func (h *addressesHandler) AddToSpool(ctx context.Context) (int, error) {
	recipients := make([]spool.Recipient, len(h.addresses))
	for i, a := range h.addresses {
		recipients[i] = spool.AddressRecipient(a)
	}
	return h.deps.Spool.Enqueue(ctx, h.params.Issue.Ref(), h.newsletterID, recipients)
}

func (h *addressesHandler) Count(ctx context.Context) (int, error) {
	return len(h.addresses), nil
}

// intSetting reads a numeric setting. JSON decoding yields float64, YAML and
// Go callers yield ints, form posts yield strings.
func intSetting(settings map[string]any, key string) (int, error) {
	switch v := settings[key].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, errors.NewValidationError(key, "must be a number")
		}
		return n, nil
	case nil:
		return 0, errors.NewValidationError(key, "is required")
	default:
		return 0, errors.NewValidationError(key, "must be a number")
	}
}

// stringsSetting reads a list setting given as a list or as text separated
// by newlines or commas.
func stringsSetting(settings map[string]any, key string) ([]string, error) {
	switch v := settings[key].(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, errors.NewValidationError(key, "must be a list of strings")
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		return strings.FieldsFunc(v, func(r rune) bool { return r == '\n' || r == ',' || r == '\r' }), nil
	case nil:
		return nil, nil
	default:
		return nil, errors.NewValidationError(key, "must be a list of strings")
	}
}
