package controller

import (
	"context"
	"net/http"
	"strings"

	domainErrors "github.com/cassiomorais/newsletters/internal/domain/errors"
	"github.com/cassiomorais/newsletters/internal/domain/subscriber"
	"github.com/cassiomorais/newsletters/internal/middleware"
	"github.com/cassiomorais/newsletters/internal/service"
)

type SubscriptionController struct {
	subscriptions *service.SubscriptionService
}

func NewSubscriptionController(subscriptions *service.SubscriptionService) *SubscriptionController {
	return &SubscriptionController{subscriptions: subscriptions}
}

// Subscribe answers 202 when the change waits for a confirmation mail and
// 200 when it was applied directly.
func (h *SubscriptionController) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	pending, err := h.inSession(r, func(ctx context.Context, ss *service.Session) error {
		return ss.Subscribe(ctx, req.Mail, req.NewsletterID, nil, subscriber.SourceWebsite, req.Langcode)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeSubscription(w, req.Mail, req.NewsletterID, pending)
}

func (h *SubscriptionController) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req UnsubscribeRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	pending, err := h.inSession(r, func(ctx context.Context, ss *service.Session) error {
		return ss.Unsubscribe(ctx, req.Mail, req.NewsletterID, nil, subscriber.SourceWebsite)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeSubscription(w, req.Mail, req.NewsletterID, pending)
}

func (h *SubscriptionController) Status(w http.ResponseWriter, r *http.Request) {
	mail := strings.TrimSpace(r.URL.Query().Get("mail"))
	newsletterID := r.URL.Query().Get("newsletter_id")
	if mail == "" {
		writeError(w, domainErrors.NewValidationError("mail", "is required"))
		return
	}
	if newsletterID == "" {
		writeError(w, domainErrors.NewValidationError("newsletter_id", "is required"))
		return
	}

	ss := h.subscriptions.NewSession(middleware.ActorFrom(r.Context()))
	subscribed, err := ss.IsSubscribed(r.Context(), mail, newsletterID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SubscriptionStatusResponse{
		Mail:         mail,
		NewsletterID: newsletterID,
		Subscribed:   subscribed,
	})
}

func (h *SubscriptionController) MassSubscribe(w http.ResponseWriter, r *http.Request) {
	h.mass(w, r, (*service.Session).MassSubscribe)
}

func (h *SubscriptionController) MassUnsubscribe(w http.ResponseWriter, r *http.Request) {
	h.mass(w, r, (*service.Session).MassUnsubscribe)
}

type massFunc func(*service.Session, context.Context, service.MassRequest) (*service.MassResult, error)

func (h *SubscriptionController) mass(w http.ResponseWriter, r *http.Request, fn massFunc) {
	var req MassSubscriptionRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	var result *service.MassResult
	_, err := h.inSession(r, func(ctx context.Context, ss *service.Session) error {
		var err error
		result, err = fn(ss, ctx, service.MassRequest{
			Addresses:     req.Addresses,
			NewsletterIDs: req.NewsletterIDs,
			Resubscribe:   req.Resubscribe,
			Langcode:      req.Langcode,
		})
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// inSession runs fn in a session of the request actor and reports whether
// it buffered confirmations. They are sent when the session ends.
func (h *SubscriptionController) inSession(r *http.Request, fn func(context.Context, *service.Session) error) (bool, error) {
	ctx := r.Context()
	var pending bool
	err := h.subscriptions.WithSession(ctx, middleware.ActorFrom(ctx), func(ss *service.Session) error {
		if err := fn(ctx, ss); err != nil {
			return err
		}
		pending = ss.Pending() > 0
		return nil
	})
	return pending, err
}

func writeSubscription(w http.ResponseWriter, mail, newsletterID string, pending bool) {
	status := http.StatusOK
	if pending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, SubscriptionResponse{
		Mail:                 mail,
		NewsletterID:         newsletterID,
		ConfirmationRequired: pending,
	})
}
