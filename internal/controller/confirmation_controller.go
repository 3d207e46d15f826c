package controller

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/cassiomorais/newsletters/internal/confirmation"
	domainErrors "github.com/cassiomorais/newsletters/internal/domain/errors"
	"github.com/cassiomorais/newsletters/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// ConfirmationController serves the links sent in confirmation mails. GET
// only describes the pending change; POST, or GET with immediate=1, applies
// it.
type ConfirmationController struct {
	confirmations *service.ConfirmationService
}

func NewConfirmationController(confirmations *service.ConfirmationService) *ConfirmationController {
	return &ConfirmationController{confirmations: confirmations}
}

func (h *ConfirmationController) ConfirmCombined(w http.ResponseWriter, r *http.Request) {
	link, err := parseCombinedLink(r)
	if err != nil {
		writeLinkError(w, err)
		return
	}
	res, err := h.confirmations.ConfirmCombined(r.Context(), link, isImmediate(r))
	if err != nil {
		writeLinkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromConfirmResult(res))
}

func (h *ConfirmationController) ConfirmSingle(w http.ResponseWriter, r *http.Request) {
	link, err := parseSingleLink(r)
	if err != nil {
		writeLinkError(w, err)
		return
	}
	res, err := h.confirmations.ConfirmSingle(r.Context(), link, isImmediate(r))
	if err != nil {
		writeLinkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromConfirmResult(res))
}

func (h *ConfirmationController) RenewCombined(w http.ResponseWriter, r *http.Request) {
	link, err := parseCombinedLink(r)
	if err != nil {
		writeLinkError(w, err)
		return
	}
	if err := h.confirmations.RenewCombined(r.Context(), link); err != nil {
		writeLinkError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "renewed"})
}

func (h *ConfirmationController) RenewSingle(w http.ResponseWriter, r *http.Request) {
	link, err := parseSingleLink(r)
	if err != nil {
		writeLinkError(w, err)
		return
	}
	if err := h.confirmations.RenewSingle(r.Context(), link); err != nil {
		writeLinkError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "renewed"})
}

// writeLinkError answers an unknown subscriber or newsletter exactly like a
// wrong hash.
func writeLinkError(w http.ResponseWriter, err error) {
	if errors.Is(err, domainErrors.ErrSubscriberNotFound) || errors.Is(err, domainErrors.ErrNewsletterNotFound) {
		err = domainErrors.ErrInvalidToken
	}
	writeError(w, err)
}

func isImmediate(r *http.Request) bool {
	return r.Method == http.MethodPost || r.URL.Query().Get("immediate") == "1"
}

func parseCombinedLink(r *http.Request) (service.CombinedLink, error) {
	id, ts, err := parseLinkCommon(r)
	if err != nil {
		return service.CombinedLink{}, err
	}
	return service.CombinedLink{SubscriberID: id, Timestamp: ts, Hash: chi.URLParam(r, "hash")}, nil
}

func parseSingleLink(r *http.Request) (service.SingleLink, error) {
	action, err := confirmation.ParseLinkAction(chi.URLParam(r, "action"))
	if err != nil {
		return service.SingleLink{}, err
	}
	id, ts, err := parseLinkCommon(r)
	if err != nil {
		return service.SingleLink{}, err
	}
	return service.SingleLink{
		Action:       action,
		SubscriberID: id,
		NewsletterID: chi.URLParam(r, "newsletter"),
		Timestamp:    ts,
		Hash:         chi.URLParam(r, "hash"),
	}, nil
}

// Malformed links are reported like forged ones.
func parseLinkCommon(r *http.Request) (uuid.UUID, int64, error) {
	id, err := uuid.Parse(chi.URLParam(r, "snid"))
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("%w: bad subscriber id", domainErrors.ErrInvalidToken)
	}
	ts, err := confirmation.ParseTimestamp(chi.URLParam(r, "timestamp"))
	if err != nil {
		return uuid.Nil, 0, err
	}
	return id, ts, nil
}
