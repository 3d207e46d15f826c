package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	domainErrors "github.com/cassiomorais/newsletters/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusAccepted, SubscriptionResponse{Mail: "a@example.com", NewsletterID: "weekly", ConfirmationRequired: true})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"mail":"a@example.com","newsletter_id":"weekly","confirmation_required":true}`, w.Body.String())
}

func TestWriteError_ValidationError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, domainErrors.NewValidationError("mail", "must be a valid address"))

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var response ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "validation_error", response.Code)
	assert.Contains(t, response.Error, "mail")
}

func TestWriteError_DomainErrors(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedCode   string
	}{
		{"subscriber not found", domainErrors.ErrSubscriberNotFound, http.StatusNotFound, "not_found"},
		{"newsletter not found", domainErrors.ErrNewsletterNotFound, http.StatusNotFound, "not_found"},
		{"issue not found", domainErrors.ErrIssueNotFound, http.StatusNotFound, "not_found"},
		{"invalid token", domainErrors.ErrInvalidToken, http.StatusNotFound, "invalid_link"},
		{"expired token", domainErrors.ErrTokenExpired, http.StatusGone, "link_expired"},
		{"blocked", domainErrors.ErrSubscriberBlocked, http.StatusForbidden, "subscriber_blocked"},
		{"state transition", domainErrors.ErrInvalidStateTransition, http.StatusConflict, "invalid_state_transition"},
		{"unknown handler", domainErrors.ErrHandlerNotFound, http.StatusUnprocessableEntity, "handler_not_found"},
		{"several newsletters", domainErrors.ErrSingleNewsletterOnly, http.StatusUnprocessableEntity, "single_newsletter_only"},
		{"transport down", domainErrors.ErrTransportUnavailable, http.StatusServiceUnavailable, "transport_unavailable"},
		{"transport rejected", domainErrors.ErrTransportRejected, http.StatusBadGateway, "transport_rejected"},
		{"wrapped", fmt.Errorf("load issue: %w", domainErrors.ErrIssueNotFound), http.StatusNotFound, "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeError(w, tt.err)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var response ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.expectedCode, response.Code)
		})
	}
}

func TestWriteError_InvalidTokenHidesReason(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, fmt.Errorf("%w: subscriber has no mail address", domainErrors.ErrInvalidToken))

	var response ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "confirmation link not found", response.Error)
}

func TestWriteError_GenericDomainError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, domainErrors.NewDomainError("custom_error", "custom error message", nil))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var response ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "custom_error", response.Code)
	assert.Equal(t, "custom error message", response.Error)
}

func TestWriteError_UnknownError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, errors.New("connection reset"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var response ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "internal_error", response.Code)
	assert.Equal(t, "internal server error", response.Error)
}

func TestDecodeAndValidate(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{name: "valid", body: `{"mail":"a@example.com","newsletter_id":"weekly"}`},
		{name: "invalid json", body: `{mail`, wantField: "body"},
		{name: "missing newsletter", body: `{"mail":"a@example.com"}`, wantField: "NewsletterID"},
		{name: "bad mail", body: `{"mail":"nope","newsletter_id":"weekly"}`, wantField: "Mail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/subscriptions", strings.NewReader(tt.body))

			var dst SubscribeRequest
			err := decodeAndValidate(req, &dst)
			if tt.wantField == "" {
				require.NoError(t, err)
				assert.Equal(t, "a@example.com", dst.Mail)
				return
			}
			var vErr *domainErrors.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.wantField, vErr.Field)
		})
	}
}
