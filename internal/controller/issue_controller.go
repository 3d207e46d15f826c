package controller

import (
	"context"
	"net/http"

	"github.com/cassiomorais/newsletters/internal/domain/newsletter"
	"github.com/cassiomorais/newsletters/internal/service"
	"github.com/google/uuid"
)

type IssueController struct {
	issues *service.IssueService
	mailer *service.MailerService
}

func NewIssueController(issues *service.IssueService, mailer *service.MailerService) *IssueController {
	return &IssueController{issues: issues, mailer: mailer}
}

// Send queues the issue, or schedules it for publishing when it is not
// published yet.
func (h *IssueController) Send(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, http.StatusAccepted, h.issues.Queue)
}

func (h *IssueController) SendOnPublish(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, http.StatusOK, h.issues.SendOnPublish)
}

func (h *IssueController) Publish(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, http.StatusOK, h.issues.Publish)
}

func (h *IssueController) transition(
	w http.ResponseWriter,
	r *http.Request,
	status int,
	fn func(context.Context, uuid.UUID) (*newsletter.Issue, error),
) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	issue, err := fn(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status, FromIssue(issue))
}

func (h *IssueController) Stop(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	deleted, err := h.issues.Stop(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StopResponse{IssueID: id.String(), Deleted: deleted})
}

func (h *IssueController) Summary(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	sum, err := h.issues.Summary(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// SendTest mails the issue to the given addresses, bypassing the spool. A
// partial failure still answers 200 with the failures counted.
func (h *IssueController) SendTest(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req TestSendRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	issue, err := h.issues.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	sent, err := h.mailer.SendTest(r.Context(), issue, req.Addresses)
	if err != nil && sent == 0 {
		writeError(w, err)
		return
	}
	resp := TestSendResponse{Sent: sent, Failed: len(req.Addresses) - sent}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
