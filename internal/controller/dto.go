package controller

import (
	"slices"

	"github.com/cassiomorais/newsletters/internal/domain/newsletter"
	"github.com/cassiomorais/newsletters/internal/service"
	"github.com/google/uuid"
)

// --- Request DTOs ---

// SubscribeRequest subscribes one address to one newsletter. The
// newsletter's opt-in policy alone decides whether a confirmation mail goes
// out; anonymous callers cannot skip it.
type SubscribeRequest struct {
	Mail         string `json:"mail" validate:"required,email"`
	NewsletterID string `json:"newsletter_id" validate:"required"`
	Langcode     string `json:"langcode,omitempty" validate:"omitempty,max=12"`
}

type UnsubscribeRequest struct {
	Mail         string `json:"mail" validate:"required,email"`
	NewsletterID string `json:"newsletter_id" validate:"required"`
}

// MassSubscriptionRequest carries addresses separated by commas or
// whitespace.
type MassSubscriptionRequest struct {
	Addresses     string   `json:"addresses" validate:"required"`
	NewsletterIDs []string `json:"newsletter_ids" validate:"required,min=1,dive,required"`
	Resubscribe   bool     `json:"resubscribe"`
	Langcode      string   `json:"langcode,omitempty" validate:"omitempty,max=12"`
}

type TestSendRequest struct {
	Addresses []string `json:"addresses" validate:"required,min=1,dive,email"`
}

// --- Response DTOs ---

type SubscriptionResponse struct {
	Mail                 string `json:"mail"`
	NewsletterID         string `json:"newsletter_id"`
	ConfirmationRequired bool   `json:"confirmation_required"`
}

type SubscriptionStatusResponse struct {
	Mail         string `json:"mail"`
	NewsletterID string `json:"newsletter_id"`
	Subscribed   bool   `json:"subscribed"`
}

type ChangeResponse struct {
	NewsletterID string `json:"newsletter_id"`
	Action       string `json:"action"`
}

// ConfirmResponse describes a confirmation link and what it did.
type ConfirmResponse struct {
	Outcome      string           `json:"outcome"`
	SubscriberID string           `json:"subscriber_id,omitempty"`
	Mail         string           `json:"mail,omitempty"`
	Changes      []ChangeResponse `json:"changes,omitempty"`
	Action       string           `json:"action,omitempty"`
	NewsletterID string           `json:"newsletter_id,omitempty"`
	Applied      int              `json:"applied"`
}

type IssueResponse struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	NewsletterIDs []string `json:"newsletter_ids"`
	Status        string   `json:"status"`
	Published     bool     `json:"published"`
	Subscribers   int      `json:"subscribers"`
	SentCount     int      `json:"sent_count"`
	ErrorCount    int      `json:"error_count"`
}

type StopResponse struct {
	IssueID string `json:"issue_id"`
	Deleted int64  `json:"deleted"`
}

type TestSendResponse struct {
	Sent   int    `json:"sent"`
	Failed int    `json:"failed"`
	Error  string `json:"error,omitempty"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// --- Conversion helpers ---

func FromConfirmResult(res *service.ConfirmResult) *ConfirmResponse {
	resp := &ConfirmResponse{
		Outcome:      string(res.Outcome),
		Mail:         res.Mail,
		Action:       string(res.Action),
		NewsletterID: res.NewsletterID,
		Applied:      res.Applied,
	}
	if res.SubscriberID != uuid.Nil {
		resp.SubscriberID = res.SubscriberID.String()
	}
	ids := make([]string, 0, len(res.Changes))
	for id := range res.Changes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		resp.Changes = append(resp.Changes, ChangeResponse{NewsletterID: id, Action: string(res.Changes[id])})
	}
	return resp
}

func FromIssue(i *newsletter.Issue) *IssueResponse {
	return &IssueResponse{
		ID:            i.ID.String(),
		Title:         i.Title,
		NewsletterIDs: i.NewsletterIDs,
		Status:        string(i.Status),
		Published:     i.Published,
		Subscribers:   i.Subscribers,
		SentCount:     i.SentCount,
		ErrorCount:    i.ErrorCount,
	}
}
