package service

import (
	"context"
	"fmt"

	"github.com/cassiomorais/newsletters/internal/domain/newsletter"
	"github.com/cassiomorais/newsletters/internal/infrastructure/observability"
	"github.com/cassiomorais/newsletters/internal/recipient"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// IssuePublisher announces freshly spooled issues to the worker.
type IssuePublisher interface {
	PublishIssueSpooled(ctx context.Context, issueID uuid.UUID, count int) error
}

// IssueSummary is the sending state of an issue in words and numbers.
type IssueSummary struct {
	IssueID     uuid.UUID              `json:"issue_id"`
	Status      newsletter.IssueStatus `json:"status"`
	Description string                 `json:"description"`
	// Count is the recipient count: the spooled total once sending started,
	// the handler's current count before.
	Count      int `json:"count"`
	SentCount  int `json:"sent_count"`
	ErrorCount int `json:"error_count"`
}

// IssueService drives the sending lifecycle of issues.
type IssueService struct {
	newsletters newsletter.Repository
	spool       *SpoolService
	handlers    *recipient.Registry
	txManager   TransactionManager
	publisher   IssuePublisher
	clock       Clock
	logger      zerolog.Logger
}

func NewIssueService(
	newsletters newsletter.Repository,
	spoolSvc *SpoolService,
	handlers *recipient.Registry,
	txManager TransactionManager,
	publisher IssuePublisher,
	clock Clock,
	logger zerolog.Logger,
) *IssueService {
	return &IssueService{
		newsletters: newsletters,
		spool:       spoolSvc,
		handlers:    handlers,
		txManager:   txManager,
		publisher:   publisher,
		clock:       clock,
		logger:      observability.Component(logger, "issue"),
	}
}

// Queue sends a published issue: its recipients are spooled and the issue
// becomes pending in one transaction. Unpublished issues are scheduled to
// send on publish instead. The issue row stays locked until commit, so a
// concurrent Queue of the same issue fails with ErrInvalidStateTransition
// instead of spooling twice.
func (s *IssueService) Queue(ctx context.Context, id uuid.UUID) (*newsletter.Issue, error) {
	var (
		issue *newsletter.Issue
		count = -1
	)
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		issue, err = s.newsletters.GetIssueForUpdate(txCtx, id)
		if err != nil {
			return err
		}
		if !issue.Published {
			from := issue.Status
			if err := issue.MarkSendOnPublish(s.clock.Now()); err != nil {
				return err
			}
			return s.newsletters.UpdateIssue(txCtx, issue, from)
		}
		count, err = s.spoolIssue(txCtx, issue)
		return err
	})
	if err != nil {
		return nil, err
	}
	if count >= 0 {
		s.announce(ctx, issue, count)
	}
	return issue, nil
}

// spoolIssue adds the recipients of a locked issue to the spool and marks it
// pending. It must run inside a transaction.
func (s *IssueService) spoolIssue(txCtx context.Context, issue *newsletter.Issue) (int, error) {
	handler, err := s.handlers.ForIssue(issue)
	if err != nil {
		return 0, err
	}
	from := issue.Status
	if err := issue.MarkQueued(0, s.clock.Now()); err != nil {
		return 0, err
	}
	n, err := handler.AddToSpool(txCtx)
	if err != nil {
		return 0, fmt.Errorf("spool recipients: %w", err)
	}
	issue.Subscribers = n
	if err := s.newsletters.UpdateIssue(txCtx, issue, from); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *IssueService) announce(ctx context.Context, issue *newsletter.Issue, count int) {
	s.logger.Info().
		Str("issue_id", issue.ID.String()).
		Str("handler", issue.HandlerName()).
		Int("count", count).
		Msg("Issue queued")

	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishIssueSpooled(ctx, issue.ID, count); err != nil {
		// The regular spool run still sends the issue.
		s.logger.Warn().Err(err).Str("issue_id", issue.ID.String()).Msg("Failed to publish issue event")
	}
}

func (s *IssueService) Get(ctx context.Context, id uuid.UUID) (*newsletter.Issue, error) {
	return s.newsletters.GetIssue(ctx, id)
}

// SendOnPublish schedules the issue to be queued when it is published.
func (s *IssueService) SendOnPublish(ctx context.Context, id uuid.UUID) (*newsletter.Issue, error) {
	issue, err := s.newsletters.GetIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	from := issue.Status
	if err := issue.MarkSendOnPublish(s.clock.Now()); err != nil {
		return nil, err
	}
	if err := s.newsletters.UpdateIssue(ctx, issue, from); err != nil {
		return nil, fmt.Errorf("update issue: %w", err)
	}
	return issue, nil
}

// Publish marks the issue published and queues it when it was waiting for
// that.
func (s *IssueService) Publish(ctx context.Context, id uuid.UUID) (*newsletter.Issue, error) {
	var (
		issue *newsletter.Issue
		count = -1
	)
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		issue, err = s.newsletters.GetIssueForUpdate(txCtx, id)
		if err != nil {
			return err
		}
		issue.Published = true
		if issue.Status == newsletter.IssuePublish {
			count, err = s.spoolIssue(txCtx, issue)
			return err
		}
		issue.UpdatedAt = s.clock.Now()
		if err := s.newsletters.UpdateIssue(txCtx, issue, issue.Status); err != nil {
			return fmt.Errorf("update issue: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if count >= 0 {
		s.announce(ctx, issue, count)
	}
	return issue, nil
}

// Stop cancels sending: unsent and sent spool entries of the issue are
// deleted and the issue returns to not sent. It returns the number of
// deleted entries.
func (s *IssueService) Stop(ctx context.Context, id uuid.UUID) (int64, error) {
	var deleted int64
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		issue, err := s.newsletters.GetIssueForUpdate(txCtx, id)
		if err != nil {
			return err
		}
		from := issue.Status
		if err := issue.MarkStopped(s.clock.Now()); err != nil {
			return err
		}
		deleted, err = s.spool.DeleteByIssue(txCtx, issue.Ref())
		if err != nil {
			return err
		}
		return s.newsletters.UpdateIssue(txCtx, issue, from)
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info().Str("issue_id", id.String()).Int64("count", deleted).Msg("Issue sending stopped")
	return deleted, nil
}

// Summary describes the sending state of the issue.
func (s *IssueService) Summary(ctx context.Context, id uuid.UUID) (*IssueSummary, error) {
	issue, err := s.newsletters.GetIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	sum := &IssueSummary{
		IssueID:    issue.ID,
		Status:     issue.Status,
		Count:      issue.Subscribers,
		SentCount:  issue.SentCount,
		ErrorCount: issue.ErrorCount,
	}

	switch issue.Status {
	case newsletter.IssueSent:
		sum.Description = fmt.Sprintf("Newsletter issue sent to %d subscribers.", issue.SentCount)
	case newsletter.IssuePending:
		sum.Description = fmt.Sprintf("Newsletter issue is pending, %d mails sent out of %d.", issue.SentCount, issue.Subscribers)
	default:
		handler, err := s.handlers.ForIssue(issue)
		if err != nil {
			return nil, err
		}
		if sum.Count, err = handler.Count(ctx); err != nil {
			return nil, fmt.Errorf("count recipients: %w", err)
		}
		if issue.Status == newsletter.IssuePublish {
			sum.Description = fmt.Sprintf("Newsletter issue will be sent to %d subscribers on publish.", sum.Count)
		} else {
			sum.Description = fmt.Sprintf("Newsletter issue will be sent to %d subscribers.", sum.Count)
		}
	}
	if sum.ErrorCount > 0 {
		sum.Description += fmt.Sprintf(" %d mails failed.", sum.ErrorCount)
	}
	return sum, nil
}
