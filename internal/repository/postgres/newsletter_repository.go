package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	domainErrors "github.com/cassiomorais/newsletters/internal/domain/errors"
	"github.com/cassiomorais/newsletters/internal/domain/newsletter"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const issueColumns = `id, title, subject, body, format, newsletter_ids, status, subscribers, sent_count,
	error_count, handler, handler_settings, published, created_at, updated_at`

// NewsletterRepository implements newsletter.Repository using PostgreSQL.
type NewsletterRepository struct {
	pool *pgxpool.Pool
}

func NewNewsletterRepository(pool *pgxpool.Pool) *NewsletterRepository {
	return &NewsletterRepository{pool: pool}
}

func (r *NewsletterRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *NewsletterRepository) GetNewsletter(ctx context.Context, id string) (*newsletter.Newsletter, error) {
	n := &newsletter.Newsletter{}
	var optIn string
	err := r.db(ctx).QueryRow(ctx,
		`SELECT id, name, opt_in, weight FROM newsletters WHERE id = $1`, id,
	).Scan(&n.ID, &n.Name, &optIn, &n.Weight)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrNewsletterNotFound
		}
		return nil, fmt.Errorf("get newsletter: %w", err)
	}
	n.OptIn = newsletter.OptIn(optIn)
	return n, nil
}

func (r *NewsletterRepository) ListNewsletters(ctx context.Context) ([]*newsletter.Newsletter, error) {
	rows, err := r.db(ctx).Query(ctx, `SELECT id, name, opt_in, weight FROM newsletters ORDER BY weight, name`)
	if err != nil {
		return nil, fmt.Errorf("list newsletters: %w", err)
	}
	defer rows.Close()

	var result []*newsletter.Newsletter
	for rows.Next() {
		n := &newsletter.Newsletter{}
		var optIn string
		if err := rows.Scan(&n.ID, &n.Name, &optIn, &n.Weight); err != nil {
			return nil, fmt.Errorf("scan newsletter: %w", err)
		}
		n.OptIn = newsletter.OptIn(optIn)
		result = append(result, n)
	}
	return result, rows.Err()
}

func (r *NewsletterRepository) GetIssue(ctx context.Context, id uuid.UUID) (*newsletter.Issue, error) {
	issue, err := scanIssue(r.db(ctx).QueryRow(ctx, `SELECT `+issueColumns+` FROM issues WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domainErrors.ErrIssueNotFound
	}
	return issue, err
}

// GetIssueForUpdate locks the issue row (SELECT FOR UPDATE). Concurrent
// lifecycle changes of the same issue queue up behind the lock.
func (r *NewsletterRepository) GetIssueForUpdate(ctx context.Context, id uuid.UUID) (*newsletter.Issue, error) {
	issue, err := scanIssue(r.db(ctx).QueryRow(ctx, `SELECT `+issueColumns+` FROM issues WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domainErrors.ErrIssueNotFound
	}
	return issue, err
}

func (r *NewsletterRepository) UpdateIssue(ctx context.Context, issue *newsletter.Issue, from newsletter.IssueStatus) error {
	settings, err := json.Marshal(issue.HandlerSettings)
	if err != nil {
		return fmt.Errorf("marshal handler settings: %w", err)
	}
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE issues SET title = $1, subject = $2, body = $3, format = $4, newsletter_ids = $5,
		   status = $6, subscribers = $7, sent_count = $8, error_count = $9, handler = $10,
		   handler_settings = $11, published = $12, updated_at = $13
		 WHERE id = $14 AND status = $15`,
		issue.Title, issue.Subject, issue.Body, issue.Format, issue.NewsletterIDs,
		string(issue.Status), issue.Subscribers, issue.SentCount, issue.ErrorCount, issue.Handler,
		settings, issue.Published, issue.UpdatedAt, issue.ID, string(from),
	)
	if err != nil {
		return fmt.Errorf("update issue: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.db(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM issues WHERE id = $1)`, issue.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check issue: %w", err)
	}
	if !exists {
		return domainErrors.ErrIssueNotFound
	}
	return newsletter.NewStatusChangedError(from)
}

func (r *NewsletterRepository) ListIssuesByStatus(ctx context.Context, status newsletter.IssueStatus) ([]*newsletter.Issue, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+issueColumns+` FROM issues WHERE status = $1 ORDER BY created_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()

	var result []*newsletter.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, issue)
	}
	return result, rows.Err()
}

// scanIssue returns pgx.ErrNoRows unwrapped so callers can map it.
func scanIssue(s scanner) (*newsletter.Issue, error) {
	i := &newsletter.Issue{}
	var (
		status   string
		settings []byte
	)
	err := s.Scan(&i.ID, &i.Title, &i.Subject, &i.Body, &i.Format, &i.NewsletterIDs, &status,
		&i.Subscribers, &i.SentCount, &i.ErrorCount, &i.Handler, &settings, &i.Published,
		&i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan issue: %w", err)
	}
	i.Status = newsletter.IssueStatus(status)
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &i.HandlerSettings); err != nil {
			return nil, fmt.Errorf("unmarshal handler settings: %w", err)
		}
	}
	return i, nil
}
