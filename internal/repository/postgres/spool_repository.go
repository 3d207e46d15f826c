package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cassiomorais/newsletters/internal/domain/newsletter"
	"github.com/cassiomorais/newsletters/internal/domain/spool"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const spoolColumns = `id, entity_type, entity_id, newsletter_id, subscriber_id, data, status, error, timestamp`

// SpoolRepository implements spool.Repository using PostgreSQL.
type SpoolRepository struct {
	pool *pgxpool.Pool
}

func NewSpoolRepository(pool *pgxpool.Pool) *SpoolRepository {
	return &SpoolRepository{pool: pool}
}

func (r *SpoolRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// Insert bulk-loads entries with COPY.
func (r *SpoolRepository) Insert(ctx context.Context, entries []*spool.Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	rows := make([][]any, len(entries))
	for i, e := range entries {
		rows[i] = []any{
			e.Issue.EntityType, e.Issue.EntityID, e.NewsletterID, e.Recipient.SubscriberID,
			e.Recipient.Data, string(e.Status), e.Error, e.Timestamp,
		}
	}
	n, err := r.db(ctx).CopyFrom(ctx,
		pgx.Identifier{"mail_spool"},
		[]string{"entity_type", "entity_id", "newsletter_id", "subscriber_id", "data", "status", "error", "timestamp"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("copy spool entries: %w", err)
	}
	return int(n), nil
}

func (r *SpoolRepository) FindClaimable(ctx context.Context, filter spool.Filter, expiredBefore time.Time, limit int) ([]*spool.Entry, error) {
	filter.Statuses = []spool.Status{spool.StatusPending}
	q := newSpoolQuery()
	q.filter(filter, expiredBefore)

	sql := `SELECT ` + spoolColumns + ` FROM mail_spool` + q.where() + ` ORDER BY timestamp ASC, id ASC`
	if limit > 0 {
		sql += ` LIMIT ` + q.arg(limit)
	}
	rows, err := r.db(ctx).Query(ctx, sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("find claimable entries: %w", err)
	}
	defer rows.Close()

	var entries []*spool.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *SpoolRepository) UpdateStatus(ctx context.Context, ids []int64, status spool.Status, hasError bool, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db(ctx).Exec(ctx,
		`UPDATE mail_spool SET status = $1, error = $2, timestamp = $3 WHERE id = ANY($4)`,
		string(status), hasError, at, ids,
	)
	if err != nil {
		return fmt.Errorf("update spool status: %w", err)
	}
	return nil
}

func (r *SpoolRepository) Count(ctx context.Context, filter spool.Filter, expiredBefore time.Time) (int, error) {
	q := newSpoolQuery()
	q.filter(filter, expiredBefore)

	var n int
	if err := r.db(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM mail_spool`+q.where(), q.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count spool entries: %w", err)
	}
	return n, nil
}

func (r *SpoolRepository) CountErrors(ctx context.Context, filter spool.Filter) (int, error) {
	q := newSpoolQuery()
	q.scope(filter)
	q.add(`status = ` + q.arg(string(spool.StatusSkipped)) + ` AND error`)

	var n int
	if err := r.db(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM mail_spool`+q.where(), q.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count spool errors: %w", err)
	}
	return n, nil
}

// DeleteTerminalBefore keeps the rows of issues still being sent: their
// progress counters are recomputed from them.
func (r *SpoolRepository) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db(ctx).Exec(ctx,
		`DELETE FROM mail_spool s
		 WHERE s.status IN ($1, $2) AND s.timestamp <= $3
		   AND NOT EXISTS (
		     SELECT 1 FROM issues i
		     WHERE s.entity_type = $4 AND i.id = s.entity_id AND i.status = $5)`,
		string(spool.StatusDone), string(spool.StatusSkipped), before,
		newsletter.IssueEntityType, string(newsletter.IssuePending),
	)
	if err != nil {
		return 0, fmt.Errorf("delete terminal spool entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *SpoolRepository) DeleteByIssue(ctx context.Context, ref spool.IssueRef) (int64, error) {
	tag, err := r.db(ctx).Exec(ctx,
		`DELETE FROM mail_spool WHERE entity_type = $1 AND entity_id = $2`,
		ref.EntityType, ref.EntityID,
	)
	if err != nil {
		return 0, fmt.Errorf("delete issue spool entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanEntry(s scanner) (*spool.Entry, error) {
	e := &spool.Entry{}
	var (
		subscriberID *uuid.UUID
		status       string
	)
	err := s.Scan(&e.ID, &e.Issue.EntityType, &e.Issue.EntityID, &e.NewsletterID, &subscriberID,
		&e.Recipient.Data, &status, &e.Error, &e.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("scan spool entry: %w", err)
	}
	e.Recipient.SubscriberID = subscriberID
	e.Status = spool.Status(status)
	return e, nil
}

// spoolQuery accumulates WHERE conditions and positional arguments.
type spoolQuery struct {
	conds []string
	args  []any
}

func newSpoolQuery() *spoolQuery {
	return &spoolQuery{}
}

func (q *spoolQuery) arg(v any) string {
	q.args = append(q.args, v)
	return "$" + strconv.Itoa(len(q.args))
}

func (q *spoolQuery) add(cond string) {
	q.conds = append(q.conds, cond)
}

func (q *spoolQuery) where() string {
	if len(q.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.conds, " AND ")
}

// scope adds the issue and newsletter parts of filter.
func (q *spoolQuery) scope(filter spool.Filter) {
	if filter.Issue != nil {
		q.add(`entity_type = ` + q.arg(filter.Issue.EntityType) + ` AND entity_id = ` + q.arg(filter.Issue.EntityID))
	}
	if filter.NewsletterID != "" {
		q.add(`newsletter_id = ` + q.arg(filter.NewsletterID))
	}
}

func (q *spoolQuery) filter(filter spool.Filter, expiredBefore time.Time) {
	q.scope(filter)
	q.add(q.statusCondition(filter.EffectiveStatuses(), expiredBefore))
}

// statusCondition matches rows by effective status: an in-progress row
// stamped before expiredBefore is pending, not in progress.
func (q *spoolQuery) statusCondition(statuses []spool.Status, expiredBefore time.Time) string {
	var expired string
	expiredArg := func() string {
		if expired == "" {
			expired = q.arg(expiredBefore)
		}
		return expired
	}

	parts := make([]string, 0, len(statuses))
	for _, st := range statuses {
		switch st {
		case spool.StatusPending:
			parts = append(parts, `status = 'pending' OR (status = 'in_progress' AND timestamp < `+expiredArg()+`)`)
		case spool.StatusInProgress:
			parts = append(parts, `(status = 'in_progress' AND timestamp >= `+expiredArg()+`)`)
		default:
			parts = append(parts, `status = `+q.arg(string(st)))
		}
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}
