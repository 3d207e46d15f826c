package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/newsletters/internal/domain/errors"
	"github.com/cassiomorais/newsletters/internal/domain/subscriber"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const subscriberColumns = `id, mail, status, user_id, langcode, changes, created_at`

// SubscriberRepository implements subscriber.Repository using PostgreSQL.
// Subscriptions live in their own table and are loaded with the subscriber.
type SubscriberRepository struct {
	pool *pgxpool.Pool
}

func NewSubscriberRepository(pool *pgxpool.Pool) *SubscriberRepository {
	return &SubscriberRepository{pool: pool}
}

func (r *SubscriberRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *SubscriberRepository) GetByID(ctx context.Context, id uuid.UUID) (*subscriber.Subscriber, error) {
	return r.load(ctx, `SELECT `+subscriberColumns+` FROM subscribers WHERE id = $1`, id)
}

func (r *SubscriberRepository) GetByMail(ctx context.Context, mail string) (*subscriber.Subscriber, error) {
	return r.load(ctx, `SELECT `+subscriberColumns+` FROM subscribers WHERE mail = $1`, mail)
}

func (r *SubscriberRepository) load(ctx context.Context, sql string, arg any) (*subscriber.Subscriber, error) {
	s, err := scanSubscriber(r.db(ctx).QueryRow(ctx, sql, arg))
	if err != nil {
		return nil, err
	}

	rows, err := r.db(ctx).Query(ctx,
		`SELECT newsletter_id, status, source, timestamp FROM subscriptions WHERE subscriber_id = $1`, s.ID)
	if err != nil {
		return nil, fmt.Errorf("load subscriptions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		sub := &subscriber.Subscription{}
		var status string
		if err := rows.Scan(&sub.NewsletterID, &status, &sub.Source, &sub.Timestamp); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		sub.Status = subscriber.SubscriptionStatus(status)
		s.Subscriptions[sub.NewsletterID] = sub
	}
	return s, rows.Err()
}

func scanSubscriber(s scanner) (*subscriber.Subscriber, error) {
	sub := &subscriber.Subscriber{Subscriptions: make(map[string]*subscriber.Subscription)}
	var (
		status  string
		changes []byte
	)
	err := s.Scan(&sub.ID, &sub.Mail, &status, &sub.UserID, &sub.Langcode, &changes, &sub.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrSubscriberNotFound
		}
		return nil, fmt.Errorf("scan subscriber: %w", err)
	}
	sub.Status = subscriber.Status(status)
	if len(changes) > 0 {
		if err := json.Unmarshal(changes, &sub.Changes); err != nil {
			return nil, fmt.Errorf("unmarshal subscriber changes: %w", err)
		}
	}
	return sub, nil
}

// Save upserts the subscriber row and all its subscriptions in one batch,
// which the server runs as a single implicit transaction.
func (r *SubscriberRepository) Save(ctx context.Context, s *subscriber.Subscriber) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	var changes []byte
	if len(s.Changes) > 0 {
		var err error
		if changes, err = json.Marshal(s.Changes); err != nil {
			return fmt.Errorf("marshal subscriber changes: %w", err)
		}
	}

	batch := &pgx.Batch{}
	batch.Queue(
		`INSERT INTO subscribers (`+subscriberColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   mail = EXCLUDED.mail, status = EXCLUDED.status, user_id = EXCLUDED.user_id,
		   langcode = EXCLUDED.langcode, changes = EXCLUDED.changes`,
		s.ID, s.Mail, string(s.Status), s.UserID, s.Langcode, changes, s.CreatedAt,
	)
	for _, sub := range s.Subscriptions {
		batch.Queue(
			`INSERT INTO subscriptions (subscriber_id, newsletter_id, status, source, timestamp)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (subscriber_id, newsletter_id) DO UPDATE SET
			   status = EXCLUDED.status, source = EXCLUDED.source, timestamp = EXCLUDED.timestamp`,
			s.ID, sub.NewsletterID, string(sub.Status), sub.Source, sub.Timestamp,
		)
	}

	if err := r.db(ctx).SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save subscriber: %w", err)
	}
	return nil
}

const subscribedCondition = `
	FROM subscribers s
	JOIN subscriptions sub ON sub.subscriber_id = s.id
	WHERE s.status = 'active'
	  AND sub.newsletter_id = $1
	  AND sub.status = 'subscribed'
	  AND ($2::timestamptz IS NULL OR sub.timestamp >= $2)`

func (r *SubscriberRepository) ListSubscribedIDs(ctx context.Context, newsletterID string, since *time.Time) ([]uuid.UUID, error) {
	rows, err := r.db(ctx).Query(ctx, `SELECT s.id`+subscribedCondition+` ORDER BY s.id`, newsletterID, since)
	if err != nil {
		return nil, fmt.Errorf("list subscribed ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("scan subscribed ids: %w", err)
	}
	return ids, nil
}

func (r *SubscriberRepository) CountSubscribed(ctx context.Context, newsletterID string, since *time.Time) (int, error) {
	var n int
	if err := r.db(ctx).QueryRow(ctx, `SELECT COUNT(*)`+subscribedCondition, newsletterID, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("count subscribed: %w", err)
	}
	return n, nil
}
