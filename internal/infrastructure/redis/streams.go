package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	IssueStream = "newsletter:issues"

	EventIssueSpooled = "issue.spooled"
)

// IssueEvent announces a change in an issue's send state.
type IssueEvent struct {
	MessageID string
	IssueID   uuid.UUID
	EventType string
	Count     int
	Timestamp time.Time
}

type StreamProducer struct {
	client redis.Cmdable
	stream string
}

func NewStreamProducer(client redis.Cmdable) *StreamProducer {
	return &StreamProducer{client: client, stream: IssueStream}
}

// PublishIssueSpooled announces that count entries were spooled for an issue.
func (p *StreamProducer) PublishIssueSpooled(ctx context.Context, issueID uuid.UUID, count int) error {
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"issue_id":   issueID.String(),
			"event_type": EventIssueSpooled,
			"count":      count,
			"timestamp":  time.Now().Unix(),
		},
	}

	if _, err := p.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish issue event: %w", err)
	}
	return nil
}

// ParseIssueEvent decodes a stream message written by PublishIssueSpooled.
func ParseIssueEvent(msg redis.XMessage) (*IssueEvent, error) {
	rawID, _ := msg.Values["issue_id"].(string)
	issueID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("invalid issue_id in message %s: %w", msg.ID, err)
	}

	event := &IssueEvent{MessageID: msg.ID, IssueID: issueID}
	event.EventType, _ = msg.Values["event_type"].(string)
	if raw, ok := msg.Values["count"].(string); ok {
		event.Count, _ = strconv.Atoi(raw)
	}
	if raw, ok := msg.Values["timestamp"].(string); ok {
		if ts, err := strconv.ParseInt(raw, 10, 64); err == nil {
			event.Timestamp = time.Unix(ts, 0)
		}
	}
	return event, nil
}

type StreamConsumer struct {
	client        redis.Cmdable
	stream        string
	group         string
	consumer      string
	batchSize     int64
	blockDuration time.Duration
}

func NewStreamConsumer(
	client redis.Cmdable,
	stream string,
	group string,
	consumer string,
	batchSize int64,
	blockDuration time.Duration,
) *StreamConsumer {
	return &StreamConsumer{
		client:        client,
		stream:        stream,
		group:         group,
		consumer:      consumer,
		batchSize:     batchSize,
		blockDuration: blockDuration,
	}
}

func (c *StreamConsumer) CreateGroup(ctx context.Context) error {
	const busyGroupMsg = "BUSYGROUP"
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), busyGroupMsg) {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Read returns new messages for this consumer, or nil when the block
// duration passes without any.
func (c *StreamConsumer) Read(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    c.batchSize,
		Block:    c.blockDuration,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	var messages []redis.XMessage
	for _, s := range streams {
		messages = append(messages, s.Messages...)
	}
	return messages, nil
}

func (c *StreamConsumer) Ack(ctx context.Context, messageID string) error {
	if err := c.client.XAck(ctx, c.stream, c.group, messageID).Err(); err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}
