package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	domainErrors "github.com/cassiomorais/newsletters/internal/domain/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestNamedLocker_AcquireRelease(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	locker := NewNamedLocker(client, 30*time.Second)

	ok, err := locker.Acquire(ctx, "newsletter_acquire_mail")
	require.NoError(t, err)
	assert.True(t, ok)

	other := NewNamedLocker(client, 30*time.Second)
	ok, err = other.Acquire(ctx, "newsletter_acquire_mail")
	require.NoError(t, err)
	assert.False(t, ok, "second locker must not get a held lock")

	ok, err = other.Acquire(ctx, "another_lock")
	require.NoError(t, err)
	assert.True(t, ok, "locks are independent per name")

	require.NoError(t, locker.Release(ctx, "newsletter_acquire_mail"))

	ok, err = other.Acquire(ctx, "newsletter_acquire_mail")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNamedLocker_ReleaseNotHeld(t *testing.T) {
	_, client := newTestRedis(t)
	locker := NewNamedLocker(client, time.Second)

	assert.ErrorIs(t, locker.Release(context.Background(), "never"), domainErrors.ErrLockNotHeld)
}

func TestNamedLocker_ExpiredLockIsNotReleasedFromUnderNewOwner(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	first := NewNamedLocker(client, time.Second)
	ok, err := first.Acquire(ctx, "spool")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	second := NewNamedLocker(client, time.Second)
	ok, err = second.Acquire(ctx, "spool")
	require.NoError(t, err)
	require.True(t, ok)

	assert.ErrorIs(t, first.Release(ctx, "spool"), domainErrors.ErrLockNotHeld)
	assert.True(t, mr.Exists("lock:spool"), "new owner's lock must survive")
}

func TestNamedLocker_ConcurrentAcquireSingleWinner(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := NewNamedLocker(client, time.Minute).Acquire(ctx, "race")
			if err == nil && ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestStreams_PublishAndConsume(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	consumer := NewStreamConsumer(client, IssueStream, "senders", "worker-1", 10, 10*time.Millisecond)
	require.NoError(t, consumer.CreateGroup(ctx))
	require.NoError(t, consumer.CreateGroup(ctx), "existing group must not be an error")

	issueID := uuid.New()
	producer := NewStreamProducer(client)
	require.NoError(t, producer.PublishIssueSpooled(ctx, issueID, 42))

	messages, err := consumer.Read(ctx)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	event, err := ParseIssueEvent(messages[0])
	require.NoError(t, err)
	assert.Equal(t, issueID, event.IssueID)
	assert.Equal(t, EventIssueSpooled, event.EventType)
	assert.Equal(t, 42, event.Count)
	assert.False(t, event.Timestamp.IsZero())

	require.NoError(t, consumer.Ack(ctx, event.MessageID))

	pending, err := client.XPending(ctx, IssueStream, "senders").Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}

func TestParseIssueEvent_InvalidID(t *testing.T) {
	_, err := ParseIssueEvent(redis.XMessage{ID: "1-0", Values: map[string]any{"issue_id": "nope"}})
	assert.Error(t, err)
}
