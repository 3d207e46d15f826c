package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/newsletters/internal/domain/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lua script for safe lock release (only owner can release)
var releaseLockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// NamedLocker is a process-external mutex keyed by name. Each acquired name
// is stored in Redis with a random owner token and a TTL, so a crashed holder
// cannot block others for longer than the TTL.
type NamedLocker struct {
	client redis.Cmdable
	ttl    time.Duration

	mu     sync.Mutex
	tokens map[string]string
}

func NewNamedLocker(client redis.Cmdable, ttl time.Duration) *NamedLocker {
	return &NamedLocker{
		client: client,
		ttl:    ttl,
		tokens: make(map[string]string),
	}
}

func lockKey(name string) string {
	return fmt.Sprintf("lock:%s", name)
}

// Acquire tries once to take the lock. It never blocks waiting for another
// holder; false means the lock is held elsewhere.
func (l *NamedLocker) Acquire(ctx context.Context, name string) (bool, error) {
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, lockKey(name), token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	if !ok {
		return false, nil
	}

	l.mu.Lock()
	l.tokens[name] = token
	l.mu.Unlock()
	return true, nil
}

// Release drops a lock acquired by this locker. Releasing a lock that expired
// or was never held returns ErrLockNotHeld.
func (l *NamedLocker) Release(ctx context.Context, name string) error {
	l.mu.Lock()
	token, ok := l.tokens[name]
	delete(l.tokens, name)
	l.mu.Unlock()

	if !ok {
		return domainErrors.ErrLockNotHeld
	}

	result, err := releaseLockScript.Run(ctx, l.client, []string{lockKey(name)}, token).Result()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", name, err)
	}

	if val, ok := result.(int64); !ok || val == 0 {
		return domainErrors.ErrLockNotHeld
	}
	return nil
}
