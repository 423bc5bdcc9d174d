package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var errLockHeld = errors.New("lock held")

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a SETNX lock shared by every process talking to the same redis.
type Locker struct {
	client   *redis.Client
	ttl      time.Duration
	attempts uint
	delay    time.Duration
}

type LockerOption func(*Locker)

func WithLockTTL(d time.Duration) LockerOption { return func(l *Locker) { l.ttl = d } }

func WithLockRetry(attempts uint, delay time.Duration) LockerOption {
	return func(l *Locker) {
		l.attempts = attempts
		l.delay = delay
	}
}

func NewLocker(client *redis.Client, opts ...LockerOption) *Locker {
	l := &Locker{client: client, ttl: 30 * time.Second, attempts: 50, delay: 100 * time.Millisecond}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock blocks until key is acquired or the retry budget runs out. The
// returned func releases the lock.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	redisKey := "lock:" + key

	err := retry.Do(
		func() error {
			ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
			if err != nil {
				return retry.Unrecoverable(err)
			}
			if !ok {
				return errLockHeld
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(l.attempts),
		retry.Delay(l.delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", redisKey, err)
	}

	return func() {
		// Release even if the caller's context is already cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
			slog.Warn("release lock failed", "key", redisKey, "error", err)
		}
	}, nil
}
