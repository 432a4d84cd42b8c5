package cache

import (
	"context"
	"fmt"
	"time"

	"XSlicer/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// DefaultLockTTL must outlive one fetch+analyze run.
const DefaultLockTTL = 20 * time.Minute

const lockPollInterval = 250 * time.Millisecond

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Locker is a per-song-id lock shared between service instances.
// It only avoids duplicate work; atomic publish in the song store is what keeps data consistent.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
	poll   time.Duration
}

// NewLocker creates a Redis SET NX PX lock.
func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &Locker{client: client, ttl: ttl, poll: lockPollInterval}
}

func lockKey(id string) string {
	return keyPrefix + "lock:" + id
}

// Acquire blocks until the lock for id is held or ctx is done.
func (l *Locker) Acquire(ctx context.Context, id string) (func(), error) {
	key := lockKey(id)
	token := uuid.NewString()

	waited := false
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if !waited {
			logger.Info("song is being processed by another instance, waiting", logger.SongID(id))
			waited = true
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}

	return func() {
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
			logger.Warn("failed to release lock", logger.SongID(id), logger.ErrorField(err))
		}
	}, nil
}
