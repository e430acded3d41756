package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the lock only if it still carries our token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Locker is a Redis implementation of app.Locker shared by every service instance.
// Locks are stored as: SET lock:{key} <token> NX PX <ttl>
// The ttl bounds how long a crashed holder can block a key. A live holder
// refreshes the ttl every ttl/3 until it unlocks.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Locker{client: client, ttl: ttl, retry: 25 * time.Millisecond}
}

func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := "lock:" + key
	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			stop := make(chan struct{})
			done := make(chan struct{})
			go l.keepAlive(lockKey, token, stop, done)

			var once sync.Once
			return func() {
				once.Do(func() {
					close(stop)
					<-done
					if err := releaseScript.Run(context.Background(), l.client, []string{lockKey}, token).Err(); err != nil {
						log.Warn().Err(err).Str("key", key).Msg("lock release failed")
					}
				})
			}, nil
		}

		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *Locker) keepAlive(lockKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := l.ttl / 3
	if interval <= 0 {
		interval = l.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			n, err := refreshScript.Run(context.Background(), l.client, []string{lockKey}, token, l.ttl.Milliseconds()).Int()
			if err != nil {
				log.Warn().Err(err).Str("key", lockKey).Msg("lock refresh failed")
				continue
			}
			if n == 0 {
				log.Warn().Str("key", lockKey).Msg("lock lost before release")
				return
			}
		}
	}
}
