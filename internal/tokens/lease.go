package tokens

import (
	"context"
	"log"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/rkotchamp/postmore-sub002/internal/models"
)

// leaseTTL bounds how long a refresh may hold the lease. It comfortably
// covers one platform round trip; a crashed holder frees up after it.
const leaseTTL = 30 * time.Second

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

func leaseKey(account *models.SocialAccount) string {
	return "refresh:lease:" + account.Platform + ":" + account.AccountID
}

// RedisLocker serializes credential refreshes across worker processes. The
// in-process registry already covers a single process; the lease extends the
// same guarantee to multi-worker deployments using the broker Redis.
type RedisLocker struct {
	rdb   *redis.Client
	owner string
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	owner, err := gonanoid.New()
	if err != nil {
		owner = "locker"
	}
	return &RedisLocker{rdb: rdb, owner: owner}
}

// Acquire takes the lease when free. Returns false without error when
// another process holds it.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.rdb.SetNX(ctx, key, l.owner, ttl).Result()
}

func (l *RedisLocker) IsHeld(ctx context.Context, key string) (bool, error) {
	n, err := l.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Release drops the lease only when this process still owns it.
func (l *RedisLocker) Release(ctx context.Context, key string) {
	if _, err := releaseScript.Run(ctx, l.rdb, []string{key}, l.owner).Result(); err != nil && err != redis.Nil {
		log.Printf("release lease %s: %v", key, err)
	}
}
