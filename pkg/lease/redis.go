package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/timeplus-io/tp-watchdog/pkg/config"
)

// renewScript extends the lease only if this owner still holds it
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes the lease only if this owner still holds it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease is a scheduler lease kept in a single Redis key. Whoever set
// the key owns the scheduler until the key expires or is released.
type RedisLease struct {
	client *redis.Client
	key    string
	owner  string
	ttl    time.Duration
}

// NewRedisClient creates a Redis client from cfg and checks it answers
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// NewRedisLease creates a lease on key with a fresh owner token
func NewRedisLease(client *redis.Client, key string, ttl time.Duration) *RedisLease {
	return &RedisLease{
		client: client,
		key:    key,
		owner:  uuid.New().String(),
		ttl:    ttl,
	}
}

// Owner returns the token identifying this process
func (l *RedisLease) Owner() string {
	return l.owner
}

// Acquire takes the lease if it is free and renews it if this process already holds it
func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", l.key, err)
	}
	if ok {
		logrus.Infof("Acquired scheduler lease %s (owner: %s)", l.key, l.owner)
		return true, nil
	}

	renewed, err := renewScript.Run(ctx, l.client, []string{l.key}, l.owner, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to renew lease %s: %w", l.key, err)
	}
	return renewed == 1, nil
}

// Release gives the lease up if this process holds it
func (l *RedisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Err(); err != nil {
		return fmt.Errorf("failed to release lease %s: %w", l.key, err)
	}
	logrus.Infof("Released scheduler lease %s", l.key)
	return nil
}
