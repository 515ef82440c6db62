package locker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	DefaultLease      = 90 * time.Second
	defaultRetryEvery = 50 * time.Millisecond
	keyPrefix         = "realtybot:lock:"
)

// releaseScript deletes the key only while it still carries our token, so
// a holder whose lease expired cannot release its successor's lock.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// redisAPI is the subset of *redis.Client used by Redis.
type redisAPI interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Redis is a lease-based lock shared by every instance using the same
// Redis database.
type Redis struct {
	client     redisAPI
	lease      time.Duration
	retryEvery time.Duration
	log        *slog.Logger
	newToken   func() string
}

type RedisOption func(*Redis)

// WithLease sets how long a lock survives a holder that never unlocks.
func WithLease(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.lease = d
		}
	}
}

func WithRetryInterval(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.retryEvery = d
		}
	}
}

func WithLogger(log *slog.Logger) RedisOption {
	return func(r *Redis) {
		if log != nil {
			r.log = log
		}
	}
}

func NewRedis(client redisAPI, opts ...RedisOption) (*Redis, error) {
	if client == nil {
		return nil, errors.New("locker: redis client must not be nil")
	}
	r := &Redis{
		client:     client,
		lease:      DefaultLease,
		retryEvery: defaultRetryEvery,
		log:        slog.Default(),
		newToken:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(slog.String("component", "locker"))
	return r, nil
}

// Lock polls SET NX PX until the key is acquired or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := keyPrefix + key
	token := r.newToken()

	ticker := time.NewTicker(r.retryEvery)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.lease).Result()
		if err != nil {
			return nil, fmt.Errorf("locker: acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("locker: acquire %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}

	return func() {
		// the caller's ctx may already be cancelled when the turn ends
		relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		n, err := r.client.Eval(relCtx, releaseScript, []string{redisKey}, token).Int64()
		if err != nil {
			r.log.Warn("lock release failed", "key", key, "err", err)
			return
		}
		if n == 0 {
			r.log.Warn("lock lease expired before release", "key", key, "lease", r.lease)
		}
	}, nil
}
