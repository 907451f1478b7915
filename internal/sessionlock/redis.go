package sessionlock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout is returned when the key stays held past the wait budget.
var ErrLockTimeout = errors.New("session lock wait timed out")

// releaseScript deletes the key only if it still holds our token, so an
// expired lock re-acquired by another worker is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisConfig configures RedisLocker.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration // lease length; bounds how long a crashed holder blocks others
	Retry    time.Duration // poll interval while waiting
	MaxWait  time.Duration // 0 waits until ctx is done
}

// RedisLocker is a lease-based distributed Locker.
type RedisLocker struct {
	client redis.UniversalClient
	cfg    RedisConfig
}

// NewRedisLocker wraps an existing client.
func NewRedisLocker(client redis.UniversalClient, cfg RedisConfig) *RedisLocker {
	if cfg.Prefix == "" {
		cfg.Prefix = "tutor:session-lock:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.Retry <= 0 {
		cfg.Retry = 25 * time.Millisecond
	}
	return &RedisLocker{client: client, cfg: cfg}
}

// NewRedisLockerFromEnv connects to TUTOR_REDIS_ADDR. It returns nil, nil
// when the variable is unset so callers can fall back to Local.
func NewRedisLockerFromEnv(ctx context.Context) (*RedisLocker, error) {
	addr := strings.TrimSpace(os.Getenv("TUTOR_REDIS_ADDR"))
	if addr == "" {
		return nil, nil
	}
	cfg := RedisConfig{
		Addr:     addr,
		Password: os.Getenv("TUTOR_REDIS_PASSWORD"),
		MaxWait:  10 * time.Second,
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("sessionlock: ping redis: %w", err)
	}
	return NewRedisLocker(client, cfg), nil
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	if l.cfg.MaxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.MaxWait)
		defer cancel()
	}

	redisKey := l.cfg.Prefix + key
	token := uuid.NewString()
	ticker := time.NewTicker(l.cfg.Retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.cfg.TTL).Result()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("sessionlock: acquire %s: %w", key, err)
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrLockTimeout
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close releases the underlying client.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
