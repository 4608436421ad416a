package redis

import (
	"context"
	"fmt"
	"time"

	"ms-marketplace/internal/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const keyPrefix = "sweep_lock:"

const defaultLockTTL = 5 * time.Minute

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another sweeper is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript pushes the expiry forward under the same ownership check.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Redis keeps at most one cancellation sweeper per event.
type Redis struct {
	Client *redis.Client
	Logger *logger.Logger
	TTL    time.Duration
}

func NewRedis(client *redis.Client, log *logger.Logger, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Redis{Client: client, Logger: log, TTL: ttl}
}

func lockKey(eventID string) string {
	return keyPrefix + eventID
}

// TryLock takes the sweep lock of an event. ok is false when another
// sweeper holds it. The returned token is needed to release it.
func (r *Redis) TryLock(ctx context.Context, eventID string) (string, bool, error) {
	token := uuid.New().String()
	ok, err := r.Client.SetNX(ctx, lockKey(eventID), token, r.TTL).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis lock error: %w", err)
	}
	if !ok {
		r.Logger.Warn("REDIS", fmt.Sprintf("Sweep lock for event %s is held elsewhere", eventID))
		return "", false, nil
	}
	r.Logger.Debug("REDIS", fmt.Sprintf("Sweep lock taken for event %s (ttl %s)", eventID, r.TTL))
	return token, true, nil
}

// Unlock releases the lock if token still owns it.
func (r *Redis) Unlock(ctx context.Context, eventID, token string) error {
	released, err := releaseScript.Run(ctx, r.Client, []string{lockKey(eventID)}, token).Int()
	if err != nil {
		return fmt.Errorf("redis unlock error: %w", err)
	}
	if released == 0 {
		r.Logger.Warn("REDIS", fmt.Sprintf("Sweep lock for event %s expired before release", eventID))
	}
	return nil
}

// Extend renews an owned lock for another TTL. It reports false when the
// lock was lost.
func (r *Redis) Extend(ctx context.Context, eventID, token string) (bool, error) {
	extended, err := extendScript.Run(ctx, r.Client, []string{lockKey(eventID)}, token, r.TTL.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis extend error: %w", err)
	}
	return extended == 1, nil
}
