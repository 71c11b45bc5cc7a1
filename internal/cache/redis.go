// Package cache wraps redis for advisory verification state: attempt
// counters and scan dedupe hints. The database remains the authority for
// every attendance invariant.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps the redis client.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis with short timeouts.
func NewRedis(addr, password string, db int) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

func attemptKey(sessionID, studentID string) string {
	return fmt.Sprintf("attempts:%s:%s", sessionID, studentID)
}

// IncrAttempts bumps the attempt counter for (session, student) and
// returns the new count. The TTL bounds the counter's life to the scan
// window so the reaper never has to touch redis.
func (r *Redis) IncrAttempts(ctx context.Context, sessionID, studentID string, ttl time.Duration) (int64, error) {
	key := attemptKey(sessionID, studentID)

	count, err := r.Client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr attempts: %w", err)
	}
	if count == 1 {
		if err := r.Client.Expire(ctx, key, ttl).Err(); err != nil {
			return count, fmt.Errorf("expire attempts: %w", err)
		}
	}

	return count, nil
}

// ResetAttempts clears the counter after a finalized record, so a
// student's failed attempts don't linger against an already-marked pair.
func (r *Redis) ResetAttempts(ctx context.Context, sessionID, studentID string) error {
	return r.Client.Del(ctx, attemptKey(sessionID, studentID)).Err()
}
