package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// releaseLeaseScript deletes the lease key only when the caller still
// holds it, so an expired lease re-acquired by someone else survives a
// late release from the previous holder.
const releaseLeaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var ErrLeaseUnavailable = errors.New("lease client not configured")

// Lease grants exclusive, TTL-bounded ownership of a key. It backs the
// per-user in-flight interaction guard: one AI interaction per user and
// feature at a time, with redis expiry as the crash recovery path.
type Lease struct {
	client  *redis.Client
	release *redis.Script
}

func NewLease(client *redis.Client) *Lease {
	if client == nil {
		return nil
	}
	return &Lease{
		client:  client,
		release: redis.NewScript(releaseLeaseScript),
	}
}

// Acquire attempts to take the lease. On success it returns an opaque
// token the holder must present to Release; returns ok=false without
// error when another holder owns the key.
func (l *Lease) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, ErrLeaseUnavailable
	}
	if key == "" {
		return "", false, errors.New("lease key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lease ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Release drops the lease if the token still owns it. Releasing an
// expired or foreign lease is a no-op.
func (l *Lease) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.release.Run(ctx, l.client, []string{key}, token).Err()
}
