package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quadernolabs/quaderno/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const (
	keyAIUser         = "ai:user:%s"
	keyAIInFlightLock = "ai:inflight:%s:%s"
)

// AIAdmissionLimiter throttles AI requests per user and serializes
// long-running interactions per user and feature with a redis lock.
// Disabled configuration yields a nil limiter that admits everything.
type AIAdmissionLimiter struct {
	enabled bool

	bucket *TokenBucket
	lease  *Lease

	userRate  float64
	userBurst int
	lockTTL   time.Duration
}

func NewAIAdmissionLimiter(cfg config.Config) (*AIAdmissionLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.UserRate <= 0 || limitCfg.UserBurst <= 0 {
		return nil, errors.New("user rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &AIAdmissionLimiter{
		enabled:   true,
		bucket:    NewTokenBucket(client),
		lease:     NewLease(client),
		userRate:  limitCfg.UserRate,
		userBurst: limitCfg.UserBurst,
		lockTTL:   time.Duration(limitCfg.InFlightTTLSeconds) * time.Second,
	}, nil
}

func (l *AIAdmissionLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *AIAdmissionLimiter) AllowUser(ctx context.Context, userID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyAIUser, strings.TrimSpace(userID)), l.userRate, l.userBurst)
}

func (l *AIAdmissionLimiter) TryLockInteraction(ctx context.Context, userID, feature string) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	key := fmt.Sprintf(keyAIInFlightLock, strings.TrimSpace(userID), strings.TrimSpace(feature))
	return l.lease.Acquire(ctx, key, l.lockTTL)
}

func (l *AIAdmissionLimiter) ReleaseInteraction(ctx context.Context, userID, feature, token string) error {
	if !l.Enabled() {
		return nil
	}
	key := fmt.Sprintf(keyAIInFlightLock, strings.TrimSpace(userID), strings.TrimSpace(feature))
	return l.lease.Release(ctx, key, token)
}
