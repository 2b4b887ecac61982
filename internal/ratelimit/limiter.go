package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/dairyroute/internal/config"
)

const keyUserWrite = "dairyroute:ratelimit:%s:%s:%s"

// WriteLimiter throttles state-changing requests per user and scope
// (wallet topups, agent status updates).
type WriteLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewWriteLimiter(cfg config.Config, bucket *TokenBucket) *WriteLimiter {
	if !cfg.RateLimit.Enabled || bucket == nil {
		return nil
	}
	if cfg.RateLimit.WriteRate <= 0 || cfg.RateLimit.WriteBurst <= 0 {
		return nil
	}
	return &WriteLimiter{
		bucket: bucket,
		rate:   cfg.RateLimit.WriteRate,
		burst:  cfg.RateLimit.WriteBurst,
	}
}

func (l *WriteLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow always admits when the limiter is disabled.
func (l *WriteLimiter) Allow(ctx context.Context, orgID, userID, scope string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyUserWrite, strings.TrimSpace(scope), strings.TrimSpace(orgID), strings.TrimSpace(userID))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}
