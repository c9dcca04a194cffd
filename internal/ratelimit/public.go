package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/swimreg/internal/config"
)

const keyPublicEndpoint = "swimreg:public:%s:%s"

// PublicLimiter throttles unauthenticated endpoints per client address.
type PublicLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

// NewPublicLimiter returns nil when rate limiting is off or Redis is absent.
func NewPublicLimiter(cfg config.Config, bucket *TokenBucket) *PublicLimiter {
	if !cfg.RateLimit.Enabled || bucket == nil {
		return nil
	}
	if cfg.RateLimit.PublicRate <= 0 || cfg.RateLimit.PublicBurst <= 0 {
		return nil
	}
	return &PublicLimiter{
		bucket: bucket,
		rate:   cfg.RateLimit.PublicRate,
		burst:  cfg.RateLimit.PublicBurst,
	}
}

func (l *PublicLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *PublicLimiter) Allow(ctx context.Context, endpoint, clientIP string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyPublicEndpoint, strings.TrimSpace(endpoint), strings.TrimSpace(clientIP))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}
