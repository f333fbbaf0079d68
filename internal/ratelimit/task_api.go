package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/dealcadence/internal/config"
	"github.com/smallbiznis/dealcadence/internal/observability/metrics"
)

const keyTaskAPIUser = "tasks:api:user:%s"

// ErrLimited is returned when the caller's bucket is empty.
var ErrLimited = errors.New("rate_limited")

// TaskAPILimiter throttles external task API calls per owning user.
type TaskAPILimiter struct {
	bucket  *TokenBucket
	rate    float64
	burst   int
	metrics *metrics.Metrics
}

func NewTaskAPILimiter(cfg config.Config, bucket *TokenBucket, m *metrics.Metrics) (*TaskAPILimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled || bucket == nil {
		return nil, nil
	}
	if limitCfg.TaskAPIUserRate <= 0 || limitCfg.TaskAPIUserBurst <= 0 {
		return nil, errors.New("task api user rate limit must be positive")
	}
	return &TaskAPILimiter{
		bucket:  bucket,
		rate:    limitCfg.TaskAPIUserRate,
		burst:   limitCfg.TaskAPIUserBurst,
		metrics: m,
	}, nil
}

func (l *TaskAPILimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow returns ErrLimited when userID has no tokens left. Redis failures
// fail open and are counted apart from allowed calls.
func (l *TaskAPILimiter) Allow(ctx context.Context, userID string) error {
	if !l.Enabled() {
		return nil
	}
	res, err := l.bucket.Allow(ctx, fmt.Sprintf(keyTaskAPIUser, strings.TrimSpace(userID)), l.rate, l.burst)
	if err != nil {
		l.metrics.RecordRateLimitFailOpen(ctx, "task_api", "backend_error")
		return nil
	}
	if !res.Allowed {
		l.metrics.RecordRateLimitDenied(ctx, "task_api", "user_bucket_empty")
		return fmt.Errorf("%w: retry after %s", ErrLimited, res.RetryAfter)
	}
	l.metrics.RecordRateLimitAllowed(ctx, "task_api")
	return nil
}
