package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter 基于 redis 的固定窗口限流与去重；未配置 redis 时全部放行
type Limiter struct {
	rdb *redis.Client
}

// NewLimiter 创建限流器
func NewLimiter(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb}
}

// Allow 在 window 内 key 的调用次数不超过 limit 时返回 true
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if l == nil || l.rdb == nil || limit <= 0 || window <= 0 {
		return true, nil
	}
	bucket := fmt.Sprintf("ratelimit:%s:%d", key, time.Now().UnixNano()/int64(window))

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, bucket)
	pipe.Expire(ctx, bucket, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit: %w", err)
	}
	return incr.Val() <= int64(limit), nil
}

// Once 在 ttl 内同一 key 只返回一次 true
func (l *Limiter) Once(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if l == nil || l.rdb == nil || ttl <= 0 {
		return true, nil
	}
	ok, err := l.rdb.SetNX(ctx, "dedup:"+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup: %w", err)
	}
	return ok, nil
}
