package utils

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisLoginLimiter 基于Redis的登录限制器，多实例部署时共享失败计数
// Redis不可用时放行，不影响正常登录
type RedisLoginLimiter struct {
	rdb          *redis.Client
	maxAttempts  int
	lockDuration time.Duration
	keyPrefix    string
}

// NewRedisLoginLimiter 创建Redis登录限制器
func NewRedisLoginLimiter(rdb *redis.Client, maxAttempts int, lockDuration time.Duration) *RedisLoginLimiter {
	return &RedisLoginLimiter{
		rdb:          rdb,
		maxAttempts:  maxAttempts,
		lockDuration: lockDuration,
		keyPrefix:    "login",
	}
}

func (l *RedisLoginLimiter) countKey(key string) string {
	return l.keyPrefix + ":fail:" + key
}

func (l *RedisLoginLimiter) lockKey(key string) string {
	return l.keyPrefix + ":lock:" + key
}

// IsLocked 检查是否被锁定
func (l *RedisLoginLimiter) IsLocked(ctx context.Context, key string) (bool, int) {
	ttl, err := l.rdb.TTL(ctx, l.lockKey(key)).Result()
	if err != nil {
		log.Warn().Err(err).Msg("读取登录锁定状态失败")
		return false, 0
	}
	if ttl <= 0 {
		return false, 0
	}
	return true, int(ttl.Minutes()) + 1
}

// RecordFailedLogin 记录登录失败，达到最大次数时锁定
func (l *RedisLoginLimiter) RecordFailedLogin(ctx context.Context, key string) (bool, int) {
	count, err := l.rdb.Incr(ctx, l.countKey(key)).Result()
	if err != nil {
		log.Warn().Err(err).Msg("记录登录失败次数失败")
		return false, 0
	}

	// 首次失败时设置计数窗口
	if count == 1 {
		l.rdb.Expire(ctx, l.countKey(key), l.lockDuration)
	}

	if count >= int64(l.maxAttempts) {
		pipe := l.rdb.TxPipeline()
		pipe.Set(ctx, l.lockKey(key), "1", l.lockDuration)
		pipe.Del(ctx, l.countKey(key))
		if _, err := pipe.Exec(ctx); err != nil {
			log.Warn().Err(err).Msg("写入登录锁定状态失败")
			return false, 0
		}
		return true, int(l.lockDuration.Minutes())
	}

	return false, 0
}

// ResetAttempts 登录成功后清零
func (l *RedisLoginLimiter) ResetAttempts(ctx context.Context, key string) {
	if err := l.rdb.Del(ctx, l.countKey(key), l.lockKey(key)).Err(); err != nil {
		log.Warn().Err(err).Msg("清除登录失败次数失败")
	}
}

// GetRemainingAttempts 获取剩余尝试次数
func (l *RedisLoginLimiter) GetRemainingAttempts(ctx context.Context, key string) int {
	count, err := l.rdb.Get(ctx, l.countKey(key)).Int()
	if err != nil {
		return l.maxAttempts
	}
	remaining := l.maxAttempts - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}
