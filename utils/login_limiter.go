package utils

import (
	"context"
	"sync"
	"time"
)

// AttemptLimiter 登录失败次数限制
// 键通常为小写邮箱；返回的分钟数为剩余锁定时间
type AttemptLimiter interface {
	IsLocked(ctx context.Context, key string) (bool, int)
	RecordFailedLogin(ctx context.Context, key string) (bool, int)
	ResetAttempts(ctx context.Context, key string)
	GetRemainingAttempts(ctx context.Context, key string) int
}

// LoginAttemptInfo 登录尝试信息
type LoginAttemptInfo struct {
	Count     int       // 尝试次数
	LastTry   time.Time // 最后一次尝试时间
	LockUntil time.Time // 锁定截止时间
}

// LoginLimiter 进程内登录限制器
type LoginLimiter struct {
	attempts      map[string]*LoginAttemptInfo // 登录尝试记录
	mutex         sync.RWMutex                 // 读写锁，保证并发安全
	maxAttempts   int                          // 最大允许的登录失败次数
	lockDuration  time.Duration                // 锁定时间
	cleanInterval time.Duration                // 清理间隔
	stop          chan struct{}
	stopOnce      sync.Once
}

// NewLoginLimiter 创建新的登录限制器
// 参数:
//   - maxAttempts: 最大允许的登录失败次数
//   - lockDuration: 锁定时间
//   - cleanInterval: 清理间隔，定期清理过期的尝试记录
func NewLoginLimiter(maxAttempts int, lockDuration, cleanInterval time.Duration) *LoginLimiter {
	limiter := &LoginLimiter{
		attempts:      make(map[string]*LoginAttemptInfo),
		maxAttempts:   maxAttempts,
		lockDuration:  lockDuration,
		cleanInterval: cleanInterval,
		stop:          make(chan struct{}),
	}

	go limiter.cleanupRoutine()

	return limiter
}

// Close 停止后台清理协程
func (l *LoginLimiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *LoginLimiter) cleanupRoutine() {
	ticker := time.NewTicker(l.cleanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stop:
			return
		}
	}
}

// cleanup 清理锁定已过期且24小时内没有再尝试的记录
func (l *LoginLimiter) cleanup() {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	now := time.Now()
	for key, attempt := range l.attempts {
		if now.After(attempt.LockUntil) && now.Sub(attempt.LastTry) > 24*time.Hour {
			delete(l.attempts, key)
		}
	}
}

// RecordFailedLogin 记录登录失败，达到最大次数时锁定
func (l *LoginLimiter) RecordFailedLogin(_ context.Context, key string) (bool, int) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	now := time.Now()

	attempt, exists := l.attempts[key]
	if !exists || (!attempt.LockUntil.IsZero() && now.After(attempt.LockUntil)) {
		attempt = &LoginAttemptInfo{}
		l.attempts[key] = attempt
	}

	attempt.Count++
	attempt.LastTry = now

	if attempt.Count >= l.maxAttempts {
		attempt.LockUntil = now.Add(l.lockDuration)
		return true, int(l.lockDuration.Minutes())
	}

	return false, 0
}

// IsLocked 检查是否被锁定
func (l *LoginLimiter) IsLocked(_ context.Context, key string) (bool, int) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	attempt, exists := l.attempts[key]
	if !exists {
		return false, 0
	}

	now := time.Now()
	if now.Before(attempt.LockUntil) {
		return true, int(attempt.LockUntil.Sub(now).Minutes()) + 1
	}

	return false, 0
}

// ResetAttempts 登录成功后清零
func (l *LoginLimiter) ResetAttempts(_ context.Context, key string) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	delete(l.attempts, key)
}

// GetRemainingAttempts 获取剩余尝试次数
func (l *LoginLimiter) GetRemainingAttempts(_ context.Context, key string) int {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	attempt, exists := l.attempts[key]
	if !exists {
		return l.maxAttempts
	}

	remaining := l.maxAttempts - attempt.Count
	if remaining < 0 {
		remaining = 0
	}

	return remaining
}
