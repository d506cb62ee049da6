package biz

import (
	"context"
	"sync"
	"time"

	"xinyuan_tech/fulfillment-service/internal/constants"
)

// GatewayLimiter 网关请求限流器：按 key (订单号) 在时间窗口内计数。
// 显式注入、自带清理生命周期，测试可以构造隔离实例。
type GatewayLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	limit   int
	entries map[string]*limiterEntry
	stop    chan struct{}
	once    sync.Once
}

type limiterEntry struct {
	count    int
	windowAt time.Time
}

// NewGatewayLimiter 创建限流器
func NewGatewayLimiter(window time.Duration, limit int) *GatewayLimiter {
	if window <= 0 {
		window = constants.GatewayRateWindow
	}
	if limit <= 0 {
		limit = constants.GatewayRateLimit
	}
	return &GatewayLimiter{
		window:  window,
		limit:   limit,
		entries: make(map[string]*limiterEntry),
		stop:    make(chan struct{}),
	}
}

// Allow 窗口内计数未超限时返回 true 并计数
func (l *GatewayLimiter) Allow(key string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok || now.Sub(e.windowAt) >= l.window {
		l.entries[key] = &limiterEntry{count: 1, windowAt: now}
		return true
	}
	if e.count >= l.limit {
		return false
	}
	e.count++
	return true
}

// StartSweep 启动过期计数清理，ctx 结束或 Close 时停止
func (l *GatewayLimiter) StartSweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = constants.GatewayRateSweepInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.stop:
				return
			case <-ticker.C:
				l.sweep()
			}
		}
	}()
}

func (l *GatewayLimiter) sweep() {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, e := range l.entries {
		if now.Sub(e.windowAt) >= l.window {
			delete(l.entries, key)
		}
	}
}

// Close 停止清理协程
func (l *GatewayLimiter) Close() {
	l.once.Do(func() { close(l.stop) })
}
