package data

import (
	"context"
	"sync"
	"time"

	"xinyuan_tech/fulfillment-service/internal/biz"
	"xinyuan_tech/fulfillment-service/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redsync/redsync/v4"
)

// redsyncLocker 基于 redsync 的租约锁。
// redsync 为每个 mutex 生成随机持有者标识，解锁/续期时在存储端校验标识，
// 因此别的实例永远动不了本实例的锁；Redis 的 key TTL 是崩溃兜底。
// held 登记本实例当前持有的 mutex：释放一个本实例没拿到过的 key 是本地 no-op。
type redsyncLocker struct {
	rs   *redsync.Redsync
	log  *log.Helper
	mu   sync.Mutex
	held map[string]*redsync.Mutex
}

// NewRedsyncLocker 创建分布式锁管理器
func NewRedsyncLocker(rs *redsync.Redsync, logger log.Logger) biz.Locker {
	return &redsyncLocker{
		rs:   rs,
		log:  log.NewHelper(logger),
		held: make(map[string]*redsync.Mutex),
	}
}

// Acquire 尝试获取锁。redsync 的加锁是单次原子 SET NX，不存在先查后插的竞态。
func (l *redsyncLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = constants.ChargeLockExpiration
	}
	mutex := l.rs.NewMutex(
		key,
		redsync.WithExpiry(ttl),
		redsync.WithTries(constants.ChargeLockRetries),
	)
	if err := mutex.TryLockContext(ctx); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		// 已被其他持有者占用 (或 Redis 瞬时不可用)，按锁竞争处理，不算错误
		return false, nil
	}

	l.mu.Lock()
	l.held[key] = mutex
	l.mu.Unlock()
	return true, nil
}

// Release 释放锁。未持有该 key 时静默返回，绝不影响其他持有者的锁。
func (l *redsyncLocker) Release(ctx context.Context, key string) {
	l.mu.Lock()
	mutex, ok := l.held[key]
	delete(l.held, key)
	l.mu.Unlock()
	if !ok {
		return
	}

	if _, err := mutex.UnlockContext(ctx); err != nil {
		// 锁已过期或被回收，TTL 会兜底
		l.log.Warnf("Failed to unlock %s: %v", key, err)
	}
}

// Extend 续期。只对本实例持有的锁生效，redsync 在存储端再校验一次持有者标识。
func (l *redsyncLocker) Extend(ctx context.Context, key string, extra time.Duration) bool {
	l.mu.Lock()
	mutex, ok := l.held[key]
	l.mu.Unlock()
	if !ok {
		return false
	}

	ok, err := mutex.ExtendContext(ctx)
	if err != nil {
		l.log.Warnf("Failed to extend lock %s: %v", key, err)
		return false
	}
	return ok
}
