package biz

import (
	"context"
	"time"
)

// Locker 基于租约的分布式互斥锁。
// 锁的归属由持有者身份证明，过期后由存储端自动回收 (崩溃自愈的兜底，
// 不是主要的释放路径)。
type Locker interface {
	// Acquire 尝试获取 key 上的锁。已有未过期的持有者时返回 false。
	// 必须是单次原子操作，不能实现为先查询后插入。
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release 释放锁。只有持有者本人能释放；释放不属于自己的锁是静默 no-op，
	// 不报错，也不影响其他持有者的锁。
	Release(ctx context.Context, key string)
	// Extend 续期。同样只对持有者生效。
	Extend(ctx context.Context, key string, extra time.Duration) bool
}
