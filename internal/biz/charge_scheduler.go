package biz

import (
	"context"
	"time"

	"xinyuan_tech/fulfillment-service/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
)

// ChargeRunStats 单次调度统计
type ChargeRunStats struct {
	Processed int
	Succeeded int
	Cancelled int
	Failed    int
	Skipped   int
}

// ChargeUsecase 扣款调度：轮询可扣款订单，逐单加锁后发起扣款。
// 多个进程实例可以并发执行，同一订单的锁保证至多一个扣款尝试。
type ChargeUsecase struct {
	repo    OrderRepo
	locker  Locker
	payment *PaymentUsecase
	log     *log.Helper

	batchSize  int
	lockTTL    time.Duration
	interDelay time.Duration
}

// ChargeOption 调度参数
type ChargeOption func(*ChargeUsecase)

// WithBatchSize 设置批次上限
func WithBatchSize(n int) ChargeOption {
	return func(uc *ChargeUsecase) {
		if n > 0 {
			uc.batchSize = n
		}
	}
}

// WithLockTTL 设置每单锁的过期时间
func WithLockTTL(ttl time.Duration) ChargeOption {
	return func(uc *ChargeUsecase) {
		if ttl > 0 {
			uc.lockTTL = ttl
		}
	}
}

// WithInterRequestDelay 设置同批次内相邻网关请求的间隔
func WithInterRequestDelay(d time.Duration) ChargeOption {
	return func(uc *ChargeUsecase) {
		if d >= 0 {
			uc.interDelay = d
		}
	}
}

// NewChargeUsecase 创建扣款调度用例
func NewChargeUsecase(repo OrderRepo, locker Locker, payment *PaymentUsecase, logger log.Logger, opts ...ChargeOption) *ChargeUsecase {
	uc := &ChargeUsecase{
		repo:       repo,
		locker:     locker,
		payment:    payment,
		log:        log.NewHelper(logger),
		batchSize:  constants.DefaultChargeBatchSize,
		lockTTL:    constants.ChargeLockExpiration,
		interDelay: constants.DefaultInterRequestDelay,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// Run 执行一次扣款批次。基础设施错误记录后继续下一单，不中断整批。
func (uc *ChargeUsecase) Run(ctx context.Context) (*ChargeRunStats, error) {
	stats := &ChargeRunStats{}
	now := time.Now().UTC()

	orders, err := uc.repo.ListChargeable(ctx, now, uc.batchSize)
	if err != nil {
		uc.log.Errorf("Failed to list chargeable orders: %v", err)
		return stats, err
	}
	if len(orders) == 0 {
		return stats, nil
	}
	uc.log.Infof("Charge run: %d candidate orders", len(orders))

	for i, order := range orders {
		if i > 0 && uc.interDelay > 0 {
			// 批次内限速，避免冲击网关
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			case <-time.After(uc.interDelay):
			}
		}
		uc.chargeOne(ctx, order, stats)
	}

	uc.log.Infof("Charge run finished: processed=%d, succeeded=%d, cancelled=%d, failed=%d, skipped=%d",
		stats.Processed, stats.Succeeded, stats.Cancelled, stats.Failed, stats.Skipped)
	return stats, nil
}

// chargeOne 处理单个订单：锁内扣款，锁在清理步骤中无条件释放
func (uc *ChargeUsecase) chargeOne(ctx context.Context, order *Order, stats *ChargeRunStats) {
	lockKey := constants.ChargeLockPrefix + order.OrderNumber

	ok, err := uc.locker.Acquire(ctx, lockKey, uc.lockTTL)
	if err != nil {
		uc.log.Errorf("Lock acquire error for order %s: %v", order.OrderNumber, err)
		stats.Skipped++
		return
	}
	if !ok {
		// 其他实例正在处理这单，不是错误
		uc.log.Infof("Order %s is locked by another instance, skipping", order.OrderNumber)
		stats.Skipped++
		return
	}
	defer uc.locker.Release(ctx, lockKey)

	// 锁内重读订单，防止重复处理：
	// 另一个实例可能在本实例查询之后、拿锁之前已经完成了扣款
	fresh, err := uc.repo.GetOrder(ctx, order.OrderNumber)
	if err != nil {
		uc.log.Errorf("Failed to reload order %s: %v", order.OrderNumber, err)
		stats.Skipped++
		return
	}
	if fresh == nil || !isChargeableStatus(fresh.Payment.Status) {
		uc.log.Infof("Order %s already handled by another instance, skipping", order.OrderNumber)
		stats.Skipped++
		return
	}

	stats.Processed++
	result, err := uc.payment.CapturePayment(ctx, fresh)
	if err != nil {
		uc.log.Errorf("Capture error for order %s: %v", order.OrderNumber, err)
		stats.Failed++
		return
	}
	switch {
	case result.Success:
		stats.Succeeded++
	case result.Cancelled:
		stats.Cancelled++
	case result.Throttled:
		stats.Processed--
		stats.Skipped++
	case result.WillRetry:
		// 已调度重试，下一轮再处理
		stats.Failed++
	default:
		stats.Failed++
	}
}
