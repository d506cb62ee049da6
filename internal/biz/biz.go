package biz

import (
	"context"

	"xinyuan_tech/fulfillment-service/internal/conf"
	"xinyuan_tech/fulfillment-service/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewOrderUsecase,
	NewPaymentUsecase,
	NewRefundUsecase,
	NewLimiter,
	NewChargeUsecaseFromConf,
)

// NewLimiter 创建网关限流器 (每个进程实例一个)，随应用生命周期启停清理协程
func NewLimiter() (*GatewayLimiter, func()) {
	limiter := NewGatewayLimiter(constants.GatewayRateWindow, constants.GatewayRateLimit)
	limiter.StartSweep(context.Background(), constants.GatewayRateSweepInterval)
	return limiter, limiter.Close
}

// NewChargeUsecaseFromConf 按配置装配扣款调度用例
func NewChargeUsecaseFromConf(c *conf.Bootstrap, repo OrderRepo, locker Locker, payment *PaymentUsecase, logger log.Logger) *ChargeUsecase {
	var opts []ChargeOption
	if c != nil && c.Charge != nil {
		if c.Charge.BatchSize > 0 {
			opts = append(opts, WithBatchSize(c.Charge.BatchSize))
		}
		opts = append(opts,
			WithLockTTL(conf.ParseDuration(c.Charge.LockTTL, constants.ChargeLockExpiration)),
			WithInterRequestDelay(conf.ParseDuration(c.Charge.InterRequestDelay, constants.DefaultInterRequestDelay)),
		)
	}
	return NewChargeUsecase(repo, locker, payment, logger, opts...)
}
