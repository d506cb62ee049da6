package constants

import "time"

// 支付状态 (payment.status 生命周期)
const (
	PaymentStatusPending       = "pending"         // 订单已创建，尚未冻结
	PaymentStatusHold          = "hold"            // 已冻结额度，等待所有商品决定
	PaymentStatusReadyToCharge = "ready_to_charge" // 所有商品已决定，等待扣款
	PaymentStatusRetryPending  = "retry_pending"   // 扣款失败，等待重试
	PaymentStatusCharged       = "charged"         // 扣款成功
	PaymentStatusPartialRefund = "partial_refund"  // 部分退款
	PaymentStatusFullRefund    = "full_refund"     // 全额退款
	PaymentStatusCancelled     = "cancelled"       // 交易已取消 (全部商品取消)
	PaymentStatusFailed        = "failed"          // 扣款永久失败，需人工介入
)

// 商品状态 (item_status)
const (
	ItemStatusPending           = "pending"
	ItemStatusOrdered           = "ordered"
	ItemStatusInTransit         = "in_transit"
	ItemStatusArrived           = "arrived"
	ItemStatusShippedToCustomer = "shipped_to_customer"
	ItemStatusDelivered         = "delivered"
	ItemStatusCancelled         = "cancelled"
)

// 分布式锁相关常量
const (
	// ChargeLockPrefix 扣款锁 key 前缀
	ChargeLockPrefix = "charge_order_"
	// ChargeLockExpiration 扣款锁过期时间 (崩溃自愈窗口)
	ChargeLockExpiration = 60 * time.Second
	// ChargeLockRetries 扣款锁尝试次数 (只尝试一次，失败说明其他实例正在处理)
	ChargeLockRetries = 1
)

// 扣款调度相关常量
const (
	// DefaultChargeBatchSize 每次调度处理的订单数上限
	DefaultChargeBatchSize = 10
	// DefaultChargeInterval 调度间隔
	DefaultChargeInterval = 10 * time.Minute
	// DefaultInterRequestDelay 同一批次内两次网关请求之间的间隔
	DefaultInterRequestDelay = 2 * time.Second
)

// 重试相关常量
const (
	// DefaultMaxRetries 默认最大重试次数
	DefaultMaxRetries = 3
	// RetryBackoffBase 首次重试延迟，之后按 2 的幂递增 (5, 10, 20, 40 分钟)
	RetryBackoffBase = 5 * time.Minute
	// MaxRetryErrorLog retry_errors 保留的最大条数
	MaxRetryErrorLog = 10
)

// 网关限流相关常量
const (
	// GatewayRateWindow 单个订单网关请求计数窗口
	GatewayRateWindow = time.Minute
	// GatewayRateLimit 窗口内单个订单允许的网关请求数
	GatewayRateLimit = 3
	// GatewayRateSweepInterval 过期计数清理间隔
	GatewayRateSweepInterval = 30 * time.Second
)

// 时间线消息
const (
	TimelineReadyToCharge = "all items decided, order is ready to charge"
	TimelineHoldPlaced    = "credit hold placed"
	TimelineCharged       = "payment captured"
	TimelineCancelled     = "hold cancelled, all items cancelled"
	TimelineChargeFailed  = "payment capture failed"
	TimelineRetryPending  = "payment capture failed, retry scheduled"
	TimelineRefunded      = "refund issued"
)
