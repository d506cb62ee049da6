package biz

import (
	"context"
	"math"
	"time"

	"xinyuan_tech/fulfillment-service/internal/constants"
)

// Order 订单聚合根
type Order struct {
	ID          uint64
	OrderNumber string
	CustomerID  uint64
	Status      string // 履约状态，与支付状态相互独立
	Items       []*OrderItem
	Pricing     Pricing
	Payment     Payment
	Computed    Computed
	Timeline    []*TimelineEntry
	Refunds     []*RefundRecord
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OrderItem 订单商品
type OrderItem struct {
	ID            uint64
	OrderID       uint64
	ProductName   string
	Price         float64
	Quantity      int
	ItemStatus    string
	Cancellation  *Cancellation
	SupplierOrder *SupplierOrder
}

// Cancellation 商品取消信息
type Cancellation struct {
	Cancelled       bool
	Reason          string
	Actor           string
	RefundAmount    float64
	RefundProcessed bool
	CancelledAt     time.Time
}

// SupplierOrder 向上游供应商下单的记录
type SupplierOrder struct {
	OrderedBy string
	Cost      float64
	OrderedAt time.Time
}

// Pricing 订单价格信息
type Pricing struct {
	Subtotal      float64
	Shipping      float64
	Tax           float64
	Total         float64
	AdjustedTotal float64 // 扣除已取消商品后的应扣金额
	TotalRefunds  float64
}

// Payment 订单支付子文档
type Payment struct {
	Status           string
	HypTransactionID string // 网关交易号
	HypAuthCode      string // 冻结时网关返回的授权码 (部分扣款需要回传)
	HypUID           string // 冻结时网关返回的交易 UID (部分扣款需要回传)
	HoldAmount       float64
	HeldAt           *time.Time
	ChargedAmount    float64
	RefundedAmount   float64
	RetryCount       int
	MaxRetries       int
	NextRetryAt      *time.Time
	RetryErrors      []RetryError
	LastError        string
}

// RetryError 单次扣款失败记录
type RetryError struct {
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Computed 物化的进度字段 (每次保存时重算，下游看板直接查询)
type Computed struct {
	TotalItems           int
	DecidedItems         int
	CancelledItems       int
	CompletionPercentage int
	OverallProgress      string // pending, in_progress, completed
}

// TimelineEntry 订单时间线条目 (只追加)
type TimelineEntry struct {
	ID        uint64
	OrderID   uint64
	Status    string
	Message   string
	CreatedAt time.Time
}

// RefundRecord 退款记录 (只追加)
type RefundRecord struct {
	ID        string
	OrderID   uint64
	Amount    float64
	Reason    string
	Actor     string
	ItemIDs   []uint64
	GatewayID string
	CreatedAt time.Time
}

// deprecatedItemStatus 历史遗留的商品状态别名，读取时归一化
var deprecatedItemStatus = map[string]string{
	"purchased":  constants.ItemStatusOrdered,
	"in transit": constants.ItemStatusInTransit,
	"shipped":    constants.ItemStatusShippedToCustomer,
	"canceled":   constants.ItemStatusCancelled,
}

// NormalizeItemStatus 将废弃的状态别名映射到当前状态集
func NormalizeItemStatus(status string) string {
	if mapped, ok := deprecatedItemStatus[status]; ok {
		return mapped
	}
	return status
}

// decidedStatuses ordered 之后的状态都不会回退到 pending，视为已决定
var decidedStatuses = map[string]bool{
	constants.ItemStatusOrdered:           true,
	constants.ItemStatusInTransit:         true,
	constants.ItemStatusArrived:           true,
	constants.ItemStatusShippedToCustomer: true,
	constants.ItemStatusDelivered:         true,
}

// IsDecided 商品是否已到达终态 (已向供应商下单或已取消)
func (i *OrderItem) IsDecided() bool {
	if i.IsCancelled() {
		return true
	}
	return decidedStatuses[NormalizeItemStatus(i.ItemStatus)]
}

// IsCancelled 商品是否已取消
func (i *OrderItem) IsCancelled() bool {
	if i.Cancellation != nil && i.Cancellation.Cancelled {
		return true
	}
	return NormalizeItemStatus(i.ItemStatus) == constants.ItemStatusCancelled
}

// IsReady 所有商品是否都已决定 (就绪检测，纯函数)
func IsReady(order *Order) bool {
	if len(order.Items) == 0 {
		return false
	}
	for _, item := range order.Items {
		if !item.IsDecided() {
			return false
		}
	}
	return true
}

// AllCancelled 是否所有商品都已取消
func AllCancelled(order *Order) bool {
	if len(order.Items) == 0 {
		return false
	}
	for _, item := range order.Items {
		if !item.IsCancelled() {
			return false
		}
	}
	return true
}

// ChargeableAmount 计算应扣金额：未取消商品小计 + 运费 + 税费
// 全部取消时不收运费和税费。纯函数，可被任意变更路径反复调用。
func ChargeableAmount(order *Order) float64 {
	if AllCancelled(order) {
		return 0
	}
	var itemsTotal float64
	for _, item := range order.Items {
		if item.IsCancelled() {
			continue
		}
		itemsTotal += item.Price * float64(item.Quantity)
	}
	return itemsTotal + order.Pricing.Shipping + order.Pricing.Tax
}

// amountEpsilon 金额比较容差 (半分)
const amountEpsilon = 0.005

// AmountsEqual 金额相等比较
func AmountsEqual(a, b float64) bool {
	return math.Abs(a-b) < amountEpsilon
}

// RecomputeDerived 重算物化的进度字段和调整后金额。
// 由每个变更用例在保存前显式调用，而不是挂在持久层钩子上。
func RecomputeDerived(order *Order) {
	c := Computed{TotalItems: len(order.Items)}
	for _, item := range order.Items {
		if item.IsDecided() {
			c.DecidedItems++
		}
		if item.IsCancelled() {
			c.CancelledItems++
		}
	}
	if c.TotalItems > 0 {
		c.CompletionPercentage = c.DecidedItems * 100 / c.TotalItems
	}
	switch {
	case c.TotalItems > 0 && c.DecidedItems == c.TotalItems:
		c.OverallProgress = "completed"
	case c.DecidedItems > 0:
		c.OverallProgress = "in_progress"
	default:
		c.OverallProgress = "pending"
	}
	order.Computed = c
	order.Pricing.AdjustedTotal = ChargeableAmount(order)
}

// paymentTransitions 支付状态机的合法边。不在表内的写入一律拒绝。
var paymentTransitions = map[string][]string{
	constants.PaymentStatusPending: {constants.PaymentStatusHold},
	constants.PaymentStatusHold: {
		constants.PaymentStatusReadyToCharge,
		constants.PaymentStatusCancelled,
	},
	constants.PaymentStatusReadyToCharge: {
		constants.PaymentStatusCharged,
		constants.PaymentStatusRetryPending,
		constants.PaymentStatusFailed,
		constants.PaymentStatusCancelled,
	},
	constants.PaymentStatusRetryPending: {
		constants.PaymentStatusCharged,
		constants.PaymentStatusRetryPending,
		constants.PaymentStatusFailed,
		constants.PaymentStatusCancelled,
	},
	constants.PaymentStatusCharged: {
		constants.PaymentStatusPartialRefund,
		constants.PaymentStatusFullRefund,
	},
	constants.PaymentStatusPartialRefund: {
		constants.PaymentStatusPartialRefund,
		constants.PaymentStatusFullRefund,
	},
}

// isChargeableStatus 支付状态是否允许发起扣款
func isChargeableStatus(status string) bool {
	return status == constants.PaymentStatusReadyToCharge || status == constants.PaymentStatusRetryPending
}

// CanTransitionPayment 校验支付状态流转是否合法
func CanTransitionPayment(from, to string) bool {
	for _, allowed := range paymentTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AppendTimeline 追加一条时间线记录
func (o *Order) AppendTimeline(status, message string) *TimelineEntry {
	entry := &TimelineEntry{
		OrderID:   o.ID,
		Status:    status,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	o.Timeline = append(o.Timeline, entry)
	return entry
}

// FindItem 按 ID 查找商品
func (o *Order) FindItem(itemID uint64) *OrderItem {
	for _, item := range o.Items {
		if item.ID == itemID {
			return item
		}
	}
	return nil
}

// AppendRetryError 追加一条失败记录，只保留最近 MaxRetryErrorLog 条
func (p *Payment) AppendRetryError(code, message string) {
	p.RetryErrors = append(p.RetryErrors, RetryError{
		Code:       code,
		Message:    message,
		OccurredAt: time.Now().UTC(),
	})
	if len(p.RetryErrors) > constants.MaxRetryErrorLog {
		p.RetryErrors = p.RetryErrors[len(p.RetryErrors)-constants.MaxRetryErrorLog:]
	}
	p.LastError = message
}

// OrderRepo 订单仓库接口
type OrderRepo interface {
	CreateOrder(ctx context.Context, order *Order) error
	GetOrder(ctx context.Context, orderNumber string) (*Order, error)
	SaveOrder(ctx context.Context, order *Order) error
	SaveItem(ctx context.Context, item *OrderItem) error
	// UpdatePayment 保存支付子文档 (带状态机校验后调用)
	UpdatePayment(ctx context.Context, orderID uint64, payment *Payment) error
	// MarkReadyToCharge 原子就绪转换：单条条件更新
	// "SET payment_status = ready_to_charge WHERE payment_status = hold"，
	// 返回本次调用是否赢得转换。并发调用恰好一个返回 true。
	MarkReadyToCharge(ctx context.Context, orderID uint64) (bool, error)
	// ListChargeable 查询可扣款订单：ready_to_charge，或 retry_pending 且重试时间已到，
	// 且存在网关交易引用。按冻结时间从旧到新排序，最多 limit 条。
	ListChargeable(ctx context.Context, now time.Time, limit int) ([]*Order, error)
	AppendTimeline(ctx context.Context, entry *TimelineEntry) error
	AppendRefund(ctx context.Context, refund *RefundRecord) error
	SaveComputed(ctx context.Context, orderID uint64, computed *Computed, adjustedTotal float64) error
}

// Transaction 事务执行接口 (data 层实现)
type Transaction interface {
	Exec(ctx context.Context, fn func(ctx context.Context) error) error
}
