package data

import (
	"encoding/json"
	"time"

	"xinyuan_tech/fulfillment-service/internal/biz"
)

// Gorm Models
type Order struct {
	ID          uint64    `gorm:"primaryKey;column:order_id;autoIncrement"`
	OrderNumber string    `gorm:"column:order_number;uniqueIndex"`
	CustomerID  uint64    `gorm:"column:customer_id;index"`
	Status      string    `gorm:"column:status"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`

	// pricing
	Subtotal      float64 `gorm:"column:subtotal"`
	Shipping      float64 `gorm:"column:shipping"`
	Tax           float64 `gorm:"column:tax"`
	Total         float64 `gorm:"column:total"`
	AdjustedTotal float64 `gorm:"column:adjusted_total"`
	TotalRefunds  float64 `gorm:"column:total_refunds"`

	// payment 子文档
	PaymentStatus    string     `gorm:"column:payment_status;index"`
	HypTransactionID string     `gorm:"column:hyp_transaction_id"`
	HypAuthCode      string     `gorm:"column:hyp_auth_code"`
	HypUID           string     `gorm:"column:hyp_uid"`
	HoldAmount       float64    `gorm:"column:hold_amount"`
	HeldAt           *time.Time `gorm:"column:held_at"`
	ChargedAmount    float64    `gorm:"column:charged_amount"`
	RefundedAmount   float64    `gorm:"column:refunded_amount"`
	RetryCount       int        `gorm:"column:retry_count"`
	MaxRetries       int        `gorm:"column:max_retries"`
	NextRetryAt      *time.Time `gorm:"column:next_retry_at;index"`
	RetryErrors      string     `gorm:"column:retry_errors;type:text"`
	LastError        string     `gorm:"column:last_error"`

	// computed 物化进度字段 (下游看板直接查询)
	TotalItems           int    `gorm:"column:total_items"`
	DecidedItems         int    `gorm:"column:decided_items"`
	CancelledItems       int    `gorm:"column:cancelled_items"`
	CompletionPercentage int    `gorm:"column:completion_percentage"`
	OverallProgress      string `gorm:"column:overall_progress"`

	Items    []OrderItem     `gorm:"foreignKey:OrderID;references:ID"`
	Timeline []TimelineEntry `gorm:"foreignKey:OrderID;references:ID"`
	Refunds  []RefundRecord  `gorm:"foreignKey:OrderID;references:ID"`
}

func (Order) TableName() string { return "orders" }

type OrderItem struct {
	ID          uint64  `gorm:"primaryKey;column:order_item_id;autoIncrement"`
	OrderID     uint64  `gorm:"column:order_id;index"`
	ProductName string  `gorm:"column:product_name"`
	Price       float64 `gorm:"column:price"`
	Quantity    int     `gorm:"column:quantity"`
	ItemStatus  string  `gorm:"column:item_status"`

	// cancellation
	Cancelled       bool       `gorm:"column:cancelled"`
	CancelReason    string     `gorm:"column:cancel_reason"`
	CancelActor     string     `gorm:"column:cancel_actor"`
	RefundAmount    float64    `gorm:"column:refund_amount"`
	RefundProcessed bool       `gorm:"column:refund_processed"`
	CancelledAt     *time.Time `gorm:"column:cancelled_at"`

	// supplier order
	SupplierOrderedBy string     `gorm:"column:supplier_ordered_by"`
	SupplierCost      float64    `gorm:"column:supplier_cost"`
	SupplierOrderedAt *time.Time `gorm:"column:supplier_ordered_at"`
}

func (OrderItem) TableName() string { return "order_items" }

type TimelineEntry struct {
	ID        uint64    `gorm:"primaryKey;column:timeline_id;autoIncrement"`
	OrderID   uint64    `gorm:"column:order_id;index"`
	Status    string    `gorm:"column:status"`
	Message   string    `gorm:"column:message"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (TimelineEntry) TableName() string { return "order_timeline" }

type RefundRecord struct {
	ID        string    `gorm:"primaryKey;column:refund_id"`
	OrderID   uint64    `gorm:"column:order_id;index"`
	Amount    float64   `gorm:"column:amount"`
	Reason    string    `gorm:"column:reason"`
	Actor     string    `gorm:"column:actor"`
	ItemIDs   string    `gorm:"column:item_ids;type:text"`
	GatewayID string    `gorm:"column:gateway_id"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (RefundRecord) TableName() string { return "order_refunds" }

// ---- 模型与业务对象转换 ----

func toBizOrder(m *Order) *biz.Order {
	order := &biz.Order{
		ID:          m.ID,
		OrderNumber: m.OrderNumber,
		CustomerID:  m.CustomerID,
		Status:      m.Status,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		Pricing: biz.Pricing{
			Subtotal:      m.Subtotal,
			Shipping:      m.Shipping,
			Tax:           m.Tax,
			Total:         m.Total,
			AdjustedTotal: m.AdjustedTotal,
			TotalRefunds:  m.TotalRefunds,
		},
		Payment: biz.Payment{
			Status:           m.PaymentStatus,
			HypTransactionID: m.HypTransactionID,
			HypAuthCode:      m.HypAuthCode,
			HypUID:           m.HypUID,
			HoldAmount:       m.HoldAmount,
			HeldAt:           m.HeldAt,
			ChargedAmount:    m.ChargedAmount,
			RefundedAmount:   m.RefundedAmount,
			RetryCount:       m.RetryCount,
			MaxRetries:       m.MaxRetries,
			NextRetryAt:      m.NextRetryAt,
			LastError:        m.LastError,
		},
		Computed: biz.Computed{
			TotalItems:           m.TotalItems,
			DecidedItems:         m.DecidedItems,
			CancelledItems:       m.CancelledItems,
			CompletionPercentage: m.CompletionPercentage,
			OverallProgress:      m.OverallProgress,
		},
	}
	if m.RetryErrors != "" {
		// 解析失败时保留空列表，不阻塞读取
		_ = json.Unmarshal([]byte(m.RetryErrors), &order.Payment.RetryErrors)
	}
	for i := range m.Items {
		order.Items = append(order.Items, toBizItem(&m.Items[i]))
	}
	for i := range m.Timeline {
		t := m.Timeline[i]
		order.Timeline = append(order.Timeline, &biz.TimelineEntry{
			ID:        t.ID,
			OrderID:   t.OrderID,
			Status:    t.Status,
			Message:   t.Message,
			CreatedAt: t.CreatedAt,
		})
	}
	for i := range m.Refunds {
		r := m.Refunds[i]
		refund := &biz.RefundRecord{
			ID:        r.ID,
			OrderID:   r.OrderID,
			Amount:    r.Amount,
			Reason:    r.Reason,
			Actor:     r.Actor,
			GatewayID: r.GatewayID,
			CreatedAt: r.CreatedAt,
		}
		if r.ItemIDs != "" {
			_ = json.Unmarshal([]byte(r.ItemIDs), &refund.ItemIDs)
		}
		order.Refunds = append(order.Refunds, refund)
	}
	return order
}

func toBizItem(m *OrderItem) *biz.OrderItem {
	item := &biz.OrderItem{
		ID:          m.ID,
		OrderID:     m.OrderID,
		ProductName: m.ProductName,
		Price:       m.Price,
		Quantity:    m.Quantity,
		ItemStatus:  biz.NormalizeItemStatus(m.ItemStatus),
	}
	if m.Cancelled {
		var at time.Time
		if m.CancelledAt != nil {
			at = *m.CancelledAt
		}
		item.Cancellation = &biz.Cancellation{
			Cancelled:       true,
			Reason:          m.CancelReason,
			Actor:           m.CancelActor,
			RefundAmount:    m.RefundAmount,
			RefundProcessed: m.RefundProcessed,
			CancelledAt:     at,
		}
	}
	if m.SupplierOrderedAt != nil {
		item.SupplierOrder = &biz.SupplierOrder{
			OrderedBy: m.SupplierOrderedBy,
			Cost:      m.SupplierCost,
			OrderedAt: *m.SupplierOrderedAt,
		}
	}
	return item
}

func fromBizItem(item *biz.OrderItem) *OrderItem {
	m := &OrderItem{
		ID:          item.ID,
		OrderID:     item.OrderID,
		ProductName: item.ProductName,
		Price:       item.Price,
		Quantity:    item.Quantity,
		ItemStatus:  item.ItemStatus,
	}
	if c := item.Cancellation; c != nil && c.Cancelled {
		at := c.CancelledAt
		m.Cancelled = true
		m.CancelReason = c.Reason
		m.CancelActor = c.Actor
		m.RefundAmount = c.RefundAmount
		m.RefundProcessed = c.RefundProcessed
		m.CancelledAt = &at
	}
	if s := item.SupplierOrder; s != nil {
		at := s.OrderedAt
		m.SupplierOrderedBy = s.OrderedBy
		m.SupplierCost = s.Cost
		m.SupplierOrderedAt = &at
	}
	return m
}

func fromBizOrder(order *biz.Order) *Order {
	m := &Order{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		CustomerID:  order.CustomerID,
		Status:      order.Status,
		CreatedAt:   order.CreatedAt,
		UpdatedAt:   order.UpdatedAt,

		Subtotal:      order.Pricing.Subtotal,
		Shipping:      order.Pricing.Shipping,
		Tax:           order.Pricing.Tax,
		Total:         order.Pricing.Total,
		AdjustedTotal: order.Pricing.AdjustedTotal,
		TotalRefunds:  order.Pricing.TotalRefunds,

		PaymentStatus:    order.Payment.Status,
		HypTransactionID: order.Payment.HypTransactionID,
		HypAuthCode:      order.Payment.HypAuthCode,
		HypUID:           order.Payment.HypUID,
		HoldAmount:       order.Payment.HoldAmount,
		HeldAt:           order.Payment.HeldAt,
		ChargedAmount:    order.Payment.ChargedAmount,
		RefundedAmount:   order.Payment.RefundedAmount,
		RetryCount:       order.Payment.RetryCount,
		MaxRetries:       order.Payment.MaxRetries,
		NextRetryAt:      order.Payment.NextRetryAt,
		LastError:        order.Payment.LastError,

		TotalItems:           order.Computed.TotalItems,
		DecidedItems:         order.Computed.DecidedItems,
		CancelledItems:       order.Computed.CancelledItems,
		CompletionPercentage: order.Computed.CompletionPercentage,
		OverallProgress:      order.Computed.OverallProgress,
	}
	m.RetryErrors = marshalRetryErrors(order.Payment.RetryErrors)
	for _, item := range order.Items {
		m.Items = append(m.Items, *fromBizItem(item))
	}
	return m
}

func marshalRetryErrors(errs []biz.RetryError) string {
	if len(errs) == 0 {
		return ""
	}
	b, err := json.Marshal(errs)
	if err != nil {
		return ""
	}
	return string(b)
}
