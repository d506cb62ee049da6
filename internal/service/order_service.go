package service

import (
	"context"
	"time"

	"xinyuan_tech/fulfillment-service/internal/auth"
	"xinyuan_tech/fulfillment-service/internal/biz"
	"xinyuan_tech/fulfillment-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// OrderService 订单履约对外服务 (HTTP 层消费)
type OrderService struct {
	orders  *biz.OrderUsecase
	payment *biz.PaymentUsecase
	refund  *biz.RefundUsecase
	charge  *biz.ChargeUsecase
	log     *log.Helper
}

// NewOrderService 创建服务实例
func NewOrderService(orders *biz.OrderUsecase, payment *biz.PaymentUsecase, refund *biz.RefundUsecase, charge *biz.ChargeUsecase, logger log.Logger) *OrderService {
	return &OrderService{
		orders:  orders,
		payment: payment,
		refund:  refund,
		charge:  charge,
		log:     log.NewHelper(logger),
	}
}

// CardInput 卡信息入参
type CardInput struct {
	Number     string `json:"number"`
	ExpMonth   int    `json:"exp_month"`
	ExpYear    int    `json:"exp_year"`
	CVV        string `json:"cvv"`
	HolderID   string `json:"holder_id"`
	HolderName string `json:"holder_name"`
}

func (c *CardInput) toBiz() *biz.CardDetails {
	if c == nil {
		return nil
	}
	return &biz.CardDetails{
		Number:     c.Number,
		ExpMonth:   c.ExpMonth,
		ExpYear:    c.ExpYear,
		CVV:        c.CVV,
		HolderID:   c.HolderID,
		HolderName: c.HolderName,
	}
}

// HoldCreditRequest 下单冻结请求
type HoldCreditRequest struct {
	OrderNumber string     `json:"order_number"`
	Card        *CardInput `json:"card"`
}

// HoldCreditReply 冻结结果
type HoldCreditReply struct {
	Success       bool    `json:"success"`
	TransactionID string  `json:"transaction_id"`
	AuthCode      string  `json:"auth_code"`
	UID           string  `json:"uid"`
	Amount        float64 `json:"amount"`
}

// HoldCredit 下单时冻结卡额度
func (s *OrderService) HoldCredit(ctx context.Context, req *HoldCreditRequest) (*HoldCreditReply, error) {
	order, err := s.orders.GetOrder(ctx, req.OrderNumber)
	if err != nil {
		return nil, err
	}
	result, err := s.payment.HoldCredit(ctx, order, req.Card.toBiz())
	if err != nil {
		return nil, err
	}
	return &HoldCreditReply{
		Success:       result.Success,
		TransactionID: result.TransactionID,
		AuthCode:      result.AuthCode,
		UID:           result.UID,
		Amount:        result.Amount,
	}, nil
}

// CapturePaymentReply 扣款结果
type CapturePaymentReply struct {
	Success       bool       `json:"success"`
	Cancelled     bool       `json:"cancelled,omitempty"`
	ChargedAmount float64    `json:"charged_amount,omitempty"`
	WillRetry     bool       `json:"will_retry,omitempty"`
	RetryAt       *time.Time `json:"retry_at,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// CapturePayment 手动对单个订单发起扣款 (运营入口)
func (s *OrderService) CapturePayment(ctx context.Context, orderNumber string) (*CapturePaymentReply, error) {
	order, err := s.orders.GetOrder(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	result, err := s.payment.CapturePayment(ctx, order)
	if err != nil {
		return nil, err
	}
	return &CapturePaymentReply{
		Success:       result.Success,
		Cancelled:     result.Cancelled,
		ChargedAmount: result.ChargedAmount,
		WillRetry:     result.WillRetry,
		RetryAt:       result.RetryAt,
		Error:         result.ErrorMessage,
	}, nil
}

// RunChargeReply 手动触发一轮扣款调度的统计
type RunChargeReply struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Cancelled int `json:"cancelled"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// RunChargeScheduler 手动触发一轮扣款调度 (运营入口)
func (s *OrderService) RunChargeScheduler(ctx context.Context) (*RunChargeReply, error) {
	if _, err := auth.RequireOperator(ctx); err != nil {
		return nil, err
	}
	stats, err := s.charge.Run(ctx)
	if err != nil {
		return nil, errors.New(errors.ErrCodeChargeRunFailed, "charge run failed: %v", err)
	}
	return &RunChargeReply{
		Processed: stats.Processed,
		Succeeded: stats.Succeeded,
		Cancelled: stats.Cancelled,
		Failed:    stats.Failed,
		Skipped:   stats.Skipped,
	}, nil
}

// MarkItemOrderedRequest 供应商下单请求
type MarkItemOrderedRequest struct {
	OrderNumber string  `json:"order_number"`
	ItemID      uint64  `json:"item_id"`
	Cost        float64 `json:"cost"`
}

// MarkItemOrdered 员工录入供应商下单
func (s *OrderService) MarkItemOrdered(ctx context.Context, req *MarkItemOrderedRequest) (*OrderReply, error) {
	operator, err := auth.RequireOperator(ctx)
	if err != nil {
		return nil, err
	}
	order, err := s.orders.MarkItemOrdered(ctx, req.OrderNumber, req.ItemID, operator, req.Cost)
	if err != nil {
		return nil, err
	}
	return toOrderReply(order), nil
}

// CancelItemsRequest 取消商品请求
type CancelItemsRequest struct {
	OrderNumber string   `json:"order_number"`
	ItemIDs     []uint64 `json:"item_ids"`
	Reason      string   `json:"reason"`
}

// CancelItems 取消一组商品
func (s *OrderService) CancelItems(ctx context.Context, req *CancelItemsRequest) (*OrderReply, error) {
	operator, err := auth.RequireOperator(ctx)
	if err != nil {
		return nil, err
	}
	if req.Reason == "" {
		return nil, errors.New(errors.ErrCodeRefundReasonRequired, "cancellation reason is required")
	}
	order, err := s.orders.CancelItems(ctx, req.OrderNumber, req.ItemIDs, req.Reason, operator)
	if err != nil {
		return nil, err
	}
	return toOrderReply(order), nil
}

// BulkUpdateItemsRequest 批量更新商品状态请求
type BulkUpdateItemsRequest struct {
	OrderNumber string            `json:"order_number"`
	Updates     map[uint64]string `json:"updates"`
}

// BulkUpdateItems 批量更新商品状态
func (s *OrderService) BulkUpdateItems(ctx context.Context, req *BulkUpdateItemsRequest) (*OrderReply, error) {
	if _, err := auth.RequireOperator(ctx); err != nil {
		return nil, err
	}
	order, err := s.orders.BulkUpdateItems(ctx, req.OrderNumber, req.Updates)
	if err != nil {
		return nil, err
	}
	return toOrderReply(order), nil
}

// ProcessRefundRequest 退款请求
type ProcessRefundRequest struct {
	OrderNumber string     `json:"order_number"`
	ItemIDs     []uint64   `json:"item_ids"`
	Reason      string     `json:"reason"`
	Card        *CardInput `json:"card"`
}

// ProcessRefundReply 退款结果
type ProcessRefundReply struct {
	Success bool         `json:"success"`
	Refund  *RefundReply `json:"refund"`
}

// RefundReply 退款记录
type RefundReply struct {
	ID        string    `json:"id"`
	Amount    float64   `json:"amount"`
	Reason    string    `json:"reason"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}

// ProcessRefund 对一组商品退款
func (s *OrderService) ProcessRefund(ctx context.Context, req *ProcessRefundRequest) (*ProcessRefundReply, error) {
	operator, err := auth.RequireOperator(ctx)
	if err != nil {
		return nil, err
	}
	refund, err := s.refund.ProcessRefund(ctx, req.OrderNumber, req.ItemIDs, req.Reason, operator, req.Card.toBiz())
	if err != nil {
		return nil, err
	}
	return &ProcessRefundReply{
		Success: true,
		Refund: &RefundReply{
			ID:        refund.ID,
			Amount:    refund.Amount,
			Reason:    refund.Reason,
			Actor:     refund.Actor,
			CreatedAt: refund.CreatedAt,
		},
	}, nil
}

// OrderReply 订单详情 (员工视角：含支付状态与最近一次错误)
type OrderReply struct {
	OrderNumber    string           `json:"order_number"`
	Status         string           `json:"status"`
	PaymentStatus  string           `json:"payment_status"`
	HoldAmount     float64          `json:"hold_amount"`
	ChargedAmount  float64          `json:"charged_amount"`
	RefundedAmount float64          `json:"refunded_amount"`
	AdjustedTotal  float64          `json:"adjusted_total"`
	RetryCount     int              `json:"retry_count"`
	NextRetryAt    *time.Time       `json:"next_retry_at,omitempty"`
	LastError      string           `json:"last_error,omitempty"`
	Progress       string           `json:"progress"`
	Completion     int              `json:"completion_percentage"`
	Items          []*ItemReply     `json:"items"`
	Timeline       []*TimelineReply `json:"timeline,omitempty"`
}

// ItemReply 商品详情
type ItemReply struct {
	ID         uint64  `json:"id"`
	Product    string  `json:"product"`
	Price      float64 `json:"price"`
	Quantity   int     `json:"quantity"`
	ItemStatus string  `json:"item_status"`
	Cancelled  bool    `json:"cancelled"`
}

// TimelineReply 时间线条目
type TimelineReply struct {
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// GetOrder 获取订单详情
func (s *OrderService) GetOrder(ctx context.Context, orderNumber string) (*OrderReply, error) {
	order, err := s.orders.GetOrder(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	return toOrderReply(order), nil
}

func toOrderReply(order *biz.Order) *OrderReply {
	reply := &OrderReply{
		OrderNumber:    order.OrderNumber,
		Status:         order.Status,
		PaymentStatus:  order.Payment.Status,
		HoldAmount:     order.Payment.HoldAmount,
		ChargedAmount:  order.Payment.ChargedAmount,
		RefundedAmount: order.Payment.RefundedAmount,
		AdjustedTotal:  order.Pricing.AdjustedTotal,
		RetryCount:     order.Payment.RetryCount,
		NextRetryAt:    order.Payment.NextRetryAt,
		LastError:      order.Payment.LastError,
		Progress:       order.Computed.OverallProgress,
		Completion:     order.Computed.CompletionPercentage,
	}
	for _, item := range order.Items {
		reply.Items = append(reply.Items, &ItemReply{
			ID:         item.ID,
			Product:    item.ProductName,
			Price:      item.Price,
			Quantity:   item.Quantity,
			ItemStatus: item.ItemStatus,
			Cancelled:  item.IsCancelled(),
		})
	}
	for _, t := range order.Timeline {
		reply.Timeline = append(reply.Timeline, &TimelineReply{
			Status:    t.Status,
			Message:   t.Message,
			CreatedAt: t.CreatedAt,
		})
	}
	return reply
}
