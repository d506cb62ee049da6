package biz

import (
	"context"
	"time"

	"xinyuan_tech/fulfillment-service/internal/conf"
	"xinyuan_tech/fulfillment-service/internal/constants"
	"xinyuan_tech/fulfillment-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// HoldResult 冻结结果
type HoldResult struct {
	Success       bool
	TransactionID string
	AuthCode      string
	UID           string
	Amount        float64
}

// CaptureResult 扣款结果 (结构化返回，业务性失败不抛错)
type CaptureResult struct {
	Success       bool
	Cancelled     bool
	Throttled     bool
	ChargedAmount float64
	WillRetry     bool
	RetryAt       *time.Time
	ErrorMessage  string
}

// PaymentUsecase 支付业务逻辑：冻结、扣款、取消
type PaymentUsecase struct {
	repo       OrderRepo
	gateway    PaymentGateway
	limiter    *GatewayLimiter
	maxRetries int
	log        *log.Helper
}

// NewPaymentUsecase 创建支付用例
func NewPaymentUsecase(c *conf.Bootstrap, repo OrderRepo, gateway PaymentGateway, limiter *GatewayLimiter, logger log.Logger) *PaymentUsecase {
	maxRetries := constants.DefaultMaxRetries
	if c != nil && c.Charge != nil && c.Charge.MaxRetries > 0 {
		maxRetries = c.Charge.MaxRetries
	}
	return &PaymentUsecase{
		repo:       repo,
		gateway:    gateway,
		limiter:    limiter,
		maxRetries: maxRetries,
		log:        log.NewHelper(logger),
	}
}

// HoldCredit 下单时冻结卡额度，pending -> hold
func (uc *PaymentUsecase) HoldCredit(ctx context.Context, order *Order, card *CardDetails) (*HoldResult, error) {
	uc.log.Infof("HoldCredit: order=%s, amount=%.2f", order.OrderNumber, order.Pricing.Total)

	if card == nil || !card.Validate() {
		return nil, errors.New(errors.ErrCodeInvalidCard, "card details are invalid")
	}
	if !CanTransitionPayment(order.Payment.Status, constants.PaymentStatusHold) {
		return nil, errors.New(errors.ErrCodeInvalidStatusTransition,
			"cannot hold from payment status %s", order.Payment.Status)
	}

	result, err := uc.gateway.Hold(ctx, &HoldRequest{
		OrderNumber: order.OrderNumber,
		Amount:      order.Pricing.Total,
		Card:        *card,
		CustomerID:  order.CustomerID,
		Info:        "Order " + order.OrderNumber,
	})
	if err != nil {
		return nil, err
	}
	if !result.OK {
		uc.log.Errorf("Hold declined for order %s: code=%s, %s", order.OrderNumber, result.Code, result.Reason)
		return nil, errors.New(errors.ErrCodeHoldFailed, "hold declined: %s", result.Reason)
	}

	order.Payment.Status = constants.PaymentStatusHold
	order.Payment.HypTransactionID = result.TransactionID
	order.Payment.HypAuthCode = result.AuthCode
	order.Payment.HypUID = result.UID
	order.Payment.HoldAmount = order.Pricing.Total
	heldAt := time.Now().UTC()
	order.Payment.HeldAt = &heldAt
	order.Payment.MaxRetries = uc.maxRetries

	if err := uc.repo.UpdatePayment(ctx, order.ID, &order.Payment); err != nil {
		return nil, err
	}
	entry := order.AppendTimeline(constants.PaymentStatusHold, constants.TimelineHoldPlaced)
	if err := uc.repo.AppendTimeline(ctx, entry); err != nil {
		uc.log.Warnf("Failed to append timeline for order %s: %v", order.OrderNumber, err)
	}

	uc.log.Infof("Hold placed for order %s: tx=%s", order.OrderNumber, result.TransactionID)
	return &HoldResult{
		Success:       true,
		TransactionID: result.TransactionID,
		AuthCode:      result.AuthCode,
		UID:           result.UID,
		Amount:        order.Pricing.Total,
	}, nil
}

// CapturePayment 扣款引擎：全部取消则撤销冻结；金额相等走全额扣款；
// 金额变少且有授权元数据走部分扣款；否则按遗留订单全额兜底。
func (uc *PaymentUsecase) CapturePayment(ctx context.Context, order *Order) (*CaptureResult, error) {
	p := &order.Payment

	// 不变量：没有网关交易引用绝不发起扣款
	if p.HypTransactionID == "" {
		return nil, errors.New(errors.ErrCodeNoTransactionRef,
			"order %s has no gateway transaction reference", order.OrderNumber)
	}
	if p.Status != constants.PaymentStatusReadyToCharge && p.Status != constants.PaymentStatusRetryPending {
		return nil, errors.New(errors.ErrCodeNotChargeable,
			"order %s payment status %s is not chargeable", order.OrderNumber, p.Status)
	}
	if uc.limiter != nil && !uc.limiter.Allow(order.OrderNumber) {
		uc.log.Warnf("Gateway rate limit hit for order %s, skipping this attempt", order.OrderNumber)
		return &CaptureResult{Throttled: true}, nil
	}

	// 全部商品取消：撤销冻结，不产生扣款
	if AllCancelled(order) {
		return uc.cancelHeldTransaction(ctx, order)
	}

	amount := ChargeableAmount(order)
	var result *GatewayResult
	var err error
	switch {
	case AmountsEqual(amount, p.HoldAmount):
		result, err = uc.gateway.CaptureFull(ctx, p.HypTransactionID, p.HoldAmount)
	case p.HypAuthCode != "" && p.HypUID != "":
		result, err = uc.gateway.CapturePartial(ctx, &PartialCaptureRequest{
			TransactionID:  p.HypTransactionID,
			AuthCode:       p.HypAuthCode,
			UID:            p.HypUID,
			OriginalAmount: p.HoldAmount,
			Amount:         amount,
		})
	default:
		// 遗留订单：冻结早于部分扣款能力上线，缺少授权元数据，按全额兜底
		uc.log.Warnf("Order %s lacks auth metadata, falling back to full capture of %.2f",
			order.OrderNumber, p.HoldAmount)
		amount = p.HoldAmount
		result, err = uc.gateway.CaptureFull(ctx, p.HypTransactionID, p.HoldAmount)
	}
	if err != nil {
		return nil, err
	}

	if !result.OK {
		return uc.recordCaptureFailure(ctx, order, result)
	}

	p.Status = constants.PaymentStatusCharged
	p.ChargedAmount = amount
	p.RetryCount = 0
	p.NextRetryAt = nil
	p.LastError = ""
	if err := uc.repo.UpdatePayment(ctx, order.ID, p); err != nil {
		return nil, err
	}
	entry := order.AppendTimeline(constants.PaymentStatusCharged, constants.TimelineCharged)
	if err := uc.repo.AppendTimeline(ctx, entry); err != nil {
		uc.log.Warnf("Failed to append timeline for order %s: %v", order.OrderNumber, err)
	}

	uc.log.Infof("Captured %.2f for order %s (hold was %.2f)", amount, order.OrderNumber, p.HoldAmount)
	return &CaptureResult{Success: true, ChargedAmount: amount}, nil
}

// cancelHeldTransaction 全部取消时撤销网关冻结
func (uc *PaymentUsecase) cancelHeldTransaction(ctx context.Context, order *Order) (*CaptureResult, error) {
	p := &order.Payment
	uc.log.Infof("All items cancelled for order %s, cancelling held transaction %s",
		order.OrderNumber, p.HypTransactionID)

	result, err := uc.gateway.Cancel(ctx, p.HypTransactionID)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		return uc.recordCaptureFailure(ctx, order, result)
	}

	p.Status = constants.PaymentStatusCancelled
	p.NextRetryAt = nil
	p.LastError = ""
	if err := uc.repo.UpdatePayment(ctx, order.ID, p); err != nil {
		return nil, err
	}
	entry := order.AppendTimeline(constants.PaymentStatusCancelled, constants.TimelineCancelled)
	if err := uc.repo.AppendTimeline(ctx, entry); err != nil {
		uc.log.Warnf("Failed to append timeline for order %s: %v", order.OrderNumber, err)
	}
	return &CaptureResult{Cancelled: true}, nil
}

// recordCaptureFailure 按瞬时/永久分类记录失败并调度重试
func (uc *PaymentUsecase) recordCaptureFailure(ctx context.Context, order *Order, result *GatewayResult) (*CaptureResult, error) {
	p := &order.Payment
	now := time.Now().UTC()
	willRetry := scheduleRetry(p, result, now)

	if err := uc.repo.UpdatePayment(ctx, order.ID, p); err != nil {
		return nil, err
	}

	message := constants.TimelineChargeFailed
	if willRetry {
		message = constants.TimelineRetryPending
	}
	entry := order.AppendTimeline(p.Status, message+": "+result.Reason)
	if err := uc.repo.AppendTimeline(ctx, entry); err != nil {
		uc.log.Warnf("Failed to append timeline for order %s: %v", order.OrderNumber, err)
	}

	if willRetry {
		uc.log.Warnf("Capture failed for order %s (code=%s), retry %d/%d at %v",
			order.OrderNumber, result.Code, p.RetryCount, p.MaxRetries, p.NextRetryAt)
	} else {
		uc.log.Errorf("Capture permanently failed for order %s: code=%s, %s",
			order.OrderNumber, result.Code, result.Reason)
	}
	return &CaptureResult{
		WillRetry:    willRetry,
		RetryAt:      p.NextRetryAt,
		ErrorMessage: result.Reason,
	}, nil
}

// CancelTransaction 撤销一笔网关冻结 (运营手动入口)
func (uc *PaymentUsecase) CancelTransaction(ctx context.Context, transactionID string) error {
	result, err := uc.gateway.Cancel(ctx, transactionID)
	if err != nil {
		return err
	}
	if !result.OK {
		return errors.New(errors.ErrCodeHoldFailed, "cancel transaction %s failed: %s", transactionID, result.Reason)
	}
	return nil
}
