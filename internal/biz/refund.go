package biz

import (
	"context"
	"time"

	"xinyuan_tech/fulfillment-service/internal/constants"
	"xinyuan_tech/fulfillment-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// RefundUsecase 退款引擎
type RefundUsecase struct {
	repo    OrderRepo
	gateway PaymentGateway
	tm      Transaction
	log     *log.Helper
}

// NewRefundUsecase 创建退款用例
func NewRefundUsecase(repo OrderRepo, gateway PaymentGateway, tm Transaction, logger log.Logger) *RefundUsecase {
	return &RefundUsecase{
		repo:    repo,
		gateway: gateway,
		tm:      tm,
		log:     log.NewHelper(logger),
	}
}

// RefundableAmount 计算一组商品的可退金额 (纯函数)。
// 选中商品覆盖了所有未取消商品时退运费；上限为已扣未退金额。
func RefundableAmount(order *Order, itemIDs []uint64) float64 {
	selected := make(map[uint64]bool, len(itemIDs))
	for _, id := range itemIDs {
		selected[id] = true
	}

	var itemsTotal float64
	coversAllActive := true
	for _, item := range order.Items {
		if item.IsCancelled() {
			continue
		}
		if selected[item.ID] {
			itemsTotal += item.Price * float64(item.Quantity)
		} else {
			coversAllActive = false
		}
	}
	if itemsTotal <= 0 {
		return 0
	}
	if coversAllActive {
		itemsTotal += order.Pricing.Shipping
	}

	remaining := order.Payment.ChargedAmount - order.Payment.RefundedAmount
	if remaining < 0 {
		remaining = 0
	}
	if itemsTotal > remaining {
		return remaining
	}
	return itemsTotal
}

// ProcessRefund 对一组商品发起退款。
// 退款是信用卡贷记操作，系统不留存卡号，需要重新提供卡信息。
func (uc *RefundUsecase) ProcessRefund(ctx context.Context, orderNumber string, itemIDs []uint64, reason, actor string, card *CardDetails) (*RefundRecord, error) {
	uc.log.Infof("ProcessRefund: order=%s, items=%v, actor=%s", orderNumber, itemIDs, actor)

	if reason == "" {
		return nil, errors.New(errors.ErrCodeRefundReasonRequired, "refund reason is required")
	}
	if card == nil || !card.Validate() {
		return nil, errors.New(errors.ErrCodeInvalidCard, "card details are invalid")
	}

	order, err := uc.repo.GetOrder(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, errors.New(errors.ErrCodeOrderNotFound, "order %s not found", orderNumber)
	}
	p := &order.Payment
	if p.Status != constants.PaymentStatusCharged && p.Status != constants.PaymentStatusPartialRefund {
		return nil, errors.New(errors.ErrCodeNotCharged,
			"order %s is not charged (status %s), nothing to refund", orderNumber, p.Status)
	}

	amount := RefundableAmount(order, itemIDs)
	if amount <= 0 {
		return nil, errors.New(errors.ErrCodeNothingToRefund,
			"no refundable amount for order %s", orderNumber)
	}

	result, err := uc.gateway.Refund(ctx, &RefundRequest{
		TransactionID: p.HypTransactionID,
		Amount:        amount,
		Card:          *card,
		Info:          "Refund " + orderNumber + ": " + reason,
	})
	if err != nil {
		return nil, err
	}
	if !result.OK {
		uc.log.Errorf("Refund declined for order %s: code=%s, %s", orderNumber, result.Code, result.Reason)
		return nil, errors.New(errors.ErrCodeRefundFailed, "refund declined: %s", result.Reason)
	}

	now := time.Now().UTC()
	refund := &RefundRecord{
		ID:        uuid.New().String(),
		OrderID:   order.ID,
		Amount:    amount,
		Reason:    reason,
		Actor:     actor,
		ItemIDs:   itemIDs,
		GatewayID: result.TransactionID,
		CreatedAt: now,
	}

	err = uc.tm.Exec(ctx, func(ctx context.Context) error {
		if err := uc.repo.AppendRefund(ctx, refund); err != nil {
			return err
		}

		p.RefundedAmount += amount
		order.Pricing.TotalRefunds += amount
		if p.RefundedAmount >= p.ChargedAmount-amountEpsilon {
			p.Status = constants.PaymentStatusFullRefund
		} else {
			p.Status = constants.PaymentStatusPartialRefund
		}

		// 被退款的商品标记为已取消且退款已处理
		for _, id := range itemIDs {
			item := order.FindItem(id)
			if item == nil || item.IsCancelled() {
				continue
			}
			item.ItemStatus = constants.ItemStatusCancelled
			item.Cancellation = &Cancellation{
				Cancelled:       true,
				Reason:          reason,
				Actor:           actor,
				RefundAmount:    item.Price * float64(item.Quantity),
				RefundProcessed: true,
				CancelledAt:     now,
			}
			if err := uc.repo.SaveItem(ctx, item); err != nil {
				return err
			}
		}

		RecomputeDerived(order)
		if err := uc.repo.SaveComputed(ctx, order.ID, &order.Computed, order.Pricing.AdjustedTotal); err != nil {
			return err
		}
		return uc.repo.UpdatePayment(ctx, order.ID, p)
	})
	if err != nil {
		uc.log.Errorf("Failed to persist refund for order %s: %v", orderNumber, err)
		return nil, err
	}

	entry := order.AppendTimeline(p.Status, constants.TimelineRefunded)
	if err := uc.repo.AppendTimeline(ctx, entry); err != nil {
		uc.log.Warnf("Failed to append timeline for order %s: %v", orderNumber, err)
	}

	uc.log.Infof("Refunded %.2f for order %s (refunded total %.2f of %.2f)",
		amount, orderNumber, p.RefundedAmount, p.ChargedAmount)
	return refund, nil
}
