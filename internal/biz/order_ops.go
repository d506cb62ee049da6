package biz

import (
	"context"
	"fmt"
	"time"

	"xinyuan_tech/fulfillment-service/internal/constants"
	"xinyuan_tech/fulfillment-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// PostCommitHook 事务提交成功后调用的回调。
// 级联副作用 (通知等) 一律注册为显式回调，在提交之后触发，绝不在提交之前。
type PostCommitHook func(ctx context.Context, order *Order)

// OrderUsecase 订单业务逻辑
type OrderUsecase struct {
	repo        OrderRepo
	tm          Transaction
	log         *log.Helper
	afterCommit []PostCommitHook
}

// NewOrderUsecase 创建订单用例
func NewOrderUsecase(repo OrderRepo, tm Transaction, logger log.Logger) *OrderUsecase {
	return &OrderUsecase{
		repo: repo,
		tm:   tm,
		log:  log.NewHelper(logger),
	}
}

// RegisterPostCommit 注册提交后回调
func (uc *OrderUsecase) RegisterPostCommit(hook PostCommitHook) {
	uc.afterCommit = append(uc.afterCommit, hook)
}

func (uc *OrderUsecase) firePostCommit(ctx context.Context, order *Order) {
	for _, hook := range uc.afterCommit {
		hook(ctx, order)
	}
}

// CreateOrder 创建订单，支付状态初始为 pending
func (uc *OrderUsecase) CreateOrder(ctx context.Context, customerID uint64, items []*OrderItem, shipping, tax float64) (*Order, error) {
	var subtotal float64
	for _, item := range items {
		if item.Quantity <= 0 {
			item.Quantity = 1
		}
		item.ItemStatus = constants.ItemStatusPending
		subtotal += item.Price * float64(item.Quantity)
	}

	now := time.Now().UTC()
	order := &Order{
		OrderNumber: fmt.Sprintf("FF%d%s", now.UnixNano(), uuid.New().String()[:8]),
		CustomerID:  customerID,
		Status:      "processing",
		Items:       items,
		Pricing: Pricing{
			Subtotal: subtotal,
			Shipping: shipping,
			Tax:      tax,
			Total:    subtotal + shipping + tax,
		},
		Payment: Payment{
			Status:     constants.PaymentStatusPending,
			MaxRetries: constants.DefaultMaxRetries,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	RecomputeDerived(order)

	if err := uc.repo.CreateOrder(ctx, order); err != nil {
		uc.log.Errorf("Failed to create order: %v", err)
		return nil, err
	}
	uc.log.Infof("Created order: %s, total=%.2f", order.OrderNumber, order.Pricing.Total)
	return order, nil
}

// GetOrder 获取订单
func (uc *OrderUsecase) GetOrder(ctx context.Context, orderNumber string) (*Order, error) {
	order, err := uc.repo.GetOrder(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, errors.New(errors.ErrCodeOrderNotFound, "order %s not found", orderNumber)
	}
	return order, nil
}

// MarkItemOrdered 商品已向供应商下单 (终态之一)
func (uc *OrderUsecase) MarkItemOrdered(ctx context.Context, orderNumber string, itemID uint64, orderedBy string, cost float64) (*Order, error) {
	uc.log.Infof("MarkItemOrdered: order=%s, item=%d, by=%s", orderNumber, itemID, orderedBy)

	order, err := uc.GetOrder(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	item := order.FindItem(itemID)
	if item == nil {
		return nil, errors.New(errors.ErrCodeItemNotFound, "item %d not found in order %s", itemID, orderNumber)
	}
	if item.IsCancelled() {
		return nil, errors.New(errors.ErrCodeItemAlreadyDecided, "item %d is cancelled and cannot be ordered", itemID)
	}

	item.ItemStatus = constants.ItemStatusOrdered
	item.SupplierOrder = &SupplierOrder{
		OrderedBy: orderedBy,
		Cost:      cost,
		OrderedAt: time.Now().UTC(),
	}

	if err := uc.commitItemDecision(ctx, order, item); err != nil {
		return nil, err
	}
	return order, nil
}

// CancelItems 取消一组商品 (终态之一)
func (uc *OrderUsecase) CancelItems(ctx context.Context, orderNumber string, itemIDs []uint64, reason, actor string) (*Order, error) {
	uc.log.Infof("CancelItems: order=%s, items=%v, actor=%s", orderNumber, itemIDs, actor)

	order, err := uc.GetOrder(ctx, orderNumber)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var changed []*OrderItem
	for _, id := range itemIDs {
		item := order.FindItem(id)
		if item == nil {
			return nil, errors.New(errors.ErrCodeItemNotFound, "item %d not found in order %s", id, orderNumber)
		}
		if item.IsCancelled() {
			continue // 幂等
		}
		item.ItemStatus = constants.ItemStatusCancelled
		item.Cancellation = &Cancellation{
			Cancelled:    true,
			Reason:       reason,
			Actor:        actor,
			RefundAmount: item.Price * float64(item.Quantity),
			CancelledAt:  now,
		}
		changed = append(changed, item)
	}
	if len(changed) == 0 {
		return order, nil
	}

	err = uc.tm.Exec(ctx, func(ctx context.Context) error {
		for _, item := range changed {
			if err := uc.repo.SaveItem(ctx, item); err != nil {
				return err
			}
		}
		RecomputeDerived(order)
		return uc.repo.SaveComputed(ctx, order.ID, &order.Computed, order.Pricing.AdjustedTotal)
	})
	if err != nil {
		uc.log.Errorf("Failed to cancel items for order %s: %v", orderNumber, err)
		return nil, err
	}

	if err := uc.TryMarkReadyToCharge(ctx, order); err != nil {
		return nil, err
	}
	uc.firePostCommit(ctx, order)
	return order, nil
}

// BulkUpdateItems 批量更新商品状态 (运营后台批量操作入口)
func (uc *OrderUsecase) BulkUpdateItems(ctx context.Context, orderNumber string, updates map[uint64]string) (*Order, error) {
	uc.log.Infof("BulkUpdateItems: order=%s, count=%d", orderNumber, len(updates))

	order, err := uc.GetOrder(ctx, orderNumber)
	if err != nil {
		return nil, err
	}

	var changed []*OrderItem
	for id, status := range updates {
		item := order.FindItem(id)
		if item == nil {
			return nil, errors.New(errors.ErrCodeItemNotFound, "item %d not found in order %s", id, orderNumber)
		}
		status = NormalizeItemStatus(status)
		// 已决定的商品不允许回退到 pending
		if item.IsDecided() && status == constants.ItemStatusPending {
			return nil, errors.New(errors.ErrCodeItemAlreadyDecided, "item %d already decided", id)
		}
		if status == constants.ItemStatusCancelled && !item.IsCancelled() {
			item.Cancellation = &Cancellation{
				Cancelled:    true,
				Reason:       "bulk update",
				Actor:        "system",
				RefundAmount: item.Price * float64(item.Quantity),
				CancelledAt:  time.Now().UTC(),
			}
		}
		item.ItemStatus = status
		changed = append(changed, item)
	}
	if len(changed) == 0 {
		return order, nil
	}

	err = uc.tm.Exec(ctx, func(ctx context.Context) error {
		for _, item := range changed {
			if err := uc.repo.SaveItem(ctx, item); err != nil {
				return err
			}
		}
		RecomputeDerived(order)
		return uc.repo.SaveComputed(ctx, order.ID, &order.Computed, order.Pricing.AdjustedTotal)
	})
	if err != nil {
		uc.log.Errorf("Failed to bulk update order %s: %v", orderNumber, err)
		return nil, err
	}

	if err := uc.TryMarkReadyToCharge(ctx, order); err != nil {
		return nil, err
	}
	uc.firePostCommit(ctx, order)
	return order, nil
}

// commitItemDecision 持久化单个商品的决定并触发就绪转换
func (uc *OrderUsecase) commitItemDecision(ctx context.Context, order *Order, item *OrderItem) error {
	err := uc.tm.Exec(ctx, func(ctx context.Context) error {
		if err := uc.repo.SaveItem(ctx, item); err != nil {
			return err
		}
		RecomputeDerived(order)
		return uc.repo.SaveComputed(ctx, order.ID, &order.Computed, order.Pricing.AdjustedTotal)
	})
	if err != nil {
		uc.log.Errorf("Failed to save item decision for order %s: %v", order.OrderNumber, err)
		return err
	}

	if err := uc.TryMarkReadyToCharge(ctx, order); err != nil {
		return err
	}
	uc.firePostCommit(ctx, order)
	return nil
}

// TryMarkReadyToCharge 就绪检测 + 原子转换。
// 先重读已持久化的商品状态再判定，避免并发提交下双方都拿着旧快照漏掉触发；
// 条件更新只在 payment_status = hold 时生效，并发的最后两个商品决定
// 同时到达时，恰好一个调用方赢得转换并写入唯一一条时间线记录。
func (uc *OrderUsecase) TryMarkReadyToCharge(ctx context.Context, order *Order) error {
	fresh, err := uc.repo.GetOrder(ctx, order.OrderNumber)
	if err != nil {
		return err
	}
	if fresh == nil || !IsReady(fresh) {
		return nil
	}
	won, err := uc.repo.MarkReadyToCharge(ctx, order.ID)
	if err != nil {
		uc.log.Errorf("Readiness transition failed for order %s: %v", order.OrderNumber, err)
		return err
	}
	if won {
		order.Payment.Status = constants.PaymentStatusReadyToCharge
		uc.log.Infof("Order %s is ready to charge", order.OrderNumber)
	}
	// 输掉转换不是错误：另一个并发写入方已经完成了它
	return nil
}

// SaveOrder 通用保存路径。保存后兜底执行一次就绪检测，
// 覆盖没有显式调用转换的变更路径。兜底与显式调用共用同一个
// "当前状态 = hold" 前置条件，因此不会二次触发。
func (uc *OrderUsecase) SaveOrder(ctx context.Context, order *Order) error {
	RecomputeDerived(order)
	if err := uc.repo.SaveOrder(ctx, order); err != nil {
		return err
	}
	return uc.TryMarkReadyToCharge(ctx, order)
}
