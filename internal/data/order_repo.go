package data

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"xinyuan_tech/fulfillment-service/internal/biz"
	"xinyuan_tech/fulfillment-service/internal/constants"
	"xinyuan_tech/fulfillment-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// Repo Implementation
type orderRepo struct {
	data *Data
	log  *log.Helper
}

// NewOrderRepo 创建订单仓库
func NewOrderRepo(data *Data, logger log.Logger) biz.OrderRepo {
	return &orderRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func (r *orderRepo) CreateOrder(ctx context.Context, order *biz.Order) error {
	m := fromBizOrder(order)
	if err := r.data.DB(ctx).Create(m).Error; err != nil {
		return err
	}
	// 回填自增主键
	order.ID = m.ID
	for i, item := range m.Items {
		order.Items[i].ID = item.ID
		order.Items[i].OrderID = m.ID
	}
	return nil
}

func (r *orderRepo) GetOrder(ctx context.Context, orderNumber string) (*biz.Order, error) {
	var m Order
	err := r.data.DB(ctx).
		Preload("Items").
		Preload("Timeline", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Preload("Refunds").
		Where("order_number = ?", orderNumber).
		First(&m).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get order %s: %v", orderNumber, err)
		return nil, err
	}
	return toBizOrder(&m), nil
}

func (r *orderRepo) SaveOrder(ctx context.Context, order *biz.Order) error {
	m := fromBizOrder(order)
	m.UpdatedAt = time.Now().UTC()
	// 关联行单独保存，避免 Save 级联覆盖时间线
	items := m.Items
	m.Items = nil
	return r.data.Exec(ctx, func(ctx context.Context) error {
		if err := r.data.DB(ctx).Omit("Items", "Timeline", "Refunds").Save(m).Error; err != nil {
			return err
		}
		for i := range items {
			if err := r.data.DB(ctx).Save(&items[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *orderRepo) SaveItem(ctx context.Context, item *biz.OrderItem) error {
	m := fromBizItem(item)
	return r.data.DB(ctx).Save(m).Error
}

// UpdatePayment 保存支付子文档。写入前做状态机防御校验：
// 当前持久化状态到目标状态的边不合法时拒绝写入。
func (r *orderRepo) UpdatePayment(ctx context.Context, orderID uint64, p *biz.Payment) error {
	var current string
	err := r.data.DB(ctx).Model(&Order{}).
		Select("payment_status").
		Where("order_id = ?", orderID).
		Limit(1).
		Scan(&current).Error
	if err != nil {
		return err
	}
	if current != p.Status && !biz.CanTransitionPayment(current, p.Status) {
		return errors.New(errors.ErrCodeInvalidStatusTransition,
			"illegal payment transition %s -> %s for order %d", current, p.Status, orderID)
	}

	updates := map[string]interface{}{
		"payment_status":     p.Status,
		"hyp_transaction_id": p.HypTransactionID,
		"hyp_auth_code":      p.HypAuthCode,
		"hyp_uid":            p.HypUID,
		"hold_amount":        p.HoldAmount,
		"held_at":            p.HeldAt,
		"charged_amount":     p.ChargedAmount,
		"refunded_amount":    p.RefundedAmount,
		"retry_count":        p.RetryCount,
		"max_retries":        p.MaxRetries,
		"next_retry_at":      p.NextRetryAt,
		"retry_errors":       marshalRetryErrors(p.RetryErrors),
		"last_error":         p.LastError,
		"updated_at":         time.Now().UTC(),
	}
	return r.data.DB(ctx).Model(&Order{}).
		Where("order_id = ?", orderID).
		Updates(updates).Error
}

// MarkReadyToCharge 原子就绪转换。
// 单条条件更新充当 CAS：只有 payment_status 仍为 hold 的那次调用会改到行，
// 赢得转换的调用方写入唯一一条 ready_to_charge 时间线记录。
func (r *orderRepo) MarkReadyToCharge(ctx context.Context, orderID uint64) (bool, error) {
	result := r.data.DB(ctx).Model(&Order{}).
		Where("order_id = ? AND payment_status = ?", orderID, constants.PaymentStatusHold).
		Updates(map[string]interface{}{
			"payment_status": constants.PaymentStatusReadyToCharge,
			"updated_at":     time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	entry := &TimelineEntry{
		OrderID:   orderID,
		Status:    constants.PaymentStatusReadyToCharge,
		Message:   constants.TimelineReadyToCharge,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.data.DB(ctx).Create(entry).Error; err != nil {
		// 转换本身已生效，时间线写失败只记日志
		r.log.Errorf("Failed to append ready_to_charge timeline for order %d: %v", orderID, err)
	}
	return true, nil
}

// ListChargeable 查询可扣款订单：就绪的，或重试时间已到的，
// 且存在网关交易引用；按冻结时间从旧到新，最多 limit 条。
func (r *orderRepo) ListChargeable(ctx context.Context, now time.Time, limit int) ([]*biz.Order, error) {
	if limit <= 0 {
		limit = constants.DefaultChargeBatchSize
	}
	var models []Order
	err := r.data.DB(ctx).
		Preload("Items").
		Where("hyp_transaction_id <> ''").
		Where("payment_status = ? OR (payment_status = ? AND next_retry_at <= ?)",
			constants.PaymentStatusReadyToCharge, constants.PaymentStatusRetryPending, now).
		Order("held_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	orders := make([]*biz.Order, len(models))
	for i := range models {
		orders[i] = toBizOrder(&models[i])
	}
	return orders, nil
}

func (r *orderRepo) AppendTimeline(ctx context.Context, entry *biz.TimelineEntry) error {
	m := &TimelineEntry{
		OrderID:   entry.OrderID,
		Status:    entry.Status,
		Message:   entry.Message,
		CreatedAt: entry.CreatedAt,
	}
	if err := r.data.DB(ctx).Create(m).Error; err != nil {
		return err
	}
	entry.ID = m.ID
	return nil
}

func (r *orderRepo) AppendRefund(ctx context.Context, refund *biz.RefundRecord) error {
	itemIDs := ""
	if len(refund.ItemIDs) > 0 {
		if b, err := json.Marshal(refund.ItemIDs); err == nil {
			itemIDs = string(b)
		}
	}
	m := &RefundRecord{
		ID:        refund.ID,
		OrderID:   refund.OrderID,
		Amount:    refund.Amount,
		Reason:    refund.Reason,
		Actor:     refund.Actor,
		ItemIDs:   itemIDs,
		GatewayID: refund.GatewayID,
		CreatedAt: refund.CreatedAt,
	}
	return r.data.DB(ctx).Create(m).Error
}

func (r *orderRepo) SaveComputed(ctx context.Context, orderID uint64, computed *biz.Computed, adjustedTotal float64) error {
	return r.data.DB(ctx).Model(&Order{}).
		Where("order_id = ?", orderID).
		Updates(map[string]interface{}{
			"total_items":           computed.TotalItems,
			"decided_items":         computed.DecidedItems,
			"cancelled_items":       computed.CancelledItems,
			"completion_percentage": computed.CompletionPercentage,
			"overall_progress":      computed.OverallProgress,
			"adjusted_total":        adjustedTotal,
			"updated_at":            time.Now().UTC(),
		}).Error
}
