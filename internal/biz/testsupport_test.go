package biz

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"xinyuan_tech/fulfillment-service/internal/constants"
	"xinyuan_tech/fulfillment-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

func testLogger() log.Logger {
	return log.NewStdLogger(io.Discard)
}

// memRepo 内存版订单仓库，模拟数据库的行为：
// 读取返回快照副本，写入做状态机防御校验，
// 就绪转换在仓库锁内模拟单条条件更新。
type memRepo struct {
	mu     sync.Mutex
	nextID uint64
	orders map[uint64]*Order
}

func newMemRepo() *memRepo {
	return &memRepo{orders: make(map[uint64]*Order)}
}

func cloneOrder(o *Order) *Order {
	c := *o
	c.Items = make([]*OrderItem, len(o.Items))
	for i, item := range o.Items {
		ci := *item
		if item.Cancellation != nil {
			cc := *item.Cancellation
			ci.Cancellation = &cc
		}
		if item.SupplierOrder != nil {
			cs := *item.SupplierOrder
			ci.SupplierOrder = &cs
		}
		c.Items[i] = &ci
	}
	c.Timeline = make([]*TimelineEntry, len(o.Timeline))
	for i, e := range o.Timeline {
		ce := *e
		c.Timeline[i] = &ce
	}
	c.Refunds = make([]*RefundRecord, len(o.Refunds))
	for i, rec := range o.Refunds {
		cr := *rec
		cr.ItemIDs = append([]uint64(nil), rec.ItemIDs...)
		c.Refunds[i] = &cr
	}
	c.Payment.RetryErrors = append([]RetryError(nil), o.Payment.RetryErrors...)
	return &c
}

func (r *memRepo) CreateOrder(ctx context.Context, order *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	order.ID = r.nextID
	for _, item := range order.Items {
		r.nextID++
		item.ID = r.nextID
		item.OrderID = order.ID
	}
	r.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *memRepo) GetOrder(ctx context.Context, orderNumber string) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.OrderNumber == orderNumber {
			return cloneOrder(o), nil
		}
	}
	return nil, nil
}

func (r *memRepo) SaveOrder(ctx context.Context, order *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *memRepo) SaveItem(ctx context.Context, item *OrderItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[item.OrderID]
	if !ok {
		return fmt.Errorf("order %d not found", item.OrderID)
	}
	for i, existing := range o.Items {
		if existing.ID == item.ID {
			ci := *item
			if item.Cancellation != nil {
				cc := *item.Cancellation
				ci.Cancellation = &cc
			}
			if item.SupplierOrder != nil {
				cs := *item.SupplierOrder
				ci.SupplierOrder = &cs
			}
			o.Items[i] = &ci
			return nil
		}
	}
	return fmt.Errorf("item %d not found", item.ID)
}

func (r *memRepo) UpdatePayment(ctx context.Context, orderID uint64, p *Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return fmt.Errorf("order %d not found", orderID)
	}
	current := o.Payment.Status
	if current != p.Status && !CanTransitionPayment(current, p.Status) {
		return errors.New(errors.ErrCodeInvalidStatusTransition,
			"illegal payment transition %s -> %s for order %d", current, p.Status, orderID)
	}
	cp := *p
	cp.RetryErrors = append([]RetryError(nil), p.RetryErrors...)
	o.Payment = cp
	return nil
}

func (r *memRepo) MarkReadyToCharge(ctx context.Context, orderID uint64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return false, fmt.Errorf("order %d not found", orderID)
	}
	if o.Payment.Status != constants.PaymentStatusHold {
		return false, nil
	}
	o.Payment.Status = constants.PaymentStatusReadyToCharge
	o.Timeline = append(o.Timeline, &TimelineEntry{
		OrderID:   orderID,
		Status:    constants.PaymentStatusReadyToCharge,
		Message:   constants.TimelineReadyToCharge,
		CreatedAt: time.Now().UTC(),
	})
	return true, nil
}

func (r *memRepo) ListChargeable(ctx context.Context, now time.Time, limit int) ([]*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Order
	for _, o := range r.orders {
		if o.Payment.HypTransactionID == "" {
			continue
		}
		switch o.Payment.Status {
		case constants.PaymentStatusReadyToCharge:
		case constants.PaymentStatusRetryPending:
			if o.Payment.NextRetryAt == nil || o.Payment.NextRetryAt.After(now) {
				continue
			}
		default:
			continue
		}
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Payment.HeldAt, out[j].Payment.HeldAt
		if a == nil || b == nil {
			return out[i].ID < out[j].ID
		}
		return a.Before(*b)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) AppendTimeline(ctx context.Context, entry *TimelineEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[entry.OrderID]
	if !ok {
		return fmt.Errorf("order %d not found", entry.OrderID)
	}
	r.nextID++
	entry.ID = r.nextID
	ce := *entry
	o.Timeline = append(o.Timeline, &ce)
	return nil
}

func (r *memRepo) AppendRefund(ctx context.Context, refund *RefundRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[refund.OrderID]
	if !ok {
		return fmt.Errorf("order %d not found", refund.OrderID)
	}
	cr := *refund
	cr.ItemIDs = append([]uint64(nil), refund.ItemIDs...)
	o.Refunds = append(o.Refunds, &cr)
	return nil
}

func (r *memRepo) SaveComputed(ctx context.Context, orderID uint64, computed *Computed, adjustedTotal float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return fmt.Errorf("order %d not found", orderID)
	}
	o.Computed = *computed
	o.Pricing.AdjustedTotal = adjustedTotal
	return nil
}

// stored 按主键取持久化快照
func (r *memRepo) stored(orderID uint64) *Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return nil
	}
	return cloneOrder(o)
}

// countTimeline 统计指定消息的时间线条数
func (r *memRepo) countTimeline(orderID uint64, message string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return 0
	}
	n := 0
	for _, e := range o.Timeline {
		if e.Message == message {
			n++
		}
	}
	return n
}

// fakeTM 直接执行函数体的事务实现
type fakeTM struct{}

func (fakeTM) Exec(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// fakeGateway 可注入各 action 行为的网关桩，带调用计数
type fakeGateway struct {
	mu             sync.Mutex
	holdFn         func(req *HoldRequest) (*GatewayResult, error)
	captureFullFn  func(transactionID string, amount float64) (*GatewayResult, error)
	capturePartFn  func(req *PartialCaptureRequest) (*GatewayResult, error)
	cancelFn       func(transactionID string) (*GatewayResult, error)
	refundFn       func(req *RefundRequest) (*GatewayResult, error)
	holdCalls      int
	fullCalls      int
	partialCalls   int
	cancelCalls    int
	refundCalls    int
	capturesByTxID map[string]int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{capturesByTxID: make(map[string]int)}
}

func (g *fakeGateway) Hold(ctx context.Context, req *HoldRequest) (*GatewayResult, error) {
	g.mu.Lock()
	g.holdCalls++
	fn := g.holdFn
	g.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return &GatewayResult{OK: true, Code: "800", TransactionID: "tx-hold", AuthCode: "0012345", UID: "uid-1", Amount: req.Amount}, nil
}

func (g *fakeGateway) CaptureFull(ctx context.Context, transactionID string, amount float64) (*GatewayResult, error) {
	g.mu.Lock()
	g.fullCalls++
	g.capturesByTxID[transactionID]++
	fn := g.captureFullFn
	g.mu.Unlock()
	if fn != nil {
		return fn(transactionID, amount)
	}
	return &GatewayResult{OK: true, Code: "0", TransactionID: transactionID, Amount: amount}, nil
}

func (g *fakeGateway) CapturePartial(ctx context.Context, req *PartialCaptureRequest) (*GatewayResult, error) {
	g.mu.Lock()
	g.partialCalls++
	g.capturesByTxID[req.TransactionID]++
	fn := g.capturePartFn
	g.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return &GatewayResult{OK: true, Code: "0", TransactionID: req.TransactionID, Amount: req.Amount}, nil
}

func (g *fakeGateway) Cancel(ctx context.Context, transactionID string) (*GatewayResult, error) {
	g.mu.Lock()
	g.cancelCalls++
	fn := g.cancelFn
	g.mu.Unlock()
	if fn != nil {
		return fn(transactionID)
	}
	return &GatewayResult{OK: true, Code: "0", TransactionID: transactionID}, nil
}

func (g *fakeGateway) Refund(ctx context.Context, req *RefundRequest) (*GatewayResult, error) {
	g.mu.Lock()
	g.refundCalls++
	fn := g.refundFn
	g.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return &GatewayResult{OK: true, Code: "0", TransactionID: "refund-" + req.TransactionID, Amount: req.Amount}, nil
}

func (g *fakeGateway) captureCount(transactionID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.capturesByTxID[transactionID]
}

// memLockStore 多个 memLocker 共享的锁存储，模拟 Redis
type memLockStore struct {
	mu   sync.Mutex
	held map[string]string
}

func newMemLockStore() *memLockStore {
	return &memLockStore{held: make(map[string]string)}
}

// memLocker 单个实例视角的锁客户端，owner 区分实例
type memLocker struct {
	store *memLockStore
	owner string
}

func (l *memLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	if _, ok := l.store.held[key]; ok {
		return false, nil
	}
	l.store.held[key] = l.owner
	return true, nil
}

func (l *memLocker) Release(ctx context.Context, key string) {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	if l.store.held[key] == l.owner {
		delete(l.store.held, key)
	}
}

func (l *memLocker) Extend(ctx context.Context, key string, extra time.Duration) bool {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	return l.store.held[key] == l.owner
}

var testOrderSeq uint64
var testOrderSeqMu sync.Mutex

func nextOrderNumber() string {
	testOrderSeqMu.Lock()
	defer testOrderSeqMu.Unlock()
	testOrderSeq++
	return fmt.Sprintf("FF-test-%04d", testOrderSeq)
}

// makeOrder 构造一个给定商品价格的订单，item 数量均为 1
func makeOrder(prices []float64, shipping, tax float64) *Order {
	items := make([]*OrderItem, len(prices))
	var subtotal float64
	for i, p := range prices {
		items[i] = &OrderItem{
			ID:          uint64(i + 1), // 入库时由仓库重新分配
			ProductName: fmt.Sprintf("product-%d", i+1),
			Price:       p,
			Quantity:    1,
			ItemStatus:  constants.ItemStatusPending,
		}
		subtotal += p
	}
	now := time.Now().UTC()
	order := &Order{
		OrderNumber: nextOrderNumber(),
		CustomerID:  42,
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
	return order
}

// makeHeldOrder 构造并入库一个已冻结、所有商品已决定的订单
func makeHeldOrder(repo *memRepo, prices []float64, shipping, tax float64) *Order {
	order := makeOrder(prices, shipping, tax)
	heldAt := time.Now().UTC().Add(-time.Hour)
	order.Payment.Status = constants.PaymentStatusHold
	order.Payment.HypTransactionID = "tx-" + order.OrderNumber
	order.Payment.HypAuthCode = "0012345"
	order.Payment.HypUID = "uid-" + order.OrderNumber
	order.Payment.HoldAmount = order.Pricing.Total
	order.Payment.HeldAt = &heldAt
	for _, item := range order.Items {
		item.ItemStatus = constants.ItemStatusOrdered
	}
	if err := repo.CreateOrder(context.Background(), order); err != nil {
		panic(err)
	}
	return order
}

// cancelItem 把聚合里的一个商品标记为已取消
func cancelItem(item *OrderItem) {
	item.ItemStatus = constants.ItemStatusCancelled
	item.Cancellation = &Cancellation{
		Cancelled:    true,
		Reason:       "customer request",
		Actor:        "staff",
		RefundAmount: item.Price * float64(item.Quantity),
		CancelledAt:  time.Now().UTC(),
	}
}
