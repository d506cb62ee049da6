package data

import (
	"context"
	"io"
	"testing"
	"time"

	"xinyuan_tech/fulfillment-service/internal/biz"
	"xinyuan_tech/fulfillment-service/internal/constants"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockRepo(t *testing.T) (biz.OrderRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	gdb, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Discard,
	})
	if err != nil {
		t.Fatalf("gorm open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewOrderRepo(&Data{db: gdb}, log.NewStdLogger(io.Discard)), mock
}

// 条件更新命中一行：赢得就绪转换并写入时间线。
func TestMarkReadyToChargeWins(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE `orders` SET").
		WithArgs(constants.PaymentStatusReadyToCharge, sqlmock.AnyArg(), uint64(7), constants.PaymentStatusHold).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `order_timeline`").
		WillReturnResult(sqlmock.NewResult(11, 1))

	won, err := repo.MarkReadyToCharge(context.Background(), 7)
	if err != nil {
		t.Fatalf("MarkReadyToCharge: %v", err)
	}
	if !won {
		t.Error("expected to win the transition when one row was updated")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

// 条件更新没改到行 (状态已不是 hold)：输掉转换，不写时间线，也不算错误。
func TestMarkReadyToChargeLoses(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE `orders` SET").
		WithArgs(constants.PaymentStatusReadyToCharge, sqlmock.AnyArg(), uint64(7), constants.PaymentStatusHold).
		WillReturnResult(sqlmock.NewResult(0, 0))

	won, err := repo.MarkReadyToCharge(context.Background(), 7)
	if err != nil {
		t.Fatalf("MarkReadyToCharge: %v", err)
	}
	if won {
		t.Error("zero rows affected must mean the transition was lost")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

// 写入前的状态机防御：非法流转直接拒绝，不发 UPDATE。
func TestUpdatePaymentRejectsIllegalTransition(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT `payment_status` FROM `orders`").
		WillReturnRows(sqlmock.NewRows([]string{"payment_status"}).AddRow(constants.PaymentStatusCharged))

	err := repo.UpdatePayment(context.Background(), 7, &biz.Payment{Status: constants.PaymentStatusHold})
	if err == nil {
		t.Fatal("expected illegal transition error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUpdatePaymentPersistsSubdocument(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT `payment_status` FROM `orders`").
		WillReturnRows(sqlmock.NewRows([]string{"payment_status"}).AddRow(constants.PaymentStatusReadyToCharge))
	mock.ExpectExec("UPDATE `orders` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))

	p := &biz.Payment{
		Status:           constants.PaymentStatusCharged,
		HypTransactionID: "tx-1",
		ChargedAmount:    1000,
	}
	if err := repo.UpdatePayment(context.Background(), 7, p); err != nil {
		t.Fatalf("UpdatePayment: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGetOrderNotFoundReturnsNil(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM `orders`").
		WillReturnRows(sqlmock.NewRows([]string{"order_id"}))

	order, err := repo.GetOrder(context.Background(), "FF-missing")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if order != nil {
		t.Error("missing order should come back as nil, not an error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestListChargeable(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()
	heldAt := now.Add(-2 * time.Hour)

	mock.ExpectQuery("SELECT (.+) FROM `orders`").
		WillReturnRows(sqlmock.NewRows([]string{
			"order_id", "order_number", "payment_status", "hyp_transaction_id", "hold_amount", "held_at",
		}).AddRow(1, "FF1001", constants.PaymentStatusReadyToCharge, "tx-1", 1500.0, heldAt))
	mock.ExpectQuery("SELECT (.+) FROM `order_items`").
		WillReturnRows(sqlmock.NewRows([]string{
			"order_item_id", "order_id", "product_name", "price", "quantity", "item_status",
		}).AddRow(10, 1, "widget", 1500.0, 1, "purchased"))

	orders, err := repo.ListChargeable(context.Background(), now, 10)
	if err != nil {
		t.Fatalf("ListChargeable: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(orders))
	}
	if orders[0].Payment.HypTransactionID != "tx-1" {
		t.Errorf("transaction id = %q, want tx-1", orders[0].Payment.HypTransactionID)
	}
	// 废弃状态别名在读取时归一化
	if orders[0].Items[0].ItemStatus != constants.ItemStatusOrdered {
		t.Errorf("item status = %q, want normalized ordered", orders[0].Items[0].ItemStatus)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
