package biz

import (
	"context"
	"testing"

	"xinyuan_tech/fulfillment-service/internal/constants"
)

// chargedOrder 入库一个已扣款订单
func chargedOrder(t *testing.T, repo *memRepo, prices []float64, shipping float64) *Order {
	t.Helper()
	order := makeHeldOrder(repo, prices, shipping, 0)
	order.Payment.Status = constants.PaymentStatusReadyToCharge
	if err := repo.UpdatePayment(context.Background(), order.ID, &order.Payment); err != nil {
		t.Fatal(err)
	}
	order.Payment.Status = constants.PaymentStatusCharged
	order.Payment.ChargedAmount = order.Pricing.Total
	if err := repo.UpdatePayment(context.Background(), order.ID, &order.Payment); err != nil {
		t.Fatal(err)
	}
	return order
}

func TestRefundableAmount(t *testing.T) {
	t.Run("partial selection excludes shipping", func(t *testing.T) {
		order := makeOrder([]float64{500, 450}, 50, 0)
		order.Payment.ChargedAmount = 1000
		got := RefundableAmount(order, []uint64{order.Items[1].ID})
		if !AmountsEqual(got, 450) {
			t.Errorf("refundable = %.2f, want 450.00 without shipping", got)
		}
	})

	t.Run("full selection includes shipping", func(t *testing.T) {
		order := makeOrder([]float64{500, 450}, 50, 0)
		order.Payment.ChargedAmount = 1000
		got := RefundableAmount(order, []uint64{order.Items[0].ID, order.Items[1].ID})
		if !AmountsEqual(got, 1000) {
			t.Errorf("refundable = %.2f, want 1000.00 with shipping", got)
		}
	})

	t.Run("remaining active items block shipping refund", func(t *testing.T) {
		order := makeOrder([]float64{500, 450}, 50, 0)
		order.Payment.ChargedAmount = 1000
		cancelItem(order.Items[0])
		// 选中的商品覆盖了所有未取消商品，运费可退
		got := RefundableAmount(order, []uint64{order.Items[1].ID})
		if !AmountsEqual(got, 500) {
			t.Errorf("refundable = %.2f, want 500.00 (item 450 + shipping 50)", got)
		}
	})

	t.Run("capped at charged minus refunded", func(t *testing.T) {
		order := makeOrder([]float64{500, 450}, 50, 0)
		order.Payment.ChargedAmount = 1000
		order.Payment.RefundedAmount = 800
		got := RefundableAmount(order, []uint64{order.Items[0].ID, order.Items[1].ID})
		if !AmountsEqual(got, 200) {
			t.Errorf("refundable = %.2f, want remaining 200.00", got)
		}
	})

	t.Run("cancelled items refund nothing", func(t *testing.T) {
		order := makeOrder([]float64{500}, 0, 0)
		order.Payment.ChargedAmount = 500
		cancelItem(order.Items[0])
		if got := RefundableAmount(order, []uint64{order.Items[0].ID}); got != 0 {
			t.Errorf("refundable = %.2f, want 0 for a cancelled item", got)
		}
	})
}

func TestProcessRefundPartialThenFull(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	gw := newFakeGateway()
	uc := NewRefundUsecase(repo, gw, fakeTM{}, testLogger())

	order := chargedOrder(t, repo, []float64{500, 450}, 50)

	// 先退一件：部分退款，不含运费
	rec, err := uc.ProcessRefund(ctx, order.OrderNumber, []uint64{order.Items[1].ID}, "defective", "staff", validCard())
	if err != nil {
		t.Fatalf("ProcessRefund: %v", err)
	}
	if !AmountsEqual(rec.Amount, 450) {
		t.Errorf("refund amount = %.2f, want 450.00", rec.Amount)
	}
	stored := repo.stored(order.ID)
	if stored.Payment.Status != constants.PaymentStatusPartialRefund {
		t.Errorf("status = %s, want partial_refund", stored.Payment.Status)
	}
	if !AmountsEqual(stored.Payment.RefundedAmount, 450) {
		t.Errorf("refunded = %.2f, want 450.00", stored.Payment.RefundedAmount)
	}
	if !stored.Items[1].IsCancelled() || !stored.Items[1].Cancellation.RefundProcessed {
		t.Error("refunded item should be cancelled with refund processed")
	}
	if len(stored.Refunds) != 1 {
		t.Fatalf("refund records = %d, want 1", len(stored.Refunds))
	}

	// 再退最后一件：覆盖所有未取消商品，带上运费，转为全额退款
	stored2, err := repo.GetOrder(ctx, order.OrderNumber)
	if err != nil {
		t.Fatal(err)
	}
	rec2, err := uc.ProcessRefund(ctx, stored2.OrderNumber, []uint64{order.Items[0].ID}, "order scrapped", "staff", validCard())
	if err != nil {
		t.Fatalf("second ProcessRefund: %v", err)
	}
	if !AmountsEqual(rec2.Amount, 550) {
		t.Errorf("refund amount = %.2f, want 550.00 (item 500 + shipping 50)", rec2.Amount)
	}
	stored = repo.stored(order.ID)
	if stored.Payment.Status != constants.PaymentStatusFullRefund {
		t.Errorf("status = %s, want full_refund", stored.Payment.Status)
	}
	if !AmountsEqual(stored.Payment.RefundedAmount, 1000) {
		t.Errorf("refunded = %.2f, want 1000.00", stored.Payment.RefundedAmount)
	}
	if gw.refundCalls != 2 {
		t.Errorf("gateway refund calls = %d, want 2", gw.refundCalls)
	}
}

func TestProcessRefundValidation(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	gw := newFakeGateway()
	uc := NewRefundUsecase(repo, gw, fakeTM{}, testLogger())
	order := chargedOrder(t, repo, []float64{500}, 0)

	t.Run("reason required", func(t *testing.T) {
		if _, err := uc.ProcessRefund(ctx, order.OrderNumber, []uint64{order.Items[0].ID}, "", "staff", validCard()); err == nil {
			t.Fatal("expected error for missing reason")
		}
	})

	t.Run("card required", func(t *testing.T) {
		if _, err := uc.ProcessRefund(ctx, order.OrderNumber, []uint64{order.Items[0].ID}, "defective", "staff", nil); err == nil {
			t.Fatal("expected error for missing card")
		}
	})

	t.Run("order not found", func(t *testing.T) {
		if _, err := uc.ProcessRefund(ctx, "FF-missing", nil, "defective", "staff", validCard()); err == nil {
			t.Fatal("expected not-found error")
		}
	})

	if gw.refundCalls != 0 {
		t.Errorf("gateway refund calls = %d, want 0 for rejected requests", gw.refundCalls)
	}
}

func TestProcessRefundRequiresChargedStatus(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	uc := NewRefundUsecase(repo, newFakeGateway(), fakeTM{}, testLogger())

	order := makeHeldOrder(repo, []float64{500}, 0, 0) // 尚未扣款
	if _, err := uc.ProcessRefund(ctx, order.OrderNumber, []uint64{order.Items[0].ID}, "defective", "staff", validCard()); err == nil {
		t.Fatal("expected error refunding an uncharged order")
	}
}

func TestProcessRefundDeclined(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	gw := newFakeGateway()
	gw.refundFn = func(req *RefundRequest) (*GatewayResult, error) {
		return &GatewayResult{Code: "6", Reason: "declined"}, nil
	}
	uc := NewRefundUsecase(repo, gw, fakeTM{}, testLogger())
	order := chargedOrder(t, repo, []float64{500}, 0)

	if _, err := uc.ProcessRefund(ctx, order.OrderNumber, []uint64{order.Items[0].ID}, "defective", "staff", validCard()); err == nil {
		t.Fatal("expected error when gateway declines the refund")
	}
	stored := repo.stored(order.ID)
	if stored.Payment.Status != constants.PaymentStatusCharged {
		t.Errorf("status = %s, want charged unchanged after declined refund", stored.Payment.Status)
	}
	if stored.Payment.RefundedAmount != 0 {
		t.Errorf("refunded = %.2f, want 0", stored.Payment.RefundedAmount)
	}
}
