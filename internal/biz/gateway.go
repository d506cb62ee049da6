package biz

import (
	"context"
	"strconv"
	"strings"
)

// CardDetails 卡信息 (系统不落库，仅透传给网关)
type CardDetails struct {
	Number     string
	ExpMonth   int
	ExpYear    int
	CVV        string
	HolderID   string
	HolderName string
}

// Validate 卡信息基础校验，校验失败属于同步拒绝的 validation 错误
func (c *CardDetails) Validate() bool {
	digits := strings.TrimSpace(c.Number)
	if len(digits) < 12 || len(digits) > 19 {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	if c.ExpMonth < 1 || c.ExpMonth > 12 {
		return false
	}
	if c.ExpYear < 2000 {
		return false
	}
	if len(c.CVV) < 3 || len(c.CVV) > 4 {
		return false
	}
	if _, err := strconv.Atoi(c.CVV); err != nil {
		return false
	}
	return true
}

// GatewayResult 网关调用结果，网关各 action 的成功码已归一化为 OK + 原因码
type GatewayResult struct {
	OK            bool
	Code          string // 网关返回的原始结果码
	Reason        string
	TransactionID string
	AuthCode      string
	UID           string
	Amount        float64
	// Retryable 仅在 OK=false 时有意义：网络错误/5xx/429 为 true
	Retryable bool
}

// HoldRequest 冻结请求
type HoldRequest struct {
	OrderNumber string
	Amount      float64
	Card        CardDetails
	CustomerID  uint64
	Info        string
}

// PartialCaptureRequest 部分扣款请求：必须回传冻结时的授权码、UID 和原始金额
type PartialCaptureRequest struct {
	TransactionID  string
	AuthCode       string
	UID            string
	OriginalAmount float64
	Amount         float64
}

// RefundRequest 退款请求 (信用卡贷记，需要重新提供卡信息)
type RefundRequest struct {
	TransactionID string
	Amount        float64
	Card          CardDetails
	Info          string
}

// PaymentGateway 支付网关客户端接口 (防腐层)
type PaymentGateway interface {
	Hold(ctx context.Context, req *HoldRequest) (*GatewayResult, error)
	CaptureFull(ctx context.Context, transactionID string, amount float64) (*GatewayResult, error)
	CapturePartial(ctx context.Context, req *PartialCaptureRequest) (*GatewayResult, error)
	Cancel(ctx context.Context, transactionID string) (*GatewayResult, error)
	Refund(ctx context.Context, req *RefundRequest) (*GatewayResult, error)
}
