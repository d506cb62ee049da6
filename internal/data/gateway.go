package data

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"xinyuan_tech/fulfillment-service/internal/biz"
	"xinyuan_tech/fulfillment-service/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
)

// hyp 网关 action 取值
const (
	actionSoft   = "soft"        // 冻结或扣款，由金额符号和原交易引用参数区分
	actionCommit = "commitTrans" // 按交易号全额扣款 (遗留)
	actionCancel = "CancelTrans"
	actionRefund = "zikoyAPI"
)

// successCodes 各 action 的成功码表。网关对不同 action 返回不同的成功码，
// 0 通用；700/800 表示冻结受理；250 表示扣款成功但带告警。
var successCodes = map[string]map[string]bool{
	actionSoft:   {"0": true, "700": true, "800": true, "250": true},
	actionCommit: {"0": true, "250": true},
	actionCancel: {"0": true},
	actionRefund: {"0": true},
}

// hypGateway hyp 支付网关客户端 (防腐层)。
// 协议为 HTTP POST + URL 编码键值对，应答同样是 URL 编码键值对。
type hypGateway struct {
	baseURL  string
	masof    string
	apiKey   string
	passP    string
	currency string
	client   *http.Client
	log      *log.Helper
}

// NewHypGateway 创建网关客户端
func NewHypGateway(c *conf.Bootstrap, logger log.Logger) biz.PaymentGateway {
	g := &hypGateway{
		currency: "1",
		client:   &http.Client{},
		log:      log.NewHelper(logger),
	}
	if c != nil && c.Gateway != nil {
		g.baseURL = c.Gateway.BaseURL
		g.masof = c.Gateway.Masof
		g.apiKey = c.Gateway.ApiKey
		g.passP = c.Gateway.PassP
		if c.Gateway.Currency != "" {
			g.currency = c.Gateway.Currency
		}
		g.client.Timeout = c.Gateway.GatewayTimeout()
	}
	return g
}

// Hold 冻结额度：action=soft，正金额，不带原交易引用
func (g *hypGateway) Hold(ctx context.Context, req *biz.HoldRequest) (*biz.GatewayResult, error) {
	params := g.baseParams(actionSoft)
	params.Set("Amount", formatAmount(req.Amount))
	params.Set("Order", req.OrderNumber)
	params.Set("Info", req.Info)
	params.Set("UserId", strconv.FormatUint(req.CustomerID, 10))
	setCardParams(params, &req.Card)
	// J5: 只授权不清算
	params.Set("Postpone", "True")
	return g.do(ctx, actionSoft, params)
}

// CaptureFull 按交易号全额扣款 (遗留通道)
func (g *hypGateway) CaptureFull(ctx context.Context, transactionID string, amount float64) (*biz.GatewayResult, error) {
	params := g.baseParams(actionCommit)
	params.Set("TransId", transactionID)
	params.Set("Amount", formatAmount(amount))
	return g.do(ctx, actionCommit, params)
}

// CapturePartial 部分扣款：action=soft，回传原授权码、原交易 UID 和原始金额
func (g *hypGateway) CapturePartial(ctx context.Context, req *biz.PartialCaptureRequest) (*biz.GatewayResult, error) {
	params := g.baseParams(actionSoft)
	params.Set("TransId", req.TransactionID)
	params.Set("Amount", formatAmount(req.Amount))
	params.Set("AuthNr", req.AuthCode)
	params.Set("UID", req.UID)
	params.Set("OriginalAmount", formatAmount(req.OriginalAmount))
	return g.do(ctx, actionSoft, params)
}

// Cancel 撤销冻结
func (g *hypGateway) Cancel(ctx context.Context, transactionID string) (*biz.GatewayResult, error) {
	params := g.baseParams(actionCancel)
	params.Set("TransId", transactionID)
	return g.do(ctx, actionCancel, params)
}

// Refund 退款：信用卡贷记 (负金额扣款)，需要重新提供卡信息
func (g *hypGateway) Refund(ctx context.Context, req *biz.RefundRequest) (*biz.GatewayResult, error) {
	params := g.baseParams(actionRefund)
	params.Set("TransId", req.TransactionID)
	params.Set("Amount", formatAmount(-req.Amount))
	params.Set("Info", req.Info)
	setCardParams(params, &req.Card)
	return g.do(ctx, actionRefund, params)
}

func (g *hypGateway) baseParams(action string) url.Values {
	params := url.Values{}
	params.Set("action", action)
	params.Set("Masof", g.masof)
	if g.apiKey != "" {
		params.Set("KEY", g.apiKey)
	}
	if g.passP != "" {
		params.Set("PassP", g.passP)
	}
	params.Set("Coin", g.currency)
	return params
}

// formatAmount 网关要求两位小数的金额字符串
func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', 2, 64)
}

func setCardParams(params url.Values, card *biz.CardDetails) {
	params.Set("CC", card.Number)
	params.Set("Tmonth", fmt.Sprintf("%02d", card.ExpMonth))
	params.Set("Tyear", strconv.Itoa(card.ExpYear))
	params.Set("cvv", card.CVV)
	params.Set("UserId", card.HolderID)
	params.Set("ClientName", card.HolderName)
}

// do 发送请求并把网关专有的结果码归一化为 OK + 原因码。
// 网络错误和 5xx/429 标记为可重试；其他 HTTP 4xx 与拒绝码为永久失败。
func (g *hypGateway) do(ctx context.Context, action string, params url.Values) (*biz.GatewayResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL,
		strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		g.log.Warnf("Gateway request failed (action=%s): %v", action, err)
		return &biz.GatewayResult{
			OK:        false,
			Code:      "network_error",
			Reason:    err.Error(),
			Retryable: true,
		}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		g.log.Warnf("Gateway returned HTTP %d (action=%s, retryable=%v)", resp.StatusCode, action, retryable)
		return &biz.GatewayResult{
			OK:        false,
			Code:      fmt.Sprintf("http_%d", resp.StatusCode),
			Reason:    fmt.Sprintf("gateway returned HTTP %d", resp.StatusCode),
			Retryable: retryable,
		}, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &biz.GatewayResult{
			OK:        false,
			Code:      "read_error",
			Reason:    err.Error(),
			Retryable: true,
		}, nil
	}

	return parseGatewayResponse(action, string(body)), nil
}

// parseGatewayResponse 解析 URL 编码应答并套用 action 专属的成功码表
func parseGatewayResponse(action, body string) *biz.GatewayResult {
	values, err := url.ParseQuery(strings.TrimSpace(body))
	if err != nil {
		return &biz.GatewayResult{
			OK:        false,
			Code:      "bad_response",
			Reason:    "failed to parse gateway response",
			Retryable: true,
		}
	}

	code := values.Get("CCode")
	result := &biz.GatewayResult{
		Code:          code,
		TransactionID: values.Get("Id"),
		AuthCode:      values.Get("ACode"),
		UID:           values.Get("UID"),
	}
	if amount := values.Get("Amount"); amount != "" {
		result.Amount, _ = strconv.ParseFloat(amount, 64)
	}

	if successCodes[action][code] {
		result.OK = true
		return result
	}

	result.Reason = declineReason(code, values.Get("errMsg"))
	// 网关业务拒绝码都是永久失败，不重试
	result.Retryable = false
	return result
}

// declineReason 拒绝码转成员工可读的原因
func declineReason(code, errMsg string) string {
	if errMsg != "" {
		return fmt.Sprintf("declined (code %s): %s", code, errMsg)
	}
	return fmt.Sprintf("declined with gateway code %s", code)
}
