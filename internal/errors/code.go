package errors

import (
	"fmt"
	"net/http"

	kerrors "github.com/go-kratos/kratos/v2/errors"
)

// 履约服务错误码定义
// 错误码格式：SSMMEE (6位数字)，其中 SS=14 表示 fulfillment-service
// 模块划分：
//   01: 订单模块
//   02: 支付模块
//   03: 扣款调度模块
//   04: 退款模块

// 订单模块 (140100-140199)
const (
	// ErrCodeOrderNotFound 订单不存在错误
	ErrCodeOrderNotFound = 140101
	// ErrCodeItemNotFound 订单商品不存在错误
	ErrCodeItemNotFound = 140102
	// ErrCodeItemAlreadyDecided 商品已处于终态，不能回退
	ErrCodeItemAlreadyDecided = 140103
	// ErrCodeInvalidStatusTransition 非法的支付状态流转
	ErrCodeInvalidStatusTransition = 140104
)

// 支付模块 (140200-140299)
const (
	// ErrCodeInvalidCard 卡信息无效错误
	ErrCodeInvalidCard = 140201
	// ErrCodeNoTransactionRef 缺少网关交易引用，无法扣款
	ErrCodeNoTransactionRef = 140202
	// ErrCodeHoldFailed 冻结额度失败
	ErrCodeHoldFailed = 140203
	// ErrCodeNotChargeable 订单当前状态不可扣款
	ErrCodeNotChargeable = 140204
)

// 扣款调度模块 (140300-140399)
const (
	// ErrCodeChargeRunFailed 扣款批次执行失败
	ErrCodeChargeRunFailed = 140301
)

// 退款模块 (140400-140499)
const (
	// ErrCodeNothingToRefund 没有可退款金额
	ErrCodeNothingToRefund = 140401
	// ErrCodeRefundReasonRequired 退款原因必填
	ErrCodeRefundReasonRequired = 140402
	// ErrCodeRefundFailed 网关退款失败
	ErrCodeRefundFailed = 140403
	// ErrCodeNotCharged 订单未扣款，不能退款
	ErrCodeNotCharged = 140404
)

// reasons 错误码对应的 reason 标识 (透传给前端定位)
var reasons = map[int]string{
	ErrCodeOrderNotFound:           "ORDER_NOT_FOUND",
	ErrCodeItemNotFound:            "ITEM_NOT_FOUND",
	ErrCodeItemAlreadyDecided:      "ITEM_ALREADY_DECIDED",
	ErrCodeInvalidStatusTransition: "INVALID_STATUS_TRANSITION",
	ErrCodeInvalidCard:             "INVALID_CARD",
	ErrCodeNoTransactionRef:        "NO_TRANSACTION_REF",
	ErrCodeHoldFailed:              "HOLD_FAILED",
	ErrCodeNotChargeable:           "NOT_CHARGEABLE",
	ErrCodeChargeRunFailed:         "CHARGE_RUN_FAILED",
	ErrCodeNothingToRefund:         "NOTHING_TO_REFUND",
	ErrCodeRefundReasonRequired:    "REFUND_REASON_REQUIRED",
	ErrCodeRefundFailed:            "REFUND_FAILED",
	ErrCodeNotCharged:              "NOT_CHARGED",
}

// New 根据业务错误码构造 kratos 错误
func New(code int, format string, args ...interface{}) *kerrors.Error {
	reason, ok := reasons[code]
	if !ok {
		reason = "UNKNOWN"
	}
	e := kerrors.New(httpStatus(code), reason, fmt.Sprintf(format, args...))
	e.Metadata = map[string]string{"biz_code": fmt.Sprintf("%d", code)}
	return e
}

// IsBizError 判断是否为本服务的业务错误
func IsBizError(err error) bool {
	se := kerrors.FromError(err)
	if se == nil {
		return false
	}
	_, ok := se.Metadata["biz_code"]
	return ok
}

// httpStatus 业务错误码映射到 HTTP 状态码
func httpStatus(code int) int {
	switch code {
	case ErrCodeOrderNotFound, ErrCodeItemNotFound:
		return http.StatusNotFound
	case ErrCodeInvalidStatusTransition, ErrCodeItemAlreadyDecided, ErrCodeNotChargeable, ErrCodeNotCharged:
		return http.StatusConflict
	case ErrCodeChargeRunFailed, ErrCodeHoldFailed, ErrCodeRefundFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
