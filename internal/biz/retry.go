package biz

import (
	"time"

	"xinyuan_tech/fulfillment-service/internal/constants"
)

// Backoff 第 n 次重试前的等待时长：5, 10, 20, 40, ... 分钟
// n 为已累计的失败次数 (>=1)。
func Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return constants.RetryBackoffBase << uint(n-1)
}

// scheduleRetry 根据失败分类更新支付子文档。
// 返回 willRetry；永久失败或重试耗尽时置 failed。
func scheduleRetry(p *Payment, result *GatewayResult, now time.Time) bool {
	if !result.Retryable {
		// 永久失败：4xx/明确拒绝，立刻失败，不调度重试，不动计数器
		p.Status = constants.PaymentStatusFailed
		p.LastError = result.Reason
		p.NextRetryAt = nil
		return false
	}

	maxRetries := p.MaxRetries
	if maxRetries <= 0 {
		maxRetries = constants.DefaultMaxRetries
	}
	if p.RetryCount >= maxRetries {
		p.Status = constants.PaymentStatusFailed
		p.AppendRetryError(result.Code, result.Reason)
		p.NextRetryAt = nil
		return false
	}

	p.RetryCount++
	p.AppendRetryError(result.Code, result.Reason)
	p.Status = constants.PaymentStatusRetryPending
	next := now.Add(Backoff(p.RetryCount))
	p.NextRetryAt = &next
	return true
}
