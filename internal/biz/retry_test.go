package biz

import (
	"testing"
	"time"

	"xinyuan_tech/fulfillment-service/internal/constants"
)

func TestBackoff(t *testing.T) {
	cases := []struct {
		n    int
		want time.Duration
	}{
		{0, 5 * time.Minute},
		{1, 5 * time.Minute},
		{2, 10 * time.Minute},
		{3, 20 * time.Minute},
		{4, 40 * time.Minute},
	}
	for _, c := range cases {
		if got := Backoff(c.n); got != c.want {
			t.Errorf("Backoff(%d) = %v, want %v", c.n, got, c.want)
		}
	}
}

func TestScheduleRetryTransientSequence(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := &Payment{Status: constants.PaymentStatusReadyToCharge, MaxRetries: 3}
	transient := &GatewayResult{Code: "network_error", Reason: "connection refused", Retryable: true}

	wantDelays := []time.Duration{5 * time.Minute, 10 * time.Minute, 20 * time.Minute}
	for i, delay := range wantDelays {
		if !scheduleRetry(p, transient, now) {
			t.Fatalf("attempt %d: expected a retry to be scheduled", i+1)
		}
		if p.Status != constants.PaymentStatusRetryPending {
			t.Fatalf("attempt %d: status = %s, want retry_pending", i+1, p.Status)
		}
		if p.RetryCount != i+1 {
			t.Fatalf("attempt %d: retry count = %d, want %d", i+1, p.RetryCount, i+1)
		}
		if p.NextRetryAt == nil || !p.NextRetryAt.Equal(now.Add(delay)) {
			t.Fatalf("attempt %d: next retry at %v, want %v", i+1, p.NextRetryAt, now.Add(delay))
		}
	}

	// 第四次瞬时失败：重试耗尽，转为永久失败
	if scheduleRetry(p, transient, now) {
		t.Fatal("retries exhausted, no further retry should be scheduled")
	}
	if p.Status != constants.PaymentStatusFailed {
		t.Errorf("status = %s, want failed", p.Status)
	}
	if p.RetryCount != 3 {
		t.Errorf("retry count = %d, want 3 (unchanged after exhaustion)", p.RetryCount)
	}
	if p.NextRetryAt != nil {
		t.Errorf("next retry at = %v, want nil", p.NextRetryAt)
	}
	if len(p.RetryErrors) != 4 {
		t.Errorf("retry error log length = %d, want 4", len(p.RetryErrors))
	}
}

func TestScheduleRetryPermanentFailure(t *testing.T) {
	now := time.Now().UTC()
	p := &Payment{Status: constants.PaymentStatusReadyToCharge, MaxRetries: 3}
	declined := &GatewayResult{Code: "33", Reason: "card declined", Retryable: false}

	if scheduleRetry(p, declined, now) {
		t.Fatal("permanent failure must not schedule a retry")
	}
	if p.Status != constants.PaymentStatusFailed {
		t.Errorf("status = %s, want failed", p.Status)
	}
	if p.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0 (permanent failure skips the counter)", p.RetryCount)
	}
	if p.NextRetryAt != nil {
		t.Errorf("next retry at = %v, want nil", p.NextRetryAt)
	}
	if p.LastError != "card declined" {
		t.Errorf("last error = %q, want card declined", p.LastError)
	}
}

func TestScheduleRetryDefaultsMaxRetries(t *testing.T) {
	now := time.Now().UTC()
	p := &Payment{Status: constants.PaymentStatusReadyToCharge} // MaxRetries 未设置
	transient := &GatewayResult{Code: "http_503", Reason: "gateway unavailable", Retryable: true}

	for i := 0; i < constants.DefaultMaxRetries; i++ {
		if !scheduleRetry(p, transient, now) {
			t.Fatalf("attempt %d: expected retry with default max retries", i+1)
		}
	}
	if scheduleRetry(p, transient, now) {
		t.Fatal("default max retries exhausted, no further retry")
	}
	if p.Status != constants.PaymentStatusFailed {
		t.Errorf("status = %s, want failed", p.Status)
	}
}
