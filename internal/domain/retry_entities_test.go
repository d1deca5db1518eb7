package domain

import (
	"errors"
	"testing"
	"time"
)

func TestRetryInfo_ShouldRetry_RespectsMaxAttempts(t *testing.T) {
	cfg := DefaultRetryConfig()
	ri := &RetryInfo{AttemptCount: cfg.MaxRetries}

	if ri.ShouldRetry(errors.New("timeout"), cfg) {
		t.Fatalf("expected ShouldRetry to be false once AttemptCount reaches MaxRetries")
	}
}

func TestRetryInfo_ShouldRetry_NonRetryableError(t *testing.T) {
	cfg := DefaultRetryConfig()
	ri := &RetryInfo{}

	if ri.ShouldRetry(errors.New("not found"), cfg) {
		t.Fatalf("expected a non-retryable error to short-circuit ShouldRetry")
	}
}

func TestRetryInfo_ShouldRetry_RetryableError(t *testing.T) {
	cfg := DefaultRetryConfig()
	ri := &RetryInfo{}

	if !ri.ShouldRetry(errors.New("upstream timeout"), cfg) {
		t.Fatalf("expected a known-retryable error to allow a retry")
	}
}

func TestRetryInfo_ShouldRetry_AlreadyInDLQ(t *testing.T) {
	cfg := DefaultRetryConfig()
	ri := &RetryInfo{RetryStatus: RetryStatusDLQ}

	if ri.ShouldRetry(errors.New("upstream timeout"), cfg) {
		t.Fatalf("expected a DLQ'd job never to be retried again")
	}
}

func TestRetryInfo_CalculateNextRetryDelay_ExponentialAndCapped(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 1 * time.Second, MaxDelay: 5 * time.Second, Multiplier: 2.0, Jitter: false}

	first := (&RetryInfo{AttemptCount: 0}).CalculateNextRetryDelay(cfg)
	second := (&RetryInfo{AttemptCount: 1}).CalculateNextRetryDelay(cfg)
	capped := (&RetryInfo{AttemptCount: 10}).CalculateNextRetryDelay(cfg)

	if first != 1*time.Second {
		t.Fatalf("first delay = %s, want 1s", first)
	}
	if second != 2*time.Second {
		t.Fatalf("second delay = %s, want 2s", second)
	}
	if capped != cfg.MaxDelay {
		t.Fatalf("capped delay = %s, want the configured max %s", capped, cfg.MaxDelay)
	}
}

func TestRetryInfo_UpdateRetryAttempt_TracksErrorHistory(t *testing.T) {
	ri := &RetryInfo{}
	ri.UpdateRetryAttempt(errors.New("boom 1"))
	ri.UpdateRetryAttempt(errors.New("boom 2"))

	if ri.AttemptCount != 2 {
		t.Fatalf("AttemptCount = %d, want 2", ri.AttemptCount)
	}
	if len(ri.ErrorHistory) != 2 || ri.ErrorHistory[1] != "boom 2" {
		t.Fatalf("unexpected error history: %v", ri.ErrorHistory)
	}
	if ri.LastError != "boom 2" {
		t.Fatalf("LastError = %q, want %q", ri.LastError, "boom 2")
	}
}

func TestRetryInfo_MarkTransitions(t *testing.T) {
	ri := &RetryInfo{}

	ri.MarkAsRetrying()
	if ri.RetryStatus != RetryStatusRetrying {
		t.Fatalf("status = %s, want retrying", ri.RetryStatus)
	}

	ri.MarkAsExhausted()
	if ri.RetryStatus != RetryStatusExhausted {
		t.Fatalf("status = %s, want exhausted", ri.RetryStatus)
	}

	ri.MarkAsDLQ()
	if ri.RetryStatus != RetryStatusDLQ {
		t.Fatalf("status = %s, want dlq", ri.RetryStatus)
	}
}
