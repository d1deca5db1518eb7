package llm

import (
	"sync"
	"time"

	"log/slog"
)

// RateLimitEntry represents a rate-limited model entry.
type RateLimitEntry struct {
	ModelID       string
	BlockedUntil  time.Time
	FailureCount  int
	LastFailure   time.Time
	BlockDuration time.Duration
	MaxFailures   int
}

// IsBlocked checks if the model is currently blocked due to rate limiting.
func (rle *RateLimitEntry) IsBlocked() bool {
	return time.Now().Before(rle.BlockedUntil)
}

// ShouldBlock checks if the model should be blocked based on failure count.
func (rle *RateLimitEntry) ShouldBlock() bool {
	return rle.FailureCount >= rle.MaxFailures
}

// RecordFailure records a failure and potentially blocks the model using
// exponential backoff (capped at 2h).
func (rle *RateLimitEntry) RecordFailure() {
	rle.FailureCount++
	rle.LastFailure = time.Now()

	if rle.ShouldBlock() {
		blockDuration := rle.BlockDuration
		if rle.FailureCount > 1 {
			multiplier := rle.FailureCount - 1
			if multiplier > 10 {
				multiplier = 10
			}
			blockDuration = time.Duration(int64(blockDuration) * (1 << multiplier))
			if blockDuration > 2*time.Hour {
				blockDuration = 2 * time.Hour
			}
		}
		rle.BlockedUntil = time.Now().Add(blockDuration)
		slog.Warn("model blocked due to rate limiting with exponential backoff",
			slog.String("model", rle.ModelID),
			slog.Int("failure_count", rle.FailureCount),
			slog.Duration("block_duration", blockDuration),
			slog.Time("blocked_until", rle.BlockedUntil))
	}
}

// RecordSuccess resets the failure count and unblocks the model.
func (rle *RateLimitEntry) RecordSuccess() {
	if rle.FailureCount > 0 {
		slog.Info("model unblocked after successful request",
			slog.String("model", rle.ModelID),
			slog.Int("previous_failures", rle.FailureCount))
	}
	rle.FailureCount = 0
	rle.BlockedUntil = time.Time{}
}

// GetTimeUntilUnblocked returns the duration until the model is unblocked.
func (rle *RateLimitEntry) GetTimeUntilUnblocked() time.Duration {
	if !rle.IsBlocked() {
		return 0
	}
	return time.Until(rle.BlockedUntil)
}

// RateLimitCache manages rate-limited models with intelligent blocking.
type RateLimitCache struct {
	mu              sync.RWMutex
	blockedModels   map[string]*RateLimitEntry
	defaultDuration time.Duration
	maxFailures     int
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
}

// NewRateLimitCache creates a new rate limit cache.
func NewRateLimitCache() *RateLimitCache {
	cache := &RateLimitCache{
		blockedModels:   make(map[string]*RateLimitEntry),
		defaultDuration: 20 * time.Second,
		maxFailures:     5,
		cleanupInterval: 30 * time.Second,
		stopCleanup:     make(chan struct{}),
	}
	go cache.cleanupRoutine()
	return cache
}

// IsModelBlocked checks if a model is currently blocked due to rate limiting.
func (rlc *RateLimitCache) IsModelBlocked(modelID string) bool {
	rlc.mu.RLock()
	defer rlc.mu.RUnlock()

	entry, exists := rlc.blockedModels[modelID]
	if !exists {
		return false
	}
	return entry.IsBlocked()
}

// RecordFailure records a failure for a model and potentially blocks it.
func (rlc *RateLimitCache) RecordFailure(modelID string) {
	rlc.mu.Lock()
	defer rlc.mu.Unlock()

	entry := rlc.getOrCreateEntry(modelID)
	entry.RecordFailure()
}

// RecordRateLimit records a rate limit event with a specific retry-after duration.
// If retryAfter is zero or negative, the default duration is used.
func (rlc *RateLimitCache) RecordRateLimit(modelID string, retryAfter time.Duration) {
	rlc.mu.Lock()
	defer rlc.mu.Unlock()

	entry := rlc.getOrCreateEntry(modelID)
	entry.FailureCount++
	entry.LastFailure = time.Now()

	blockFor := retryAfter
	if blockFor <= 0 {
		blockFor = rlc.defaultDuration
	}
	entry.BlockedUntil = time.Now().Add(blockFor)

	slog.Warn("model rate-limited; blocking until retry-after",
		slog.String("model", modelID),
		slog.Duration("retry_after", blockFor),
		slog.Int("failure_count", entry.FailureCount))
}

// RecordSuccess records a success for a model and unblocks it.
func (rlc *RateLimitCache) RecordSuccess(modelID string) {
	rlc.mu.Lock()
	defer rlc.mu.Unlock()

	entry := rlc.getOrCreateEntry(modelID)
	entry.RecordSuccess()
}

// RemainingBlockDuration returns how long until a model becomes unblocked.
// Returns 0 if the model is not currently blocked or unknown.
func (rlc *RateLimitCache) RemainingBlockDuration(modelID string) time.Duration {
	rlc.mu.RLock()
	defer rlc.mu.RUnlock()

	entry, exists := rlc.blockedModels[modelID]
	if !exists || !entry.IsBlocked() {
		return 0
	}
	return entry.GetTimeUntilUnblocked()
}

// Stop stops the cleanup routine.
func (rlc *RateLimitCache) Stop() {
	close(rlc.stopCleanup)
}

func (rlc *RateLimitCache) getOrCreateEntry(modelID string) *RateLimitEntry {
	entry, exists := rlc.blockedModels[modelID]
	if !exists {
		entry = &RateLimitEntry{
			ModelID:       modelID,
			BlockDuration: rlc.defaultDuration,
			MaxFailures:   rlc.maxFailures,
		}
		rlc.blockedModels[modelID] = entry
	}
	return entry
}

func (rlc *RateLimitCache) cleanupRoutine() {
	ticker := time.NewTicker(rlc.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rlc.cleanup()
		case <-rlc.stopCleanup:
			return
		}
	}
}

func (rlc *RateLimitCache) cleanup() {
	rlc.mu.Lock()
	defer rlc.mu.Unlock()

	now := time.Now()
	expired := make([]string, 0)
	for modelID, entry := range rlc.blockedModels {
		if !entry.IsBlocked() && now.Sub(entry.LastFailure) > rlc.defaultDuration*2 {
			expired = append(expired, modelID)
		}
	}
	for _, modelID := range expired {
		delete(rlc.blockedModels, modelID)
	}
}
