package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	ActionSendMessage = "send_message"
	ActionOpenWindow  = "open_window"
	ActionAPIRequest  = "api_request"
)

// TokenBucket refills refillRate tokens every refillTime up to maxTokens.
type TokenBucket struct {
	tokens     int
	maxTokens  int
	refillRate int
	refillTime time.Duration
	lastRefill time.Time
	lastUsed   time.Time
	mutex      sync.Mutex
}

func NewTokenBucket(maxTokens, refillRate int, refillTime time.Duration) *TokenBucket {
	now := time.Now()
	return &TokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		refillTime: refillTime,
		lastRefill: now,
		lastUsed:   now,
	}
}

// Allow consumes a token if one is available. When none is, it returns
// how long until the next refill.
func (tb *TokenBucket) Allow() (bool, time.Duration) {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	now := time.Now()
	tb.lastUsed = now

	elapsed := now.Sub(tb.lastRefill)
	tokensToAdd := int(elapsed/tb.refillTime) * tb.refillRate
	if tokensToAdd > 0 {
		tb.tokens += tokensToAdd
		if tb.tokens > tb.maxTokens {
			tb.tokens = tb.maxTokens
		}
		tb.lastRefill = tb.lastRefill.Add(time.Duration(tokensToAdd/tb.refillRate) * tb.refillTime)
	}

	if tb.tokens > 0 {
		tb.tokens--
		return true, 0
	}

	return false, tb.lastRefill.Add(tb.refillTime).Sub(now)
}

func (tb *TokenBucket) idleSince() time.Time {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()
	return tb.lastUsed
}

// RateLimiter keeps one bucket per user and action.
type RateLimiter struct {
	buckets       map[string]*TokenBucket
	sendPerMinute int
	mutex         sync.RWMutex
}

// NewRateLimiter allows sendPerMinute messages per user per minute.
func NewRateLimiter(sendPerMinute int) *RateLimiter {
	if sendPerMinute <= 0 {
		sendPerMinute = 10
	}
	return &RateLimiter{
		buckets:       make(map[string]*TokenBucket),
		sendPerMinute: sendPerMinute,
	}
}

func (rl *RateLimiter) newBucket(action string) *TokenBucket {
	switch action {
	case ActionSendMessage:
		return NewTokenBucket(rl.sendPerMinute, 1, time.Minute/time.Duration(rl.sendPerMinute))
	case ActionOpenWindow:
		// 30 window opens per minute
		return NewTokenBucket(30, 1, 2*time.Second)
	case ActionAPIRequest:
		return NewTokenBucket(120, 2, time.Second)
	default:
		return NewTokenBucket(20, 1, 3*time.Second)
	}
}

func (rl *RateLimiter) Allow(userID, action string) (bool, time.Duration) {
	key := userID + ":" + action

	rl.mutex.RLock()
	bucket, exists := rl.buckets[key]
	rl.mutex.RUnlock()

	if !exists {
		rl.mutex.Lock()
		if bucket, exists = rl.buckets[key]; !exists {
			bucket = rl.newBucket(action)
			rl.buckets[key] = bucket
		}
		rl.mutex.Unlock()
	}

	return bucket.Allow()
}

// Cleanup drops buckets unused for longer than idle.
func (rl *RateLimiter) Cleanup(idle time.Duration) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := time.Now()
	for key, bucket := range rl.buckets {
		if now.Sub(bucket.idleSince()) > idle {
			delete(rl.buckets, key)
		}
	}
}

func (rl *RateLimiter) StartCleanupRoutine(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				rl.Cleanup(time.Hour)
			case <-ctx.Done():
				return
			}
		}
	}()
}
