package services

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// RateLimitResult is the outcome of Apply: either the action proceeds
// (with the remaining budget) or it is rejected with retry guidance.
type RateLimitResult struct {
	Allowed    bool          `json:"allowed"`
	Message    string        `json:"message,omitempty"`
	Remaining  int           `json:"remaining_attempts"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// RateLimitInfo is an aggregate snapshot for one action and identity.
type RateLimitInfo struct {
	Rule       RateLimitRule `json:"rule"`
	Count      int64         `json:"count"`
	Remaining  int           `json:"remaining"`
	ResetAfter time.Duration `json:"reset_after"`
}

// RateLimiter throttles named actions per identity. Counters live in
// the expiring store with TTL = the rule window; the TTL restarts on
// every recorded attempt (fixed-window-reset-on-write, not a strict
// sliding log), so a continuously active caller stays limited until it
// backs off for a full window.
//
// Unknown actions are never throttled: no configured policy means no
// limit, by design.
type RateLimiter struct {
	mu    sync.RWMutex
	rules map[string]RateLimitRule
	store Store
}

func NewRateLimiter(store Store, rules map[string]RateLimitRule) *RateLimiter {
	copied := make(map[string]RateLimitRule, len(rules))
	for name, rule := range rules {
		copied[name] = rule
	}
	return &RateLimiter{rules: copied, store: store}
}

// key composes the counter key. It must be identical across the reads
// and writes of one call or the limiter silently tracks the wrong
// bucket; every operation funnels through here.
func (l *RateLimiter) key(action, userID, identity string) string {
	key := "ratelimit:" + action + ":"
	if userID != "" {
		key += "user_" + userID + ":"
	}
	return key + identity
}

func (l *RateLimiter) rule(action string) (RateLimitRule, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rule, ok := l.rules[action]
	return rule, ok
}

func (l *RateLimiter) count(ctx context.Context, key string) int64 {
	raw, found, err := l.store.Get(ctx, key)
	if err != nil || !found {
		// Unreadable counter counts as empty: fail open for throttling
		return 0
	}
	count, _ := strconv.ParseInt(raw, 10, 64)
	return count
}

// IsRateLimited reports whether the action is exhausted for identity.
func (l *RateLimiter) IsRateLimited(ctx context.Context, action, userID, identity string) bool {
	rule, ok := l.rule(action)
	if !ok {
		return false
	}
	return l.count(ctx, l.key(action, userID, identity)) >= int64(rule.Limit)
}

// RecordAttempt counts one use of the action. Returns false for
// unconfigured actions (no-op).
func (l *RateLimiter) RecordAttempt(ctx context.Context, action, userID, identity string) bool {
	rule, ok := l.rule(action)
	if !ok {
		return false
	}
	_, err := l.store.Increment(ctx, l.key(action, userID, identity), rule.WindowDuration())
	return err == nil
}

// Apply is the atomic check-and-record combinator: one increment, one
// comparison, no read-then-write gap.
func (l *RateLimiter) Apply(ctx context.Context, action, userID, identity string) RateLimitResult {
	rule, ok := l.rule(action)
	if !ok {
		return RateLimitResult{Allowed: true, Remaining: -1}
	}

	count, err := l.store.Increment(ctx, l.key(action, userID, identity), rule.WindowDuration())
	if err != nil {
		// Store outage: favor availability for throttling
		return RateLimitResult{Allowed: true, Remaining: rule.Limit}
	}

	if count > int64(rule.Limit) {
		return RateLimitResult{
			Allowed:    false,
			Message:    "Rate limit exceeded for " + action,
			Remaining:  0,
			RetryAfter: l.TimeUntilReset(ctx, action, userID, identity),
		}
	}

	return RateLimitResult{Allowed: true, Remaining: rule.Limit - int(count)}
}

func (l *RateLimiter) RemainingAttempts(ctx context.Context, action, userID, identity string) int {
	rule, ok := l.rule(action)
	if !ok {
		return -1
	}
	remaining := int64(rule.Limit) - l.count(ctx, l.key(action, userID, identity))
	if remaining < 0 {
		remaining = 0
	}
	return int(remaining)
}

// TimeUntilReset returns the actual remaining window when the store can
// report it, otherwise the configured window as an approximation.
func (l *RateLimiter) TimeUntilReset(ctx context.Context, action, userID, identity string) time.Duration {
	rule, ok := l.rule(action)
	if !ok {
		return 0
	}
	if ttl, ok := l.store.TTL(ctx, l.key(action, userID, identity)); ok {
		return ttl
	}
	return rule.WindowDuration()
}

func (l *RateLimiter) ClearRateLimit(ctx context.Context, action, userID, identity string) error {
	return l.store.Delete(ctx, l.key(action, userID, identity))
}

// Info returns a snapshot of every configured action for one identity.
func (l *RateLimiter) Info(ctx context.Context, userID, identity string) map[string]RateLimitInfo {
	info := make(map[string]RateLimitInfo)
	for action, rule := range l.Rules() {
		key := l.key(action, userID, identity)
		count := l.count(ctx, key)
		remaining := int64(rule.Limit) - count
		if remaining < 0 {
			remaining = 0
		}
		reset := rule.WindowDuration()
		if ttl, ok := l.store.TTL(ctx, key); ok {
			reset = ttl
		}
		info[action] = RateLimitInfo{
			Rule:       rule,
			Count:      count,
			Remaining:  int(remaining),
			ResetAfter: reset,
		}
	}
	return info
}

// UpdateRule reconfigures one action at runtime. Process-wide and not
// persisted; the next restart reloads from config.
func (l *RateLimiter) UpdateRule(action string, rule RateLimitRule) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rules[action] = rule
}

// Rules returns a copy of the current rule table.
func (l *RateLimiter) Rules() map[string]RateLimitRule {
	l.mu.RLock()
	defer l.mu.RUnlock()
	copied := make(map[string]RateLimitRule, len(l.rules))
	for name, rule := range l.rules {
		copied[name] = rule
	}
	return copied
}
