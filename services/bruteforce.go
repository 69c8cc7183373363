package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/yourusername/ember/models"
)

// Escalation constants. Five failures inside the counting window locks
// the IP out; three lockouts inside a day escalates to a ban.
const (
	MaxAttempts        = 5
	AttemptWindow      = 15 * time.Minute
	AttemptRetention   = time.Hour
	LockoutDuration    = 30 * time.Minute
	MaxLockouts        = 3
	LockoutCountWindow = 24 * time.Hour
	BanDuration        = 24 * time.Hour
)

const (
	attemptsPrefix  = "security:attempts:"
	lockoutPrefix   = "security:lockout:"
	lockCountPrefix = "security:lockcount:"
	lockoutIndexKey = "security:lockout:index"
)

type DecisionKind string

const (
	// DecisionBanned is terminal for the request; no retry guidance
	// beyond "later".
	DecisionBanned DecisionKind = "banned"
	// DecisionLockedOut carries a retry-after for the end user.
	DecisionLockedOut DecisionKind = "locked_out"
)

// LoginDecision is the structured result of a pre-authentication gate.
type LoginDecision struct {
	Kind       DecisionKind  `json:"kind"`
	Message    string        `json:"message"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

type SecurityStats struct {
	TotalLoginAttempts int `json:"total_login_attempts"`
	FailedLast24h      int `json:"failed_attempts_24h"`
	BlockedAttempts    int `json:"blocked_attempts"`
	SecurityEvents     int `json:"security_events"`
	ActiveBans         int `json:"active_bans"`
	ActiveLockouts     int `json:"active_lockouts"`
}

// BruteForceGuard tracks failed logins per client IP and escalates:
// repeated failures trigger a temporary lockout, repeated lockouts a
// durable ban. A successful login clears the failure record but never
// the lockout history or a standing ban.
type BruteForceGuard struct {
	store    Store
	bans     *BanStore
	events   *EventSink
	resolver *ClientIPResolver
	validate *validator.Validate

	// Serializes updates to the lockout index sequence.
	indexMu sync.Mutex

	now func() time.Time
}

func NewBruteForceGuard(store Store, bans *BanStore, events *EventSink, resolver *ClientIPResolver) *BruteForceGuard {
	return &BruteForceGuard{
		store:    store,
		bans:     bans,
		events:   events,
		resolver: resolver,
		validate: validator.New(),
		now:      time.Now,
	}
}

// OnLoginFailed records a failed attempt for the requesting IP and runs
// the escalation ladder. The attempt is always logged, whatever the
// lockout outcome.
func (g *BruteForceGuard) OnLoginFailed(c *fiber.Ctx, username string) {
	ctx := c.UserContext()
	ip := g.resolver.Resolve(c)
	userAgent := c.Get("User-Agent")
	now := g.now()

	g.events.RecordLoginAttempt(ctx, models.LoginAttempt{
		IP:        ip,
		Username:  username,
		UserAgent: userAgent,
		Success:   false,
		Timestamp: now,
	})

	attempts := g.loadAttempts(ctx, ip)
	attempts = append(attempts, models.AttemptRecord{
		IP:        ip,
		Username:  username,
		UserAgent: userAgent,
		Timestamp: now,
	})
	g.storeAttempts(ctx, ip, attempts)

	recent := 0
	cutoff := now.Add(-AttemptWindow)
	for _, attempt := range attempts {
		if attempt.Timestamp.After(cutoff) {
			recent++
		}
	}
	if recent < MaxAttempts {
		return
	}

	// Threshold reached: start a lockout episode and reset the attempt
	// sequence so the next episode needs a fresh run of failures.
	_ = g.store.Delete(ctx, attemptsPrefix+ip)
	g.lockOut(ctx, ip, now)
}

func (g *BruteForceGuard) lockOut(ctx context.Context, ip string, now time.Time) {
	lockout := models.LockoutState{
		IP:              ip,
		StartedAt:       now,
		DurationSeconds: int64(LockoutDuration.Seconds()),
	}
	if data, err := json.Marshal(lockout); err == nil {
		_ = g.store.Set(ctx, lockoutPrefix+ip, string(data), LockoutDuration)
	}
	g.indexLockout(ctx, ip, lockout.ExpiresAt())

	count, err := g.store.Increment(ctx, lockCountPrefix+ip, LockoutCountWindow)
	if err != nil {
		count = 1
	}

	g.events.RecordEvent(ctx, models.SecurityEvent{
		Type:        "lockout",
		IP:          ip,
		Severity:    models.SeverityMedium,
		Description: fmt.Sprintf("IP locked out for %s after %d failed logins (lockout %d of %d)", LockoutDuration, MaxAttempts, count, MaxLockouts),
		Timestamp:   now,
	})

	if count < MaxLockouts {
		return
	}

	ban := models.BanRecord{
		IP:              ip,
		StartedAt:       now,
		DurationSeconds: int64(BanDuration.Seconds()),
		Reason:          fmt.Sprintf("%d lockouts within %s", count, LockoutCountWindow),
		Manual:          false,
	}
	if err := g.bans.Put(ctx, ban); err != nil {
		return
	}

	// High severity notifies the administrator; this is the only
	// notification in the escalation ladder.
	g.events.RecordEvent(ctx, models.SecurityEvent{
		Type:        "ip_banned",
		IP:          ip,
		Severity:    models.SeverityHigh,
		Description: fmt.Sprintf("IP banned for %s: %s", BanDuration, ban.Reason),
		Timestamp:   now,
	})
}

// OnLoginSuccess clears the failed-attempt record for the IP. Lockout
// history and any standing ban are deliberately left in place.
func (g *BruteForceGuard) OnLoginSuccess(c *fiber.Ctx, username string) {
	ctx := c.UserContext()
	ip := g.resolver.Resolve(c)

	_ = g.store.Delete(ctx, attemptsPrefix+ip)

	g.events.RecordLoginAttempt(ctx, models.LoginAttempt{
		IP:        ip,
		Username:  username,
		UserAgent: c.Get("User-Agent"),
		Success:   true,
		Timestamp: g.now(),
	})
}

// CheckLoginAttempt is the pre-authentication gate. Empty credentials
// pass through untouched so the normal validation path can answer.
func (g *BruteForceGuard) CheckLoginAttempt(c *fiber.Ctx, username, password string) *LoginDecision {
	if username == "" || password == "" {
		return nil
	}

	ctx := c.UserContext()
	ip := g.resolver.Resolve(c)

	if ban := g.BanFor(ctx, ip); ban != nil {
		return &LoginDecision{
			Kind:       DecisionBanned,
			Message:    "Your IP address has been banned due to repeated failed login attempts.",
			RetryAfter: ban.Remaining(g.now()),
		}
	}

	if lockout := g.LockoutFor(ctx, ip); lockout != nil {
		remaining := lockout.Remaining(g.now())
		minutes := int(math.Ceil(remaining.Minutes()))
		return &LoginDecision{
			Kind:       DecisionLockedOut,
			Message:    fmt.Sprintf("Too many failed login attempts. Try again in %d minutes.", minutes),
			RetryAfter: remaining,
		}
	}

	return nil
}

// CheckIPBan is the request-time gate, independent of the login flow.
// A banned IP gets its attempt logged and a terminal decision.
func (g *BruteForceGuard) CheckIPBan(c *fiber.Ctx) *LoginDecision {
	ctx := c.UserContext()
	ip := g.resolver.Resolve(c)

	ban := g.BanFor(ctx, ip)
	if ban == nil {
		return nil
	}

	g.events.RecordBlocked(ctx, models.BlockedAttempt{
		IP:        ip,
		Path:      c.Path(),
		Reason:    ban.Reason,
		Timestamp: g.now(),
	})

	return &LoginDecision{
		Kind:       DecisionBanned,
		Message:    "Access denied.",
		RetryAfter: ban.Remaining(g.now()),
	}
}

// BanFor returns the active ban for ip, or nil. Storage errors on the
// read path fail open: an uncertain state never blocks by itself.
func (g *BruteForceGuard) BanFor(ctx context.Context, ip string) *models.BanRecord {
	ban, err := g.bans.Get(ctx, ip)
	if err != nil {
		return nil
	}
	return ban
}

// LockoutFor returns the active lockout for ip, or nil. An expired
// record found in the cache is deleted on the way out.
func (g *BruteForceGuard) LockoutFor(ctx context.Context, ip string) *models.LockoutState {
	raw, found, err := g.store.Get(ctx, lockoutPrefix+ip)
	if err != nil || !found {
		return nil
	}
	var lockout models.LockoutState
	if err := json.Unmarshal([]byte(raw), &lockout); err != nil {
		_ = g.store.Delete(ctx, lockoutPrefix+ip)
		return nil
	}
	if !lockout.Active(g.now()) {
		_ = g.store.Delete(ctx, lockoutPrefix+ip)
		return nil
	}
	return &lockout
}

// ManualBan blocks an IP by administrative action, bypassing the
// lockout counter entirely. The address is validated before any state
// changes.
func (g *BruteForceGuard) ManualBan(ctx context.Context, ip, reason string, duration time.Duration) error {
	if err := g.validate.Var(ip, "required,ip"); err != nil {
		return fmt.Errorf("invalid IP address %q", ip)
	}
	if duration <= 0 {
		duration = BanDuration
	}
	if reason == "" {
		reason = "manual ban"
	}

	now := g.now()
	ban := models.BanRecord{
		IP:              ip,
		StartedAt:       now,
		DurationSeconds: int64(duration.Seconds()),
		Reason:          reason,
		Manual:          true,
	}
	if err := g.bans.Put(ctx, ban); err != nil {
		return err
	}

	g.events.RecordEvent(ctx, models.SecurityEvent{
		Type:        "manual_ban",
		IP:          ip,
		Severity:    models.SeverityMedium,
		Description: fmt.Sprintf("IP banned manually for %s: %s", duration, reason),
		Timestamp:   now,
	})
	return nil
}

func (g *BruteForceGuard) ManualUnban(ctx context.Context, ip string) error {
	if err := g.validate.Var(ip, "required,ip"); err != nil {
		return fmt.Errorf("invalid IP address %q", ip)
	}
	if err := g.bans.Remove(ctx, ip); err != nil {
		return err
	}
	g.events.RecordEvent(ctx, models.SecurityEvent{
		Type:        "manual_unban",
		IP:          ip,
		Severity:    models.SeverityLow,
		Description: "IP ban lifted manually",
		Timestamp:   g.now(),
	})
	return nil
}

// ActiveBans lists every ban currently in effect.
func (g *BruteForceGuard) ActiveBans() ([]models.BanRecord, error) {
	return g.bans.ActiveBans()
}

// SecurityStats aggregates the bounded logs and the ban/lockout state.
func (g *BruteForceGuard) SecurityStats(ctx context.Context) SecurityStats {
	stats := SecurityStats{
		TotalLoginAttempts: len(g.events.LoginAttempts(ctx)),
		FailedLast24h:      g.events.FailedAttemptsSince(ctx, g.now().Add(-24*time.Hour)),
		BlockedAttempts:    len(g.events.BlockedAttempts(ctx)),
		SecurityEvents:     len(g.events.Events(ctx)),
		ActiveLockouts:     g.activeLockouts(ctx),
	}
	if bans, err := g.bans.ActiveBans(); err == nil {
		stats.ActiveBans = len(bans)
	}
	return stats
}

func (g *BruteForceGuard) loadAttempts(ctx context.Context, ip string) []models.AttemptRecord {
	raw, found, err := g.store.Get(ctx, attemptsPrefix+ip)
	if err != nil || !found {
		return nil
	}
	var attempts []models.AttemptRecord
	if err := json.Unmarshal([]byte(raw), &attempts); err != nil {
		return nil
	}
	// Prune lazily on read rather than eagerly
	cutoff := g.now().Add(-AttemptRetention)
	kept := attempts[:0]
	for _, attempt := range attempts {
		if attempt.Timestamp.After(cutoff) {
			kept = append(kept, attempt)
		}
	}
	return kept
}

func (g *BruteForceGuard) storeAttempts(ctx context.Context, ip string, attempts []models.AttemptRecord) {
	if data, err := json.Marshal(attempts); err == nil {
		_ = g.store.Set(ctx, attemptsPrefix+ip, string(data), AttemptRetention)
	}
}

// indexLockout maintains the scan-able set of currently locked IPs that
// backs the active-lockout statistic.
func (g *BruteForceGuard) indexLockout(ctx context.Context, ip string, expiresAt time.Time) {
	g.indexMu.Lock()
	defer g.indexMu.Unlock()

	index := g.readLockoutIndex(ctx)
	index[ip] = expiresAt
	if data, err := json.Marshal(index); err == nil {
		_ = g.store.Set(ctx, lockoutIndexKey, string(data), LockoutCountWindow)
	}
}

func (g *BruteForceGuard) activeLockouts(ctx context.Context) int {
	g.indexMu.Lock()
	defer g.indexMu.Unlock()

	index := g.readLockoutIndex(ctx)
	now := g.now()
	count := 0
	for _, expiresAt := range index {
		if now.Before(expiresAt) {
			count++
		}
	}
	return count
}

func (g *BruteForceGuard) readLockoutIndex(ctx context.Context) map[string]time.Time {
	index := make(map[string]time.Time)
	if raw, found, err := g.store.Get(ctx, lockoutIndexKey); err == nil && found {
		_ = json.Unmarshal([]byte(raw), &index)
	}
	return index
}
