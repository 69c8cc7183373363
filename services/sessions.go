package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/yourusername/ember/models"
)

const (
	SessionTimeout = 30 * time.Minute
	MaxSessionAge  = 24 * time.Hour
)

const (
	sessionCachePrefix = "security:session:"
	sessionMetaKey     = "security_session"
)

// SessionMonitor keeps one live session slot per authenticated user and
// checks every request for expiry and anomalies. An IP change alone is
// tolerated (mobile roaming); a user-agent change or a concurrent
// session is fatal and forces re-authentication.
//
// Session state is dual-written: the cache is the hot path, the user
// meta row the backup consulted on a cache miss.
type SessionMonitor struct {
	store    Store
	meta     models.UserMetaRepositoryInterface
	events   *EventSink
	resolver *ClientIPResolver

	now func() time.Time
}

func NewSessionMonitor(store Store, meta models.UserMetaRepositoryInterface, events *EventSink, resolver *ClientIPResolver) *SessionMonitor {
	return &SessionMonitor{
		store:    store,
		meta:     meta,
		events:   events,
		resolver: resolver,
		now:      time.Now,
	}
}

// OnLogin creates fresh session state for the user. The single slot
// supersedes any prior token: single-active-session is enforced here,
// not by the platform. The raw token is never stored, only its hash.
func (m *SessionMonitor) OnLogin(c *fiber.Ctx, userID uuid.UUID, token string) {
	ctx := c.UserContext()
	now := m.now()

	loginCount := 1
	if prior := m.load(ctx, userID); prior != nil {
		loginCount = prior.LoginCount + 1
	}

	state := models.SessionState{
		UserID:       userID,
		LoginTime:    now,
		LastActivity: now,
		IP:           m.resolver.Resolve(c),
		UserAgent:    c.Get("User-Agent"),
		TokenHash:    HashToken(token),
		LoginCount:   loginCount,
	}
	m.save(ctx, state)
}

// OnLogout deletes the session state everywhere. The platform revokes
// its own bearer token independently.
func (m *SessionMonitor) OnLogout(c *fiber.Ctx, userID uuid.UUID) {
	ctx := c.UserContext()
	m.purge(ctx, userID)
}

// Validate runs near the start of authenticated request handling, after
// the platform's own token check. Returns false when the session has
// been invalidated and the request must be rejected.
func (m *SessionMonitor) Validate(c *fiber.Ctx, userID uuid.UUID, token string) bool {
	if userID == uuid.Nil {
		return true
	}

	ctx := c.UserContext()
	state := m.load(ctx, userID)
	if state == nil {
		// No tracked state (e.g. first request after deploy): let the
		// platform's own session layer govern
		return true
	}

	now := m.now()

	if now.Sub(state.LastActivity) > SessionTimeout || now.Sub(state.LoginTime) > MaxSessionAge {
		m.events.RecordEvent(ctx, models.SecurityEvent{
			Type:        "session_expired",
			IP:          state.IP,
			UserID:      &userID,
			Severity:    models.SeverityLow,
			Description: "Session expired; forcing re-authentication",
			Timestamp:   now,
		})
		m.purge(ctx, userID)
		return false
	}

	ip := m.resolver.Resolve(c)
	userAgent := c.Get("User-Agent")

	if token != "" && HashToken(token) != state.TokenHash {
		// A different live token for the same user: the single-slot
		// policy makes the newest login the only valid one
		m.events.RecordEvent(ctx, models.SecurityEvent{
			Type:        "concurrent_sessions",
			IP:          ip,
			UserID:      &userID,
			Severity:    models.SeverityHigh,
			Description: "Request carried a superseded session token",
			Timestamp:   now,
		})
		m.purge(ctx, userID)
		return false
	}

	if userAgent != state.UserAgent {
		m.events.RecordEvent(ctx, models.SecurityEvent{
			Type:        "user_agent_change",
			IP:          ip,
			UserID:      &userID,
			Severity:    models.SeverityHigh,
			Description: "User agent changed mid-session",
			Timestamp:   now,
		})
		m.purge(ctx, userID)
		return false
	}

	if ip != state.IP {
		// Logged but not fatal: mobile clients roam between networks
		m.events.RecordEvent(ctx, models.SecurityEvent{
			Type:        "ip_change",
			IP:          ip,
			UserID:      &userID,
			Severity:    models.SeverityLow,
			Description: "Client IP changed mid-session (was " + state.IP + ")",
			Timestamp:   now,
		})
		state.IP = ip
	}

	state.LastActivity = now
	m.save(ctx, *state)
	return true
}

// Session returns the tracked state for a user, or nil.
func (m *SessionMonitor) Session(ctx context.Context, userID uuid.UUID) *models.SessionState {
	return m.load(ctx, userID)
}

func (m *SessionMonitor) load(ctx context.Context, userID uuid.UUID) *models.SessionState {
	key := sessionCachePrefix + userID.String()

	if raw, found, err := m.store.Get(ctx, key); err == nil && found {
		var state models.SessionState
		if err := json.Unmarshal([]byte(raw), &state); err == nil {
			return &state
		}
	}

	// Backup read path: the durable per-user field
	value, err := m.meta.Get(userID, sessionMetaKey)
	if err != nil || value == nil {
		return nil
	}
	var state models.SessionState
	if err := json.Unmarshal(value, &state); err != nil {
		return nil
	}

	remaining := MaxSessionAge - m.now().Sub(state.LoginTime)
	if remaining > 0 {
		_ = m.store.Set(ctx, key, string(value), remaining)
	}
	return &state
}

func (m *SessionMonitor) save(ctx context.Context, state models.SessionState) {
	data, err := json.Marshal(state)
	if err != nil {
		return
	}
	_ = m.store.Set(ctx, sessionCachePrefix+state.UserID.String(), string(data), MaxSessionAge)
	_ = m.meta.Set(state.UserID, sessionMetaKey, data)
}

func (m *SessionMonitor) purge(ctx context.Context, userID uuid.UUID) {
	_ = m.store.Delete(ctx, sessionCachePrefix+userID.String())
	_ = m.meta.Delete(userID, sessionMetaKey)
}
