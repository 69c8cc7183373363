package models

import (
	"time"

	"github.com/google/uuid"
)

// Event severities used by the security event log.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// AttemptRecord is one failed login, appended to a per-IP sequence.
// Records older than an hour are pruned lazily on the next write.
type AttemptRecord struct {
	IP        string    `json:"ip"`
	Username  string    `json:"username"`
	UserAgent string    `json:"user_agent"`
	Timestamp time.Time `json:"timestamp"`
}

// LockoutState marks an IP as temporarily blocked. The duration is
// fixed at creation and never extended while active.
type LockoutState struct {
	IP              string    `json:"ip"`
	StartedAt       time.Time `json:"started_at"`
	DurationSeconds int64     `json:"duration_seconds"`
}

func (l LockoutState) ExpiresAt() time.Time {
	return l.StartedAt.Add(time.Duration(l.DurationSeconds) * time.Second)
}

func (l LockoutState) Remaining(now time.Time) time.Duration {
	return l.ExpiresAt().Sub(now)
}

func (l LockoutState) Active(now time.Time) bool {
	return now.Before(l.ExpiresAt())
}

// BanRecord is dual-written to the expiring cache and the durable
// options store; the durable copy is authoritative.
type BanRecord struct {
	IP              string    `json:"ip"`
	StartedAt       time.Time `json:"started_at"`
	DurationSeconds int64     `json:"duration_seconds"`
	Reason          string    `json:"reason"`
	Manual          bool      `json:"manual"`
}

func (b BanRecord) ExpiresAt() time.Time {
	return b.StartedAt.Add(time.Duration(b.DurationSeconds) * time.Second)
}

func (b BanRecord) Remaining(now time.Time) time.Duration {
	return b.ExpiresAt().Sub(now)
}

func (b BanRecord) Active(now time.Time) bool {
	return now.Before(b.ExpiresAt())
}

// SessionState is the single live session slot per authenticated user.
// Last writer wins; dual-written to cache and user meta.
type SessionState struct {
	UserID       uuid.UUID `json:"user_id"`
	LoginTime    time.Time `json:"login_time"`
	LastActivity time.Time `json:"last_activity"`
	IP           string    `json:"ip"`
	UserAgent    string    `json:"user_agent"`
	TokenHash    string    `json:"token_hash"`
	LoginCount   int       `json:"login_count"`
}

// LoginAttempt is an entry in the bounded login log.
type LoginAttempt struct {
	IP        string    `json:"ip"`
	Username  string    `json:"username"`
	UserAgent string    `json:"user_agent"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

// BlockedAttempt records a request rejected by the IP ban gate.
type BlockedAttempt struct {
	IP        string    `json:"ip"`
	Path      string    `json:"path"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// SecurityEvent is a structured audit entry. High-severity events also
// trigger an administrator notification. UserID is nil for events with
// no authenticated user (IP-only lockouts and bans).
type SecurityEvent struct {
	Type        string     `json:"type"`
	IP          string     `json:"ip"`
	UserID      *uuid.UUID `json:"user_id,omitempty"`
	Severity    string     `json:"severity"`
	Description string     `json:"description"`
	Timestamp   time.Time  `json:"timestamp"`
}
