package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yourusername/ember/models"
)

// Ring buffer caps. Most-recent-N retained; oldest evicted on overflow.
const (
	loginLogCap     = 100
	loginLogUserCap = 10
	blockedLogCap   = 50
	eventLogCap     = 50
	eventLogUserCap = 20

	logRetention = 24 * time.Hour
)

const (
	keyLoginLog   = "security:log:logins"
	keyBlockedLog = "security:log:blocked"
	keyEventLog   = "security:log:events"
)

// EventSink is the append-only security log: login attempts, blocked
// requests, and structured events. Entries are immutable once written.
// High-severity events additionally notify the administrator, off the
// request path.
type EventSink struct {
	store      Store
	mail       *MailQueue
	adminEmail string

	// Serializes read-modify-write of the bounded sequences against
	// other appenders in this process.
	mu sync.Mutex

	now func() time.Time
}

func NewEventSink(store Store, mail *MailQueue, adminEmail string) *EventSink {
	return &EventSink{
		store:      store,
		mail:       mail,
		adminEmail: adminEmail,
		now:        time.Now,
	}
}

// appendBounded appends entry to the JSON sequence at key, trimming to
// the cap. Log storage failures are swallowed: they must never abort
// the security decision that produced the entry.
func appendBounded[T any](s *EventSink, ctx context.Context, key string, entry T, max int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []T
	if raw, found, err := s.store.Get(ctx, key); err == nil && found {
		_ = json.Unmarshal([]byte(raw), &entries)
	}
	entries = append(entries, entry)
	if len(entries) > max {
		entries = entries[len(entries)-max:]
	}
	if data, err := json.Marshal(entries); err == nil {
		_ = s.store.Set(ctx, key, string(data), logRetention)
	}
}

func readLog[T any](s *EventSink, ctx context.Context, key string) []T {
	var entries []T
	if raw, found, err := s.store.Get(ctx, key); err == nil && found {
		_ = json.Unmarshal([]byte(raw), &entries)
	}
	return entries
}

func userKey(base, qualifier string) string {
	return base + ":user:" + qualifier
}

func (s *EventSink) RecordLoginAttempt(ctx context.Context, attempt models.LoginAttempt) {
	if attempt.Timestamp.IsZero() {
		attempt.Timestamp = s.now()
	}
	appendBounded(s, ctx, keyLoginLog, attempt, loginLogCap)
	if attempt.Username != "" {
		appendBounded(s, ctx, userKey(keyLoginLog, attempt.Username), attempt, loginLogUserCap)
	}
}

func (s *EventSink) RecordBlocked(ctx context.Context, blocked models.BlockedAttempt) {
	if blocked.Timestamp.IsZero() {
		blocked.Timestamp = s.now()
	}
	appendBounded(s, ctx, keyBlockedLog, blocked, blockedLogCap)
}

func (s *EventSink) RecordEvent(ctx context.Context, event models.SecurityEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	appendBounded(s, ctx, keyEventLog, event, eventLogCap)
	if event.UserID != nil {
		appendBounded(s, ctx, userKey(keyEventLog, event.UserID.String()), event, eventLogUserCap)
	}
	if event.Severity == models.SeverityHigh {
		s.NotifyAdmin(event.Type, event.IP, event.Description)
	}
}

// NotifyAdmin sends a best-effort administrator alert. No-op when mail
// or the admin address is not configured.
func (s *EventSink) NotifyAdmin(eventType, ip, detail string) {
	if s.mail == nil || s.adminEmail == "" {
		return
	}
	subject, body := BuildSecurityAlertEmail(eventType, ip, detail)
	s.mail.Enqueue(s.adminEmail, subject, body)
}

func (s *EventSink) LoginAttempts(ctx context.Context) []models.LoginAttempt {
	return readLog[models.LoginAttempt](s, ctx, keyLoginLog)
}

func (s *EventSink) UserLoginAttempts(ctx context.Context, username string) []models.LoginAttempt {
	return readLog[models.LoginAttempt](s, ctx, userKey(keyLoginLog, username))
}

func (s *EventSink) BlockedAttempts(ctx context.Context) []models.BlockedAttempt {
	return readLog[models.BlockedAttempt](s, ctx, keyBlockedLog)
}

func (s *EventSink) Events(ctx context.Context) []models.SecurityEvent {
	return readLog[models.SecurityEvent](s, ctx, keyEventLog)
}

func (s *EventSink) UserEvents(ctx context.Context, userID uuid.UUID) []models.SecurityEvent {
	return readLog[models.SecurityEvent](s, ctx, userKey(keyEventLog, userID.String()))
}

// FailedAttemptsSince counts failed logins in the bounded log newer
// than the cutoff.
func (s *EventSink) FailedAttemptsSince(ctx context.Context, cutoff time.Time) int {
	count := 0
	for _, attempt := range s.LoginAttempts(ctx) {
		if !attempt.Success && attempt.Timestamp.After(cutoff) {
			count++
		}
	}
	return count
}
