package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/yourusername/ember/models"
)

func TestEventSinkLoginLogIsBounded(t *testing.T) {
	sink := NewEventSink(NewMemoryStore(), nil, "")
	ctx := context.Background()

	for i := 0; i < loginLogCap+20; i++ {
		sink.RecordLoginAttempt(ctx, models.LoginAttempt{
			IP:       fmt.Sprintf("203.0.113.%d", i%200),
			Username: "alice",
			Success:  false,
		})
	}

	attempts := sink.LoginAttempts(ctx)
	assert.Len(t, attempts, loginLogCap)

	// The per-user view has its own, tighter cap
	userAttempts := sink.UserLoginAttempts(ctx, "alice")
	assert.Len(t, userAttempts, loginLogUserCap)
}

func TestEventSinkKeepsNewestEntries(t *testing.T) {
	sink := NewEventSink(NewMemoryStore(), nil, "")
	ctx := context.Background()

	for i := 0; i < blockedLogCap+5; i++ {
		sink.RecordBlocked(ctx, models.BlockedAttempt{
			IP:   "203.0.113.7",
			Path: fmt.Sprintf("/page/%d", i),
		})
	}

	blocked := sink.BlockedAttempts(ctx)
	assert.Len(t, blocked, blockedLogCap)
	assert.Equal(t, "/page/5", blocked[0].Path, "Oldest entries should be evicted first")
	assert.Equal(t, fmt.Sprintf("/page/%d", blockedLogCap+4), blocked[len(blocked)-1].Path)
}

func TestEventSinkStampsMissingTimestamps(t *testing.T) {
	sink := NewEventSink(NewMemoryStore(), nil, "")
	ctx := context.Background()

	sink.RecordEvent(ctx, models.SecurityEvent{
		Type:     "lockout",
		IP:       "203.0.113.7",
		Severity: models.SeverityMedium,
	})

	events := sink.Events(ctx)
	assert.Len(t, events, 1)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestEventSinkPerUserEvents(t *testing.T) {
	sink := NewEventSink(NewMemoryStore(), nil, "")
	ctx := context.Background()
	userID := uuid.New()

	sink.RecordEvent(ctx, models.SecurityEvent{Type: "ip_change", UserID: &userID, Severity: models.SeverityLow})
	sink.RecordEvent(ctx, models.SecurityEvent{Type: "lockout", Severity: models.SeverityMedium})

	assert.Len(t, sink.Events(ctx), 2)
	assert.Len(t, sink.UserEvents(ctx, userID), 1)
	assert.Equal(t, "ip_change", sink.UserEvents(ctx, userID)[0].Type)
}

func TestEventSinkHighSeverityNotifiesAdmin(t *testing.T) {
	sender := &recordingSender{}
	queue := NewMailQueue(sender)
	defer queue.Close()

	sink := NewEventSink(NewMemoryStore(), queue, "admin@example.com")
	ctx := context.Background()

	sink.RecordEvent(ctx, models.SecurityEvent{
		Type:     "lockout",
		IP:       "203.0.113.7",
		Severity: models.SeverityMedium,
	})
	sink.RecordEvent(ctx, models.SecurityEvent{
		Type:        "ip_banned",
		IP:          "203.0.113.7",
		Severity:    models.SeverityHigh,
		Description: "3 lockouts within 24h0m0s",
	})

	assert.Eventually(t, func() bool { return sender.count() == 1 }, time.Second, 10*time.Millisecond,
		"Exactly one notification: high severity only")

	sender.mu.Lock()
	mail := sender.sent[0]
	sender.mu.Unlock()
	assert.Equal(t, "admin@example.com", mail.to)
	assert.Contains(t, mail.subject, "ip_banned")
	assert.Contains(t, mail.body, "203.0.113.7")
}

func TestEventSinkNoMailConfiguredIsSilent(t *testing.T) {
	sink := NewEventSink(NewMemoryStore(), nil, "")
	ctx := context.Background()

	// Must not panic with no queue wired
	sink.RecordEvent(ctx, models.SecurityEvent{
		Type:     "ip_banned",
		Severity: models.SeverityHigh,
	})
	assert.Len(t, sink.Events(ctx), 1)
}

func TestFailedAttemptsSince(t *testing.T) {
	sink := NewEventSink(NewMemoryStore(), nil, "")
	ctx := context.Background()
	now := time.Now()

	sink.RecordLoginAttempt(ctx, models.LoginAttempt{Success: false, Timestamp: now.Add(-2 * time.Hour)})
	sink.RecordLoginAttempt(ctx, models.LoginAttempt{Success: false, Timestamp: now.Add(-10 * time.Minute)})
	sink.RecordLoginAttempt(ctx, models.LoginAttempt{Success: true, Timestamp: now.Add(-5 * time.Minute)})

	assert.Equal(t, 1, sink.FailedAttemptsSince(ctx, now.Add(-time.Hour)))
	assert.Equal(t, 2, sink.FailedAttemptsSince(ctx, now.Add(-3*time.Hour)))
}
