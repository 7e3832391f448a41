// Package levels accumulates the time members spend in voice channels.
package levels

import (
	"context"
	"fmt"
	"sync"
	"time"

	"guildwarden/internal/storage"

	"go.uber.org/zap"
)

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Store interface {
	AddVoiceTime(ctx context.Context, memberID string, d time.Duration, now time.Time) error
	VoiceXP(memberID string) storage.VoiceXP
}

// Tracker opens a session when a member connects to voice and credits the
// elapsed time when they disconnect. Moving between channels keeps the
// session open.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]time.Time
	store    Store
	clock    Clock
	logger   *zap.Logger
}

func NewTracker(store Store, logger *zap.Logger) *Tracker {
	return &Tracker{
		sessions: make(map[string]time.Time),
		store:    store,
		clock:    realClock{},
		logger:   logger.With(zap.String("component", "levels")),
	}
}

func (t *Tracker) SetClock(clock Clock) {
	t.clock = clock
}

// OnVoiceState takes the channel a member left (before) and the one they
// are now in (after); an empty id means not connected.
func (t *Tracker) OnVoiceState(ctx context.Context, memberID, before, after string) {
	now := t.clock.Now()

	t.mu.Lock()
	started, open := t.sessions[memberID]
	switch {
	case after != "" && !open:
		t.sessions[memberID] = now
		t.mu.Unlock()
		return
	case after == "" && open:
		delete(t.sessions, memberID)
	default:
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	elapsed := now.Sub(started)
	if err := t.store.AddVoiceTime(ctx, memberID, elapsed, now); err != nil {
		t.logger.Warn("record voice time failed", zap.String("user_id", memberID), zap.Error(err))
		return
	}
	t.logger.Debug("voice session closed", zap.String("user_id", memberID), zap.Duration("duration", elapsed))
}

// Active reports whether memberID currently has an open session.
func (t *Tracker) Active(memberID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sessions[memberID]
	return ok
}

// Summary returns the stored total, plus the running session if any.
func (t *Tracker) Summary(memberID string) (time.Duration, int) {
	xp := t.store.VoiceXP(memberID)
	total := time.Duration(xp.VoiceSeconds) * time.Second
	sessions := xp.Sessions

	t.mu.Lock()
	if started, ok := t.sessions[memberID]; ok {
		total += t.clock.Now().Sub(started)
		sessions++
	}
	t.mu.Unlock()
	return total, sessions
}

// FormatDuration renders d as "12h05" or "7 min".
func FormatDuration(d time.Duration) string {
	if d < time.Hour {
		return fmt.Sprintf("%d min", int(d/time.Minute))
	}
	hours := int(d / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)
	return fmt.Sprintf("%dh%02d", hours, minutes)
}
