package levels

import (
	"context"
	"testing"
	"time"

	"guildwarden/internal/storage"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTracker(t *testing.T) (*Tracker, *storage.Store, *fakeClock) {
	t.Helper()
	store, err := storage.Open(context.Background(), storage.NewMemoryBackend())
	require.NoError(t, err)
	clock := &fakeClock{now: time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)}
	tracker := NewTracker(store, zap.NewNop())
	tracker.SetClock(clock)
	return tracker, store, clock
}

func TestSessionCreditedOnLeave(t *testing.T) {
	tracker, store, clock := newTracker(t)
	ctx := context.Background()

	tracker.OnVoiceState(ctx, "u1", "", "vc1")
	clock.now = clock.now.Add(20 * time.Minute)
	tracker.OnVoiceState(ctx, "u1", "vc1", "vc2")
	clock.now = clock.now.Add(40 * time.Minute)
	tracker.OnVoiceState(ctx, "u1", "vc2", "")

	xp := store.VoiceXP("u1")
	require.Equal(t, int64(3600), xp.VoiceSeconds)
	require.Equal(t, 1, xp.Sessions)
	require.False(t, tracker.Active("u1"))
}

func TestLeaveWithoutSessionIsIgnored(t *testing.T) {
	tracker, store, _ := newTracker(t)
	tracker.OnVoiceState(context.Background(), "u1", "vc1", "")
	require.Zero(t, store.VoiceXP("u1").Sessions)
}

func TestSummaryIncludesRunningSession(t *testing.T) {
	tracker, _, clock := newTracker(t)
	ctx := context.Background()

	tracker.OnVoiceState(ctx, "u1", "", "vc1")
	clock.now = clock.now.Add(30 * time.Minute)
	tracker.OnVoiceState(ctx, "u1", "vc1", "")
	tracker.OnVoiceState(ctx, "u1", "", "vc1")
	clock.now = clock.now.Add(15 * time.Minute)

	total, sessions := tracker.Summary("u1")
	require.Equal(t, 45*time.Minute, total)
	require.Equal(t, 2, sessions)
}

func TestFormatDuration(t *testing.T) {
	require.Equal(t, "7 min", FormatDuration(7*time.Minute+30*time.Second))
	require.Equal(t, "12h05", FormatDuration(12*time.Hour+5*time.Minute))
}
