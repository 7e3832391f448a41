package giveaway

import (
	"context"
	"errors"
	"testing"
	"time"

	"guildwarden/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type fakeClock struct {
	now time.Time
}

func (f fakeClock) Now() time.Time { return f.now }

type fakePlatform struct {
	reactors  map[string][]Reactor
	fetchErr  error
	announced []string
	posted    int
	reacted   []string
}

func (f *fakePlatform) Post(ctx context.Context, channelID string, msg *discordgo.MessageSend) (string, error) {
	f.posted++
	return "msg-1", nil
}

func (f *fakePlatform) React(ctx context.Context, channelID, messageID, emoji string) error {
	f.reacted = append(f.reacted, emoji)
	return nil
}

func (f *fakePlatform) Reactors(ctx context.Context, channelID, messageID, emoji string) ([]Reactor, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.reactors[messageID], nil
}

func (f *fakePlatform) Announce(ctx context.Context, channelID string, msg *discordgo.MessageSend) error {
	f.announced = append(f.announced, msg.Content)
	return nil
}

func newService(t *testing.T, platform *fakePlatform, now time.Time) (*Service, *storage.Store) {
	t.Helper()
	store, err := storage.Open(context.Background(), storage.NewMemoryBackend())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	svc := New(platform, store, "🎉", zap.NewNop())
	svc.SetClock(fakeClock{now: now})
	return svc, store
}

func TestExpiredGiveawayPicksOneWinner(t *testing.T) {
	now := time.Now()
	platform := &fakePlatform{reactors: map[string][]Reactor{
		"g1": {{ID: "bot", Bot: true}, {ID: "alice"}, {ID: "bob"}, {ID: "alice"}},
	}}
	svc, store := newService(t, platform, now)
	svc.SetPicker(func(n int) int {
		if n != 2 {
			t.Fatalf("expected two entrants, got %d", n)
		}
		return 1
	})

	ctx := context.Background()
	if err := store.AddGiveaway(ctx, storage.Giveaway{ChannelID: "c1", MessageID: "g1", Prize: "Nitro", EndTime: now.Add(-time.Second)}); err != nil {
		t.Fatalf("add giveaway: %v", err)
	}

	if err := svc.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(platform.announced) != 1 {
		t.Fatalf("expected one announcement, got %d", len(platform.announced))
	}
	if want := "🎉 Félicitations <@bob> ! Tu remportes **Nitro** !"; platform.announced[0] != want {
		t.Fatalf("unexpected announcement %q", platform.announced[0])
	}
	if len(store.Giveaways()) != 0 {
		t.Fatalf("expected record removed")
	}
}

func TestExpiredGiveawayWithoutEntrants(t *testing.T) {
	now := time.Now()
	platform := &fakePlatform{reactors: map[string][]Reactor{"g1": {{ID: "bot", Bot: true}}}}
	svc, store := newService(t, platform, now)

	ctx := context.Background()
	_ = store.AddGiveaway(ctx, storage.Giveaway{ChannelID: "c1", MessageID: "g1", Prize: "Nitro", EndTime: now.Add(-time.Second)})

	if err := svc.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(platform.announced) != 1 || platform.announced[0] != "Le giveaway **Nitro** est terminé : aucun participant." {
		t.Fatalf("unexpected announcements %v", platform.announced)
	}
	if len(store.Giveaways()) != 0 {
		t.Fatalf("expected record removed")
	}
}

func TestGiveawayFetchFailurePurgesSilently(t *testing.T) {
	now := time.Now()
	platform := &fakePlatform{fetchErr: errors.New("unknown message")}
	svc, store := newService(t, platform, now)

	ctx := context.Background()
	_ = store.AddGiveaway(ctx, storage.Giveaway{ChannelID: "c1", MessageID: "g1", EndTime: now.Add(-time.Minute)})

	if err := svc.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(platform.announced) != 0 {
		t.Fatalf("expected no announcement, got %v", platform.announced)
	}
	if len(store.Giveaways()) != 0 {
		t.Fatalf("expected record purged")
	}
}

func TestRunningGiveawayIsKept(t *testing.T) {
	now := time.Now()
	platform := &fakePlatform{}
	svc, store := newService(t, platform, now)

	ctx := context.Background()
	g, err := svc.Start(ctx, "c1", "host", "Nitro", time.Hour)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !g.EndTime.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected end time %v", g.EndTime)
	}
	if len(platform.reacted) != 1 {
		t.Fatalf("expected seed reaction")
	}

	if err := svc.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(store.Giveaways()) != 1 || len(platform.announced) != 0 {
		t.Fatalf("running giveaway must not be settled")
	}
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"10m": 10 * time.Minute,
		"1h":  time.Hour,
		"2d":  48 * time.Hour,
		"3J":  72 * time.Hour,
	}
	for raw, want := range cases {
		got, err := ParseDuration(raw)
		if err != nil || got != want {
			t.Fatalf("ParseDuration(%q) = %v, %v", raw, got, err)
		}
	}
	for _, raw := range []string{"", "abc", "-5m", "0d"} {
		if _, err := ParseDuration(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}
