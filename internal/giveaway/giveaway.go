package giveaway

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"guildwarden/internal/metrics"
	"guildwarden/internal/storage"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const embedColor = 0xF1C40F

var ErrInvalidDuration = errors.New("invalid giveaway duration")

type Reactor struct {
	ID  string
	Bot bool
}

type Platform interface {
	Post(ctx context.Context, channelID string, msg *discordgo.MessageSend) (string, error)
	React(ctx context.Context, channelID, messageID, emoji string) error
	Reactors(ctx context.Context, channelID, messageID, emoji string) ([]Reactor, error)
	Announce(ctx context.Context, channelID string, msg *discordgo.MessageSend) error
}

type Store interface {
	Giveaways() []storage.Giveaway
	AddGiveaway(ctx context.Context, g storage.Giveaway) error
	DeleteGiveaway(ctx context.Context, messageID string) error
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Service struct {
	platform Platform
	store    Store
	emoji    string
	clock    Clock
	pick     func(n int) int
	logger   *zap.Logger
}

func New(platform Platform, store Store, emoji string, logger *zap.Logger) *Service {
	return &Service{
		platform: platform,
		store:    store,
		emoji:    emoji,
		clock:    realClock{},
		pick:     rand.IntN,
		logger:   logger.With(zap.String("component", "giveaway")),
	}
}

func (s *Service) SetClock(clock Clock) {
	s.clock = clock
}

func (s *Service) SetPicker(pick func(n int) int) {
	s.pick = pick
}

// Start posts the giveaway embed, seeds the entry reaction and records the
// giveaway.
func (s *Service) Start(ctx context.Context, channelID, hostID, prize string, d time.Duration) (storage.Giveaway, error) {
	end := s.clock.Now().Add(d)
	msg := &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{{
		Title:       "🎉 Giveaway",
		Description: fmt.Sprintf("Lot : **%s**\nRéagis avec %s pour participer !\nFin <t:%d:R>", prize, s.emoji, end.Unix()),
		Color:       embedColor,
		Footer:      &discordgo.MessageEmbedFooter{Text: "Organisé par un membre du staff"},
		Timestamp:   end.Format(time.RFC3339),
	}}}

	messageID, err := s.platform.Post(ctx, channelID, msg)
	if err != nil {
		return storage.Giveaway{}, fmt.Errorf("post giveaway: %w", err)
	}
	if err := s.platform.React(ctx, channelID, messageID, s.emoji); err != nil {
		s.logger.Debug("seed reaction failed", zap.Error(err))
	}

	g := storage.Giveaway{ChannelID: channelID, MessageID: messageID, Prize: prize, HostID: hostID, EndTime: end}
	if err := s.store.AddGiveaway(ctx, g); err != nil {
		return storage.Giveaway{}, err
	}
	return g, nil
}

func (s *Service) Name() string { return "giveaway_check" }

// Run settles every expired giveaway. The record is always removed; an
// unreachable message purges it without an announcement.
func (s *Service) Run(ctx context.Context) error {
	now := s.clock.Now()
	for _, g := range s.store.Giveaways() {
		if g.EndTime.After(now) {
			continue
		}
		s.settle(ctx, g)
		if err := s.store.DeleteGiveaway(ctx, g.MessageID); err != nil {
			return fmt.Errorf("delete giveaway %s: %w", g.MessageID, err)
		}
	}
	return nil
}

func (s *Service) settle(ctx context.Context, g storage.Giveaway) {
	reactors, err := s.platform.Reactors(ctx, g.ChannelID, g.MessageID, s.emoji)
	if err != nil {
		s.logger.Info("giveaway message unreachable, purging", zap.String("message_id", g.MessageID), zap.Error(err))
		return
	}

	entrants := lo.UniqBy(lo.Filter(reactors, func(r Reactor, _ int) bool { return !r.Bot }), func(r Reactor) string { return r.ID })

	var content string
	if len(entrants) == 0 {
		content = fmt.Sprintf("Le giveaway **%s** est terminé : aucun participant.", g.Prize)
	} else {
		winner := entrants[s.pick(len(entrants))]
		content = fmt.Sprintf("🎉 Félicitations <@%s> ! Tu remportes **%s** !", winner.ID, g.Prize)
	}

	msg := &discordgo.MessageSend{
		Content:   content,
		Reference: &discordgo.MessageReference{MessageID: g.MessageID, ChannelID: g.ChannelID},
	}
	if err := s.platform.Announce(ctx, g.ChannelID, msg); err != nil {
		s.logger.Warn("giveaway announcement failed", zap.String("message_id", g.MessageID), zap.Error(err))
		return
	}
	metrics.Announcements.WithLabelValues("giveaway").Inc()
}

// ParseDuration accepts Go durations plus a day suffix ("2d" or "2j").
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	for _, suffix := range []string{"d", "j"} {
		if days, ok := strings.CutSuffix(raw, suffix); ok {
			n, err := strconv.Atoi(days)
			if err != nil || n <= 0 {
				return 0, ErrInvalidDuration
			}
			return time.Duration(n) * 24 * time.Hour, nil
		}
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, ErrInvalidDuration
	}
	return d, nil
}
