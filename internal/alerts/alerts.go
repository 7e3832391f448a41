// Package alerts turns external stream and feed state into chat
// announcements.
package alerts

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"guildwarden/internal/metrics"
	"guildwarden/internal/twitch"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const twitchPurple = 0x9146FF

type Announcer interface {
	Announce(ctx context.Context, channelID string, msg *discordgo.MessageSend) error
}

type StreamSource interface {
	Stream(ctx context.Context, login string) (*twitch.Stream, error)
}

// StreamWatcher announces offline to live transitions of one channel. Errors
// leave the live flag untouched so the next tick decides.
type StreamWatcher struct {
	source    StreamSource
	announcer Announcer
	login     string
	channelID string
	mentionID string
	logger    *zap.Logger

	mu      sync.Mutex
	wasLive bool
}

func NewStreamWatcher(source StreamSource, announcer Announcer, login, channelID, mentionRoleID string, logger *zap.Logger) *StreamWatcher {
	return &StreamWatcher{
		source:    source,
		announcer: announcer,
		login:     login,
		channelID: channelID,
		mentionID: mentionRoleID,
		logger:    logger.With(zap.String("component", "stream_watcher")),
	}
}

func (w *StreamWatcher) Name() string { return "twitch_stream" }

func (w *StreamWatcher) Run(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	stream, err := w.source.Stream(ctx, w.login)
	if err != nil {
		return fmt.Errorf("fetch stream: %w", err)
	}
	live := stream != nil
	if live && !w.wasLive {
		if err := w.announcer.Announce(ctx, w.channelID, w.liveMessage(stream)); err != nil {
			return fmt.Errorf("announce stream: %w", err)
		}
		metrics.Announcements.WithLabelValues("stream").Inc()
		w.logger.Info("stream went live", zap.String("login", w.login), zap.String("title", stream.Title))
	}
	w.wasLive = live
	return nil
}

func (w *StreamWatcher) liveMessage(stream *twitch.Stream) *discordgo.MessageSend {
	url := "https://twitch.tv/" + w.login
	content := fmt.Sprintf("🔴 **%s est en live !**\n%s", w.login, url)
	if w.mentionID != "" {
		content = fmt.Sprintf("<@&%s> %s", w.mentionID, content)
	}

	embed := &discordgo.MessageEmbed{
		Title:     stream.Title,
		URL:       url,
		Color:     twitchPurple,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if stream.GameName != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Jeu", Value: stream.GameName, Inline: true})
	}
	if stream.Thumbnail != "" {
		thumb := strings.NewReplacer("{width}", "1280", "{height}", "720").Replace(stream.Thumbnail)
		embed.Image = &discordgo.MessageEmbedImage{URL: thumb}
	}

	return &discordgo.MessageSend{
		Content:         content,
		Embeds:          []*discordgo.MessageEmbed{embed},
		AllowedMentions: &discordgo.MessageAllowedMentions{Roles: mentionRoles(w.mentionID)},
	}
}

func mentionRoles(roleID string) []string {
	if roleID == "" {
		return nil
	}
	return []string{roleID}
}
