package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"guildwarden/internal/alerts"
	"guildwarden/internal/config"
	"guildwarden/internal/giveaway"
	"guildwarden/internal/levels"
	"guildwarden/internal/modules/audit"
	"guildwarden/internal/poller"
	"guildwarden/internal/squad"
	"guildwarden/internal/storage"
	"guildwarden/internal/twitch"
	"guildwarden/internal/twitter"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	eventTimeout   = 30 * time.Second
	messageCache   = 200
	colorInfo      = 0x5865F2
	colorSuccess   = 0x2ECC71
	colorReglement = 0x3498DB
)

type Bot struct {
	cfg      config.Config
	logger   *zap.Logger
	store    *storage.Store
	audit    *audit.Logger
	twitch   *twitch.Client
	session  *discordgo.Session
	platform *platform

	squads    *squad.Manager
	giveaways *giveaway.Service
	levels    *levels.Tracker
	stream    *alerts.StreamWatcher
	feed      *alerts.FeedWatcher

	commands map[string]command

	ctx     context.Context
	cancel  context.CancelFunc
	restart chan struct{}
	once    sync.Once
}

// New builds the bot and its components. twitchClient and twitterClient may
// be nil when the matching feature is not configured.
func New(cfg config.Config, logger *zap.Logger, store *storage.Store, auditLogger *audit.Logger, twitchClient *twitch.Client, twitterClient *twitter.Client) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMessageReactions
	session.State.MaxMessageCount = messageCache

	logger = logger.With(zap.String("component", "bot"))
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bot{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		audit:    auditLogger,
		twitch:   twitchClient,
		session:  session,
		platform: newPlatform(session, logger),
		ctx:      ctx,
		cancel:   cancel,
		restart:  make(chan struct{}),
	}

	b.squads = squad.NewManager(squad.Config{
		GuildID:           cfg.GuildID,
		CategoryID:        cfg.Squad.CategoryID,
		AnnounceChannelID: cfg.Squad.AnnounceChannelID,
		LobbyChannelID:    cfg.Squad.LobbyChannelID,
		LobbyCapacity:     cfg.Squad.LobbyCapacity,
		MaxCapacity:       cfg.Squad.MaxCapacity,
		SettleDelay:       time.Duration(cfg.Squad.SettleDelayMillis) * time.Millisecond,
		CreateLimit:       cfg.Squad.CreateLimit,
		CreateWindow:      config.Seconds(cfg.Squad.CreateWindowSeconds),
		KeepChannelIDs:    cfg.Squad.KeepChannelIDs,
	}, b.platform, store, logger)
	b.giveaways = giveaway.New(b.platform, store, cfg.Giveaway.Emoji, logger)
	b.levels = levels.NewTracker(store, logger)

	if twitchClient != nil && cfg.StreamAlertsEnabled() {
		b.stream = alerts.NewStreamWatcher(twitchClient, b.platform, cfg.Twitch.StreamerLogin, cfg.Twitch.AlertChannelID, cfg.Twitch.MentionRoleID, logger)
	}
	if twitterClient != nil && cfg.FeedAlertsEnabled() {
		b.feed = alerts.NewFeedWatcher(twitterClient, store, b.platform, cfg.Twitter.Username, cfg.Twitter.AlertChannelID, logger)
	}

	b.commands = b.commandTable()

	if b.audit != nil {
		b.audit.SetNotifier(b.notifyAudit)
	}

	return b, nil
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onGuildCreate)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onMessageUpdate)
	b.session.AddHandler(b.onMessageDelete)
	b.session.AddHandler(b.onGuildMemberAdd)
	b.session.AddHandler(b.onGuildMemberRemove)
	b.session.AddHandler(b.onGuildMemberUpdate)
	b.session.AddHandler(b.onChannelUpdate)
	b.session.AddHandler(b.onVoiceStateUpdate)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}

	if err := b.registerCommands(); err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	return nil
}

// ScheduleTasks registers every configured poll loop.
func (b *Bot) ScheduleTasks(s *poller.Scheduler) {
	if b.cfg.SquadsEnabled() {
		s.Add(b.squads, config.Seconds(b.cfg.Squad.SweepIntervalSeconds))
	}
	s.Add(b.giveaways, config.Seconds(b.cfg.Giveaway.IntervalSeconds))
	if b.stream != nil {
		s.Add(b.stream, config.Seconds(b.cfg.Twitch.IntervalSeconds))
	}
	if b.feed != nil {
		s.Add(b.feed, config.Seconds(b.cfg.Twitter.IntervalSeconds))
	}
}

// RestartRequested is closed when the owner asks for a restart.
func (b *Bot) RestartRequested() <-chan struct{} {
	return b.restart
}

// GrantRole lets the web callback assign roles through the bot session.
func (b *Bot) GrantRole(ctx context.Context, guildID, userID, roleID string) error {
	return b.platform.GrantRole(ctx, guildID, userID, roleID)
}

func (b *Bot) Close(ctx context.Context) {
	b.cancel()
	if b.session != nil {
		_ = b.session.Close()
	}
	b.logger.Info("discord session closed")
}

func (b *Bot) requestRestart() {
	b.once.Do(func() { close(b.restart) })
}

func (b *Bot) eventContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(b.ctx, eventTimeout)
}

// recoverEvent keeps a panicking handler from taking the process down.
func (b *Bot) recoverEvent(event string) {
	if rec := recover(); rec != nil {
		b.logger.Error("event handler panic", zap.String("event", event), zap.Any("panic", rec))
	}
}

func (b *Bot) notifyAudit(ctx context.Context, entry audit.Entry) {
	channelID := b.cfg.LogChannel(entry.Kind)
	if channelID == "" {
		return
	}
	if _, err := b.session.ChannelMessageSendEmbed(channelID, entry.Embed(), discordgo.WithContext(ctx)); err != nil {
		b.logger.Debug("audit post failed", zap.String("channel_id", channelID), zap.Error(err))
	}
}

// reply posts content in channelID and deletes it after the configured
// expiry.
func (b *Bot) reply(channelID, content string) {
	msg, err := b.session.ChannelMessageSend(channelID, content)
	if err != nil {
		b.logger.Debug("reply failed", zap.String("channel_id", channelID), zap.Error(err))
		return
	}
	b.expire(msg)
}

func (b *Bot) replyEmbed(channelID string, embed *discordgo.MessageEmbed, expire bool) {
	msg, err := b.session.ChannelMessageSendEmbed(channelID, embed)
	if err != nil {
		b.logger.Debug("reply failed", zap.String("channel_id", channelID), zap.Error(err))
		return
	}
	if expire {
		b.expire(msg)
	}
}

func (b *Bot) expire(msg *discordgo.Message) {
	expiry := b.cfg.ReplyExpiry()
	if expiry <= 0 {
		return
	}
	time.AfterFunc(expiry, func() {
		_ = b.session.ChannelMessageDelete(msg.ChannelID, msg.ID)
	})
}

func (b *Bot) respond(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
}

// deferEphemeral acknowledges an interaction whose outcome takes longer than
// the platform's response deadline; followUp completes it.
func (b *Bot) deferEphemeral(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
}

func (b *Bot) followUp(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string) {
	if _, err := session.InteractionResponseEdit(interaction.Interaction, &discordgo.WebhookEdit{Content: &content}); err != nil {
		b.logger.Debug("interaction follow-up failed", zap.Error(err))
	}
}

func (b *Bot) commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields:      fields,
	}
}

// messageRef and splitRef encode a stored "channel:message" pointer.
func messageRef(channelID, messageID string) string {
	return channelID + ":" + messageID
}

func splitRef(ref string) (channelID, messageID string, ok bool) {
	channelID, messageID, ok = strings.Cut(ref, ":")
	return channelID, messageID, ok && channelID != "" && messageID != ""
}
