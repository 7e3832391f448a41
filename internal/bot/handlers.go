package bot

import (
	"time"

	"guildwarden/internal/modules/audit"

	"github.com/bwmarrin/discordgo"
	"github.com/disgoorg/snowflake/v2"
	"go.uber.org/zap"
)

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", session.State.User.Username), zap.Int("guilds", len(event.Guilds)))
}

// onGuildCreate reconciles the squad registry once the configured guild's
// voice states are in the gateway cache.
func (b *Bot) onGuildCreate(session *discordgo.Session, event *discordgo.GuildCreate) {
	defer b.recoverEvent("guild_create")
	if event.Guild == nil || event.Guild.ID != b.cfg.GuildID || !b.cfg.SquadsEnabled() {
		return
	}

	ctx, cancel := b.eventContext()
	defer cancel()
	if _, err := b.squads.EnsureReconciled(ctx); err != nil {
		b.logger.Warn("squad reconcile failed, retrying on next sweep", zap.Error(err))
	}
}

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	defer b.recoverEvent("message_create")
	if msg.Author == nil || msg.Author.Bot || msg.GuildID == "" {
		return
	}
	ctx, cancel := b.eventContext()
	defer cancel()
	b.dispatch(ctx, msg)
}

func (b *Bot) onMessageUpdate(session *discordgo.Session, msg *discordgo.MessageUpdate) {
	defer b.recoverEvent("message_update")
	if msg.GuildID == "" || msg.BeforeUpdate == nil {
		return
	}
	author := msg.Author
	if author == nil {
		author = msg.BeforeUpdate.Author
	}
	if author == nil || author.Bot {
		return
	}
	entry, ok := audit.MessageEdited(msg.GuildID, msg.ChannelID, msg.ID, author.ID, msg.BeforeUpdate.Content, msg.Content)
	if !ok {
		return
	}
	b.log(entry)
}

func (b *Bot) onMessageDelete(session *discordgo.Session, msg *discordgo.MessageDelete) {
	defer b.recoverEvent("message_delete")
	if msg.GuildID == "" {
		return
	}
	var authorID, content string
	if before := msg.BeforeDelete; before != nil {
		if before.Author != nil {
			if before.Author.Bot {
				return
			}
			authorID = before.Author.ID
		}
		content = before.Content
	}
	b.log(audit.MessageDeleted(msg.GuildID, msg.ChannelID, authorID, content))
}

func (b *Bot) onGuildMemberAdd(session *discordgo.Session, event *discordgo.GuildMemberAdd) {
	defer b.recoverEvent("guild_member_add")
	if event.Member == nil || event.User == nil {
		return
	}
	var created time.Time
	if id, err := snowflake.Parse(event.User.ID); err == nil {
		created = id.Time()
	}
	b.log(audit.MemberJoined(event.GuildID, event.User.ID, event.User.Username, created))
}

func (b *Bot) onGuildMemberRemove(session *discordgo.Session, event *discordgo.GuildMemberRemove) {
	defer b.recoverEvent("guild_member_remove")
	if event.Member == nil || event.User == nil {
		return
	}
	b.log(audit.MemberLeft(event.GuildID, event.User.ID, event.User.Username))
}

func (b *Bot) onGuildMemberUpdate(session *discordgo.Session, event *discordgo.GuildMemberUpdate) {
	defer b.recoverEvent("guild_member_update")
	if event.Member == nil || event.User == nil || event.BeforeUpdate == nil {
		return
	}
	entry, ok := audit.RolesChanged(event.GuildID, event.User.ID, event.BeforeUpdate.Roles, event.Roles)
	if !ok {
		return
	}
	b.log(entry)
}

func (b *Bot) onChannelUpdate(session *discordgo.Session, event *discordgo.ChannelUpdate) {
	defer b.recoverEvent("channel_update")
	if event.Channel == nil || event.BeforeUpdate == nil || event.BeforeUpdate.Name == event.Name {
		return
	}
	b.log(audit.ChannelRenamed(event.GuildID, event.ID, event.BeforeUpdate.Name, event.Name))
}

// onVoiceStateUpdate feeds the voice log, the voice time tracker, the
// lobby and every squad the member left or entered.
func (b *Bot) onVoiceStateUpdate(session *discordgo.Session, event *discordgo.VoiceStateUpdate) {
	defer b.recoverEvent("voice_state_update")
	if event.VoiceState == nil {
		return
	}
	before := ""
	if event.BeforeUpdate != nil {
		before = event.BeforeUpdate.ChannelID
	}
	after := event.ChannelID

	ctx, cancel := b.eventContext()
	defer cancel()

	if entry, ok := audit.VoiceChanged(event.GuildID, event.UserID, before, after); ok {
		b.log(entry)
	}
	if before == after {
		return
	}

	member := event.Member
	if member == nil || member.User == nil {
		member, _ = session.State.Member(event.GuildID, event.UserID)
	}
	if member != nil && member.User != nil && member.User.Bot {
		return
	}
	b.levels.OnVoiceState(ctx, event.UserID, before, after)

	if !b.cfg.SquadsEnabled() {
		return
	}
	for _, channelID := range []string{before, after} {
		if channelID == "" || !b.squads.Tracked(channelID) {
			continue
		}
		if err := b.squads.OnMembershipChanged(ctx, channelID); err != nil {
			b.logger.Debug("squad refresh failed", zap.String("channel_id", channelID), zap.Error(err))
		}
	}
	if after != "" {
		if _, err := b.squads.HandleLobbyJoin(ctx, event.GuildID, event.UserID, displayName(member, event.UserID), after); err != nil {
			b.logger.Info("lobby squad creation failed", zap.String("user_id", event.UserID), zap.Error(err))
		}
	}
}

func (b *Bot) log(entry audit.Entry) {
	if b.audit == nil {
		return
	}
	ctx, cancel := b.eventContext()
	defer cancel()
	b.audit.Log(ctx, entry)
}

