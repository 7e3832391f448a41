package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"guildwarden/internal/giveaway"
	"guildwarden/internal/squad"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const reactionPage = 100

// platform adapts the discordgo session to the narrow interfaces the
// squad, giveaway, alert and web packages depend on.
type platform struct {
	session *discordgo.Session
	logger  *zap.Logger
}

func newPlatform(session *discordgo.Session, logger *zap.Logger) *platform {
	return &platform{session: session, logger: logger}
}

// mapError turns a Discord 404 into squad.ErrNotFound.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %v", squad.ErrNotFound, err)
	}
	return err
}

func toChannel(ch *discordgo.Channel) squad.Channel {
	return squad.Channel{
		ID:       ch.ID,
		GuildID:  ch.GuildID,
		ParentID: ch.ParentID,
		Name:     ch.Name,
		Category: ch.Type == discordgo.ChannelTypeGuildCategory,
		Voice:    ch.Type == discordgo.ChannelTypeGuildVoice,
	}
}

func (p *platform) Channel(ctx context.Context, channelID string) (squad.Channel, error) {
	ch, err := p.session.State.Channel(channelID)
	if err != nil {
		ch, err = p.session.Channel(channelID, discordgo.WithContext(ctx))
		if err != nil {
			return squad.Channel{}, mapError(err)
		}
	}
	return toChannel(ch), nil
}

func (p *platform) GuildChannels(ctx context.Context, guildID string) ([]squad.Channel, error) {
	channels, err := p.session.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]squad.Channel, 0, len(channels))
	for _, ch := range channels {
		out = append(out, toChannel(ch))
	}
	return out, nil
}

func (p *platform) CreateVoiceChannel(ctx context.Context, guildID, parentID, name string, userLimit int) (squad.Channel, error) {
	ch, err := p.session.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:      name,
		Type:      discordgo.ChannelTypeGuildVoice,
		ParentID:  parentID,
		UserLimit: userLimit,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return squad.Channel{}, mapError(err)
	}
	return toChannel(ch), nil
}

func (p *platform) DeleteChannel(ctx context.Context, channelID string) error {
	_, err := p.session.ChannelDelete(channelID, discordgo.WithContext(ctx))
	return mapError(err)
}

// GuildLoaded is false until GUILD_CREATE replaced the unavailable stub
// that READY put in the state.
func (p *platform) GuildLoaded(guildID string) bool {
	guild, err := p.session.State.Guild(guildID)
	if err != nil {
		return false
	}
	p.session.State.RLock()
	defer p.session.State.RUnlock()
	return !guild.Unavailable
}

// VoiceOccupants reads the gateway state cache, which reflects voice
// updates before any REST call could.
func (p *platform) VoiceOccupants(guildID, channelID string) []squad.Occupant {
	guild, err := p.session.State.Guild(guildID)
	if err != nil {
		return nil
	}

	p.session.State.RLock()
	states := make([]*discordgo.VoiceState, 0, len(guild.VoiceStates))
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID == channelID {
			states = append(states, vs)
		}
	}
	p.session.State.RUnlock()

	occupants := make([]squad.Occupant, 0, len(states))
	for _, vs := range states {
		member := vs.Member
		if member == nil || member.User == nil {
			member, _ = p.session.State.Member(guildID, vs.UserID)
		}
		occupants = append(occupants, squad.Occupant{
			UserID:      vs.UserID,
			DisplayName: displayName(member, vs.UserID),
			Bot:         member != nil && member.User != nil && member.User.Bot,
		})
	}
	return occupants
}

func (p *platform) MoveMember(ctx context.Context, guildID, userID, channelID string) error {
	return mapError(p.session.GuildMemberMove(guildID, userID, &channelID, discordgo.WithContext(ctx)))
}

func (p *platform) SendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed, components []discordgo.MessageComponent) (string, error) {
	msg, err := p.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{embed},
		Components: components,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapError(err)
	}
	return msg.ID, nil
}

func (p *platform) EditEmbed(ctx context.Context, channelID, messageID string, embed *discordgo.MessageEmbed, components []discordgo.MessageComponent) error {
	edit := discordgo.NewMessageEdit(channelID, messageID).SetEmbed(embed)
	edit.Components = &components
	_, err := p.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
	return mapError(err)
}

func (p *platform) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return mapError(p.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)))
}

func (p *platform) Post(ctx context.Context, channelID string, msg *discordgo.MessageSend) (string, error) {
	sent, err := p.session.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapError(err)
	}
	return sent.ID, nil
}

func (p *platform) Announce(ctx context.Context, channelID string, msg *discordgo.MessageSend) error {
	_, err := p.Post(ctx, channelID, msg)
	return err
}

func (p *platform) React(ctx context.Context, channelID, messageID, emoji string) error {
	return mapError(p.session.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx)))
}

// Reactors pages through every user who reacted with emoji.
func (p *platform) Reactors(ctx context.Context, channelID, messageID, emoji string) ([]giveaway.Reactor, error) {
	var (
		out   []giveaway.Reactor
		after string
	)
	for {
		users, err := p.session.MessageReactions(channelID, messageID, emoji, reactionPage, "", after, discordgo.WithContext(ctx))
		if err != nil {
			return nil, mapError(err)
		}
		for _, u := range users {
			out = append(out, giveaway.Reactor{ID: u.ID, Bot: u.Bot})
		}
		if len(users) < reactionPage {
			return out, nil
		}
		after = users[len(users)-1].ID
	}
}

func (p *platform) GrantRole(ctx context.Context, guildID, userID, roleID string) error {
	return mapError(p.session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx)))
}

// DirectMessage opens a DM channel with userID and sends content.
func (p *platform) DirectMessage(ctx context.Context, userID, content string) error {
	ch, err := p.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return mapError(err)
	}
	_, err = p.session.ChannelMessageSend(ch.ID, content, discordgo.WithContext(ctx))
	return mapError(err)
}

func displayName(member *discordgo.Member, fallback string) string {
	if member == nil {
		return fallback
	}
	if member.Nick != "" {
		return member.Nick
	}
	if member.User == nil {
		return fallback
	}
	if member.User.GlobalName != "" {
		return member.User.GlobalName
	}
	return member.User.Username
}
