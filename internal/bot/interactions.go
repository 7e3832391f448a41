package bot

import (
	"context"
	"strconv"
	"strings"

	"guildwarden/internal/squad"
	"guildwarden/internal/web"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	defer b.recoverEvent("interaction_create")
	if interaction.GuildID == "" || interaction.Member == nil || interaction.Member.User == nil {
		return
	}

	ctx, cancel := b.eventContext()
	defer cancel()

	switch interaction.Type {
	case discordgo.InteractionApplicationCommand:
		data := interaction.ApplicationCommandData()
		if data.Name == "squad" {
			b.handleSquadCommand(ctx, session, interaction, data.Options)
		}
	case discordgo.InteractionMessageComponent:
		customID := interaction.MessageComponentData().CustomID
		switch {
		case customID == squadCreateID:
			b.openSquadModal(session, interaction)
		case customID == reglementID:
			b.handleReglementAccept(ctx, session, interaction)
		default:
			if channelID, ok := squad.ChannelFromCustomID(customID); ok {
				b.handleSquadJoin(ctx, session, interaction, channelID)
			}
		}
	case discordgo.InteractionModalSubmit:
		data := interaction.ModalSubmitData()
		if data.CustomID == squadModalID {
			b.handleSquadModal(ctx, session, interaction, data)
		}
	}
}

func (b *Bot) handleSquadCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	var (
		game     string
		capacity int
	)
	for _, opt := range options {
		switch opt.Name {
		case squadGameInput:
			game = strings.TrimSpace(opt.StringValue())
		case squadPlacesInput:
			capacity = int(opt.IntValue())
		}
	}
	b.createSquadFromInteraction(ctx, session, interaction, game, capacity)
}

func (b *Bot) openSquadModal(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: squadModalID,
			Title:    "Nouvelle squad",
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    squadGameInput,
						Label:       "Jeu",
						Style:       discordgo.TextInputShort,
						Placeholder: "Valorant, Rocket League…",
						Required:    true,
						MaxLength:   60,
					},
				}},
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    squadPlacesInput,
						Label:       "Nombre de places",
						Style:       discordgo.TextInputShort,
						Placeholder: "5",
						Required:    true,
						MaxLength:   2,
					},
				}},
			},
		},
	})
	if err != nil {
		b.logger.Debug("open squad modal failed", zap.Error(err))
	}
}

func (b *Bot) handleSquadModal(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, data discordgo.ModalSubmitInteractionData) {
	values := modalValues(data)
	capacity, err := strconv.Atoi(strings.TrimSpace(values[squadPlacesInput]))
	if err != nil {
		b.respond(session, interaction, userMessage(squad.ErrInvalidCapacity), true)
		return
	}
	b.createSquadFromInteraction(ctx, session, interaction, strings.TrimSpace(values[squadGameInput]), capacity)
}

func modalValues(data discordgo.ModalSubmitInteractionData) map[string]string {
	values := make(map[string]string)
	for _, component := range data.Components {
		row, ok := component.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, inner := range row.Components {
			if input, ok := inner.(*discordgo.TextInput); ok {
				values[input.CustomID] = input.Value
			}
		}
	}
	return values
}

func (b *Bot) createSquadFromInteraction(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, game string, capacity int) {
	if game == "" {
		b.respond(session, interaction, userMessage(ErrInvalidArgument), true)
		return
	}
	b.deferEphemeral(session, interaction)
	rec, err := b.squads.CreateSquad(ctx, squad.CreateRequest{
		GuildID:           interaction.GuildID,
		RequesterID:       interaction.Member.User.ID,
		RequesterName:     displayName(interaction.Member, interaction.Member.User.Username),
		Game:              game,
		Capacity:          capacity,
		FallbackChannelID: interaction.ChannelID,
	})
	if err != nil {
		b.logger.Info("squad creation failed", zap.String("user_id", interaction.Member.User.ID), zap.Error(err))
		b.followUp(session, interaction, userMessage(err))
		return
	}
	b.followUp(session, interaction, "✅ Squad créée : <#"+rec.VoiceChannelID+">")
}

func (b *Bot) handleSquadJoin(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, channelID string) {
	b.deferEphemeral(session, interaction)
	if err := b.squads.JoinSquad(ctx, interaction.Member.User.ID, channelID); err != nil {
		b.logger.Info("squad join failed", zap.String("channel_id", channelID), zap.String("user_id", interaction.Member.User.ID), zap.Error(err))
		b.followUp(session, interaction, userMessage(err))
		return
	}
	b.followUp(session, interaction, "✅ Tu as rejoint la squad <#"+channelID+"> !")
}

func (b *Bot) handleReglementAccept(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	userID := interaction.Member.User.ID
	if roleID := b.cfg.Roles.BaseRoleID; roleID != "" {
		if err := b.platform.GrantRole(ctx, interaction.GuildID, userID, roleID); err != nil {
			b.logger.Warn("base role grant failed", zap.String("user_id", userID), zap.Error(err))
			b.respond(session, interaction, userMessage(err), true)
			return
		}
	}

	if b.twitch == nil || !b.cfg.OAuthEnabled() {
		b.respond(session, interaction, "✅ Règlement accepté, bienvenue !", true)
		return
	}

	authURL := b.twitch.AuthCodeURL(web.State(interaction.GuildID, userID))
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: "✅ Règlement accepté, bienvenue ! Lie ton compte Twitch pour débloquer le rôle viewer :",
			Flags:   discordgo.MessageFlagsEphemeral,
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.Button{Label: "Lier mon compte Twitch", Style: discordgo.LinkButton, URL: authURL},
				}},
			},
		},
	})
}
