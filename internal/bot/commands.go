package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"guildwarden/internal/giveaway"
	"guildwarden/internal/guide"
	"guildwarden/internal/levels"
	"guildwarden/internal/metrics"
	"guildwarden/internal/squad"
	"guildwarden/internal/utils"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	squadCreateID    = "squad_create"
	squadModalID     = "squad_modal"
	squadGameInput   = "jeu"
	squadPlacesInput = "places"
	reglementID      = "reglement_accept"
)

type command struct {
	usage       string
	description string
	permission  int64
	ownerOnly   bool
	run         func(ctx context.Context, m *discordgo.MessageCreate, args []string) error
}

func (b *Bot) commandTable() map[string]command {
	return map[string]command{
		"kick":      {usage: "kick @membre [raison]", description: "Expulse un membre.", permission: discordgo.PermissionKickMembers, run: b.cmdKick},
		"ban":       {usage: "ban @membre [raison]", description: "Bannit un membre.", permission: discordgo.PermissionBanMembers, run: b.cmdBan},
		"clear":     {usage: "clear <1-100>", description: "Supprime les derniers messages du salon.", permission: discordgo.PermissionManageMessages, run: b.cmdClear},
		"move":      {usage: "move @membre <salon>", description: "Déplace un membre dans un salon vocal.", permission: discordgo.PermissionVoiceMoveMembers, run: b.cmdMove},
		"squad":     {usage: "squad <places> <jeu>", description: "Crée une squad vocale temporaire.", run: b.cmdSquad},
		"ping":      {usage: "ping", description: "Affiche la latence du bot.", run: b.cmdPing},
		"reglement": {usage: "reglement", description: "Publie le règlement.", permission: discordgo.PermissionAdministrator, run: b.cmdReglement},
		"restart":   {usage: "restart", description: "Redémarre le bot.", ownerOnly: true, run: b.cmdRestart},
		"link":      {usage: "link <url>", description: "T'envoie le lien nettoyé en privé.", permission: discordgo.PermissionAdministrator, run: b.cmdLink},
		"giveaway":  {usage: "giveaway <durée> <lot>", description: "Lance un giveaway.", permission: discordgo.PermissionAdministrator, run: b.cmdGiveaway},
		"guide":     {usage: "guide", description: "Publie le guide du serveur.", permission: discordgo.PermissionAdministrator, run: b.cmdGuide},
		"xp":        {usage: "xp [@membre]", description: "Temps passé en vocal.", run: b.cmdXP},
		"role":      {usage: "role <nom>", description: "S'attribuer un rôle autorisé.", run: b.cmdRole},
		"help":      {usage: "help", description: "Liste des commandes.", run: b.cmdHelp},
	}
}

func (b *Bot) dispatch(ctx context.Context, m *discordgo.MessageCreate) {
	name, args, ok := ParseCommand(b.cfg.CommandPrefix, m.Content)
	if !ok {
		return
	}
	cmd, ok := b.commands[name]
	if !ok {
		return
	}

	err := b.authorize(cmd, m)
	if err == nil {
		err = cmd.run(ctx, m, args)
	}
	if err != nil {
		metrics.Commands.WithLabelValues(name, "error").Inc()
		b.logger.Info("command failed", zap.String("command", name), zap.String("user_id", m.Author.ID), zap.Error(err))
		b.reply(m.ChannelID, userMessage(err))
		return
	}
	metrics.Commands.WithLabelValues(name, "ok").Inc()
}

func (b *Bot) authorize(cmd command, m *discordgo.MessageCreate) error {
	var perms int64
	if !cmd.ownerOnly && cmd.permission != 0 {
		var err error
		perms, err = b.session.UserChannelPermissions(m.Author.ID, m.ChannelID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
	}
	return allowed(cmd, m.Author.ID, b.cfg.OwnerID, perms)
}

// allowed decides whether authorID, holding perms in the channel, may run
// cmd. Owner-only commands are refused when no owner is configured.
func allowed(cmd command, authorID, ownerID string, perms int64) error {
	if cmd.ownerOnly {
		if ownerID == "" || authorID != ownerID {
			return ErrPermissionDenied
		}
		return nil
	}
	if cmd.permission == 0 || perms&discordgo.PermissionAdministrator != 0 || perms&cmd.permission == cmd.permission {
		return nil
	}
	return ErrPermissionDenied
}

func (b *Bot) targetMember(ctx context.Context, guildID string, args []string) (*discordgo.Member, error) {
	if len(args) == 0 {
		return nil, ErrMemberNotFound
	}
	userID, ok := parseMention(args[0])
	if !ok {
		return nil, ErrMemberNotFound
	}
	member, err := b.session.State.Member(guildID, userID)
	if err == nil {
		return member, nil
	}
	member, err = b.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, ErrMemberNotFound
	}
	return member, nil
}

func reasonFrom(args []string, author string) string {
	reason := strings.TrimSpace(strings.Join(args, " "))
	if reason == "" {
		reason = "Aucune raison fournie"
	}
	return fmt.Sprintf("%s (par %s)", reason, author)
}

func (b *Bot) cmdKick(ctx context.Context, m *discordgo.MessageCreate, args []string) error {
	member, err := b.targetMember(ctx, m.GuildID, args)
	if err != nil {
		return err
	}
	if err := b.session.GuildMemberDeleteWithReason(m.GuildID, member.User.ID, reasonFrom(args[1:], m.Author.Username), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("kick: %w", err)
	}
	b.reply(m.ChannelID, fmt.Sprintf("👢 %s a été expulsé.", displayName(member, member.User.ID)))
	return nil
}

func (b *Bot) cmdBan(ctx context.Context, m *discordgo.MessageCreate, args []string) error {
	member, err := b.targetMember(ctx, m.GuildID, args)
	if err != nil {
		return err
	}
	if err := b.session.GuildBanCreateWithReason(m.GuildID, member.User.ID, reasonFrom(args[1:], m.Author.Username), 0, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("ban: %w", err)
	}
	b.reply(m.ChannelID, fmt.Sprintf("🔨 %s a été banni.", displayName(member, member.User.ID)))
	return nil
}

// ParseClearCount validates the clear argument.
func ParseClearCount(args []string) (int, error) {
	if len(args) == 0 {
		return 0, ErrInvalidRange
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > 100 {
		return 0, ErrInvalidRange
	}
	return n, nil
}

func (b *Bot) cmdClear(ctx context.Context, m *discordgo.MessageCreate, args []string) error {
	n, err := ParseClearCount(args)
	if err != nil {
		return err
	}
	messages, err := b.session.ChannelMessages(m.ChannelID, n, m.ID, "", "", discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}
	ids := append(lo.Map(messages, func(msg *discordgo.Message, _ int) string { return msg.ID }), m.ID)

	for _, chunk := range lo.Chunk(ids, 100) {
		if len(chunk) >= 2 {
			if err := b.session.ChannelMessagesBulkDelete(m.ChannelID, chunk, discordgo.WithContext(ctx)); err == nil {
				continue
			}
		}
		// bulk delete refuses messages older than two weeks
		for _, id := range chunk {
			_ = b.session.ChannelMessageDelete(m.ChannelID, id, discordgo.WithContext(ctx))
		}
	}
	b.reply(m.ChannelID, fmt.Sprintf("🧹 %d message(s) supprimé(s).", len(messages)))
	return nil
}

func (b *Bot) cmdMove(ctx context.Context, m *discordgo.MessageCreate, args []string) error {
	member, err := b.targetMember(ctx, m.GuildID, args)
	if err != nil {
		return err
	}
	if len(args) < 2 {
		return ErrChannelNotFound
	}
	channelID, err := b.resolveVoiceChannel(ctx, m.GuildID, strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	if err := b.platform.MoveMember(ctx, m.GuildID, member.User.ID, channelID); err != nil {
		if errors.Is(err, squad.ErrNotFound) {
			return ErrChannelNotFound
		}
		return fmt.Errorf("%w: %v", squad.ErrMoveFailed, err)
	}
	b.reply(m.ChannelID, fmt.Sprintf("🔀 %s déplacé dans <#%s>.", displayName(member, member.User.ID), channelID))
	return nil
}

func (b *Bot) resolveVoiceChannel(ctx context.Context, guildID, ref string) (string, error) {
	id, name := parseChannelRef(ref)
	channels, err := b.platform.GuildChannels(ctx, guildID)
	if err != nil {
		return "", err
	}
	match, ok := lo.Find(channels, func(ch squad.Channel) bool {
		if !ch.Voice {
			return false
		}
		if id != "" {
			return ch.ID == id
		}
		return strings.EqualFold(ch.Name, name)
	})
	if !ok {
		return "", ErrChannelNotFound
	}
	return match.ID, nil
}

func (b *Bot) cmdSquad(ctx context.Context, m *discordgo.MessageCreate, args []string) error {
	if len(args) == 0 {
		return b.postSquadPanel(ctx, m.ChannelID)
	}
	capacity, err := strconv.Atoi(args[0])
	if err != nil {
		return squad.ErrInvalidCapacity
	}
	game := strings.TrimSpace(strings.Join(args[1:], " "))
	if game == "" {
		return ErrInvalidArgument
	}
	member, _ := b.session.State.Member(m.GuildID, m.Author.ID)
	rec, err := b.squads.CreateSquad(ctx, squad.CreateRequest{
		GuildID:           m.GuildID,
		RequesterID:       m.Author.ID,
		RequesterName:     displayName(member, m.Author.Username),
		Game:              game,
		Capacity:          capacity,
		FallbackChannelID: m.ChannelID,
	})
	if err != nil {
		return err
	}
	b.reply(m.ChannelID, fmt.Sprintf("✅ Squad créée : <#%s>", rec.VoiceChannelID))
	return nil
}

func (b *Bot) postSquadPanel(ctx context.Context, channelID string) error {
	_, err := b.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{b.commandEmbed("🎮 Squads", "Clique sur le bouton pour créer ta squad vocale.", colorInfo, nil)},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{Label: "Créer une squad", Style: discordgo.PrimaryButton, CustomID: squadCreateID},
			}},
		},
	}, discordgo.WithContext(ctx))
	return err
}

func (b *Bot) cmdPing(ctx context.Context, m *discordgo.MessageCreate, args []string) error {
	b.reply(m.ChannelID, fmt.Sprintf("🏓 Pong ! (%d ms)", b.session.HeartbeatLatency().Milliseconds()))
	return nil
}

func (b *Bot) cmdReglement(ctx context.Context, m *discordgo.MessageCreate, args []string) error {
	if channelID, messageID, ok := splitRef(b.store.ReglementMessage()); ok {
		_ = b.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx))
	}

	var rules strings.Builder
	for i, rule := range b.cfg.Reglement.Rules {
		fmt.Fprintf(&rules, "**%d.** %s\n", i+1, rule)
	}
	rules.WriteString("\nClique sur **Accepter** pour accéder au serveur.")

	msg, err := b.session.ChannelMessageSendComplex(m.ChannelID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{b.commandEmbed(b.cfg.Reglement.Title, rules.String(), colorReglement, nil)},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{Label: "Accepter", Style: discordgo.SuccessButton, CustomID: reglementID, Emoji: &discordgo.ComponentEmoji{Name: "✅"}},
			}},
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("post reglement: %w", err)
	}
	return b.store.SetReglementMessage(ctx, messageRef(msg.ChannelID, msg.ID))
}

func (b *Bot) cmdRestart(ctx context.Context, m *discordgo.MessageCreate, args []string) error {
	_, _ = b.session.ChannelMessageSend(m.ChannelID, "🔄 Redémarrage en cours…")
	b.logger.Info("restart requested", zap.String("user_id", m.Author.ID))
	b.requestRestart()
	return nil
}

func (b *Bot) cmdLink(ctx context.Context, m *discordgo.MessageCreate, args []string) error {
	if len(args) == 0 {
		return ErrInvalidArgument
	}
	cleaned, _, err := utils.NormalizeURL(args[0])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if err := b.platform.DirectMessage(ctx, m.Author.ID, "🔗 "+cleaned); err != nil {
		return fmt.Errorf("send link: %w", err)
	}
	b.reply(m.ChannelID, "📬 Lien envoyé en message privé.")
	return nil
}

func (b *Bot) cmdGiveaway(ctx context.Context, m *discordgo.MessageCreate, args []string) error {
	if len(args) < 2 {
		return ErrInvalidArgument
	}
	d, err := giveaway.ParseDuration(args[0])
	if err != nil {
		return err
	}
	prize := strings.Join(args[1:], " ")
	if _, err := b.giveaways.Start(ctx, m.ChannelID, m.Author.ID, prize, d); err != nil {
		return err
	}
	_ = b.session.ChannelMessageDelete(m.ChannelID, m.ID, discordgo.WithContext(ctx))
	return nil
}

func (b *Bot) cmdGuide(ctx context.Context, m *discordgo.MessageCreate, args []string) error {
	image, err := guide.Render(b.cfg.Guide.Title, b.cfg.Guide.Lines)
	if err != nil {
		return err
	}
	if channelID, messageID, ok := splitRef(b.store.GuideMessage()); ok {
		_ = b.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx))
	}
	msg, err := b.session.ChannelMessageSendComplex(m.ChannelID, &discordgo.MessageSend{
		Files: []*discordgo.File{{Name: "guide.png", ContentType: "image/png", Reader: bytes.NewReader(image)}},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("post guide: %w", err)
	}
	return b.store.SetGuideMessage(ctx, messageRef(msg.ChannelID, msg.ID))
}

func (b *Bot) cmdXP(ctx context.Context, m *discordgo.MessageCreate, args []string) error {
	userID := m.Author.ID
	if len(args) > 0 {
		id, ok := parseMention(args[0])
		if !ok {
			return ErrMemberNotFound
		}
		userID = id
	}
	total, sessions := b.levels.Summary(userID)
	embed := b.commandEmbed("⏱️ Temps en vocal", fmt.Sprintf("<@%s> : **%s** sur %d session(s).", userID, levels.FormatDuration(total), sessions), colorInfo, nil)
	b.replyEmbed(m.ChannelID, embed, false)
	return nil
}

func (b *Bot) cmdRole(ctx context.Context, m *discordgo.MessageCreate, args []string) error {
	name := strings.TrimSpace(strings.Join(args, " "))
	if name == "" {
		return ErrRoleNotFound
	}
	guild, err := b.session.State.Guild(m.GuildID)
	if err != nil {
		return ErrRoleNotFound
	}
	b.session.State.RLock()
	role, ok := lo.Find(guild.Roles, func(r *discordgo.Role) bool { return strings.EqualFold(r.Name, name) })
	b.session.State.RUnlock()
	if !ok || !b.selfAssignable(role) {
		return ErrRoleNotFound
	}
	if err := b.platform.GrantRole(ctx, m.GuildID, m.Author.ID, role.ID); err != nil {
		return fmt.Errorf("grant role: %w", err)
	}
	b.reply(m.ChannelID, fmt.Sprintf("🏷️ Rôle **%s** attribué.", role.Name))
	return nil
}

func (b *Bot) selfAssignable(role *discordgo.Role) bool {
	return lo.ContainsBy(b.cfg.Roles.SelfAssignable, func(name string) bool {
		return name == role.ID || strings.EqualFold(name, role.Name)
	})
}

func (b *Bot) cmdHelp(ctx context.Context, m *discordgo.MessageCreate, args []string) error {
	names := lo.Keys(b.commands)
	sort.Strings(names)
	var lines strings.Builder
	for _, name := range names {
		cmd := b.commands[name]
		fmt.Fprintf(&lines, "`%s%s` : %s\n", b.cfg.CommandPrefix, cmd.usage, cmd.description)
	}
	b.replyEmbed(m.ChannelID, b.commandEmbed("📖 Commandes", lines.String(), colorInfo, nil), false)
	return nil
}

func (b *Bot) registerCommands() error {
	minPlaces := 1.0
	commands := []*discordgo.ApplicationCommand{
		{
			Name:        "squad",
			Description: "Créer une squad vocale temporaire",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        squadGameInput,
					Description: "Jeu ou activité",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        squadPlacesInput,
					Description: "Nombre de places (1-99)",
					Required:    true,
					MinValue:    &minPlaces,
					MaxValue:    float64(b.cfg.Squad.MaxCapacity),
				},
			},
		},
	}

	appID := b.session.State.User.ID
	existing, err := b.session.ApplicationCommands(appID, "")
	if err != nil {
		for _, cmd := range commands {
			if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
				return err
			}
		}
		return nil
	}

	existingByName := lo.KeyBy(existing, func(cmd *discordgo.ApplicationCommand) string { return cmd.Name })
	desired := make(map[string]struct{}, len(commands))
	for _, cmd := range commands {
		desired[cmd.Name] = struct{}{}
		if current, ok := existingByName[cmd.Name]; ok {
			if _, err := b.session.ApplicationCommandEdit(appID, "", current.ID, cmd); err != nil {
				return err
			}
			continue
		}
		if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
			return err
		}
	}

	for _, cmd := range existing {
		if _, ok := desired[cmd.Name]; ok {
			continue
		}
		_ = b.session.ApplicationCommandDelete(appID, "", cmd.ID)
	}
	return nil
}
