package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	KindMember  = "member"
	KindMessage = "message"
	KindVoice   = "voice"
	KindServer  = "server"

	colorJoin   = 0x2ECC71
	colorLeave  = 0xE67E22
	colorUpdate = 0x3498DB
	colorDelete = 0xE74C3C
	colorVoice  = 0x9B59B6

	maxFieldLen = 1024
)

type Field struct {
	Name  string
	Value string
}

// Entry is one guild event destined for a log channel.
type Entry struct {
	Kind      string
	Event     string
	GuildID   string
	UserID    string
	Title     string
	Details   string
	Color     int
	Fields    []Field
	CreatedAt time.Time
}

type Logger struct {
	logger *zap.Logger
	notify func(context.Context, Entry)
}

func NewLogger(logger *zap.Logger) *Logger {
	return &Logger{logger: logger.With(zap.String("component", "audit"))}
}

func (l *Logger) SetNotifier(notify func(context.Context, Entry)) {
	l.notify = notify
}

func (l *Logger) Log(ctx context.Context, entry Entry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if l.notify != nil {
		l.notify(ctx, entry)
	}
	l.logger.Info("audit", zap.String("kind", entry.Kind), zap.String("event", entry.Event), zap.String("guild_id", entry.GuildID), zap.String("user_id", entry.UserID), zap.String("details", entry.Details))
}

func (e Entry) Embed() *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Details,
		Color:       e.Color,
		Timestamp:   e.CreatedAt.Format(time.RFC3339),
	}
	for _, f := range e.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: clip(f.Value), Inline: false})
	}
	if e.UserID != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: "ID : " + e.UserID}
	}
	return embed
}

func MemberJoined(guildID, userID, username string, accountCreated time.Time) Entry {
	entry := Entry{
		Kind:    KindMember,
		Event:   "member_join",
		GuildID: guildID,
		UserID:  userID,
		Title:   "📥 Nouveau membre",
		Details: fmt.Sprintf("<@%s> (%s) a rejoint le serveur.", userID, username),
		Color:   colorJoin,
	}
	if !accountCreated.IsZero() {
		entry.Fields = []Field{{Name: "Compte créé", Value: fmt.Sprintf("<t:%d:R>", accountCreated.Unix())}}
	}
	return entry
}

func MemberLeft(guildID, userID, username string) Entry {
	return Entry{
		Kind:    KindMember,
		Event:   "member_leave",
		GuildID: guildID,
		UserID:  userID,
		Title:   "📤 Départ",
		Details: fmt.Sprintf("<@%s> (%s) a quitté le serveur.", userID, username),
		Color:   colorLeave,
	}
}

// RolesChanged diffs the role ids before and after an update. It reports
// false when nothing changed.
func RolesChanged(guildID, userID string, before, after []string) (Entry, bool) {
	removed, added := lo.Difference(before, after)
	if len(added) == 0 && len(removed) == 0 {
		return Entry{}, false
	}
	entry := Entry{
		Kind:    KindMember,
		Event:   "member_roles",
		GuildID: guildID,
		UserID:  userID,
		Title:   "🏷️ Rôles modifiés",
		Details: fmt.Sprintf("Rôles de <@%s> mis à jour.", userID),
		Color:   colorUpdate,
	}
	if len(added) > 0 {
		entry.Fields = append(entry.Fields, Field{Name: "Ajoutés", Value: mentionRoles(added)})
	}
	if len(removed) > 0 {
		entry.Fields = append(entry.Fields, Field{Name: "Retirés", Value: mentionRoles(removed)})
	}
	return entry, true
}

func ChannelRenamed(guildID, channelID, before, after string) Entry {
	return Entry{
		Kind:    KindServer,
		Event:   "channel_rename",
		GuildID: guildID,
		Title:   "✏️ Salon renommé",
		Details: fmt.Sprintf("<#%s>", channelID),
		Color:   colorUpdate,
		Fields:  []Field{{Name: "Avant", Value: before}, {Name: "Après", Value: after}},
	}
}

// MessageDeleted takes an empty content when the message was not cached.
func MessageDeleted(guildID, channelID, authorID, content string) Entry {
	if content == "" {
		content = "_contenu indisponible_"
	}
	details := fmt.Sprintf("Message supprimé dans <#%s>", channelID)
	if authorID != "" {
		details = fmt.Sprintf("Message de <@%s> supprimé dans <#%s>", authorID, channelID)
	}
	return Entry{
		Kind:    KindMessage,
		Event:   "message_delete",
		GuildID: guildID,
		UserID:  authorID,
		Title:   "🗑️ Message supprimé",
		Details: details,
		Color:   colorDelete,
		Fields:  []Field{{Name: "Contenu", Value: content}},
	}
}

func MessageEdited(guildID, channelID, messageID, authorID, before, after string) (Entry, bool) {
	if before == after {
		return Entry{}, false
	}
	if before == "" {
		before = "_contenu indisponible_"
	}
	return Entry{
		Kind:    KindMessage,
		Event:   "message_edit",
		GuildID: guildID,
		UserID:  authorID,
		Title:   "📝 Message modifié",
		Details: fmt.Sprintf("<@%s> dans <#%s> ([lien](https://discord.com/channels/%s/%s/%s))", authorID, channelID, guildID, channelID, messageID),
		Color:   colorUpdate,
		Fields:  []Field{{Name: "Avant", Value: before}, {Name: "Après", Value: after}},
	}, true
}

// VoiceChanged describes a join, leave or move. Empty ids mean not
// connected; identical ids (mute, deafen) yield false.
func VoiceChanged(guildID, userID, before, after string) (Entry, bool) {
	if before == after {
		return Entry{}, false
	}
	entry := Entry{
		Kind:    KindVoice,
		GuildID: guildID,
		UserID:  userID,
		Color:   colorVoice,
	}
	switch {
	case before == "":
		entry.Event = "voice_join"
		entry.Title = "🔊 Connexion vocale"
		entry.Details = fmt.Sprintf("<@%s> a rejoint <#%s>", userID, after)
	case after == "":
		entry.Event = "voice_leave"
		entry.Title = "🔇 Déconnexion vocale"
		entry.Details = fmt.Sprintf("<@%s> a quitté <#%s>", userID, before)
	default:
		entry.Event = "voice_move"
		entry.Title = "🔀 Changement de salon"
		entry.Details = fmt.Sprintf("<@%s> : <#%s> → <#%s>", userID, before, after)
	}
	return entry, true
}

func mentionRoles(ids []string) string {
	return strings.Join(lo.Map(ids, func(id string, _ int) string { return "<@&" + id + ">" }), " ")
}

func clip(value string) string {
	if value == "" {
		return "\u200b"
	}
	runes := []rune(value)
	if len(runes) <= maxFieldLen {
		return value
	}
	return string(runes[:maxFieldLen-1]) + "…"
}
