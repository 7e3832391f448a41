package squad

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	JoinPrefix = "squad_join:"

	colorOpen = 0x2ECC71
	colorFull = 0xE74C3C
)

// Roster is what the announcement message shows for one squad.
type Roster struct {
	ChannelID string
	Game      string
	OwnerID   string
	Capacity  int
	Names     []string
}

func (r Roster) Full() bool {
	return len(r.Names) >= r.Capacity
}

func (r Roster) Embed() *discordgo.MessageEmbed {
	var lines strings.Builder
	for i, name := range r.Names {
		fmt.Fprintf(&lines, "%d. %s\n", i+1, name)
	}
	if len(r.Names) == 0 {
		lines.WriteString("_Personne pour le moment_")
	}

	color := colorOpen
	status := fmt.Sprintf("%d place(s) restante(s)", r.Capacity-len(r.Names))
	if r.Full() {
		color = colorFull
		status = "Squad complète"
	}

	return &discordgo.MessageEmbed{
		Title:       "🎮 Squad " + r.Game,
		Description: fmt.Sprintf("Salon : <#%s>\nCréée par <@%s>", r.ChannelID, r.OwnerID),
		Color:       color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: fmt.Sprintf("Membres (%d/%d)", len(r.Names), r.Capacity), Value: lines.String()},
			{Name: "Statut", Value: status},
		},
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

func (r Roster) Components() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{
				Label:    "Rejoindre",
				Style:    discordgo.SuccessButton,
				CustomID: JoinPrefix + r.ChannelID,
				Disabled: r.Full(),
				Emoji:    &discordgo.ComponentEmoji{Name: "➕"},
			},
		}},
	}
}

// ChannelFromCustomID extracts the voice channel id of a join button.
func ChannelFromCustomID(customID string) (string, bool) {
	id, ok := strings.CutPrefix(customID, JoinPrefix)
	return id, ok && id != ""
}

func channelName(game, requester string, suffix int) string {
	name := fmt.Sprintf("%s · %s #%04d", strings.TrimSpace(game), strings.TrimSpace(requester), suffix)
	runes := []rune(name)
	if len(runes) > 100 {
		runes = runes[:100]
	}
	return string(runes)
}
