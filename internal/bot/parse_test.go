package bot

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"guildwarden/internal/squad"

	"github.com/bwmarrin/discordgo"
)

func TestParseCommand(t *testing.T) {
	cases := []struct {
		content string
		name    string
		args    int
		ok      bool
	}{
		{"!squad 5 Valorant ranked", "squad", 3, true},
		{"  !PING  ", "ping", 0, true},
		{"! squad", "", 0, false},
		{"squad 5", "", 0, false},
		{"!", "", 0, false},
	}
	for _, tc := range cases {
		name, args, ok := ParseCommand("!", tc.content)
		if ok != tc.ok || name != tc.name || len(args) != tc.args {
			t.Fatalf("%q: got (%q, %v, %v)", tc.content, name, args, ok)
		}
	}
}

func TestParseMention(t *testing.T) {
	for _, raw := range []string{"<@123456789>", "<@!123456789>", "123456789"} {
		id, ok := parseMention(raw)
		if !ok || id != "123456789" {
			t.Fatalf("%q: got %q %v", raw, id, ok)
		}
	}
	for _, raw := range []string{"@everyone", "<@123", "<#123456789>", "abc"} {
		if _, ok := parseMention(raw); ok {
			t.Fatalf("%q: expected rejection", raw)
		}
	}
}

func TestParseChannelRef(t *testing.T) {
	if id, name := parseChannelRef("<#123456789>"); id != "123456789" || name != "" {
		t.Fatalf("unexpected %q %q", id, name)
	}
	if id, name := parseChannelRef("Salon Général"); id != "" || name != "Salon Général" {
		t.Fatalf("unexpected %q %q", id, name)
	}
}

func TestParseClearCount(t *testing.T) {
	if n, err := ParseClearCount([]string{"42"}); err != nil || n != 42 {
		t.Fatalf("unexpected %d %v", n, err)
	}
	for _, args := range [][]string{nil, {"0"}, {"101"}, {"dix"}} {
		if _, err := ParseClearCount(args); !errors.Is(err, ErrInvalidRange) {
			t.Fatalf("%v: expected ErrInvalidRange, got %v", args, err)
		}
	}
}

func TestUserMessageUnwrapsErrors(t *testing.T) {
	wrapped := fmt.Errorf("join: %w", squad.ErrSquadFull)
	if got := userMessage(wrapped); got != "🚫 Cette squad est complète." {
		t.Fatalf("unexpected message %q", got)
	}
	if got := userMessage(errors.New("boom")); got != "❌ Une erreur est survenue." {
		t.Fatalf("unexpected fallback %q", got)
	}
}

func TestMapErrorTranslatesNotFound(t *testing.T) {
	notFound := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusNotFound}}
	if !errors.Is(mapError(notFound), squad.ErrNotFound) {
		t.Fatalf("expected ErrNotFound")
	}
	forbidden := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}}
	if errors.Is(mapError(forbidden), squad.ErrNotFound) {
		t.Fatalf("403 must not map to ErrNotFound")
	}
	if mapError(nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}

func TestSplitRef(t *testing.T) {
	channelID, messageID, ok := splitRef(messageRef("c1", "m1"))
	if !ok || channelID != "c1" || messageID != "m1" {
		t.Fatalf("unexpected %q %q %v", channelID, messageID, ok)
	}
	if _, _, ok := splitRef("m1"); ok {
		t.Fatalf("legacy bare id must be rejected")
	}
}

func TestDisplayName(t *testing.T) {
	if got := displayName(nil, "42"); got != "42" {
		t.Fatalf("unexpected %q", got)
	}
	member := &discordgo.Member{User: &discordgo.User{Username: "neo", GlobalName: "Neo"}}
	if got := displayName(member, "42"); got != "Neo" {
		t.Fatalf("unexpected %q", got)
	}
	member.Nick = "The One"
	if got := displayName(member, "42"); got != "The One" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestModalValues(t *testing.T) {
	data := discordgo.ModalSubmitInteractionData{
		CustomID: squadModalID,
		Components: []discordgo.MessageComponent{
			&discordgo.ActionsRow{Components: []discordgo.MessageComponent{&discordgo.TextInput{CustomID: squadGameInput, Value: "CS2"}}},
			&discordgo.ActionsRow{Components: []discordgo.MessageComponent{&discordgo.TextInput{CustomID: squadPlacesInput, Value: "5"}}},
		},
	}
	values := modalValues(data)
	if values[squadGameInput] != "CS2" || values[squadPlacesInput] != "5" {
		t.Fatalf("unexpected values %v", values)
	}
}
