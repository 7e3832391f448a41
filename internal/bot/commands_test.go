package bot

import (
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestAllowedOwnerOnly(t *testing.T) {
	restart := command{ownerOnly: true}

	if err := allowed(restart, "42", "42", 0); err != nil {
		t.Fatalf("expected owner to pass, got %v", err)
	}
	if err := allowed(restart, "7", "42", discordgo.PermissionAdministrator); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected administrator that is not the owner to be refused, got %v", err)
	}
	if err := allowed(restart, "42", "", discordgo.PermissionAdministrator); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected refusal without configured owner, got %v", err)
	}
}

func TestAllowedPermissionBits(t *testing.T) {
	kick := command{permission: discordgo.PermissionKickMembers}

	if err := allowed(kick, "7", "", discordgo.PermissionKickMembers|discordgo.PermissionSendMessages); err != nil {
		t.Fatalf("expected kick permission to pass, got %v", err)
	}
	if err := allowed(kick, "7", "", discordgo.PermissionBanMembers); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected missing bit to be refused, got %v", err)
	}
	if err := allowed(kick, "7", "", discordgo.PermissionAdministrator); err != nil {
		t.Fatalf("expected administrator override, got %v", err)
	}
	if err := allowed(command{}, "7", "", 0); err != nil {
		t.Fatalf("expected open command to pass, got %v", err)
	}
}

func TestCommandTablePermissions(t *testing.T) {
	table := (&Bot{}).commandTable()

	if !table["restart"].ownerOnly {
		t.Fatalf("expected restart to be owner only")
	}
	cases := map[string]int64{
		"kick":      discordgo.PermissionKickMembers,
		"ban":       discordgo.PermissionBanMembers,
		"clear":     discordgo.PermissionManageMessages,
		"move":      discordgo.PermissionVoiceMoveMembers,
		"reglement": discordgo.PermissionAdministrator,
		"giveaway":  discordgo.PermissionAdministrator,
		"squad":     0,
		"xp":        0,
	}
	for name, want := range cases {
		if got := table[name].permission; got != want {
			t.Fatalf("%s: expected permission %d, got %d", name, want, got)
		}
	}
}
