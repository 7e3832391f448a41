package bot

import (
	"errors"
	"strconv"
	"strings"

	"guildwarden/internal/giveaway"
	"guildwarden/internal/squad"
	"guildwarden/internal/utils"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrMemberNotFound   = errors.New("member not found")
	ErrChannelNotFound  = errors.New("channel not found")
	ErrRoleNotFound     = errors.New("role not found")
	ErrInvalidRange     = errors.New("value out of range")
	ErrInvalidArgument  = errors.New("invalid argument")
)

// ParseCommand splits "!name arg1 arg2" into its lowercased name and
// arguments. ok is false when content does not start with prefix.
func ParseCommand(prefix, content string) (name string, args []string, ok bool) {
	rest, found := strings.CutPrefix(strings.TrimSpace(content), prefix)
	if !found || prefix == "" {
		return "", nil, false
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 || rest[0] == ' ' {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

// parseMention accepts <@id>, <@!id> or a raw numeric id.
func parseMention(arg string) (string, bool) {
	if inner, ok := strings.CutPrefix(arg, "<@"); ok {
		inner, ok = strings.CutSuffix(inner, ">")
		if !ok {
			return "", false
		}
		arg = strings.TrimPrefix(inner, "!")
	}
	return arg, isSnowflake(arg)
}

// parseChannelRef accepts <#id> or a raw id; anything else is returned as a
// name to resolve.
func parseChannelRef(arg string) (id, name string) {
	if inner, ok := strings.CutPrefix(arg, "<#"); ok {
		if inner, ok = strings.CutSuffix(inner, ">"); ok && isSnowflake(inner) {
			return inner, ""
		}
	}
	if isSnowflake(arg) {
		return arg, ""
	}
	return "", arg
}

func isSnowflake(s string) bool {
	if len(s) < 5 || len(s) > 20 {
		return false
	}
	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}

// userMessage maps command errors to the short reply shown in chat.
func userMessage(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "⛔ Tu n'as pas la permission d'utiliser cette commande."
	case errors.Is(err, ErrMemberNotFound):
		return "❓ Membre introuvable."
	case errors.Is(err, ErrChannelNotFound):
		return "❓ Salon introuvable."
	case errors.Is(err, ErrRoleNotFound):
		return "❓ Rôle introuvable ou non attribuable."
	case errors.Is(err, ErrInvalidRange):
		return "⚠️ Indique un nombre entre 1 et 100."
	case errors.Is(err, giveaway.ErrInvalidDuration):
		return "⚠️ Durée invalide (exemples : 30m, 2h, 3j)."
	case errors.Is(err, utils.ErrEmptyURL):
		return "⚠️ Lien invalide."
	case errors.Is(err, ErrInvalidArgument):
		return "⚠️ Arguments invalides."
	case errors.Is(err, squad.ErrInvalidCapacity):
		return "⚠️ Le nombre de places doit être compris entre 1 et 99."
	case errors.Is(err, squad.ErrCategoryNotFound):
		return "⚠️ La catégorie des squads n'est pas configurée."
	case errors.Is(err, squad.ErrCreateThrottled):
		return "⏳ Tu crées des squads trop vite, réessaie dans une minute."
	case errors.Is(err, squad.ErrSquadNotFound):
		return "❓ Cette squad n'existe plus."
	case errors.Is(err, squad.ErrAlreadyMember):
		return "ℹ️ Tu fais déjà partie de cette squad."
	case errors.Is(err, squad.ErrSquadFull):
		return "🚫 Cette squad est complète."
	case errors.Is(err, squad.ErrMoveFailed):
		return "🔊 Connecte-toi d'abord à un salon vocal pour être déplacé."
	default:
		return "❌ Une erreur est survenue."
	}
}
