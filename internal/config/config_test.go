package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DISCORD_TOKEN", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected missing token error")
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("discord_token: from-file\nsquad:\n  category_id: \"42\"\n  max_capacity: 10\ntwitter:\n  max_retries: 3\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("DISCORD_TOKEN", "")
	t.Setenv("GUILD_ID", "7")
	t.Setenv("TWITTER_MAX_RETRIES", "2")
	t.Setenv("SELF_ASSIGNABLE_ROLES", "Valorant, Minecraft ,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DiscordToken != "from-file" {
		t.Fatalf("expected token from file, got %q", cfg.DiscordToken)
	}
	if cfg.Squad.MaxCapacity != 10 || cfg.Squad.CategoryID != "42" {
		t.Fatalf("unexpected squad config: %+v", cfg.Squad)
	}
	if cfg.Twitter.MaxRetries != 2 {
		t.Fatalf("expected env override, got %d", cfg.Twitter.MaxRetries)
	}
	if len(cfg.Roles.SelfAssignable) != 2 || cfg.Roles.SelfAssignable[1] != "Minecraft" {
		t.Fatalf("unexpected roles: %v", cfg.Roles.SelfAssignable)
	}
	if !cfg.SquadsEnabled() {
		t.Fatalf("expected squads enabled")
	}
	if cfg.StreamAlertsEnabled() || cfg.FeedAlertsEnabled() {
		t.Fatalf("expected alerts disabled without credentials")
	}
}

func TestValidateStoreBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DiscordToken = "token"
	cfg.Store.Backend = "redis"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected redis url error")
	}
	cfg.Store.RedisURL = "redis://localhost:6379/0"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.Store.Backend = "sqlite"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unknown backend error")
	}
}

func TestLogChannelFallback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logs.DefaultChannelID = "default"
	cfg.Logs.VoiceChannelID = "voice"

	if got := cfg.LogChannel("voice"); got != "voice" {
		t.Fatalf("expected voice channel, got %q", got)
	}
	if got := cfg.LogChannel("member"); got != "default" {
		t.Fatalf("expected default channel, got %q", got)
	}
}

func TestLegacyTwitchEnvNames(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("TWITCH_CLIENT_SECRET", "")
	t.Setenv("TWITCH_SECRET", "legacy-secret")
	t.Setenv("TWITCH_STREAMER_LOGIN", "")
	t.Setenv("STREAMER_NAME", "streamer")
	t.Setenv("TWITCH_ALERT_CHANNEL_ID", "123")
	t.Setenv("ALERT_CHANNEL_ID", "456")
	t.Setenv("SQUAD_CREATE_LIMIT", "4")
	t.Setenv("SQUAD_CREATE_WINDOW_SECONDS", "30")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Twitch.ClientSecret != "legacy-secret" || cfg.Twitch.StreamerLogin != "streamer" {
		t.Fatalf("expected legacy names to be read, got %+v", cfg.Twitch)
	}
	if cfg.Twitch.AlertChannelID != "123" {
		t.Fatalf("expected current name to win, got %q", cfg.Twitch.AlertChannelID)
	}
	if cfg.Squad.CreateLimit != 4 || cfg.Squad.CreateWindowSeconds != 30 {
		t.Fatalf("unexpected throttle config: %+v", cfg.Squad)
	}
}

func TestServerLogChannel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logs.DefaultChannelID = "default"
	cfg.Logs.MemberChannelID = "members"

	if got := cfg.LogChannel("server"); got != "default" {
		t.Fatalf("expected default channel, got %q", got)
	}
	cfg.Logs.ServerChannelID = "server"
	if got := cfg.LogChannel("server"); got != "server" {
		t.Fatalf("expected server channel, got %q", got)
	}
}
