package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken       string          `yaml:"discord_token"`
	CommandPrefix      string          `yaml:"command_prefix"`
	OwnerID            string          `yaml:"owner_id"`
	GuildID            string          `yaml:"guild_id"`
	LogLevel           string          `yaml:"log_level"`
	ReplyExpireSeconds int             `yaml:"reply_expire_seconds"`
	Store              StoreConfig     `yaml:"store"`
	Squad              SquadConfig     `yaml:"squad"`
	Roles              RolesConfig     `yaml:"roles"`
	Logs               LogsConfig      `yaml:"logs"`
	Twitch             TwitchConfig    `yaml:"twitch"`
	Twitter            TwitterConfig   `yaml:"twitter"`
	Giveaway           GiveawayConfig  `yaml:"giveaway"`
	HTTP               HTTPConfig      `yaml:"http"`
	Tracing            TracingConfig   `yaml:"tracing"`
	Reglement          ReglementConfig `yaml:"reglement"`
	Guide              GuideConfig     `yaml:"guide"`
}

type StoreConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	RedisURL    string `yaml:"redis_url"`
	RedisKey    string `yaml:"redis_key"`
	DatabaseURL string `yaml:"database_url"`
}

type SquadConfig struct {
	CategoryID           string   `yaml:"category_id"`
	AnnounceChannelID    string   `yaml:"announce_channel_id"`
	LobbyChannelID       string   `yaml:"lobby_channel_id"`
	LobbyCapacity        int      `yaml:"lobby_capacity"`
	MaxCapacity          int      `yaml:"max_capacity"`
	SweepIntervalSeconds int      `yaml:"sweep_interval_seconds"`
	SettleDelayMillis    int      `yaml:"settle_delay_millis"`
	CreateLimit          int      `yaml:"create_limit"`
	CreateWindowSeconds  int      `yaml:"create_window_seconds"`
	KeepChannelIDs       []string `yaml:"keep_channel_ids"`
}

type RolesConfig struct {
	BaseRoleID     string   `yaml:"base_role_id"`
	LinkedRoleID   string   `yaml:"linked_role_id"`
	SelfAssignable []string `yaml:"self_assignable"`
}

type LogsConfig struct {
	DefaultChannelID string `yaml:"default_channel_id"`
	MemberChannelID  string `yaml:"member_channel_id"`
	MessageChannelID string `yaml:"message_channel_id"`
	VoiceChannelID   string `yaml:"voice_channel_id"`
	ServerChannelID  string `yaml:"server_channel_id"`
}

type TwitchConfig struct {
	ClientID         string `yaml:"client_id"`
	ClientSecret     string `yaml:"client_secret"`
	RedirectURI      string `yaml:"redirect_uri"`
	StreamerLogin    string `yaml:"streamer_login"`
	AlertChannelID   string `yaml:"alert_channel_id"`
	MentionRoleID    string `yaml:"mention_role_id"`
	RequireFollow    bool   `yaml:"require_follow"`
	IntervalSeconds  int    `yaml:"interval_seconds"`
	EventSubCallback string `yaml:"eventsub_callback"`
	EventSubSecret   string `yaml:"eventsub_secret"`
}

type TwitterConfig struct {
	BearerToken     string `yaml:"bearer_token"`
	Username        string `yaml:"username"`
	AlertChannelID  string `yaml:"alert_channel_id"`
	IntervalSeconds int    `yaml:"interval_seconds"`
	MaxRetries      int    `yaml:"max_retries"`
	MaxWaitSeconds  int    `yaml:"max_wait_seconds"`
}

type GiveawayConfig struct {
	IntervalSeconds int    `yaml:"interval_seconds"`
	Emoji           string `yaml:"emoji"`
}

type HTTPConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	NgrokAuthToken string `yaml:"ngrok_authtoken"`
	NgrokDomain    string `yaml:"ngrok_domain"`
}

type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

type ReglementConfig struct {
	Title string   `yaml:"title"`
	Rules []string `yaml:"rules"`
}

type GuideConfig struct {
	Title string   `yaml:"title"`
	Lines []string `yaml:"lines"`
}

func DefaultConfig() Config {
	return Config{
		CommandPrefix:      "!",
		LogLevel:           "info",
		ReplyExpireSeconds: 5,
		Store: StoreConfig{
			Backend:  "file",
			Path:     "data.json",
			RedisKey: "guildwarden:data",
		},
		Squad: SquadConfig{
			LobbyCapacity:        5,
			MaxCapacity:          99,
			SweepIntervalSeconds: 60,
			SettleDelayMillis:    1000,
			CreateLimit:          2,
			CreateWindowSeconds:  60,
		},
		Twitch:   TwitchConfig{IntervalSeconds: 60},
		Twitter:  TwitterConfig{IntervalSeconds: 120, MaxRetries: 1, MaxWaitSeconds: 900},
		Giveaway: GiveawayConfig{IntervalSeconds: 30, Emoji: "🎉"},
		HTTP:     HTTPConfig{Enabled: true, Host: "0.0.0.0", Port: 8080},
		Tracing:  TracingConfig{ServiceName: "guildwarden"},
		Reglement: ReglementConfig{
			Title: "📜 Règlement du serveur",
			Rules: []string{
				"Respecte les autres membres.",
				"Pas de spam ni de publicité.",
				"Pas de contenu NSFW.",
				"Écoute les modérateurs.",
			},
		},
		Guide: GuideConfig{
			Title: "Guide du serveur",
			Lines: []string{
				"!squad <places> <jeu> : créer une squad vocale",
				"!xp : temps passé en vocal",
				"!role <nom> : s'attribuer un rôle",
				"!help : liste des commandes",
			},
		},
	}
}

func Load() (Config, error) {
	cfg, err := Read()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read layers defaults, the YAML file and the environment without
// validating the result.
func Read() (Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func (c Config) Validate() error {
	if c.DiscordToken == "" {
		return errors.New("DISCORD_TOKEN is required")
	}
	switch c.Store.Backend {
	case "file", "memory", "redis", "postgres":
	default:
		return errors.New("store.backend must be one of file, memory, redis, postgres")
	}
	if c.Store.Backend == "redis" && c.Store.RedisURL == "" {
		return errors.New("REDIS_URL is required for the redis store")
	}
	if c.Store.Backend == "postgres" && c.Store.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for the postgres store")
	}
	if c.Squad.MaxCapacity < 1 || c.Squad.MaxCapacity > 99 {
		return errors.New("squad.max_capacity must be within 1..99")
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.CommandPrefix = envString("COMMAND_PREFIX", cfg.CommandPrefix)
	cfg.OwnerID = envString("OWNER_ID", cfg.OwnerID)
	cfg.GuildID = envString("GUILD_ID", cfg.GuildID)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.ReplyExpireSeconds = envInt("REPLY_EXPIRE_SECONDS", cfg.ReplyExpireSeconds)

	cfg.Store.Backend = strings.ToLower(envString("STORE_BACKEND", cfg.Store.Backend))
	cfg.Store.Path = envString("DATA_FILE", cfg.Store.Path)
	cfg.Store.RedisURL = envString("REDIS_URL", cfg.Store.RedisURL)
	cfg.Store.RedisKey = envString("REDIS_KEY", cfg.Store.RedisKey)
	cfg.Store.DatabaseURL = envString("DATABASE_URL", cfg.Store.DatabaseURL)

	cfg.Squad.CategoryID = envString("SQUAD_CATEGORY_ID", cfg.Squad.CategoryID)
	cfg.Squad.AnnounceChannelID = envString("SQUAD_ANNOUNCE_CHANNEL_ID", cfg.Squad.AnnounceChannelID)
	cfg.Squad.LobbyChannelID = envString("TEMP_VC_TRIGGER_ID", cfg.Squad.LobbyChannelID)
	cfg.Squad.LobbyCapacity = envInt("TEMP_VC_CAPACITY", cfg.Squad.LobbyCapacity)
	cfg.Squad.MaxCapacity = envInt("SQUAD_MAX_CAPACITY", cfg.Squad.MaxCapacity)
	cfg.Squad.SweepIntervalSeconds = envInt("SQUAD_SWEEP_INTERVAL_SECONDS", cfg.Squad.SweepIntervalSeconds)
	cfg.Squad.SettleDelayMillis = envInt("SQUAD_SETTLE_DELAY_MILLIS", cfg.Squad.SettleDelayMillis)
	cfg.Squad.CreateLimit = envInt("SQUAD_CREATE_LIMIT", cfg.Squad.CreateLimit)
	cfg.Squad.CreateWindowSeconds = envInt("SQUAD_CREATE_WINDOW_SECONDS", cfg.Squad.CreateWindowSeconds)
	cfg.Squad.KeepChannelIDs = envList("SQUAD_KEEP_CHANNEL_IDS", cfg.Squad.KeepChannelIDs)

	cfg.Roles.BaseRoleID = envString("BASE_ROLE_ID", cfg.Roles.BaseRoleID)
	cfg.Roles.LinkedRoleID = envString("TWITCH_ROLE_ID", cfg.Roles.LinkedRoleID)
	cfg.Roles.SelfAssignable = envList("SELF_ASSIGNABLE_ROLES", cfg.Roles.SelfAssignable)

	cfg.Logs.DefaultChannelID = envString("LOG_CHANNEL_ID", cfg.Logs.DefaultChannelID)
	cfg.Logs.MemberChannelID = envString("MEMBER_LOG_CHANNEL_ID", cfg.Logs.MemberChannelID)
	cfg.Logs.MessageChannelID = envString("MESSAGE_LOG_CHANNEL_ID", cfg.Logs.MessageChannelID)
	cfg.Logs.VoiceChannelID = envString("VOICE_LOG_CHANNEL_ID", cfg.Logs.VoiceChannelID)
	cfg.Logs.ServerChannelID = envString("SERVER_LOG_CHANNEL_ID", cfg.Logs.ServerChannelID)

	cfg.Twitch.ClientID = envString("TWITCH_CLIENT_ID", cfg.Twitch.ClientID)
	cfg.Twitch.ClientSecret = envString("TWITCH_CLIENT_SECRET", envString("TWITCH_SECRET", cfg.Twitch.ClientSecret))
	cfg.Twitch.RedirectURI = envString("TWITCH_REDIRECT_URI", cfg.Twitch.RedirectURI)
	cfg.Twitch.StreamerLogin = envString("TWITCH_STREAMER_LOGIN", envString("STREAMER_NAME", cfg.Twitch.StreamerLogin))
	cfg.Twitch.AlertChannelID = envString("TWITCH_ALERT_CHANNEL_ID", envString("ALERT_CHANNEL_ID", cfg.Twitch.AlertChannelID))
	cfg.Twitch.MentionRoleID = envString("TWITCH_MENTION_ROLE_ID", cfg.Twitch.MentionRoleID)
	cfg.Twitch.RequireFollow = envBool("TWITCH_REQUIRE_FOLLOW", cfg.Twitch.RequireFollow)
	cfg.Twitch.IntervalSeconds = envInt("TWITCH_INTERVAL_SECONDS", cfg.Twitch.IntervalSeconds)
	cfg.Twitch.EventSubCallback = envString("WEBHOOK_CALLBACK_URL", cfg.Twitch.EventSubCallback)
	cfg.Twitch.EventSubSecret = envString("TWITCH_EVENTSUB_SECRET", cfg.Twitch.EventSubSecret)

	cfg.Twitter.BearerToken = envString("TWITTER_BEARER_TOKEN", cfg.Twitter.BearerToken)
	cfg.Twitter.Username = envString("TWITTER_USERNAME", cfg.Twitter.Username)
	cfg.Twitter.AlertChannelID = envString("TWITTER_ALERT_CHANNEL_ID", cfg.Twitter.AlertChannelID)
	cfg.Twitter.IntervalSeconds = envInt("TWITTER_INTERVAL_SECONDS", cfg.Twitter.IntervalSeconds)
	cfg.Twitter.MaxRetries = envInt("TWITTER_MAX_RETRIES", cfg.Twitter.MaxRetries)
	cfg.Twitter.MaxWaitSeconds = envInt("TWITTER_MAX_WAIT_SECONDS", cfg.Twitter.MaxWaitSeconds)

	cfg.Giveaway.IntervalSeconds = envInt("GIVEAWAY_INTERVAL_SECONDS", cfg.Giveaway.IntervalSeconds)
	cfg.Giveaway.Emoji = envString("GIVEAWAY_EMOJI", cfg.Giveaway.Emoji)

	cfg.HTTP.Enabled = envBool("HTTP_ENABLED", cfg.HTTP.Enabled)
	cfg.HTTP.Host = envString("HTTP_HOST", cfg.HTTP.Host)
	cfg.HTTP.Port = envInt("HTTP_PORT", envInt("PORT", cfg.HTTP.Port))
	cfg.HTTP.NgrokAuthToken = envString("NGROK_AUTHTOKEN", cfg.HTTP.NgrokAuthToken)
	cfg.HTTP.NgrokDomain = envString("NGROK_DOMAIN", cfg.HTTP.NgrokDomain)

	cfg.Tracing.Enabled = envBool("TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.ServiceName = envString("OTEL_SERVICE_NAME", cfg.Tracing.ServiceName)
}

func (c Config) SquadsEnabled() bool {
	return c.GuildID != "" && c.Squad.CategoryID != ""
}

func (c Config) StreamAlertsEnabled() bool {
	return c.Twitch.ClientID != "" && c.Twitch.ClientSecret != "" && c.Twitch.StreamerLogin != "" && c.Twitch.AlertChannelID != ""
}

func (c Config) FeedAlertsEnabled() bool {
	return c.Twitter.BearerToken != "" && c.Twitter.Username != "" && c.Twitter.AlertChannelID != ""
}

func (c Config) OAuthEnabled() bool {
	return c.Twitch.ClientID != "" && c.Twitch.ClientSecret != "" && c.Twitch.RedirectURI != ""
}

// LogChannel returns the channel receiving log entries of the given kind,
// falling back to the default log channel.
func (c Config) LogChannel(kind string) string {
	var channelID string
	switch kind {
	case "member":
		channelID = c.Logs.MemberChannelID
	case "message":
		channelID = c.Logs.MessageChannelID
	case "voice":
		channelID = c.Logs.VoiceChannelID
	case "server":
		channelID = c.Logs.ServerChannelID
	}
	if channelID == "" {
		channelID = c.Logs.DefaultChannelID
	}
	return channelID
}

func (c Config) ReplyExpiry() time.Duration {
	return time.Duration(c.ReplyExpireSeconds) * time.Second
}

func Seconds(value int) time.Duration {
	return time.Duration(value) * time.Second
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(strings.ToLower(level)))

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
