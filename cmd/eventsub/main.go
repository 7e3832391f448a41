// Command eventsub registers the Twitch EventSub webhook subscriptions that
// deliver follows and subscriptions to the bot's /webhook route.
package main

import (
	"context"
	"flag"
	"time"

	"guildwarden/internal/config"
	"guildwarden/internal/httpretry"
	"guildwarden/internal/twitch"

	"go.uber.org/zap"
)

var subscriptions = []struct {
	eventType string
	version   string
}{
	{"channel.follow", "2"},
	{"channel.subscribe", "1"},
}

func main() {
	callbackFlag := flag.String("callback", "", "public webhook URL (defaults to WEBHOOK_CALLBACK_URL)")
	flag.Parse()

	cfg, err := config.Read()
	if err != nil {
		panic(err)
	}
	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	callback := cfg.Twitch.EventSubCallback
	if *callbackFlag != "" {
		callback = *callbackFlag
	}
	if cfg.Twitch.ClientID == "" || cfg.Twitch.ClientSecret == "" || cfg.Twitch.StreamerLogin == "" || callback == "" {
		logger.Fatal("TWITCH_CLIENT_ID, TWITCH_CLIENT_SECRET, TWITCH_STREAMER_LOGIN and a callback URL are required")
	}
	if cfg.Twitch.EventSubSecret == "" {
		logger.Fatal("TWITCH_EVENTSUB_SECRET is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	client := twitch.New(twitch.Config{
		ClientID:     cfg.Twitch.ClientID,
		ClientSecret: cfg.Twitch.ClientSecret,
	}, httpretry.New(1, 30*time.Second, logger), logger)

	broadcaster, err := client.UserByLogin(ctx, cfg.Twitch.StreamerLogin)
	if err != nil {
		logger.Fatal("resolve broadcaster failed", zap.String("login", cfg.Twitch.StreamerLogin), zap.Error(err))
	}

	failed := 0
	for _, sub := range subscriptions {
		created, err := client.Subscribe(ctx, sub.eventType, sub.version, broadcaster.ID, callback, cfg.Twitch.EventSubSecret)
		if err != nil {
			failed++
			logger.Error("subscription failed", zap.String("type", sub.eventType), zap.Error(err))
			continue
		}
		logger.Info("subscription created", zap.String("type", created.Type), zap.String("id", created.ID), zap.String("status", created.Status))
	}
	if failed > 0 {
		logger.Fatal("some subscriptions were not created", zap.Int("failed", failed))
	}
}
