package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"guildwarden/internal/bot"
	"guildwarden/internal/config"
	"guildwarden/internal/httpretry"
	"guildwarden/internal/instrumentation"
	"guildwarden/internal/modules/audit"
	"guildwarden/internal/poller"
	"guildwarden/internal/storage"
	"guildwarden/internal/twitch"
	"guildwarden/internal/twitter"
	"guildwarden/internal/web"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var version = "dev"

const (
	shutdownTimeout = 10 * time.Second
	tickTimeout     = 45 * time.Second
)

func main() {
	cfg, err := config.Load()
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

	ctx := context.Background()

	shutdownTracer := instrumentation.ShutdownFunction(instrumentation.Noop)
	if cfg.Tracing.Enabled {
		shutdown, err := instrumentation.InitTracer(ctx, cfg.Tracing.ServiceName, version)
		if err != nil {
			logger.Warn("tracing disabled", zap.Error(err))
		} else {
			shutdownTracer = shutdown
		}
	}

	backend, err := storage.NewBackend(ctx, storage.Options{
		Kind:        cfg.Store.Backend,
		Path:        cfg.Store.Path,
		RedisURL:    cfg.Store.RedisURL,
		RedisKey:    cfg.Store.RedisKey,
		DatabaseURL: cfg.Store.DatabaseURL,
	})
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	store, err := storage.Open(ctx, backend)
	if err != nil {
		logger.Fatal("storage load failed", zap.Error(err))
	}

	auditLogger := audit.NewLogger(logger)

	var twitchClient *twitch.Client
	if cfg.Twitch.ClientID != "" && cfg.Twitch.ClientSecret != "" {
		twitchClient = twitch.New(twitch.Config{
			ClientID:     cfg.Twitch.ClientID,
			ClientSecret: cfg.Twitch.ClientSecret,
			RedirectURI:  cfg.Twitch.RedirectURI,
		}, httpretry.New(1, time.Minute, logger), logger)
	}

	var twitterClient *twitter.Client
	if cfg.FeedAlertsEnabled() {
		retry := httpretry.New(cfg.Twitter.MaxRetries, config.Seconds(cfg.Twitter.MaxWaitSeconds), logger)
		retry.Limiter = rate.NewLimiter(rate.Every(time.Second), 1)
		twitterClient = twitter.New("", cfg.Twitter.BearerToken, retry)
	}

	botSvc, err := bot.New(cfg, logger, store, auditLogger, twitchClient, twitterClient)
	if err != nil {
		logger.Fatal("bot init failed", zap.Error(err))
	}
	if err := botSvc.Start(); err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	logger.Info("bot started", zap.String("version", version))

	scheduler := poller.New(logger, tickTimeout)
	botSvc.ScheduleTasks(scheduler)
	scheduler.Start()

	var server *http.Server
	if cfg.HTTP.Enabled {
		var oauth web.OAuthProvider
		if twitchClient != nil {
			oauth = twitchClient
		}
		router := web.NewServer(web.Config{
			DefaultGuildID: cfg.GuildID,
			LinkedRoleID:   cfg.Roles.LinkedRoleID,
			StreamerLogin:  cfg.Twitch.StreamerLogin,
			RequireFollow:  cfg.Twitch.RequireFollow,
			WebhookSecret:  cfg.Twitch.EventSubSecret,
		}, oauth, botSvc, store, logger).Router()

		addr := net.JoinHostPort(cfg.HTTP.Host, strconv.Itoa(cfg.HTTP.Port))
		server = web.NewHTTPServer(addr, router)
		go func() {
			logger.Info("http endpoint enabled", zap.String("addr", addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", zap.Error(err))
			}
		}()

		if cfg.HTTP.NgrokAuthToken != "" {
			ln, publicURL, err := web.ListenNgrok(ctx, cfg.HTTP.NgrokAuthToken, cfg.HTTP.NgrokDomain)
			if err != nil {
				logger.Warn("ngrok tunnel unavailable", zap.Error(err))
			} else {
				logger.Info("ngrok tunnel ready", zap.String("url", publicURL))
				go web.Serve(server, ln, logger)
			}
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	restart := false
	select {
	case <-sigCh:
		logger.Info("shutdown requested")
	case <-botSvc.RestartRequested():
		logger.Info("restart requested")
		restart = true
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if server != nil {
		_ = server.Shutdown(shutdownCtx)
	}
	scheduler.Stop(shutdownCtx)
	botSvc.Close(shutdownCtx)
	store.Close()
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown failed", zap.Error(err))
	}

	if restart {
		_ = logger.Sync()
		exe, err := os.Executable()
		if err != nil {
			logger.Fatal("locate executable failed", zap.Error(err))
		}
		if err := syscall.Exec(exe, os.Args, os.Environ()); err != nil {
			logger.Fatal("re-exec failed", zap.Error(err))
		}
	}
}
