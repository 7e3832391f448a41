// Package web serves the inbound HTTP surface: the webhook receiver, the
// Twitch authorization callback, health and metrics.
package web

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"guildwarden/internal/metrics"
	"guildwarden/internal/storage"
	"guildwarden/internal/twitch"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	maxBodyBytes = 1 << 20

	headerMessageType = "Twitch-Eventsub-Message-Type"
	headerMessageID   = "Twitch-Eventsub-Message-Id"
	headerTimestamp   = "Twitch-Eventsub-Message-Timestamp"
	headerSignature   = "Twitch-Eventsub-Message-Signature"

	messageTypeVerification = "webhook_callback_verification"
)

type OAuthProvider interface {
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	CurrentUser(ctx context.Context, tok *oauth2.Token) (*twitch.User, error)
	Follows(ctx context.Context, tok *oauth2.Token, userID, login string) (bool, error)
}

type RoleGranter interface {
	GrantRole(ctx context.Context, guildID, userID, roleID string) error
}

type AccountStore interface {
	SetLinkedAccount(ctx context.Context, memberID string, acct storage.LinkedAccount) error
}

type Config struct {
	DefaultGuildID string
	LinkedRoleID   string
	StreamerLogin  string
	RequireFollow  bool
	WebhookSecret  string
}

type Server struct {
	cfg      Config
	oauth    OAuthProvider
	roles    RoleGranter
	accounts AccountStore
	logger   *zap.Logger
	now      func() time.Time
}

// NewServer wires the routes. oauth may be nil when Twitch credentials are
// not configured; the callback then answers 503.
func NewServer(cfg Config, oauth OAuthProvider, roles RoleGranter, accounts AccountStore, logger *zap.Logger) *Server {
	return &Server{
		cfg:      cfg,
		oauth:    oauth,
		roles:    roles,
		accounts: accounts,
		logger:   logger.With(zap.String("component", "web")),
		now:      time.Now,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())
	r.Post("/webhook", s.handle(s.webhook))
	r.Get("/auth/twitch/callback", s.handle(s.twitchCallback))
	return r
}

type httpError struct {
	code int
	msg  string
}

func (e *httpError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &httpError{code: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// handle turns returned errors and panics into plain-text responses.
func (s *Server) handle(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("handler panic", zap.String("path", r.URL.Path), zap.Any("panic", rec))
				writeText(w, http.StatusInternalServerError, fmt.Sprintf("erreur interne : %v", rec))
			}
		}()

		err := h(w, r)
		if err == nil {
			return
		}
		var he *httpError
		if errors.As(err, &he) {
			s.logger.Info("request rejected", zap.String("path", r.URL.Path), zap.Int("status", he.code), zap.String("reason", he.msg))
			writeText(w, he.code, he.msg)
			return
		}
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeText(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) webhook(w http.ResponseWriter, r *http.Request) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return badRequest("corps illisible")
	}
	deliveryID := uuid.NewString()
	messageType := r.Header.Get(headerMessageType)
	metrics.Webhooks.Inc()
	s.logger.Info("webhook received",
		zap.String("delivery_id", deliveryID),
		zap.String("message_type", messageType),
		zap.ByteString("body", body),
	)

	if messageType != "" && s.cfg.WebhookSecret != "" && !s.validSignature(r.Header, body) {
		return &httpError{code: http.StatusForbidden, msg: "signature invalide"}
	}

	if messageType == messageTypeVerification {
		var payload struct {
			Challenge string `json:"challenge"`
		}
		if err := json.Unmarshal(body, &payload); err != nil || payload.Challenge == "" {
			return badRequest("challenge manquant")
		}
		writeText(w, http.StatusOK, payload.Challenge)
		return nil
	}

	writeText(w, http.StatusOK, "ok")
	return nil
}

func (s *Server) validSignature(header http.Header, body []byte) bool {
	mac := hmac.New(sha256.New, []byte(s.cfg.WebhookSecret))
	mac.Write([]byte(header.Get(headerMessageID)))
	mac.Write([]byte(header.Get(headerTimestamp)))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header.Get(headerSignature)))
}

func (s *Server) twitchCallback(w http.ResponseWriter, r *http.Request) error {
	query := r.URL.Query()
	code := query.Get("code")
	state := query.Get("state")
	if code == "" || state == "" {
		return badRequest("paramètres code et state requis")
	}
	guildID, memberID, ok := ParseState(state, s.cfg.DefaultGuildID)
	if !ok {
		return badRequest("state invalide")
	}
	if s.oauth == nil {
		return &httpError{code: http.StatusServiceUnavailable, msg: "liaison Twitch non configurée"}
	}

	ctx := r.Context()
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		s.logger.Info("code exchange failed", zap.String("member_id", memberID), zap.Error(err))
		return badRequest("échange du code Twitch impossible")
	}

	user, err := s.oauth.CurrentUser(ctx, tok)
	if err != nil {
		return fmt.Errorf("profil Twitch indisponible : %w", err)
	}

	following := false
	if s.cfg.StreamerLogin != "" {
		following, err = s.oauth.Follows(ctx, tok, user.ID, s.cfg.StreamerLogin)
		if err != nil {
			s.logger.Warn("follow check failed", zap.String("twitch_id", user.ID), zap.Error(err))
			following = false
		}
	}

	acct := storage.LinkedAccount{
		TwitchID:    user.ID,
		TwitchLogin: user.Login,
		Following:   following,
		LinkedAt:    s.now(),
	}
	if err := s.accounts.SetLinkedAccount(ctx, memberID, acct); err != nil {
		return fmt.Errorf("enregistrement du compte : %w", err)
	}
	metrics.AccountsLinked.Inc()
	s.logger.Info("twitch account linked", zap.String("guild_id", guildID), zap.String("member_id", memberID), zap.String("twitch_login", user.Login), zap.Bool("following", following))

	message := fmt.Sprintf("Compte Twitch %s lié ! Tu peux fermer cette page.", user.Login)
	if s.shouldGrant(guildID, following) {
		if err := s.roles.GrantRole(ctx, guildID, memberID, s.cfg.LinkedRoleID); err != nil {
			s.logger.Warn("linked role grant failed", zap.String("member_id", memberID), zap.Error(err))
			message = fmt.Sprintf("Compte Twitch %s lié, mais le rôle n'a pas pu être attribué.", user.Login)
		}
	} else if s.cfg.RequireFollow && !following {
		message = fmt.Sprintf("Compte Twitch %s lié. Suis la chaîne de %s pour obtenir le rôle.", user.Login, s.cfg.StreamerLogin)
	}

	writeText(w, http.StatusOK, message)
	return nil
}

func (s *Server) shouldGrant(guildID string, following bool) bool {
	if s.roles == nil || s.cfg.LinkedRoleID == "" || guildID == "" {
		return false
	}
	return following || !s.cfg.RequireFollow
}

// ParseState splits "<guild>:<member>". A bare member id uses
// defaultGuild.
func ParseState(state, defaultGuild string) (guildID, memberID string, ok bool) {
	state = strings.TrimSpace(state)
	if guild, member, found := strings.Cut(state, ":"); found {
		if guild == "" || member == "" {
			return "", "", false
		}
		return guild, member, true
	}
	if state == "" {
		return "", "", false
	}
	return defaultGuild, state, true
}

// State builds the value ParseState understands.
func State(guildID, memberID string) string {
	return guildID + ":" + memberID
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}
