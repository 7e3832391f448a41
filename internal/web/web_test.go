package web

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"guildwarden/internal/storage"
	"guildwarden/internal/twitch"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

type fakeOAuth struct {
	token     *oauth2.Token
	err       error
	following bool
	followErr error
	panicOn   string
}

func (f *fakeOAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if f.panicOn == "exchange" {
		panic("boom")
	}
	return f.token, f.err
}

func (f *fakeOAuth) CurrentUser(ctx context.Context, tok *oauth2.Token) (*twitch.User, error) {
	return &twitch.User{ID: "t-42", Login: "viewer42", DisplayName: "Viewer42"}, nil
}

func (f *fakeOAuth) Follows(ctx context.Context, tok *oauth2.Token, userID, login string) (bool, error) {
	return f.following, f.followErr
}

type grant struct {
	guildID, userID, roleID string
}

type fakeRoles struct {
	grants []grant
	err    error
}

func (f *fakeRoles) GrantRole(ctx context.Context, guildID, userID, roleID string) error {
	f.grants = append(f.grants, grant{guildID, userID, roleID})
	return f.err
}

func newTestServer(t *testing.T, cfg Config, oauth OAuthProvider) (*Server, *storage.Store, *fakeRoles) {
	t.Helper()
	store, err := storage.Open(context.Background(), storage.NewMemoryBackend())
	require.NoError(t, err)
	roles := &fakeRoles{}
	srv := NewServer(cfg, oauth, roles, store, zap.NewNop())
	srv.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return srv, store, roles
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestCallbackRequiresState(t *testing.T) {
	srv, store, _ := newTestServer(t, Config{}, &fakeOAuth{token: &oauth2.Token{AccessToken: "x"}})

	rec := get(t, srv.Router(), "/auth/twitch/callback?code=abc")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, srv.Router(), "/auth/twitch/callback?state=g:m")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	_, ok := store.LinkedAccount("m")
	require.False(t, ok)
}

func TestCallbackValidatesParamsWithoutOAuth(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{DefaultGuildID: "g1"}, nil)

	rec := get(t, srv.Router(), "/auth/twitch/callback?code=abc")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, srv.Router(), "/auth/twitch/callback?code=abc&state=g1:m1")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCallbackRejectsFailedExchange(t *testing.T) {
	srv, store, roles := newTestServer(t, Config{LinkedRoleID: "r1"}, &fakeOAuth{err: errors.New("token endpoint returned no access token")})

	rec := get(t, srv.Router(), "/auth/twitch/callback?code=abc&state=g1:m1")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	_, ok := store.LinkedAccount("m1")
	require.False(t, ok)
	require.Empty(t, roles.grants)
}

func TestCallbackWithoutAccessTokenAgainstTwitch(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token_type":"bearer"}`))
	}))
	defer tokenSrv.Close()

	client := twitch.New(twitch.Config{ClientID: "id", ClientSecret: "secret", TokenURL: tokenSrv.URL, HelixURL: tokenSrv.URL}, nil, zap.NewNop())
	srv, store, _ := newTestServer(t, Config{}, client)

	rec := get(t, srv.Router(), "/auth/twitch/callback?code=abc&state=g1:m1")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	_, ok := store.LinkedAccount("m1")
	require.False(t, ok)
}

func TestCallbackLinksAccount(t *testing.T) {
	srv, store, roles := newTestServer(t, Config{LinkedRoleID: "r1", StreamerLogin: "streamer", RequireFollow: true}, &fakeOAuth{token: &oauth2.Token{AccessToken: "x"}, following: true})

	rec := get(t, srv.Router(), "/auth/twitch/callback?code=abc&state=g1:m1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "viewer42")

	acct, ok := store.LinkedAccount("m1")
	require.True(t, ok)
	require.Equal(t, "t-42", acct.TwitchID)
	require.Equal(t, "viewer42", acct.TwitchLogin)
	require.True(t, acct.Following)
	require.Equal(t, []grant{{"g1", "m1", "r1"}}, roles.grants)
}

func TestCallbackWithholdsRoleWithoutFollow(t *testing.T) {
	srv, store, roles := newTestServer(t, Config{DefaultGuildID: "g9", LinkedRoleID: "r1", StreamerLogin: "streamer", RequireFollow: true}, &fakeOAuth{token: &oauth2.Token{AccessToken: "x"}, followErr: errors.New("helix down")})

	rec := get(t, srv.Router(), "/auth/twitch/callback?code=abc&state=m2")
	require.Equal(t, http.StatusOK, rec.Code)

	acct, ok := store.LinkedAccount("m2")
	require.True(t, ok)
	require.False(t, acct.Following)
	require.Empty(t, roles.grants)
}

func TestCallbackRecoversPanics(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{}, &fakeOAuth{panicOn: "exchange"})

	rec := get(t, srv.Router(), "/auth/twitch/callback?code=abc&state=g1:m1")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "boom")
}

func TestWebhookAcknowledgesAnyBody(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{}, nil)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("not json")))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestWebhookAnswersVerificationChallenge(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{WebhookSecret: "s3cret"}, nil)
	body := `{"challenge":"pogchamp-kappa-360noscope-vohiyo","subscription":{"type":"channel.follow"}}`

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set(headerMessageType, messageTypeVerification)
	req.Header.Set(headerMessageID, "msg-1")
	req.Header.Set(headerTimestamp, "2024-06-01T12:00:00Z")
	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write([]byte("msg-1" + "2024-06-01T12:00:00Z" + body))
	req.Header.Set(headerSignature, "sha256="+hex.EncodeToString(mac.Sum(nil)))

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "pogchamp-kappa-360noscope-vohiyo", rec.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set(headerMessageType, messageTypeVerification)
	req.Header.Set(headerSignature, "sha256=deadbeef")
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{}, nil)
	rec := get(t, srv.Router(), "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestParseState(t *testing.T) {
	guild, member, ok := ParseState("g1:m1", "def")
	require.True(t, ok)
	require.Equal(t, "g1", guild)
	require.Equal(t, "m1", member)

	guild, member, ok = ParseState("m1", "def")
	require.True(t, ok)
	require.Equal(t, "def", guild)
	require.Equal(t, "m1", member)

	_, _, ok = ParseState(":m1", "def")
	require.False(t, ok)
	require.Equal(t, "g1:m1", State("g1", "m1"))
}
