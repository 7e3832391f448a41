package twitch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"guildwarden/internal/httpretry"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T, tokens *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		switch r.Form.Get("grant_type") {
		case "client_credentials":
			tokens.Add(1)
			require.Equal(t, "cid", r.Form.Get("client_id"))
			_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "app-token", "token_type": "bearer", "expires_in": 3600})
		case "authorization_code":
			if r.Form.Get("code") == "bad" {
				_ = json.NewEncoder(w).Encode(map[string]any{"token_type": "bearer"})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "user-token", "token_type": "bearer"})
		}
	})
	mux.HandleFunc("/helix/streams", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "cid", r.Header.Get("Client-Id"))
		require.Equal(t, "Bearer app-token", r.Header.Get("Authorization"))
		if r.URL.Query().Get("user_login") == "live" {
			_, _ = w.Write([]byte(`{"data":[{"id":"s1","user_login":"live","title":"Ranked","game_name":"Valorant","viewer_count":12}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	mux.HandleFunc("/helix/users", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer user-token" {
			_, _ = w.Write([]byte(`{"data":[{"id":"u1","login":"viewer","display_name":"Viewer"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"b1","login":"live","display_name":"Live"}]}`))
	})
	mux.HandleFunc("/helix/channels/followed", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		require.Equal(t, "b1", r.URL.Query().Get("broadcaster_id"))
		_, _ = w.Write([]byte(`{"data":[{"broadcaster_id":"b1"}]}`))
	})
	return httptest.NewServer(mux)
}

func newTestClient(url string) *Client {
	return New(Config{
		ClientID:     "cid",
		ClientSecret: "secret",
		RedirectURI:  "https://example.com/auth/twitch/callback",
		AuthURL:      url + "/authorize",
		TokenURL:     url + "/token",
		HelixURL:     url + "/helix",
	}, httpretry.New(1, 0, nil), zap.NewNop())
}

func TestStreamUsesCachedAppToken(t *testing.T) {
	var tokens atomic.Int32
	srv := newTestServer(t, &tokens)
	defer srv.Close()

	client := newTestClient(srv.URL)
	ctx := context.Background()

	stream, err := client.Stream(ctx, "live")
	require.NoError(t, err)
	require.NotNil(t, stream)
	require.Equal(t, "Ranked", stream.Title)

	stream, err = client.Stream(ctx, "offline")
	require.NoError(t, err)
	require.Nil(t, stream)

	require.Equal(t, int32(1), tokens.Load())
}

func TestExchangeAndFollow(t *testing.T) {
	var tokens atomic.Int32
	srv := newTestServer(t, &tokens)
	defer srv.Close()

	client := newTestClient(srv.URL)
	ctx := context.Background()

	tok, err := client.Exchange(ctx, "good")
	require.NoError(t, err)

	user, err := client.CurrentUser(ctx, tok)
	require.NoError(t, err)
	require.Equal(t, "viewer", user.Login)

	following, err := client.Follows(ctx, tok, user.ID, "live")
	require.NoError(t, err)
	require.True(t, following)
}

func TestExchangeWithoutAccessToken(t *testing.T) {
	var tokens atomic.Int32
	srv := newTestServer(t, &tokens)
	defer srv.Close()

	_, err := newTestClient(srv.URL).Exchange(context.Background(), "bad")
	require.Error(t, err)
}

func TestAuthCodeURL(t *testing.T) {
	client := newTestClient("https://id.example")
	raw := client.AuthCodeURL("g1:m1")
	require.Contains(t, raw, "state=g1%3Am1")
	require.Contains(t, raw, "client_id=cid")
	require.Contains(t, raw, "scope=user%3Aread%3Afollows")
}
