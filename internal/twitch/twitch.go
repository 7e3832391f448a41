package twitch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"guildwarden/internal/httpretry"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	defaultAuthURL  = "https://id.twitch.tv/oauth2/authorize"
	defaultTokenURL = "https://id.twitch.tv/oauth2/token"
	defaultHelixURL = "https://api.twitch.tv/helix"

	requestTimeout = 15 * time.Second
)

var ErrUserNotFound = errors.New("twitch user not found")

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthURL      string
	TokenURL     string
	HelixURL     string
}

type Stream struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	UserLogin string    `json:"user_login"`
	UserName  string    `json:"user_name"`
	GameName  string    `json:"game_name"`
	Title     string    `json:"title"`
	Viewers   int       `json:"viewer_count"`
	StartedAt time.Time `json:"started_at"`
	Thumbnail string    `json:"thumbnail_url"`
}

type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

type Client struct {
	cfg    Config
	app    *http.Client
	oauth  *oauth2.Config
	base   *http.Client
	retry  *httpretry.Retryer
	logger *zap.Logger

	mu           sync.Mutex
	broadcasters map[string]string
}

// New builds a client whose app requests carry a client-credentials token
// fetched and refreshed on demand.
func New(cfg Config, retry *httpretry.Retryer, logger *zap.Logger) *Client {
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.HelixURL == "" {
		cfg.HelixURL = defaultHelixURL
	}

	base := &http.Client{Timeout: requestTimeout}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)

	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	app := cc.Client(ctx)
	app.Timeout = requestTimeout
	app.Transport = &clientIDTransport{clientID: cfg.ClientID, next: app.Transport}

	return &Client{
		cfg: cfg,
		app: app,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       []string{"user:read:follows"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		base:         base,
		retry:        retry,
		logger:       logger,
		broadcasters: make(map[string]string),
	}
}

type clientIDTransport struct {
	clientID string
	next     http.RoundTripper
}

func (t *clientIDTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Client-Id", t.clientID)
	return t.next.RoundTrip(clone)
}

// Stream returns the live stream of login, or nil when offline.
func (c *Client) Stream(ctx context.Context, login string) (*Stream, error) {
	var payload struct {
		Data []Stream `json:"data"`
	}
	query := url.Values{"user_login": {login}}
	if err := c.getJSON(ctx, c.app, "/streams?"+query.Encode(), &payload); err != nil {
		return nil, err
	}
	if len(payload.Data) == 0 {
		return nil, nil
	}
	return &payload.Data[0], nil
}

func (c *Client) UserByLogin(ctx context.Context, login string) (*User, error) {
	var payload struct {
		Data []User `json:"data"`
	}
	query := url.Values{"login": {login}}
	if err := c.getJSON(ctx, c.app, "/users?"+query.Encode(), &payload); err != nil {
		return nil, err
	}
	if len(payload.Data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, login)
	}
	return &payload.Data[0], nil
}

func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// Exchange trades an authorization code for a user token. A token endpoint
// answer without access_token is an error.
func (c *Client) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.base)
	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, errors.New("token endpoint returned no access token")
	}
	return tok, nil
}

func (c *Client) userClient(ctx context.Context, tok *oauth2.Token) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.base)
	client := c.oauth.Client(ctx, tok)
	client.Timeout = requestTimeout
	client.Transport = &clientIDTransport{clientID: c.cfg.ClientID, next: client.Transport}
	return client
}

// CurrentUser resolves the account owning tok.
func (c *Client) CurrentUser(ctx context.Context, tok *oauth2.Token) (*User, error) {
	var payload struct {
		Data []User `json:"data"`
	}
	if err := c.getJSON(ctx, c.userClient(ctx, tok), "/users", &payload); err != nil {
		return nil, err
	}
	if len(payload.Data) == 0 {
		return nil, ErrUserNotFound
	}
	return &payload.Data[0], nil
}

// Follows reports whether userID follows the broadcaster named login.
func (c *Client) Follows(ctx context.Context, tok *oauth2.Token, userID, login string) (bool, error) {
	broadcasterID, err := c.broadcasterID(ctx, login)
	if err != nil {
		return false, err
	}
	var payload struct {
		Data []struct {
			BroadcasterID string `json:"broadcaster_id"`
		} `json:"data"`
	}
	query := url.Values{"user_id": {userID}, "broadcaster_id": {broadcasterID}}
	if err := c.getJSON(ctx, c.userClient(ctx, tok), "/channels/followed?"+query.Encode(), &payload); err != nil {
		return false, err
	}
	return len(payload.Data) > 0, nil
}

func (c *Client) broadcasterID(ctx context.Context, login string) (string, error) {
	c.mu.Lock()
	id, ok := c.broadcasters[login]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	user, err := c.UserByLogin(ctx, login)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.broadcasters[login] = user.ID
	c.mu.Unlock()
	return user.ID, nil
}

type Subscription struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Status string `json:"status"`
}

// Subscribe registers a webhook EventSub subscription for broadcasterID.
func (c *Client) Subscribe(ctx context.Context, eventType, version, broadcasterID, callback, secret string) (*Subscription, error) {
	condition := map[string]string{"broadcaster_user_id": broadcasterID}
	if eventType == "channel.follow" && version == "2" {
		condition["moderator_user_id"] = broadcasterID
	}
	body, err := json.Marshal(map[string]any{
		"type":      eventType,
		"version":   version,
		"condition": condition,
		"transport": map[string]string{
			"method":   "webhook",
			"callback": callback,
			"secret":   secret,
		},
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.retry.Do(ctx, c.app, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.HelixURL+"/eventsub/subscriptions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("twitch: create %s subscription: %s: %s", eventType, resp.Status, bytes.TrimSpace(msg))
	}
	var payload struct {
		Data []Subscription `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	if len(payload.Data) == 0 {
		return &Subscription{Type: eventType}, nil
	}
	return &payload.Data[0], nil
}

func (c *Client) getJSON(ctx context.Context, client *http.Client, path string, out any) error {
	resp, err := c.retry.Do(ctx, client, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.HelixURL+path, nil)
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("twitch: GET %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
