package twitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"guildwarden/internal/httpretry"

	"golang.org/x/oauth2"
)

const defaultBaseURL = "https://api.twitter.com/2"

var ErrUserNotFound = errors.New("twitter user not found")

type Tweet struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type Client struct {
	baseURL string
	http    *http.Client
	retry   *httpretry.Retryer
}

// New returns a v2 API client authenticating with an app bearer token.
func New(baseURL, bearerToken string, retry *httpretry.Retryer) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	base := &http.Client{Timeout: 15 * time.Second}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: bearerToken, TokenType: "Bearer"}))
	client.Timeout = base.Timeout

	return &Client{baseURL: baseURL, http: client, retry: retry}
}

func (c *Client) UserID(ctx context.Context, username string) (string, error) {
	var payload struct {
		Data *struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, "/users/by/username/"+url.PathEscape(username), &payload); err != nil {
		return "", err
	}
	if payload.Data == nil || payload.Data.ID == "" {
		return "", fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	return payload.Data.ID, nil
}

// Tweets returns the posts of userID newer than sinceID, newest first as the
// API returns them. An empty sinceID fetches the latest page.
func (c *Client) Tweets(ctx context.Context, userID, sinceID string) ([]Tweet, error) {
	query := url.Values{
		"max_results":  {"10"},
		"tweet.fields": {"created_at"},
		"exclude":      {"replies,retweets"},
	}
	if sinceID != "" {
		query.Set("since_id", sinceID)
	}
	var payload struct {
		Data []Tweet `json:"data"`
	}
	if err := c.getJSON(ctx, "/users/"+url.PathEscape(userID)+"/tweets?"+query.Encode(), &payload); err != nil {
		return nil, err
	}
	return payload.Data, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.retry.Do(ctx, c.http, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("twitter: GET %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
