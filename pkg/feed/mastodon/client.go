// Package mastodon is a minimal client for the parts of the Mastodon REST
// API the bonding satellite uses: the direct-message timeline and posting
// direct statuses.
package mastodon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"nabcore/pkg/protocol"
)

const feedName = "mastodon"

// Account is the author of a status.
type Account struct {
	Acct        string `json:"acct"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	URL         string `json:"url"`
}

// Status is one post from the timeline.
type Status struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Visibility string    `json:"visibility"`
	Content    string    `json:"content"`
	Account    Account   `json:"account"`
}

// Direct reports whether the status is a direct message.
func (s Status) Direct() bool { return s.Visibility == "direct" }

// Config configures a Client.
type Config struct {
	Instance    string // host name, e.g. "botsin.space"
	AccessToken string
	BaseURL     string        // overrides https://<Instance>, for tests
	Timeout     time.Duration // per request (default 10s)
	HTTPClient  *http.Client
}

// Client talks to one Mastodon instance with one access token.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// New creates a Client. An empty access token is refused.
func New(cfg Config) (*Client, error) {
	if cfg.AccessToken == "" {
		return nil, &protocol.FeedError{Feed: feedName, Unauthorized: true, Err: errors.New("no access token")}
	}
	base := cfg.BaseURL
	if base == "" {
		if cfg.Instance == "" {
			return nil, &protocol.FeedError{Feed: feedName, Err: errors.New("no instance configured")}
		}
		base = "https://" + cfg.Instance
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{base: strings.TrimRight(base, "/"), token: cfg.AccessToken, http: hc}, nil
}

// DirectTimeline returns direct statuses newer than sinceID, oldest first.
// An empty sinceID returns the most recent page.
func (c *Client) DirectTimeline(ctx context.Context, sinceID string) ([]Status, error) {
	q := url.Values{}
	if sinceID != "" {
		q.Set("since_id", sinceID)
	}
	var statuses []Status
	if err := c.do(ctx, http.MethodGet, "/api/v1/timelines/direct", q, &statuses); err != nil {
		return nil, err
	}
	slices.Reverse(statuses)
	return statuses, nil
}

// PostDirect publishes text with direct visibility.
func (c *Client) PostDirect(ctx context.Context, text string) error {
	form := url.Values{}
	form.Set("status", text)
	form.Set("visibility", "direct")
	return c.do(ctx, http.MethodPost, "/api/v1/statuses", form, nil)
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, out any) error {
	endpoint := c.base + path
	var body io.Reader
	if method == http.MethodGet {
		if len(params) > 0 {
			endpoint += "?" + params.Encode()
		}
	} else {
		body = strings.NewReader(params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return &protocol.FeedError{Feed: feedName, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &protocol.FeedError{Feed: feedName, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &protocol.FeedError{Feed: feedName, Unauthorized: true, Err: fmt.Errorf("%s %s: %s", method, path, resp.Status)}
	}
	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &protocol.FeedError{Feed: feedName, Err: fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(snippet)))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &protocol.FeedError{Feed: feedName, Err: fmt.Errorf("decode %s: %w", path, err)}
	}
	return nil
}
