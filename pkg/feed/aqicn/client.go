// Package aqicn fetches air-quality readings from the World Air Quality
// Index feed.
package aqicn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nabcore/pkg/protocol"
)

// DefaultBaseURL is the public feed endpoint.
const DefaultBaseURL = "https://api.waqi.info/feed/"

const feedName = "aqicn"

// Location pins a reading to coordinates. Without one the feed geolocates
// the caller by IP.
type Location struct {
	Lat float64 `json:"lat" yaml:"lat" toml:"lat"`
	Lon float64 `json:"lon" yaml:"lon" toml:"lon"`
}

// Value is an index value that may be missing or non-numeric.
type Value struct {
	Number float64
	Valid  bool
}

// UnmarshalJSON accepts numbers and numeric strings; anything else (the
// feed reports "-" for no data) decodes as an invalid Value.
func (v *Value) UnmarshalJSON(data []byte) error {
	*v = Value{}
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*v = Value{Number: n, Valid: true}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			*v = Value{Number: n, Valid: true}
		}
	}
	return nil
}

// Reading is one observation.
type Reading struct {
	City   string
	AQI    Value
	PM25   Value
	HasPM  bool
	Source string
}

// Metric returns the value selected by metric ("aqi" or "pm25"). A missing
// PM2.5 value falls back to AQI.
func (r Reading) Metric(metric string) Value {
	if metric == "pm25" && r.HasPM {
		return r.PM25
	}
	return r.AQI
}

// Config configures a Client.
type Config struct {
	Token      string
	BaseURL    string        // default DefaultBaseURL
	Timeout    time.Duration // default 10s
	HTTPClient *http.Client
}

// Client fetches readings.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// New creates a Client.
func New(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{base: base, token: cfg.Token, http: hc}
}

// URL returns the feed URL for loc: geo-pinned when set, IP-based
// otherwise.
func (c *Client) URL(loc *Location) string {
	station := "here"
	if loc != nil {
		station = fmt.Sprintf("geo:%s;%s",
			strconv.FormatFloat(loc.Lat, 'f', -1, 64),
			strconv.FormatFloat(loc.Lon, 'f', -1, 64))
	}
	return c.base + station + "/?token=" + c.token
}

type feedResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type feedData struct {
	AQI  Value `json:"aqi"`
	City struct {
		Name string `json:"name"`
	} `json:"city"`
	IAQI map[string]struct {
		V Value `json:"v"`
	} `json:"iaqi"`
}

// Fetch retrieves the current reading for loc.
func (c *Client) Fetch(ctx context.Context, loc *Location) (Reading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(loc), nil)
	if err != nil {
		return Reading{}, &protocol.FeedError{Feed: feedName, Err: fmt.Errorf("build request: %w", err)}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Reading{}, &protocol.FeedError{Feed: feedName, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return Reading{}, &protocol.FeedError{Feed: feedName, Unauthorized: true, Err: errors.New(resp.Status)}
	}
	if resp.StatusCode/100 != 2 {
		return Reading{}, &protocol.FeedError{Feed: feedName, Err: errors.New(resp.Status)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Reading{}, &protocol.FeedError{Feed: feedName, Err: fmt.Errorf("read body: %w", err)}
	}
	var env feedResponse
	if err := json.Unmarshal(body, &env); err != nil {
		return Reading{}, &protocol.FeedError{Feed: feedName, Err: fmt.Errorf("decode: %w", err)}
	}
	if env.Status != "ok" {
		var msg string
		_ = json.Unmarshal(env.Data, &msg)
		fe := &protocol.FeedError{Feed: feedName, Err: fmt.Errorf("status %q: %s", env.Status, msg)}
		fe.Unauthorized = strings.Contains(strings.ToLower(msg), "invalid key")
		return Reading{}, fe
	}
	var data feedData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return Reading{}, &protocol.FeedError{Feed: feedName, Err: fmt.Errorf("decode data: %w", err)}
	}

	r := Reading{City: data.City.Name, AQI: data.AQI, Source: c.URL(loc)}
	if pm, ok := data.IAQI["pm25"]; ok {
		r.PM25 = pm.V
		r.HasPM = true
	}
	return r, nil
}
