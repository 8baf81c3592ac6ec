package mastodon_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"nabcore/pkg/feed/mastodon"
	"nabcore/pkg/protocol"
)

func TestDirectTimeline_OldestFirst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/timelines/direct" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("since_id"); got != "100" {
			t.Errorf("since_id = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("auth = %q", got)
		}
		_, _ = w.Write([]byte(`[
			{"id":"102","created_at":"2026-01-02T10:00:00Z","visibility":"direct","content":"b","account":{"acct":"alice"}},
			{"id":"101","created_at":"2026-01-02T09:00:00Z","visibility":"direct","content":"a","account":{"acct":"alice"}}
		]`))
	}))
	defer srv.Close()

	c, err := mastodon.New(mastodon.Config{BaseURL: srv.URL, AccessToken: "tok"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.DirectTimeline(context.Background(), "100")
	if err != nil {
		t.Fatalf("DirectTimeline: %v", err)
	}
	if len(got) != 2 || got[0].ID != "101" || got[1].ID != "102" {
		t.Fatalf("statuses = %+v", got)
	}
	if !got[0].Direct() {
		t.Fatal("expected direct visibility")
	}
}

func TestPostDirect(t *testing.T) {
	var status, visibility string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/statuses" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		_ = r.ParseForm()
		status = r.PostForm.Get("status")
		visibility = r.PostForm.Get("visibility")
		_, _ = w.Write([]byte(`{"id":"1"}`))
	}))
	defer srv.Close()

	c, err := mastodon.New(mastodon.Config{BaseURL: srv.URL, AccessToken: "tok"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.PostDirect(context.Background(), "@bob hello"); err != nil {
		t.Fatalf("PostDirect: %v", err)
	}
	if status != "@bob hello" || visibility != "direct" {
		t.Fatalf("posted %q visibility %q", status, visibility)
	}
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name         string
		code         int
		unauthorized bool
	}{
		{"unauthorized", http.StatusUnauthorized, true},
		{"forbidden", http.StatusForbidden, true},
		{"server error", http.StatusBadGateway, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.code)
			}))
			defer srv.Close()

			c, err := mastodon.New(mastodon.Config{BaseURL: srv.URL, AccessToken: "tok"})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			_, err = c.DirectTimeline(context.Background(), "")
			var fe *protocol.FeedError
			if !errors.As(err, &fe) {
				t.Fatalf("err = %v, want FeedError", err)
			}
			if fe.Unauthorized != tt.unauthorized {
				t.Fatalf("Unauthorized = %v, want %v", fe.Unauthorized, tt.unauthorized)
			}
		})
	}
}

func TestNew_RequiresToken(t *testing.T) {
	_, err := mastodon.New(mastodon.Config{Instance: "example.social"})
	var fe *protocol.FeedError
	if !errors.As(err, &fe) || !fe.Unauthorized {
		t.Fatalf("err = %v, want unauthorized FeedError", err)
	}
}
