package aqicn_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"nabcore/pkg/feed/aqicn"
	"nabcore/pkg/protocol"
)

func serve(t *testing.T, body string, check func(r *http.Request)) *aqicn.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return aqicn.New(aqicn.Config{Token: "k", BaseURL: srv.URL + "/feed"})
}

func TestFetch(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		metric string
		want   aqicn.Value
		city   string
	}{
		{
			name:   "pm25 selected",
			body:   `{"status":"ok","data":{"aqi":120,"city":{"name":"Paris"},"iaqi":{"pm25":{"v":42}}}}`,
			metric: "pm25", want: aqicn.Value{Number: 42, Valid: true}, city: "Paris",
		},
		{
			name:   "pm25 missing falls back to aqi",
			body:   `{"status":"ok","data":{"aqi":77,"city":{"name":"Lyon"},"iaqi":{}}}`,
			metric: "pm25", want: aqicn.Value{Number: 77, Valid: true}, city: "Lyon",
		},
		{
			name:   "no data marker",
			body:   `{"status":"ok","data":{"aqi":"-","city":{"name":"Nowhere"},"iaqi":{}}}`,
			metric: "aqi", want: aqicn.Value{}, city: "Nowhere",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := serve(t, tt.body, nil)
			r, err := c.Fetch(context.Background(), nil)
			if err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			if got := r.Metric(tt.metric); got != tt.want {
				t.Fatalf("Metric(%s) = %+v, want %+v", tt.metric, got, tt.want)
			}
			if r.City != tt.city {
				t.Fatalf("city = %q", r.City)
			}
		})
	}
}

func TestFetch_URLSelection(t *testing.T) {
	var paths []string
	c := serve(t, `{"status":"ok","data":{"aqi":1,"city":{"name":"x"},"iaqi":{}}}`, func(r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Query().Get("token") != "k" {
			t.Errorf("token missing from %s", r.URL)
		}
	})
	ctx := context.Background()
	if _, err := c.Fetch(ctx, nil); err != nil {
		t.Fatalf("Fetch here: %v", err)
	}
	if _, err := c.Fetch(ctx, &aqicn.Location{Lat: 48.85, Lon: 2.35}); err != nil {
		t.Fatalf("Fetch geo: %v", err)
	}
	if paths[0] != "/feed/here/" || !strings.HasPrefix(paths[1], "/feed/geo:48.85;2.35") {
		t.Fatalf("paths = %v", paths)
	}
}

func TestFetch_InvalidKey(t *testing.T) {
	c := serve(t, `{"status":"error","data":"Invalid key"}`, nil)
	_, err := c.Fetch(context.Background(), nil)
	var fe *protocol.FeedError
	if !errors.As(err, &fe) || !fe.Unauthorized {
		t.Fatalf("err = %v, want unauthorized FeedError", err)
	}
}
