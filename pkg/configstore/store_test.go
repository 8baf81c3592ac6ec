package configstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"nabcore/pkg/configstore"
)

type record struct {
	Peer    string    `json:"peer"`
	State   string    `json:"state"`
	LastID  int64     `json:"last_id"`
	Updated time.Time `json:"updated"`
	Ears    *[2]int   `json:"ears,omitempty"`
}

func TestStores(t *testing.T) {
	backends := []struct {
		name string
		open func(t *testing.T) configstore.Store
	}{
		{"sqlite", func(t *testing.T) configstore.Store {
			t.Helper()
			s, err := configstore.Open(filepath.Join(t.TempDir(), "state.db"))
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			return s
		}},
		{"bolt", func(t *testing.T) configstore.Store {
			t.Helper()
			s, err := configstore.Open(filepath.Join(t.TempDir(), "state.bolt"))
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			if _, ok := s.(*configstore.Bolt); !ok {
				t.Fatalf("Open(.bolt) = %T, want *Bolt", s)
			}
			return s
		}},
		{"memory", func(t *testing.T) configstore.Store {
			t.Helper()
			return configstore.NewMemory()
		}},
	}

	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)
			defer s.Close()

			var got record
			if err := s.Load(ctx, "bonding", &got); !errors.Is(err, configstore.ErrNotFound) {
				t.Fatalf("Load missing = %v, want ErrNotFound", err)
			}

			when := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
			want := record{Peer: "@tag@nabaztag.example", State: "married", LastID: 42, Updated: when, Ears: &[2]int{3, 9}}
			if err := s.Save(ctx, "bonding", want); err != nil {
				t.Fatalf("Save: %v", err)
			}
			want.LastID = 43
			if err := s.Save(ctx, "bonding", want); err != nil {
				t.Fatalf("Save overwrite: %v", err)
			}

			if err := s.Load(ctx, "bonding", &got); err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got.Peer != want.Peer || got.State != want.State || got.LastID != 43 {
				t.Fatalf("Load = %+v, want %+v", got, want)
			}
			if !got.Updated.Equal(when) {
				t.Fatalf("Updated = %v, want %v", got.Updated, when)
			}
			if got.Ears == nil || *got.Ears != [2]int{3, 9} {
				t.Fatalf("Ears = %v", got.Ears)
			}

			var other record
			if err := s.Load(ctx, "advisory", &other); !errors.Is(err, configstore.ErrNotFound) {
				t.Fatalf("keys must be independent, got %v", err)
			}
		})
	}
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := configstore.OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Save(ctx, "advisory", map[string]int{"last_level": 1}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = configstore.OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	var got map[string]int
	if err := s.Load(ctx, "advisory", &got); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got["last_level"] != 1 {
		t.Fatalf("got %v", got)
	}
}

func TestBolt_SharedFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.bolt")

	daemon, err := configstore.OpenBolt(path)
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	defer daemon.Close()
	cli, err := configstore.OpenBolt(path)
	if err != nil {
		t.Fatalf("second OpenBolt: %v", err)
	}
	defer cli.Close()

	if err := cli.Save(ctx, "bonding", map[string]string{"intent": "dissolve"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	var got map[string]string
	if err := daemon.Load(ctx, "bonding", &got); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got["intent"] != "dissolve" {
		t.Fatalf("got %v", got)
	}
}
