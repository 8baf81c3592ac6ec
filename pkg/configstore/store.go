// Package configstore persists satellite records keyed by owner name. The
// hub never touches it; each satellite loads its record at startup and saves
// it synchronously before any dependent external action.
package configstore

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by Load when no record exists for a key.
var ErrNotFound = errors.New("configstore: record not found")

// Store loads and saves one record per key. Implementations are safe for
// concurrent use.
type Store interface {
	// Load decodes the record stored under key into v.
	Load(ctx context.Context, key string, v any) error
	// Save replaces the record stored under key with v.
	Save(ctx context.Context, key string, v any) error
	Close() error
}

// Open selects a backend by file extension: ".bolt" opens a bbolt file,
// anything else a SQLite database.
func Open(path string) (Store, error) {
	if strings.EqualFold(filepath.Ext(path), ".bolt") {
		return OpenBolt(path)
	}
	return OpenSQLite(path)
}
