package configstore

import (
	"context"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.etcd.io/bbolt"
)

var recordsBucket = []byte("records")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic("configstore: cbor encoder: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("configstore: cbor decoder: " + err.Error())
	}
}

// Bolt stores records as CBOR values in a single bbolt bucket. The file
// is opened for each operation and closed afterwards, so a daemon and the
// CLI can take turns on the same file lock.
type Bolt struct {
	path    string
	timeout time.Duration
}

// OpenBolt creates the file and bucket at path if needed.
func OpenBolt(path string) (*Bolt, error) {
	b := &Bolt{path: path, timeout: 5 * time.Second}
	err := b.with(false, func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(recordsBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create records bucket: %w", err)
	}
	return b, nil
}

func (b *Bolt) with(readOnly bool, fn func(tx *bbolt.Tx) error) error {
	db, err := bbolt.Open(b.path, 0o600, &bbolt.Options{Timeout: b.timeout, ReadOnly: readOnly})
	if err != nil {
		return fmt.Errorf("open bolt %s: %w", b.path, err)
	}
	defer func() { _ = db.Close() }()
	if readOnly {
		return db.View(fn)
	}
	return db.Update(fn)
}

// Load implements Store.
func (b *Bolt) Load(_ context.Context, key string, v any) error {
	var data []byte
	err := b.with(true, func(tx *bbolt.Tx) error {
		if raw := tx.Bucket(recordsBucket).Get([]byte(key)); raw != nil {
			data = append([]byte(nil), raw...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}
	if data == nil {
		return ErrNotFound
	}
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// Save implements Store.
func (b *Bolt) Save(_ context.Context, key string, v any) error {
	data, err := encMode.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	err = b.with(false, func(tx *bbolt.Tx) error {
		return tx.Bucket(recordsBucket).Put([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Close implements Store. The file is never held open between operations.
func (b *Bolt) Close() error { return nil }
