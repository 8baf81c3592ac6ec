package hub

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"time"
)

// cleanStaleSocket clears path for binding. A socket that still accepts
// connections belongs to a live hub and is left alone; anything else at
// path is a leftover from a crash.
func cleanStaleSocket(path string) error {
	if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("inspect %s: %w", path, err)
	}
	if socketAnswers(path) {
		return fmt.Errorf("socket %s is served by another hub", path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear leftover socket: %w", err)
	}
	return nil
}

func socketAnswers(path string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var d net.Dialer
	nc, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return false
	}
	_ = nc.Close()
	return true
}
