package hub //nolint:testpackage // white-box tests need access to unexported fields

import (
	"net"
	"os"
	"path/filepath"
	"testing"
)

func TestCleanStaleSocket(t *testing.T) {
	t.Run("no file is a noop", func(t *testing.T) {
		if err := cleanStaleSocket(filepath.Join(t.TempDir(), "none.sock")); err != nil {
			t.Fatalf("cleanStaleSocket: %v", err)
		}
	})

	t.Run("leftover file is removed", func(t *testing.T) {
		sock := shortSockPath(t, "stale")
		if err := os.WriteFile(sock, nil, 0o600); err != nil {
			t.Fatalf("create stale file: %v", err)
		}
		if err := cleanStaleSocket(sock); err != nil {
			t.Fatalf("cleanStaleSocket: %v", err)
		}
		if _, err := os.Stat(sock); !os.IsNotExist(err) {
			t.Fatal("expected stale socket to be removed")
		}
	})

	t.Run("live listener is kept", func(t *testing.T) {
		sock := shortSockPath(t, "live")
		ln, err := net.Listen("unix", sock)
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
		defer ln.Close()
		go func() {
			for {
				nc, err := ln.Accept()
				if err != nil {
					return
				}
				_ = nc.Close()
			}
		}()

		if err := cleanStaleSocket(sock); err == nil {
			t.Fatal("expected error for active socket")
		}
		if _, err := os.Stat(sock); err != nil {
			t.Fatalf("active socket should remain: %v", err)
		}
	})
}
