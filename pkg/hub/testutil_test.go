package hub //nolint:testpackage // white-box tests need access to unexported fields

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"nabcore/pkg/hardware"
	"nabcore/pkg/protocol"
)

// shortSockPath returns a short /tmp socket path (sun_path is 108 bytes).
func shortSockPath(t *testing.T, name string) string {
	t.Helper()
	p := fmt.Sprintf("/tmp/nab-hub-%s-%d.sock", name, time.Now().UnixNano())
	t.Cleanup(func() { _ = os.Remove(p) })
	return p
}

// waitFor polls cond until it returns true or the timeout elapses.
func waitFor(t *testing.T, cond func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type runningHub struct {
	*Hub
	sock   string
	cancel context.CancelFunc
	errCh  chan error

	once sync.Once
	err  error
	ok   bool
}

func (r *runningHub) shutdown() (bool, error) {
	r.once.Do(func() {
		r.cancel()
		select {
		case r.err = <-r.errCh:
			r.ok = true
		case <-time.After(5 * time.Second):
		}
	})
	return r.ok, r.err
}

// stop cancels the hub and waits for Run to return.
func (r *runningHub) stop(t *testing.T) {
	t.Helper()
	ok, err := r.shutdown()
	if !ok {
		t.Fatal("hub did not stop")
	}
	if err != nil {
		t.Fatalf("hub run: %v", err)
	}
}

func startHub(t *testing.T, cfg Config, hw hardware.IO, db *sql.DB) *runningHub {
	t.Helper()
	if cfg.SocketPath == "" {
		cfg.SocketPath = shortSockPath(t, "h")
	}
	h := New(cfg, hw, db, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	r := &runningHub{Hub: h, sock: cfg.SocketPath, cancel: cancel, errCh: make(chan error, 1)}
	go func() { r.errCh <- h.Run(ctx) }()

	select {
	case <-h.Ready():
	case err := <-r.errCh:
		t.Fatalf("hub run: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("hub not ready")
	}
	t.Cleanup(func() { _, _ = r.shutdown() })
	return r
}

type testClient struct {
	t  *testing.T
	nc net.Conn
	r  *bufio.Reader
}

func dial(t *testing.T, sock string) *testClient {
	t.Helper()
	nc, err := net.Dial("unix", sock)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = nc.Close() })
	return &testClient{t: t, nc: nc, r: bufio.NewReader(nc)}
}

func (c *testClient) send(p protocol.Packet) {
	c.t.Helper()
	data, err := protocol.Encode(p)
	if err != nil {
		c.t.Fatalf("encode: %v", err)
	}
	c.sendRaw(string(data))
}

func (c *testClient) sendRaw(line string) {
	c.t.Helper()
	if _, err := c.nc.Write([]byte(line)); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

// next reads one packet, failing the test after timeout.
func (c *testClient) next(timeout time.Duration) protocol.Packet {
	c.t.Helper()
	_ = c.nc.SetReadDeadline(time.Now().Add(timeout))
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		c.t.Fatalf("read packet: %v", err)
	}
	p, err := protocol.Decode(line)
	if err != nil {
		c.t.Fatalf("decode %q: %v", strings.TrimSpace(string(line)), err)
	}
	return p
}

// nextOf reads until a packet of type typ arrives.
func (c *testClient) nextOf(typ protocol.PacketType) protocol.Packet {
	c.t.Helper()
	for {
		p := c.next(3 * time.Second)
		if p.Type == typ {
			return p
		}
	}
}

// setMode sends a mode packet and returns the hub's response.
func (c *testClient) setMode(client string, m protocol.Mode, events ...string) protocol.Packet {
	c.t.Helper()
	p := protocol.ModePacket(client, m, events...)
	p.RequestID = "mode-" + string(m)
	c.send(p)
	return c.nextOf(protocol.TypeResponse)
}

// expectSilence asserts nothing arrives within d.
func (c *testClient) expectSilence(d time.Duration) {
	c.t.Helper()
	_ = c.nc.SetReadDeadline(time.Now().Add(d))
	line, err := c.r.ReadBytes('\n')
	if err == nil {
		c.t.Fatalf("unexpected packet: %s", strings.TrimSpace(string(line)))
	}
}

func audio(clips ...string) protocol.Action { return protocol.Action{Audio: clips} }

func ears(l, r int) protocol.Action {
	return protocol.Action{Ears: &protocol.EarTarget{Left: l, Right: r}}
}
