// Package hub implements the process that owns the appliance hardware. The
// Hub accepts satellite connections on a Unix-domain socket, arbitrates the
// hub-wide mode (idle, interactive, asleep), serializes hardware command
// sequences through a single executor, and broadcasts hardware events to
// subscribed satellites.
//
// All arbitration state lives inside one loop goroutine. Connection readers,
// the executor and the hardware pump talk to it by posting closures, so the
// mode is never a shared variable.
package hub

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nabcore/pkg/hardware"
	"nabcore/pkg/protocol"
)

// --- Config ---

// Config holds Hub configuration.
type Config struct {
	SocketPath      string        // UDS socket path.
	GraceWindow     time.Duration // How long interactive stays reserved after its holder drops (default 2s).
	ShutdownTimeout time.Duration // Drain budget for queued commands on shutdown (default 10s).
	WriteTimeout    time.Duration // Per-packet write deadline (default 5s).
	OutboxSize      int           // Per-connection outbound queue length (default 64).
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.GraceWindow == 0 {
		out.GraceWindow = 2 * time.Second
	}
	if out.ShutdownTimeout == 0 {
		out.ShutdownTimeout = 10 * time.Second
	}
	if out.WriteTimeout == 0 {
		out.WriteTimeout = 5 * time.Second
	}
	if out.OutboxSize == 0 {
		out.OutboxSize = 64
	}
	return out
}

// --- Hub ---

// Hub owns the hardware and arbitrates satellite access to it.
type Hub struct {
	cfg Config
	hw  hardware.IO
	db  *sql.DB
	log zerolog.Logger

	inbox  chan func()
	quit   chan struct{}
	done   chan struct{}
	ready  chan struct{}
	events chan protocol.Event

	writerDone chan struct{}

	mu       sync.Mutex
	listener net.Listener

	// execCtx bounds hardware calls; cancelled when shutdown gives up
	// waiting for the queue to drain.
	execCtx    context.Context
	execCancel context.CancelFunc

	// Loop-owned state. Only touched from closures run by loop().
	conns    map[string]*conn
	mode     protocol.Mode
	holder   string // conn id owning interactive or asleep
	orphan   *orphan
	subs     map[string][]string // event name -> conn ids in registration order
	queue    []*job
	running  *job
	draining bool

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// orphan reserves interactive mode for a holder that dropped its connection.
type orphan struct {
	client string
	timer  *time.Timer
}

// New creates a Hub. It does NOT start listening; call Run(). db may be nil,
// in which case the event log is disabled.
func New(cfg Config, hw hardware.IO, db *sql.DB, log zerolog.Logger) *Hub {
	resolved := cfg.withDefaults()
	execCtx, execCancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:        resolved,
		hw:         hw,
		db:         db,
		log:        log.With().Str("component", "hub").Logger(),
		inbox:      make(chan func(), 256),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		ready:      make(chan struct{}),
		events:     make(chan protocol.Event, 256),
		writerDone: make(chan struct{}),
		execCtx:    execCtx,
		execCancel: execCancel,
		conns:      make(map[string]*conn),
		mode:       protocol.ModeIdle,
		subs:       make(map[string][]string),
		nowFunc:    time.Now,
	}
}

// Ready is closed once the socket is listening.
func (h *Hub) Ready() <-chan struct{} { return h.ready }

// Run binds the socket and serves satellites until ctx is cancelled. It
// returns an error only when startup fails; a bind failure is fatal for the
// process.
func (h *Hub) Run(ctx context.Context) error {
	if h.db != nil {
		if _, err := h.db.ExecContext(ctx, protocol.SchemaDDL); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	if err := cleanStaleSocket(h.cfg.SocketPath); err != nil {
		return err
	}
	ln, err := net.Listen("unix", h.cfg.SocketPath) //nolint:noctx // UDS bind is instant
	if err != nil {
		return fmt.Errorf("listen unix %s: %w", h.cfg.SocketPath, err)
	}
	h.mu.Lock()
	h.listener = ln
	h.mu.Unlock()

	go h.loop()
	go h.eventWriter()
	go h.pumpHardware(ctx)
	go h.acceptLoop(ctx, ln)

	pos, err := h.hw.EarPositions(ctx)
	if err != nil {
		h.log.Warn().Err(err).Msg("read ear positions")
	}
	h.log.Info().Str("socket", h.cfg.SocketPath).Int("left", pos.Left).Int("right", pos.Right).Msg("hub listening")
	h.record("hub_start", "", "", h.cfg.SocketPath)
	close(h.ready)

	<-ctx.Done()

	// --- Graceful shutdown ---
	_ = ln.Close()
	h.drain(h.cfg.ShutdownTimeout)

	h.call(func() {
		for _, c := range h.conns {
			_ = c.nc.Close()
		}
	})
	close(h.quit)
	<-h.done
	<-h.writerDone
	h.execCancel()
	_ = os.Remove(h.cfg.SocketPath)
	h.log.Info().Msg("hub stopped")
	return nil
}

// loop runs posted closures one at a time. It is the only goroutine that
// reads or writes the arbitration state.
func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case fn := <-h.inbox:
			fn()
		case <-h.quit:
			// Run whatever was already posted so no reply is lost.
			for {
				select {
				case fn := <-h.inbox:
					fn()
				default:
					return
				}
			}
		}
	}
}

// do posts fn to the loop. It reports false once the loop has exited.
func (h *Hub) do(fn func()) bool {
	select {
	case h.inbox <- fn:
		return true
	case <-h.done:
		return false
	}
}

// call posts fn and waits for it to run.
func (h *Hub) call(fn func()) bool {
	ran := make(chan struct{})
	if !h.do(func() { fn(); close(ran) }) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-h.done:
		return false
	}
}

// drain refuses new commands and waits for queued ones to finish, up to
// timeout. Past the deadline playback is stopped and the in-flight hardware
// call is cancelled.
func (h *Hub) drain(timeout time.Duration) {
	h.call(func() { h.draining = true })

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		var idle bool
		h.call(func() { idle = h.running == nil && len(h.queue) == 0 })
		if idle {
			return
		}
		select {
		case <-deadline.C:
			h.log.Warn().Dur("timeout", timeout).Msg("shutdown drain timed out, cancelling hardware")
			if err := h.hw.StopAudio(); err != nil {
				h.log.Warn().Err(err).Msg("stop audio")
			}
			h.execCancel()
			return
		case <-ticker.C:
		}
	}
}

// --- Introspection ---

// Snapshot is a point-in-time view of the arbitration state.
type Snapshot struct {
	Mode        protocol.Mode
	Holder      string // conn id, empty when idle or reserved for a dropped holder
	Reserved    bool   // interactive is held in the grace window
	Connections int
	Queued      int
	Running     bool
}

// Snapshot returns the current arbitration state, read on the loop.
func (h *Hub) Snapshot() Snapshot {
	var s Snapshot
	h.call(func() {
		s = Snapshot{
			Mode:        h.mode,
			Holder:      h.holder,
			Reserved:    h.orphan != nil,
			Connections: len(h.conns),
			Queued:      len(h.queue),
			Running:     h.running != nil,
		}
	})
	return s
}

// --- Hardware events ---

// pumpHardware forwards physical events from the hardware to the loop.
func (h *Hub) pumpHardware(ctx context.Context) {
	events := h.hw.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case hardware.EventEars:
				pos := hardware.At(ev.Ears.Left, ev.Ears.Right)
				h.do(func() { h.broadcast(protocol.EventEars, protocol.EarsEvent(pos.Left, pos.Right)) })
			case hardware.EventButton:
				kind := ev.Button
				h.do(func() { h.broadcast(protocol.EventButton, protocol.ButtonEvent(kind)) })
			default:
				h.log.Warn().Str("kind", string(ev.Kind)).Msg("unknown hardware event")
			}
		}
	}
}
