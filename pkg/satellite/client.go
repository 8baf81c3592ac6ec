// Package satellite implements the contract every satellite shares: a
// supervised connection to the hub, buffered sends while the hub is away,
// config-reload signaling, and a single event-loop goroutine on which all
// handler callbacks run.
package satellite

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"nabcore/pkg/protocol"
)

// ErrNotConnected is wrapped in the ConnectionError returned when a packet
// that cannot be buffered is sent while the hub is unreachable.
var ErrNotConnected = errors.New("not connected to hub")

// Handler is the behavior a satellite plugs into the Client. Every callback
// runs on the Client's loop goroutine, so implementations need no locking
// for state they only touch from callbacks or Submit.
type Handler interface {
	// OnConnect runs after each successful dial, before buffered packets
	// are flushed. It re-derives mode and subscriptions.
	OnConnect(ctx context.Context) error
	// OnPacket receives every packet from the hub.
	OnPacket(ctx context.Context, p protocol.Packet)
	// OnReload re-reads persisted configuration.
	OnReload(ctx context.Context) error
}

// Config holds Client configuration.
type Config struct {
	SocketPath   string
	Name         string        // announced in mode packets
	RetryDelay   time.Duration // fixed wait between connection attempts (default 15m)
	DrainTimeout time.Duration // Shutdown budget for unanswered commands (default 5s)
	BufferSize   int           // packets held while disconnected (default 64)
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.RetryDelay == 0 {
		out.RetryDelay = 15 * time.Minute
	}
	if out.DrainTimeout == 0 {
		out.DrainTimeout = 5 * time.Second
	}
	if out.BufferSize == 0 {
		out.BufferSize = 64
	}
	return out
}

// Client is one satellite's connection to the hub.
type Client struct {
	cfg     Config
	handler Handler
	log     zerolog.Logger
	buffer  *PacketBuffer

	inbox   chan func(context.Context)
	reload  chan struct{}
	packets chan protocol.Packet
	readErr chan readResult
	stopped chan struct{}

	mu      sync.Mutex
	nc      net.Conn
	pending map[string]struct{}
}

type readResult struct {
	nc  net.Conn
	err error
}

// New creates a Client. It does not dial; call Run.
func New(cfg Config, h Handler, log zerolog.Logger) *Client {
	resolved := cfg.withDefaults()
	return &Client{
		cfg:     resolved,
		handler: h,
		log:     log.With().Str("component", "satellite").Str("client", resolved.Name).Logger(),
		buffer:  NewPacketBuffer(resolved.BufferSize),
		inbox:   make(chan func(context.Context), 64),
		reload:  make(chan struct{}, 1),
		packets: make(chan protocol.Packet, 64),
		readErr: make(chan readResult, 1),
		stopped: make(chan struct{}),
		pending: make(map[string]struct{}),
	}
}

// Name returns the client name announced to the hub.
func (c *Client) Name() string { return c.cfg.Name }

// Connected reports whether a hub connection is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nc != nil
}

// Connect dials the hub once. It is a no-op while a connection is open.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nc != nil {
		return nil
	}
	var d net.Dialer
	nc, err := d.DialContext(ctx, "unix", c.cfg.SocketPath)
	if err != nil {
		return &protocol.ConnectionError{Peer: c.cfg.SocketPath, Op: "dial", Err: err}
	}
	c.nc = nc
	return nil
}

// Run is the supervised loop: connect, serve until the connection fails,
// wait RetryDelay, and try again. It returns nil when ctx is cancelled.
// Handler callbacks and Submit functions run here, including while the hub
// is unreachable.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.stopped)
	defer c.closeConn()

	var retry <-chan time.Time
	if !c.startSession(ctx) {
		retry = time.After(c.cfg.RetryDelay)
	}

	for {
		select {
		case <-ctx.Done():
			c.log.Debug().Msg("satellite stopping")
			return nil

		case fn := <-c.inbox:
			fn(ctx)

		case <-c.reload:
			if err := c.handler.OnReload(ctx); err != nil {
				c.log.Warn().Err(err).Msg("reload failed")
			}

		case p := <-c.packets:
			c.settle(p)
			c.handler.OnPacket(ctx, p)

		case res := <-c.readErr:
			if !c.dropConn(res.nc) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn().Err(res.err).Dur("retry_in", c.cfg.RetryDelay).Msg("hub connection lost")
			retry = time.After(c.cfg.RetryDelay)

		case <-retry:
			retry = nil
			if !c.startSession(ctx) {
				retry = time.After(c.cfg.RetryDelay)
			}
		}
	}
}

// startSession dials, starts the reader, lets the handler re-derive its
// mode, then flushes buffered packets. Loop only.
func (c *Client) startSession(ctx context.Context) bool {
	if err := c.Connect(ctx); err != nil {
		c.log.Warn().Err(err).Dur("retry_in", c.cfg.RetryDelay).Msg("hub unreachable")
		return false
	}
	c.mu.Lock()
	nc := c.nc
	c.mu.Unlock()
	go c.readLoop(nc)

	c.log.Info().Str("socket", c.cfg.SocketPath).Msg("connected to hub")
	if err := c.handler.OnConnect(ctx); err != nil {
		c.log.Warn().Err(err).Msg("connect handler failed")
	}
	for _, p := range c.buffer.Drain() {
		if _, err := c.Send(p); err != nil {
			c.log.Warn().Err(err).Str("type", string(p.Type)).Msg("flush buffered packet")
		}
	}
	return true
}

// readLoop forwards packets from nc to the loop until the connection fails.
func (c *Client) readLoop(nc net.Conn) {
	scanner := bufio.NewScanner(nc)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		p, err := protocol.Decode(scanner.Bytes())
		if err != nil {
			c.log.Warn().Err(err).Msg("discarding packet from hub")
			continue
		}
		select {
		case c.packets <- p:
		case <-c.stopped:
			return
		}
	}
	err := scanner.Err()
	if err == nil {
		err = errors.New("connection closed by hub")
	}
	select {
	case c.readErr <- readResult{nc: nc, err: &protocol.ConnectionError{Peer: c.cfg.SocketPath, Op: "read", Err: err}}:
	case <-c.stopped:
	}
}

// dropConn clears nc if it is still current. Stale results from an older
// connection report false. Commands written on nc are forgotten: the hub
// cancels a departed client's jobs and never answers them.
func (c *Client) dropConn(nc net.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nc != nc {
		return false
	}
	_ = c.nc.Close()
	c.nc = nil
	c.pending = make(map[string]struct{})
	return true
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nc != nil {
		_ = c.nc.Close()
		c.nc = nil
	}
}

// Send writes p to the hub and returns its request id. Commands without one
// get a fresh uuid. While disconnected, command and message packets are
// buffered and flushed after the next OnConnect; mode packets are refused
// because OnConnect re-derives them.
func (c *Client) Send(p protocol.Packet) (string, error) {
	if p.Type == protocol.TypeCommand && p.RequestID == "" {
		p.RequestID = uuid.New().String()
	}
	if p.Type == protocol.TypeMode && p.Client == "" {
		p.Client = c.cfg.Name
	}
	data, err := protocol.Encode(p)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nc == nil {
		return p.RequestID, c.bufferLocked(p)
	}
	if _, err := c.nc.Write(data); err != nil {
		werr := &protocol.ConnectionError{Peer: c.cfg.SocketPath, Op: "write", Err: err}
		if p.Type == protocol.TypeMode {
			return "", werr
		}
		c.log.Debug().Err(werr).Msg("write failed, buffering")
		_ = c.bufferLocked(p)
		return p.RequestID, nil
	}
	if p.Type == protocol.TypeCommand {
		c.pending[p.RequestID] = struct{}{}
	}
	return p.RequestID, nil
}

func (c *Client) bufferLocked(p protocol.Packet) error {
	if p.Type == protocol.TypeMode {
		return &protocol.ConnectionError{Peer: c.cfg.SocketPath, Op: "write", Err: ErrNotConnected}
	}
	if c.buffer.Add(p) {
		c.log.Warn().Int("capacity", c.cfg.BufferSize).Msg("send buffer full, evicted oldest packet")
	}
	return nil
}

// settle clears the pending entry a response answers.
func (c *Client) settle(p protocol.Packet) {
	if p.Type != protocol.TypeResponse || p.RequestID == "" {
		return
	}
	c.mu.Lock()
	delete(c.pending, p.RequestID)
	c.mu.Unlock()
}

// Pending returns how many sent commands are still unanswered.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Buffered returns how many packets wait for the next connection.
func (c *Client) Buffered() int { return c.buffer.Len() }

// Submit runs fn on the loop goroutine. It reports false once Run has
// returned.
func (c *Client) Submit(fn func(ctx context.Context)) bool {
	select {
	case c.inbox <- fn:
		return true
	case <-c.stopped:
		return false
	}
}

// Reload asks the loop to run OnReload. Requests made while one is pending
// coalesce.
func (c *Client) Reload() {
	select {
	case c.reload <- struct{}{}:
	default:
	}
}

// Shutdown waits until every sent command has been answered or
// DrainTimeout passes. Cancel Run's context afterwards to close the
// connection.
func (c *Client) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DrainTimeout)
	defer cancel()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		n := c.Pending()
		if n == 0 || !c.Connected() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("drain %d unanswered commands: %w", n, ctx.Err())
		case <-ticker.C:
		}
	}
}
