package hub

import (
	"bufio"
	"context"
	"errors"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"nabcore/pkg/protocol"
)

// maxLineSize bounds one packet on the wire.
const maxLineSize = 1 << 20

// conn is a connected satellite. Fields other than nc are loop-owned.
type conn struct {
	id     string
	client string
	nc     net.Conn
	out    chan []byte
	closed bool
	log    zerolog.Logger
}

// acceptLoop accepts new satellite connections.
func (h *Hub) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			h.log.Warn().Err(err).Msg("accept failed")
			continue
		}
		go h.serveConn(nc)
	}
}

// serveConn reads line-delimited JSON packets from one satellite and hands
// them to the loop in arrival order.
func (h *Hub) serveConn(nc net.Conn) {
	c := &conn{
		id:  uuid.New().String(),
		nc:  nc,
		out: make(chan []byte, h.cfg.OutboxSize),
	}
	c.log = h.log.With().Str("conn", c.id).Logger()

	if !h.do(func() { h.addConn(c) }) {
		_ = nc.Close()
		return
	}
	go h.writeLoop(c)

	scanner := bufio.NewScanner(nc)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		pkt, err := protocol.Decode(line)
		if err != nil {
			c.log.Warn().Err(err).Msg("discarding packet")
			h.record("protocol_error", c.id, "", err.Error())
			continue
		}
		h.do(func() { h.handlePacket(c, pkt) })
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		cerr := &protocol.ConnectionError{Peer: c.id, Op: "read", Err: err}
		c.log.Debug().Err(cerr).Msg("connection dropped")
	}
	h.do(func() { h.removeConn(c) })
}

// writeLoop drains the connection's outbound queue onto the socket.
func (h *Hub) writeLoop(c *conn) {
	for data := range c.out {
		_ = c.nc.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
		if _, err := c.nc.Write(data); err != nil {
			cerr := &protocol.ConnectionError{Peer: c.id, Op: "write", Err: err}
			c.log.Debug().Err(cerr).Msg("write failed, closing")
			_ = c.nc.Close()
			for range c.out {
				// Discard until the loop closes the channel.
			}
			return
		}
	}
}

// addConn registers a new connection. Loop only.
func (h *Hub) addConn(c *conn) {
	h.conns[c.id] = c
	c.log.Info().Msg("satellite connected")
	h.record("connect", c.id, "", "")
}

// removeConn releases everything a dropped connection held. Loop only.
func (h *Hub) removeConn(c *conn) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.out)
	_ = c.nc.Close()
	delete(h.conns, c.id)

	h.unsubscribeAll(c.id)
	h.cancelQueued(c.id, false)
	h.releaseOnDisconnect(c)

	c.log.Info().Str("client", c.client).Msg("satellite disconnected")
	h.record("disconnect", c.id, c.client, "")
}

// send queues p for c without blocking the loop. A full queue drops the
// packet for that connection only. Loop only.
func (h *Hub) send(c *conn, p protocol.Packet) {
	if c == nil || c.closed {
		return
	}
	data, err := protocol.Encode(p)
	if err != nil {
		c.log.Error().Err(err).Msg("encode packet")
		return
	}
	select {
	case c.out <- data:
	default:
		c.log.Warn().Str("type", string(p.Type)).Msg("outbound queue full, dropping packet")
	}
}

// handlePacket dispatches one satellite packet. Loop only.
func (h *Hub) handlePacket(c *conn, p protocol.Packet) {
	if c.closed {
		return
	}
	switch p.Type {
	case protocol.TypeMode:
		h.handleMode(c, p)
	case protocol.TypeCommand:
		h.handleCommand(c, p)
	case protocol.TypeMessage:
		c.log.Info().RawJSON("body", nonEmptyJSON(p.Body)).Str("signature", p.Signature).Msg("satellite message")
		h.record("message", c.id, c.client, string(p.Body))
	default:
		err := &protocol.ProtocolError{Type: string(p.Type), Reason: "not accepted from satellites"}
		c.log.Warn().Err(err).Msg("discarding packet")
		h.record("protocol_error", c.id, c.client, err.Error())
	}
}

func (h *Hub) handleMode(c *conn, p protocol.Packet) {
	if p.Client != "" {
		c.client = p.Client
	}
	h.subscribe(c.id, p.Events)

	if err := h.setMode(c, p.Mode); err != nil {
		c.log.Info().Err(err).Msg("mode request rejected")
		h.record("mode_rejected", c.id, c.client, err.Error())
		h.send(c, protocol.Failure(p.RequestID, err.Error()))
		return
	}
	h.send(c, protocol.OK(p.RequestID, string(h.mode)))
}

func (h *Hub) handleCommand(c *conn, p protocol.Packet) {
	if err := h.enqueue(c, p); err != nil {
		c.log.Info().Err(err).Msg("command rejected")
		h.record("command_rejected", c.id, c.client, err.Error())
		h.send(c, protocol.Failure(p.RequestID, err.Error()))
	}
}

func nonEmptyJSON(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}
