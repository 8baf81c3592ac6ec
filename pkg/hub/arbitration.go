package hub

import (
	"time"

	"nabcore/pkg/protocol"
)

// setMode applies a mode request from c. Loop only.
//
// Interactive is exclusive and preempts a sleeper. Asleep is refused while
// interactive is held or reserved. Idle releases whatever c holds.
func (h *Hub) setMode(c *conn, m protocol.Mode) error {
	switch m {
	case protocol.ModeInteractive:
		return h.claimInteractive(c)
	case protocol.ModeAsleep:
		return h.claimAsleep(c)
	case protocol.ModeIdle:
		if h.holder == c.id {
			h.release(c.id, "released")
		}
		return nil
	default:
		return &protocol.ProtocolError{Type: string(protocol.TypeMode), Reason: "invalid mode " + string(m)}
	}
}

func (h *Hub) claimInteractive(c *conn) error {
	if h.holder == c.id && h.mode == protocol.ModeInteractive {
		return nil
	}
	if h.mode == protocol.ModeInteractive && h.holder != "" && h.holder != c.id {
		return &protocol.ArbitrationConflict{
			Requested: string(protocol.ModeInteractive),
			Holder:    h.holder,
			Reason:    "interactive already held",
		}
	}
	if o := h.orphan; o != nil && o.client != "" && o.client != c.client {
		return &protocol.ArbitrationConflict{
			Requested: string(protocol.ModeInteractive),
			Reason:    "reserved for reconnecting " + o.client,
		}
	}

	if h.mode == protocol.ModeAsleep && h.holder != "" && h.holder != c.id {
		h.preempt(h.holder)
	}
	h.clearOrphan()
	h.setState(protocol.ModeInteractive, c.id)
	return nil
}

func (h *Hub) claimAsleep(c *conn) error {
	switch {
	case h.mode == protocol.ModeInteractive && h.holder != c.id:
		return &protocol.ArbitrationConflict{
			Requested: string(protocol.ModeAsleep),
			Holder:    h.holder,
			Reason:    "interactive mode in progress",
		}
	case h.mode == protocol.ModeAsleep && h.holder != c.id:
		return &protocol.ArbitrationConflict{
			Requested: string(protocol.ModeAsleep),
			Holder:    h.holder,
			Reason:    "already asleep",
		}
	}
	h.setState(protocol.ModeAsleep, c.id)
	return nil
}

// admit decides whether c may enqueue seq under the current mode. Loop only.
func (h *Hub) admit(c *conn, seq []protocol.Action) error {
	if h.draining {
		return &protocol.ArbitrationConflict{Requested: "command", Reason: "hub shutting down"}
	}
	switch h.mode {
	case protocol.ModeInteractive:
		if h.holder == c.id || !protocol.SequenceRequiresMotion(seq) {
			return nil
		}
		return &protocol.ArbitrationConflict{
			Requested: "command",
			Holder:    h.holder,
			Reason:    "ear motion requires interactive ownership",
		}
	case protocol.ModeAsleep:
		if h.holder == c.id {
			return nil
		}
		return &protocol.ArbitrationConflict{
			Requested: "command",
			Holder:    h.holder,
			Reason:    "hub is asleep",
		}
	default:
		return nil
	}
}

// preempt takes the hardware away from connID and tells it so. Loop only.
func (h *Hub) preempt(connID string) {
	lost := h.mode
	h.cancelQueued(connID, true)
	if c := h.conns[connID]; c != nil {
		h.send(c, protocol.Packet{Type: protocol.TypeModeLost, Mode: lost})
		h.record("mode_lost", connID, c.client, string(lost))
	}
}

// release returns the hub to idle and cancels the former holder's work.
// Loop only.
func (h *Hub) release(connID, why string) {
	h.cancelQueued(connID, true)
	h.setState(protocol.ModeIdle, "")
	h.log.Debug().Str("conn", connID).Str("why", why).Msg("mode released")
}

// releaseOnDisconnect handles a holder dropping its connection. A sleeper
// returns the hub to idle at once; an interactive holder leaves interactive
// reserved for the grace window. Loop only.
func (h *Hub) releaseOnDisconnect(c *conn) {
	if h.holder != c.id {
		return
	}
	switch h.mode {
	case protocol.ModeAsleep:
		h.setState(protocol.ModeIdle, "")
	case protocol.ModeInteractive:
		h.holder = ""
		o := &orphan{client: c.client}
		o.timer = time.AfterFunc(h.cfg.GraceWindow, func() {
			h.do(func() { h.expireOrphan(o) })
		})
		h.orphan = o
		c.log.Info().Dur("grace", h.cfg.GraceWindow).Msg("interactive holder dropped, reserving")
		h.record("mode_reserved", c.id, c.client, string(protocol.ModeInteractive))
	}
}

func (h *Hub) expireOrphan(o *orphan) {
	if h.orphan != o {
		return
	}
	h.orphan = nil
	h.setState(protocol.ModeIdle, "")
	h.log.Info().Str("client", o.client).Msg("grace window expired")
}

func (h *Hub) clearOrphan() {
	if h.orphan == nil {
		return
	}
	h.orphan.timer.Stop()
	h.orphan = nil
}

func (h *Hub) setState(m protocol.Mode, holder string) {
	if h.mode == m && h.holder == holder {
		return
	}
	prev := h.mode
	h.mode = m
	h.holder = holder
	client := ""
	if c := h.conns[holder]; c != nil {
		client = c.client
	}
	h.log.Info().
		Str("from", string(prev)).
		Str("to", string(m)).
		Str("holder", holder).
		Str("client", client).
		Msg("mode changed")
	h.record("mode_change", holder, client, string(prev)+"->"+string(m))
}
