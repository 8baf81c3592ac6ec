package hub

import (
	"context"
	"fmt"
	"time"

	"nabcore/pkg/protocol"
)

// record queues a row for the events table. It never blocks the caller;
// when the writer falls behind the row is dropped.
func (h *Hub) record(evType, connID, client, payload string) {
	if h.db == nil {
		return
	}
	ev := protocol.Event{Type: evType, Source: "hub", ConnID: connID, Client: client, Payload: payload}
	select {
	case h.events <- ev:
	default:
		h.log.Warn().Str("type", evType).Msg("event log backlog full, dropping")
	}
}

// eventWriter persists queued events. After the loop exits it flushes what
// is already queued and returns.
func (h *Hub) eventWriter() {
	defer close(h.writerDone)
	if h.db == nil {
		return
	}
	for {
		select {
		case ev := <-h.events:
			h.write(ev)
		case <-h.done:
			for {
				select {
				case ev := <-h.events:
					h.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (h *Hub) write(ev protocol.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.logEvent(ctx, ev); err != nil {
		h.log.Warn().Err(err).Msg("event log write failed")
	}
}

func (h *Hub) logEvent(ctx context.Context, ev protocol.Event) error {
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO events (type, source, conn_id, client, payload) VALUES (?, ?, ?, ?, ?)`,
		ev.Type, ev.Source, ev.ConnID, ev.Client, ev.Payload)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}
