package hub

import (
	"slices"

	"nabcore/pkg/protocol"
)

// subscribe replaces connID's event subscriptions with events. Existing
// registrations keep their place in the broadcast order. Loop only.
func (h *Hub) subscribe(connID string, events []string) {
	want := make(map[string]bool, len(events))
	for _, ev := range events {
		want[ev] = true
	}
	for _, ev := range []string{protocol.EventButton, protocol.EventEars, protocol.EventAudio} {
		ids := h.subs[ev]
		has := slices.Contains(ids, connID)
		switch {
		case want[ev] && !has:
			h.subs[ev] = append(ids, connID)
		case !want[ev] && has:
			h.subs[ev] = slices.DeleteFunc(ids, func(id string) bool { return id == connID })
		}
	}
}

func (h *Hub) unsubscribeAll(connID string) {
	h.subscribe(connID, nil)
}

// broadcast sends p to every subscriber of event in registration order.
// Loop only.
func (h *Hub) broadcast(event string, p protocol.Packet) {
	for _, id := range h.subs[event] {
		h.send(h.conns[id], p)
	}
}
