package hub

import (
	"errors"
	"fmt"
	"sync/atomic"

	"nabcore/pkg/hardware"
	"nabcore/pkg/protocol"
)

// errCancelled is reported to a requester whose sequence was cut short
// because it lost the mode.
var errCancelled = errors.New("cancelled")

// job is one admitted command sequence.
type job struct {
	connID    string
	requestID string
	seq       []protocol.Action
	cancelled atomic.Bool
}

// enqueue admits a command from c onto the global FIFO. Loop only.
func (h *Hub) enqueue(c *conn, p protocol.Packet) error {
	if err := h.admit(c, p.Sequence); err != nil {
		return err
	}
	h.queue = append(h.queue, &job{connID: c.id, requestID: p.RequestID, seq: p.Sequence})
	h.startNext()
	return nil
}

// startNext hands the head of the queue to the executor when it is free.
// Loop only.
func (h *Hub) startNext() {
	if h.running != nil || len(h.queue) == 0 {
		return
	}
	j := h.queue[0]
	h.queue = h.queue[1:]
	h.running = j
	go h.execute(j)
}

// cancelQueued drops connID's queued jobs and marks its running job so the
// executor stops after the action in flight. Loop only.
func (h *Hub) cancelQueued(connID string, reply bool) {
	kept := h.queue[:0]
	for _, j := range h.queue {
		if j.connID != connID {
			kept = append(kept, j)
			continue
		}
		if reply {
			h.send(h.conns[connID], protocol.Failure(j.requestID, errCancelled.Error()))
		}
		h.record("command_cancelled", connID, "", j.requestID)
	}
	for i := len(kept); i < len(h.queue); i++ {
		h.queue[i] = nil
	}
	h.queue = kept

	if h.running != nil && h.running.connID == connID {
		h.running.cancelled.Store(true)
	}
}

// execute runs one sequence on the hardware. It is the only code that
// drives hardware.IO for commands, and only one runs at a time.
func (h *Hub) execute(j *job) {
	ctx := h.execCtx
	var err error
	for _, a := range j.seq {
		if j.cancelled.Load() {
			err = errCancelled
			break
		}
		h.log.Debug().Str("request_id", j.requestID).Stringer("action", a).Msg("execute")
		if a.LEDs != nil {
			if err = h.hw.SetLEDs(*a.LEDs); err != nil {
				err = fmt.Errorf("set leds: %w", err)
				break
			}
		}
		if a.Ears != nil {
			if err = h.hw.MoveEars(ctx, hardware.At(a.Ears.Left, a.Ears.Right)); err != nil {
				err = fmt.Errorf("move ears: %w", err)
				break
			}
		}
		for _, clip := range a.Audio {
			if err = h.hw.PlayAudio(ctx, clip); err != nil {
				err = fmt.Errorf("play %s: %w", clip, err)
				break
			}
			h.do(func() { h.broadcast(protocol.EventAudio, protocol.AudioEvent(clip)) })
		}
		if err != nil {
			break
		}
	}
	h.do(func() { h.finish(j, err) })
}

// finish reports a sequence's outcome and starts the next one. Loop only.
func (h *Hub) finish(j *job, err error) {
	if h.running == j {
		h.running = nil
	}
	c := h.conns[j.connID]
	if err != nil {
		h.log.Info().Err(err).Str("conn", j.connID).Str("request_id", j.requestID).Msg("command failed")
		h.send(c, protocol.Failure(j.requestID, err.Error()))
		h.record("command_failed", j.connID, "", err.Error())
	} else {
		h.send(c, protocol.OK(j.requestID, ""))
		h.record("command_done", j.connID, "", j.requestID)
	}
	h.startNext()
}
