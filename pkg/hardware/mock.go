package hardware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"nabcore/pkg/protocol"
)

// Mock is an in-memory IO that records every call. Tests inject physical
// events with Press and Turn.
type Mock struct {
	mu        sync.Mutex
	ears      Ears
	leds      protocol.LEDPattern
	calls     []string
	played    []string
	audioTime time.Duration
	motion    time.Duration
	events    chan Event
}

// NewMock returns a Mock with both ears at position 0.
func NewMock() *Mock {
	return &Mock{events: make(chan Event, 16)}
}

// SetDurations makes MoveEars and PlayAudio take the given time, so tests
// can observe in-flight commands.
func (m *Mock) SetDurations(motion, audio time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.motion = motion
	m.audioTime = audio
}

func (m *Mock) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

// MoveEars implements IO.
func (m *Mock) MoveEars(ctx context.Context, target Ears) error {
	target = At(target.Left, target.Right)
	m.record(fmt.Sprintf("move_ears(%d, %d)", target.Left, target.Right))
	m.mu.Lock()
	d := m.motion
	m.mu.Unlock()
	if err := sleepCtx(ctx, d); err != nil {
		return err
	}
	m.mu.Lock()
	m.ears = target
	m.mu.Unlock()
	return nil
}

// EarPositions implements IO.
func (m *Mock) EarPositions(_ context.Context) (Ears, error) {
	m.record("ear_positions()")
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ears, nil
}

// SetLEDs implements IO.
func (m *Mock) SetLEDs(pattern protocol.LEDPattern) error {
	m.record(fmt.Sprintf("set_leds(%v)", pattern.Slots()))
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leds = pattern
	return nil
}

// PlayAudio implements IO.
func (m *Mock) PlayAudio(ctx context.Context, clip string) error {
	m.record(fmt.Sprintf("play(%s)", clip))
	m.mu.Lock()
	d := m.audioTime
	m.mu.Unlock()
	if err := sleepCtx(ctx, d); err != nil {
		return err
	}
	m.mu.Lock()
	m.played = append(m.played, clip)
	m.mu.Unlock()
	return nil
}

// StopAudio implements IO.
func (m *Mock) StopAudio() error {
	m.record("stop_audio()")
	return nil
}

// Events implements IO.
func (m *Mock) Events() <-chan Event { return m.events }

// Close implements IO.
func (m *Mock) Close() error {
	m.record("close()")
	return nil
}

// Press simulates a button event.
func (m *Mock) Press(kind string) {
	m.events <- Event{Kind: EventButton, Button: kind}
}

// Turn simulates someone moving the ears by hand by the given deltas.
func (m *Mock) Turn(dLeft, dRight int) Ears {
	m.mu.Lock()
	m.ears = m.ears.Move(dLeft, dRight)
	pos := m.ears
	m.mu.Unlock()
	m.events <- Event{Kind: EventEars, Ears: pos}
	return pos
}

// Calls returns a copy of the recorded call log.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// Played returns the clips that finished playing, in order.
func (m *Mock) Played() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.played))
	copy(out, m.played)
	return out
}

// Current returns the last ear positions and light pattern.
func (m *Mock) Current() (Ears, protocol.LEDPattern) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ears, m.leds
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
