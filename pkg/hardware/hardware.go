// Package hardware defines the capability set the hub owns exclusively: two
// steppable ears, a ring of five RGB lights, an audio channel, and the
// physical events they report. Production and test implementations are
// interchangeable and chosen when the hub is constructed.
package hardware

import (
	"context"

	"nabcore/pkg/protocol"
)

// Steps is the number of stepper positions in one full ear revolution.
const Steps = 17

// Ears is a pair of ear positions, each in [0, Steps).
type Ears struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

// Wrap reduces any integer position into [0, Steps).
func Wrap(pos int) int {
	pos %= Steps
	if pos < 0 {
		pos += Steps
	}
	return pos
}

// At returns positions wrapped into range.
func At(left, right int) Ears {
	return Ears{Left: Wrap(left), Right: Wrap(right)}
}

// Move returns e advanced by the given deltas, wrapping around.
func (e Ears) Move(dLeft, dRight int) Ears {
	return At(e.Left+dLeft, e.Right+dRight)
}

// EventKind classifies a hardware-originated event.
type EventKind string

// Event kinds, named after the subscription names satellites use.
const (
	EventButton EventKind = protocol.EventButton
	EventEars   EventKind = protocol.EventEars
)

// Event is a physical occurrence reported by the hardware: a button press
// or a manual ear movement.
type Event struct {
	Kind   EventKind
	Button string // click, double_click, hold, ...
	Ears   Ears
}

// IO is the hardware capability set. Only the hub's executor calls the
// actuating methods, one at a time.
type IO interface {
	// MoveEars drives both ears to the target positions and returns when
	// the motion has finished.
	MoveEars(ctx context.Context, target Ears) error
	// EarPositions reads the current ear positions.
	EarPositions(ctx context.Context) (Ears, error)
	// SetLEDs applies a light pattern immediately.
	SetLEDs(pattern protocol.LEDPattern) error
	// PlayAudio plays one clip and returns when it has finished or ctx
	// is cancelled.
	PlayAudio(ctx context.Context, clip string) error
	// StopAudio interrupts any clip being played.
	StopAudio() error
	// Events delivers button presses and manual ear movements.
	Events() <-chan Event
	// Close releases the hardware.
	Close() error
}
