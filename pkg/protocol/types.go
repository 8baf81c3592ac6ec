package protocol

import (
	"fmt"
	"strings"
)

// Mode is the hub-wide hardware ownership state.
type Mode string

// Mode constants. Interactive is exclusive to one connection.
const (
	ModeIdle        Mode = "idle"
	ModeInteractive Mode = "interactive"
	ModeAsleep      Mode = "asleep"
)

// Valid reports whether m is one of the three known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeIdle, ModeInteractive, ModeAsleep:
		return true
	default:
		return false
	}
}

// Status is the outcome carried by a response packet.
type Status string

// Response status constants.
const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// EarTarget is an absolute step target for both ears.
type EarTarget struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

// LEDPattern assigns a #rrggbb color to each of the five lights. An empty
// slot leaves that light unchanged.
type LEDPattern struct {
	Left   string `json:"left,omitempty"`
	Center string `json:"center,omitempty"`
	Right  string `json:"right,omitempty"`
	Nose   string `json:"nose,omitempty"`
	Bottom string `json:"bottom,omitempty"`
}

// Uniform returns a pattern with every light set to color.
func Uniform(color string) *LEDPattern {
	return &LEDPattern{Left: color, Center: color, Right: color, Nose: color, Bottom: color}
}

// Slots returns the colors in ring order: left, center, right, nose, bottom.
func (p LEDPattern) Slots() [5]string {
	return [5]string{p.Left, p.Center, p.Right, p.Nose, p.Bottom}
}

// Action is one step of a command sequence. The hub applies its parts in
// order: lights, ears, then audio clips front to back.
type Action struct {
	Audio []string    `json:"audio,omitempty"`
	LEDs  *LEDPattern `json:"leds,omitempty"`
	Ears  *EarTarget  `json:"ears,omitempty"`
}

// RequiresMotion reports whether the action moves the ears, which needs
// exclusive control of the hardware.
func (a Action) RequiresMotion() bool {
	return a.Ears != nil
}

// SequenceRequiresMotion reports whether any action in seq moves the ears.
func SequenceRequiresMotion(seq []Action) bool {
	for _, a := range seq {
		if a.RequiresMotion() {
			return true
		}
	}
	return false
}

// String renders an action for logs, e.g. "ears=3/4 audio=[a.mp3]".
func (a Action) String() string {
	var parts []string
	if a.LEDs != nil {
		parts = append(parts, fmt.Sprintf("leds=%v", a.LEDs.Slots()))
	}
	if a.Ears != nil {
		parts = append(parts, fmt.Sprintf("ears=%d/%d", a.Ears.Left, a.Ears.Right))
	}
	if len(a.Audio) > 0 {
		parts = append(parts, fmt.Sprintf("audio=%v", a.Audio))
	}
	return strings.Join(parts, " ")
}
