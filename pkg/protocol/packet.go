package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// PacketType discriminates the packet union on the wire.
type PacketType string

// Packet type constants.
const (
	// Satellite -> hub.
	TypeMode    PacketType = "mode"
	TypeCommand PacketType = "command"
	TypeMessage PacketType = "message"

	// Hub -> satellite.
	TypeEarsEvent   PacketType = "ears_event"
	TypeButtonEvent PacketType = "button_event"
	TypeAudioEvent  PacketType = "audio_event"
	TypeModeLost    PacketType = "mode_lost"
	TypeResponse    PacketType = "response"
)

// Packet is the single wire record exchanged over the hub socket. Only the
// fields relevant to Type are set; the rest are omitted from the JSON.
type Packet struct {
	Type PacketType `json:"type"`

	// mode, mode_lost
	Mode   Mode     `json:"mode,omitempty"`
	Events []string `json:"events,omitempty"`
	Client string   `json:"client,omitempty"`

	// command
	Sequence  []Action `json:"sequence,omitempty"`
	RequestID string   `json:"request_id,omitempty"`

	// ears_event
	Left  *int `json:"left,omitempty"`
	Right *int `json:"right,omitempty"`

	// button_event
	Kind string `json:"kind,omitempty"`

	// audio_event
	Clip string `json:"clip,omitempty"`

	// message
	Body      json.RawMessage `json:"body,omitempty"`
	Signature string          `json:"signature,omitempty"`

	// response
	Status Status `json:"status,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// ModePacket builds a set_mode request.
func ModePacket(client string, mode Mode, events ...string) Packet {
	if events == nil {
		events = []string{}
	}
	return Packet{Type: TypeMode, Client: client, Mode: mode, Events: events}
}

// CommandPacket builds a command request for seq.
func CommandPacket(requestID string, seq ...Action) Packet {
	return Packet{Type: TypeCommand, RequestID: requestID, Sequence: seq}
}

// EarsEvent builds an ears_event broadcast.
func EarsEvent(left, right int) Packet {
	return Packet{Type: TypeEarsEvent, Left: &left, Right: &right}
}

// ButtonEvent builds a button_event broadcast.
func ButtonEvent(kind string) Packet {
	return Packet{Type: TypeButtonEvent, Kind: kind}
}

// AudioEvent builds an audio_event broadcast for a completed clip.
func AudioEvent(clip string) Packet {
	return Packet{Type: TypeAudioEvent, Clip: clip}
}

// OK builds a success response.
func OK(requestID, detail string) Packet {
	return Packet{Type: TypeResponse, Status: StatusOK, RequestID: requestID, Detail: detail}
}

// Failure builds an error response.
func Failure(requestID, detail string) Packet {
	return Packet{Type: TypeResponse, Status: StatusError, RequestID: requestID, Detail: detail}
}

// EarPositions returns the ear fields of an ears_event, or false when either
// is missing.
func (p Packet) EarPositions() (left, right int, ok bool) {
	if p.Left == nil || p.Right == nil {
		return 0, 0, false
	}
	return *p.Left, *p.Right, true
}

// Validate checks that the packet carries the fields its type requires.
func (p Packet) Validate() error {
	switch p.Type {
	case TypeMode:
		if !p.Mode.Valid() {
			return &ProtocolError{Type: string(p.Type), Reason: fmt.Sprintf("invalid mode %q", p.Mode)}
		}
		for _, ev := range p.Events {
			if !KnownEvent(ev) {
				return &ProtocolError{Type: string(p.Type), Reason: fmt.Sprintf("unknown event %q", ev)}
			}
		}
	case TypeCommand:
		if len(p.Sequence) == 0 {
			return &ProtocolError{Type: string(p.Type), Reason: "empty sequence"}
		}
	case TypeMessage:
	case TypeEarsEvent:
		if _, _, ok := p.EarPositions(); !ok {
			return &ProtocolError{Type: string(p.Type), Reason: "missing ear positions"}
		}
	case TypeButtonEvent, TypeAudioEvent, TypeModeLost:
	case TypeResponse:
		if p.Status != StatusOK && p.Status != StatusError {
			return &ProtocolError{Type: string(p.Type), Reason: fmt.Sprintf("invalid status %q", p.Status)}
		}
	default:
		return &ProtocolError{Type: string(p.Type), Reason: "unknown packet type"}
	}
	return nil
}

// Encode marshals p as one newline-terminated JSON line.
func Encode(p Packet) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal packet: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses and validates one line. Both \n and \r\n endings are
// tolerated. Failures are returned as *ProtocolError.
func Decode(line []byte) (Packet, error) {
	line = bytes.TrimRight(line, "\r\n")
	var p Packet
	if err := json.Unmarshal(line, &p); err != nil {
		return Packet{}, &ProtocolError{Reason: "malformed json", Err: err}
	}
	if err := p.Validate(); err != nil {
		return Packet{}, err
	}
	return p, nil
}
