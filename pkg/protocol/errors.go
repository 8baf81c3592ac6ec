package protocol

import "fmt"

// ConnectionError represents a socket-level failure between a satellite and
// the hub. Satellites retry after their backoff; the hub drops the
// connection and releases whatever it held.
type ConnectionError struct {
	Peer string // connection handle or socket path
	Op   string // dial | read | write
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s %s: %v", e.Op, e.Peer, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError represents a malformed or unrecognized packet. The packet is
// discarded; the connection stays open.
type ProtocolError struct {
	Type   string // packet type, empty when the line did not parse
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Type == "" {
		if e.Err != nil {
			return fmt.Sprintf("protocol: %s: %v", e.Reason, e.Err)
		}
		return "protocol: " + e.Reason
	}
	return fmt.Sprintf("protocol: %s packet: %s", e.Type, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// FeedError represents a failure talking to an external feed. Unauthorized
// means the stored credential was refused and must be cleared.
type FeedError struct {
	Feed         string // mastodon | aqicn
	Unauthorized bool
	Err          error
}

func (e *FeedError) Error() string {
	if e.Unauthorized {
		return fmt.Sprintf("feed %s: unauthorized: %v", e.Feed, e.Err)
	}
	return fmt.Sprintf("feed %s: %v", e.Feed, e.Err)
}

func (e *FeedError) Unwrap() error { return e.Err }

// ArbitrationConflict is returned to a requester whose mode or command was
// refused because another connection owns the hardware.
type ArbitrationConflict struct {
	Requested string // mode name or "command"
	Holder    string // connection handle of the current owner, if any
	Reason    string
}

func (e *ArbitrationConflict) Error() string {
	if e.Holder == "" {
		return fmt.Sprintf("arbitration conflict on %s: %s", e.Requested, e.Reason)
	}
	return fmt.Sprintf("arbitration conflict on %s: %s (held by %s)", e.Requested, e.Reason, e.Holder)
}
