// Package bonding implements the peer-bonding satellite: a symmetric
// relationship protocol (propose, accept, reject, dissolve, live ear
// sharing) conducted with one remote device through direct messages on a
// Mastodon-style feed, persisted in the ConfigStore across restarts.
package bonding

import (
	"time"

	"nabcore/pkg/protocol"
)

// RecordKey is the ConfigStore key of the bonding record.
const RecordKey = "bonding"

// State is the relationship state with the peer.
type State string

// Relationship states. Proposed means this device asked; waiting_approval
// means the peer asked and the owner has not answered yet.
const (
	StateNone            State = "none"
	StateProposed        State = "proposed"
	StateWaitingApproval State = "waiting_approval"
	StateMarried         State = "married"
)

// Account holds the feed credentials.
type Account struct {
	Instance     string `json:"instance"`
	Username     string `json:"username"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	AccessToken  string `json:"access_token,omitempty"`
}

// Cursor is the feed dedup position. It never moves backwards.
type Cursor struct {
	LastID   int64     `json:"last_id"`
	LastDate time.Time `json:"last_date"`
}

// Seen reports whether a status with this id and date was already handled.
func (c Cursor) Seen(id int64, at time.Time) bool {
	return id <= c.LastID || at.Before(c.LastDate)
}

// Advance returns the cursor moved forward to cover id and at.
func (c Cursor) Advance(id int64, at time.Time) Cursor {
	if id > c.LastID {
		c.LastID = id
	}
	if at.After(c.LastDate) {
		c.LastDate = at
	}
	return c
}

// IntentKind is an action requested locally by the owner.
type IntentKind string

// Local intents, written by the CLI and applied by the daemon on reload.
const (
	IntentPropose  IntentKind = "propose"
	IntentAccept   IntentKind = "accept"
	IntentReject   IntentKind = "reject"
	IntentDissolve IntentKind = "dissolve"
)

// Intent is a pending owner request. Peer is only used by propose.
type Intent struct {
	Kind IntentKind `json:"kind"`
	Peer string     `json:"peer,omitempty"`
}

// Record is the persisted relationship.
type Record struct {
	Account      Account             `json:"account"`
	PeerHandle   string              `json:"peer_handle,omitempty"`
	State        State               `json:"state"`
	TransitionAt time.Time           `json:"transition_at"`
	PeerEars     *protocol.EarTarget `json:"peer_ears,omitempty"`
	Cursor       Cursor              `json:"cursor"`
	Intent       *Intent             `json:"intent,omitempty"`
}

// Normalize fills zero values so a freshly created record reads as none.
func (r Record) Normalize() Record {
	if r.State == "" {
		r.State = StateNone
	}
	return r
}

// clone returns a copy that shares no pointers with r.
func (r Record) clone() Record {
	out := r
	if r.PeerEars != nil {
		ears := *r.PeerEars
		out.PeerEars = &ears
	}
	if r.Intent != nil {
		intent := *r.Intent
		out.Intent = &intent
	}
	return out
}
