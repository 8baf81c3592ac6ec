package bonding

import (
	"time"

	"nabcore/pkg/protocol"
)

// Kind classifies a protocol message.
type Kind string

// Message kinds. Dissolution travels as "Divorce" on the wire.
const (
	KindProposal    Kind = "proposal"
	KindAcceptation Kind = "acceptation"
	KindRejection   Kind = "rejection"
	KindDissolution Kind = "dissolution"
	KindEars        Kind = "ears"
)

// Message is one inbound protocol message.
type Message struct {
	Kind       Kind
	Sender     string // normalized handle, user@instance
	SenderName string
	At         time.Time
	Ears       protocol.EarTarget // KindEars only
}

// Render names a local performance.
type Render string

// Local renders.
const (
	RenderProposalReceived Render = "proposal_received"
	RenderBonded           Render = "bonded"
	RenderDissolved        Render = "dissolved"
	RenderRejected         Render = "rejected"
	RenderPeerEars         Render = "peer_ears"
)

// EffectKind discriminates Effect.
type EffectKind string

// Effect kinds.
const (
	EffectReply   EffectKind = "reply"   // direct message to To
	EffectRender  EffectKind = "render"  // command to the hub
	EffectForward EffectKind = "forward" // subscribe (Forward) or unsubscribe to ears events
)

// Effect is a side effect the service performs after persisting the record.
type Effect struct {
	Kind    EffectKind
	To      string
	Reply   Kind
	Render  Render
	Ears    protocol.EarTarget
	Forward bool
}

func reply(to string, kind Kind) Effect {
	return Effect{Kind: EffectReply, To: to, Reply: kind}
}

func replyEars(to string, ears protocol.EarTarget) Effect {
	return Effect{Kind: EffectReply, To: to, Reply: KindEars, Ears: ears}
}

func render(r Render) Effect {
	return Effect{Kind: EffectRender, Render: r}
}

func renderEars(ears protocol.EarTarget) Effect {
	return Effect{Kind: EffectRender, Render: RenderPeerEars, Ears: ears}
}

func forward(on bool) Effect {
	return Effect{Kind: EffectForward, Forward: on}
}
