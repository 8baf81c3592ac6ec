package bonding

import (
	"time"

	"nabcore/pkg/protocol"
)

// Transition applies one inbound message to rec. It is pure and total:
// any state and input pair without a rule returns rec unchanged with no
// effects. changed reports whether the returned record must be persisted
// before the effects run.
func Transition(rec Record, msg Message) (next Record, effects []Effect, changed bool) {
	rec = rec.Normalize()
	next = rec.clone()
	known := rec.PeerHandle != "" && rec.PeerHandle == msg.Sender

	switch rec.State {
	case StateNone:
		switch msg.Kind {
		case KindProposal:
			next.State = StateWaitingApproval
			next.PeerHandle = msg.Sender
			next.TransitionAt = msg.At
			return next, []Effect{render(RenderProposalReceived)}, true
		case KindAcceptation, KindEars:
			return rec, []Effect{reply(msg.Sender, KindDissolution)}, false
		}

	case StateProposed:
		switch {
		case known && (msg.Kind == KindRejection || msg.Kind == KindDissolution):
			next = dissolve(next, msg.At)
			return next, []Effect{render(RenderRejected)}, true
		case known && msg.Kind == KindAcceptation:
			next = marry(next, msg.At)
			return next, []Effect{forward(true), render(RenderBonded)}, true
		case known && msg.Kind == KindProposal:
			next = marry(next, msg.At)
			return next, []Effect{reply(msg.Sender, KindAcceptation), forward(true), render(RenderBonded)}, true
		case !known && (msg.Kind == KindAcceptation || msg.Kind == KindEars):
			return rec, []Effect{reply(msg.Sender, KindDissolution)}, false
		case !known && msg.Kind == KindProposal:
			return rec, []Effect{reply(msg.Sender, KindRejection)}, false
		}

	case StateWaitingApproval:
		switch {
		case known && msg.Kind == KindAcceptation:
			next = marry(next, msg.At)
			return next, []Effect{forward(true), render(RenderBonded)}, true
		case known && msg.Kind == KindProposal:
			next = marry(next, msg.At)
			return next, []Effect{reply(msg.Sender, KindAcceptation), forward(true), render(RenderBonded)}, true
		case !known && msg.Kind == KindProposal:
			prior := rec.PeerHandle
			next.PeerHandle = msg.Sender
			next.TransitionAt = msg.At
			if prior != "" {
				effects = append(effects, reply(prior, KindRejection))
			}
			return next, append(effects, render(RenderProposalReceived)), true
		case known && (msg.Kind == KindRejection || msg.Kind == KindDissolution):
			next = dissolve(next, msg.At)
			return next, []Effect{render(RenderDissolved)}, true
		case !known && (msg.Kind == KindAcceptation || msg.Kind == KindEars):
			return rec, []Effect{reply(msg.Sender, KindDissolution)}, false
		}

	case StateMarried:
		switch {
		case known && (msg.Kind == KindRejection || msg.Kind == KindDissolution):
			next = dissolve(next, msg.At)
			return next, []Effect{forward(false), render(RenderDissolved)}, true
		case known && msg.Kind == KindEars:
			if rec.PeerEars != nil && *rec.PeerEars == msg.Ears {
				return rec, nil, false
			}
			ears := msg.Ears
			next.PeerEars = &ears
			next.TransitionAt = msg.At
			return next, []Effect{renderEars(ears), replyEars(msg.Sender, ears)}, true
		case known && msg.Kind == KindProposal:
			next.TransitionAt = msg.At
			return next, []Effect{reply(msg.Sender, KindAcceptation)}, true
		case !known && (msg.Kind == KindAcceptation || msg.Kind == KindEars):
			return rec, []Effect{reply(msg.Sender, KindDissolution)}, false
		}
	}
	return rec, nil, false
}

// ApplyIntent applies an owner request at now. Requests that do not fit
// the current state are ignored.
func ApplyIntent(rec Record, intent Intent, now time.Time) (next Record, effects []Effect, changed bool) {
	rec = rec.Normalize()
	next = rec.clone()

	switch intent.Kind {
	case IntentPropose:
		// Stored the way inbound senders are, so the peer's answer matches.
		peer := NormalizeHandle(intent.Peer, rec.Account.Instance)
		if rec.State != StateNone || peer == "" {
			break
		}
		next.State = StateProposed
		next.PeerHandle = peer
		next.TransitionAt = now
		return next, []Effect{reply(peer, KindProposal)}, true

	case IntentAccept:
		if rec.State != StateWaitingApproval {
			break
		}
		next = marry(next, now)
		return next, []Effect{reply(rec.PeerHandle, KindAcceptation), forward(true), render(RenderBonded)}, true

	case IntentReject:
		if rec.State != StateWaitingApproval {
			break
		}
		next = dissolve(next, now)
		return next, []Effect{reply(rec.PeerHandle, KindRejection)}, true

	case IntentDissolve:
		switch rec.State {
		case StateMarried:
			next = dissolve(next, now)
			return next, []Effect{reply(rec.PeerHandle, KindDissolution), forward(false), render(RenderDissolved)}, true
		case StateProposed:
			next = dissolve(next, now)
			return next, []Effect{reply(rec.PeerHandle, KindDissolution)}, true
		}
	}
	return rec, nil, false
}

func marry(rec Record, at time.Time) Record {
	rec.State = StateMarried
	rec.TransitionAt = at
	return rec
}

func dissolve(rec Record, at time.Time) Record {
	rec.State = StateNone
	rec.PeerHandle = ""
	rec.PeerEars = nil
	rec.TransitionAt = at
	return rec
}

// OwnEars records positions this device shared with its peer, so the
// peer's echo of them is recognised and not bounced back again.
func OwnEars(rec Record, ears protocol.EarTarget) Record {
	next := rec.clone()
	next.PeerEars = &ears
	return next
}
