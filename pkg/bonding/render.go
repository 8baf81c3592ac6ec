package bonding

import "nabcore/pkg/protocol"

// Audio clips played for each render.
const (
	clipProposal  = "bonding/proposal.mp3"
	clipWedding   = "bonding/wedding.mp3"
	clipDivorce   = "bonding/divorce.mp3"
	clipRejection = "bonding/rejection.mp3"
	clipCommunion = "bonding/communion.wav"
)

// renderSequence returns the hub command sequence for r.
func renderSequence(r Render, ears protocol.EarTarget) []protocol.Action {
	switch r {
	case RenderProposalReceived:
		return []protocol.Action{{LEDs: protocol.Uniform("#ff66cc"), Audio: []string{clipProposal}}}
	case RenderBonded:
		return []protocol.Action{{LEDs: protocol.Uniform("#ff0000"), Audio: []string{clipWedding}}}
	case RenderDissolved:
		return []protocol.Action{{LEDs: protocol.Uniform("#000000"), Audio: []string{clipDivorce}}}
	case RenderRejected:
		return []protocol.Action{{LEDs: protocol.Uniform("#000000"), Audio: []string{clipRejection}}}
	case RenderPeerEars:
		target := ears
		return []protocol.Action{{Ears: &target, Audio: []string{clipCommunion}}}
	default:
		return nil
	}
}
