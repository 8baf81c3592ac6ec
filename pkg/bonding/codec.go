package bonding

import (
	"errors"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"

	"nabcore/pkg/hardware"
	"nabcore/pkg/protocol"
)

// ProjectURL closes every protocol marker.
const ProjectURL = "https://github.com/nabaztag2018/pynab"

// ErrNoMarker is returned by Decode when the text carries no protocol marker.
var ErrNoMarker = errors.New("no pairing marker")

var (
	tagPattern    = regexp.MustCompile(`<[^>]*>`)
	markerPattern = regexp.MustCompile(`\(NabPairing (Proposal|Acceptation|Rejection|Divorce|Ears ([0-9]{1,3}) ([0-9]{1,3})) - ` + regexp.QuoteMeta(ProjectURL) + `/?\)`)
	// loosePattern finds marker-like fragments, well-formed or not.
	loosePattern = regexp.MustCompile(`NabPairing\b`)
)

var humanText = map[Kind]string{
	KindProposal:    "Would you accept to be my spouse?",
	KindAcceptation: "Oh yes, I do accept to be your spouse",
	KindRejection:   "Sorry, I cannot be your spouse right now",
	KindDissolution: "I think we should split. Can we skip the lawyers?",
	KindEars:        "Let's dance",
}

// Marker returns the protocol token for kind.
func Marker(kind Kind, ears protocol.EarTarget) string {
	var cmd string
	switch kind {
	case KindProposal:
		cmd = "Proposal"
	case KindAcceptation:
		cmd = "Acceptation"
	case KindRejection:
		cmd = "Rejection"
	case KindDissolution:
		cmd = "Divorce"
	case KindEars:
		cmd = fmt.Sprintf("Ears %d %d", ears.Left, ears.Right)
	}
	return fmt.Sprintf("(NabPairing %s - %s)", cmd, ProjectURL)
}

// Encode renders the direct message sent to peer.
func Encode(peer string, kind Kind, ears protocol.EarTarget) string {
	return fmt.Sprintf("@%s %s %s", peer, humanText[kind], Marker(kind, ears))
}

// Decode recovers the message kind from a status body. HTML is stripped
// first; the body must hold exactly one well-formed marker, with any
// surrounding text.
func Decode(content string) (Kind, protocol.EarTarget, error) {
	text := html.UnescapeString(tagPattern.ReplaceAllString(content, ""))
	text = strings.Join(strings.Fields(text), " ")

	matches := markerPattern.FindAllStringSubmatch(text, -1)
	switch {
	case len(matches) == 0 && loosePattern.MatchString(text):
		return "", protocol.EarTarget{}, errors.New("malformed pairing marker")
	case len(matches) == 0:
		return "", protocol.EarTarget{}, ErrNoMarker
	case len(matches) > 1 || len(loosePattern.FindAllString(text, -1)) > 1:
		return "", protocol.EarTarget{}, fmt.Errorf("%d pairing markers, want one", len(loosePattern.FindAllString(text, -1)))
	}

	m := matches[0]
	switch m[1] {
	case "Proposal":
		return KindProposal, protocol.EarTarget{}, nil
	case "Acceptation":
		return KindAcceptation, protocol.EarTarget{}, nil
	case "Rejection":
		return KindRejection, protocol.EarTarget{}, nil
	case "Divorce":
		return KindDissolution, protocol.EarTarget{}, nil
	}
	left, _ := strconv.Atoi(m[2])
	right, _ := strconv.Atoi(m[3])
	if left >= hardware.Steps || right >= hardware.Steps {
		return "", protocol.EarTarget{}, fmt.Errorf("ear position %d/%d out of range", left, right)
	}
	return KindEars, protocol.EarTarget{Left: left, Right: right}, nil
}
