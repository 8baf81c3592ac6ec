package advisory

import (
	"fmt"

	"nabcore/pkg/protocol"
)

var levelColors = [...]string{
	LevelWorst:    "#ff0000",
	LevelModerate: "#ff8000",
	LevelGood:     "#00ff00",
}

// renderSequence returns the command announcing level. The LEDs light up
// only when visual is always.
func renderSequence(level int, visual string) []protocol.Action {
	if level < LevelWorst || level > LevelGood {
		level = LevelWorst
	}
	action := protocol.Action{
		Audio: []string{"advisory/signature.mp3", fmt.Sprintf("advisory/level%d.mp3", level)},
	}
	if visual != VisualNever {
		action.LEDs = protocol.Uniform(levelColors[level])
	}
	return []protocol.Action{action}
}
