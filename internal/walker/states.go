package walker

import "fmt"

type State string

const (
	StateIdle           State = "idle"
	StateDiscovering    State = "discovering"
	StateWalkingChapter State = "walking_chapter"
	StateCheckpointing  State = "checkpointing"
	StateCompleted      State = "completed"
	StateExporting      State = "exporting"
	StateDone           State = "done"
	StateFatal          State = "fatal"
)

var allowedTransitions = map[State]map[State]bool{
	StateIdle: {
		StateDiscovering:    true,
		StateWalkingChapter: true, // resume
		StateCompleted:      true, // resume of a fully acquired job
		StateExporting:      true, // export only
		StateFatal:          true,
	},
	StateDiscovering: {
		StateWalkingChapter: true,
		StateFatal:          true,
	},
	StateWalkingChapter: {
		StateCheckpointing: true,
		StateFatal:         true,
	},
	StateCheckpointing: {
		StateWalkingChapter: true,
		StateCompleted:      true,
		StateFatal:          true,
	},
	StateCompleted: {
		StateExporting: true,
		StateDone:      true, // images only
		StateFatal:     true,
	},
	StateExporting: {
		StateDone:  true,
		StateFatal: true,
	},
	StateDone:  {},
	StateFatal: {},
}

func IsKnownState(s State) bool {
	_, ok := allowedTransitions[s]
	return ok
}

func CanTransition(from, to State) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFatal
}

func transitionError(from, to State) error {
	return fmt.Errorf("invalid walker transition: %q -> %q", from, to)
}
