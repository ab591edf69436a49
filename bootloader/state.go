package bootloader

// State is the position of a Session in the update sequence.
type State int

// Session states in the order they are entered. Erasing is skipped unless
// an erase was requested.
const (
	StateDisconnected State = iota
	StateConnected
	StateIdentified // UID known
	StateUnlocked   // UID accepted, bootloader compatible
	StateErasing
	StateFlashing
	StateVerifying // boot descriptor update
	StateRestarting
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateDisconnected: "disconnected",
	StateConnected:    "connected",
	StateIdentified:   "identified",
	StateUnlocked:     "unlocked",
	StateErasing:      "erasing",
	StateFlashing:     "flashing",
	StateVerifying:    "verifying",
	StateRestarting:   "restarting",
	StateDone:         "done",
	StateFailed:       "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Mode selects how the image is transferred.
type Mode int

const (
	// ModeFull sends every block of the image.
	ModeFull Mode = iota

	// ModeDifferential sends compressed page diffs against the cached
	// image the device currently runs.
	ModeDifferential
)

func (m Mode) String() string {
	if m == ModeDifferential {
		return "differential"
	}
	return "full"
}
