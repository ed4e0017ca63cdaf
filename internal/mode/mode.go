// Package mode defines the daemon's run-once operating mode.
package mode

import "fmt"

// Mode selects between the one-shot init action and continuous monitoring.
// It is decided once at startup and never changes.
type Mode int

const (
	// Init performs the start-up action and exits without entering the loop
	Init Mode = iota + 1
	// Control attaches to the event loop and monitors until shutdown
	Control
)

func (m Mode) String() string {
	switch m {
	case Init:
		return "init"
	case Control:
		return "control"
	default:
		return "unknown"
	}
}

// Parse returns the Mode for its name.
func Parse(name string) (Mode, error) {
	switch name {
	case "init":
		return Init, nil
	case "control":
		return Control, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", name)
	}
}
