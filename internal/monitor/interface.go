package monitor

import (
	"context"
	"io"

	"codeberg.org/mutker/fanmon/internal/event"
)

const (
	SensorPath      = "/xyz/openbmc_project/sensors/fan_tach/"
	ValueInterface  = "xyz.openbmc_project.Sensor.Value"
	ValueProperty   = "Value"
	TargetInterface = "xyz.openbmc_project.Control.FanSpeed"
	TargetProperty  = "Target"
)

// Bus reads baseline property values and delivers property-change
// notifications. Handlers passed to Subscribe run on the event loop.
type Bus interface {
	Property(ctx context.Context, path, iface, property string) (int64, error)
	Subscribe(path, iface, property string, handler func(int64) error) (io.Closer, error)
}

// Inventory mirrors functional status for operators
type Inventory interface {
	SetFunctional(ctx context.Context, path string, functional bool) error
}

// TimerFactory registers timers with the event loop
type TimerFactory interface {
	NewTimer(fn func() error) (*event.Timer, error)
}

// Aggregator combines the verdicts of one fan's sensors. TachChanged is
// called on every input change, target change and timeout, possibly from
// within the handler that updated the sensor.
type Aggregator interface {
	TachChanged(sensor *TachSensor, ev Event) error
	Target() (uint64, bool)
}

// Recorder observes sensor and fan state for metrics
type Recorder interface {
	SensorInput(sensor string, input int64)
	SensorTarget(sensor string, target uint64)
	SensorFunctional(sensor string, functional bool)
	SensorTimeout(sensor string)
	FanFunctional(fan string, functional bool)
}

// EventKind identifies why an aggregator is being notified
type EventKind int

const (
	EventInputChanged EventKind = iota + 1
	EventTargetChanged
	EventTimeout
)

func (k EventKind) String() string {
	switch k {
	case EventInputChanged:
		return "input_changed"
	case EventTargetChanged:
		return "target_changed"
	case EventTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Event is what a sensor reports to its aggregator. InRange is the
// functional candidate: whether Input is consistent with Target.
type Event struct {
	Kind    EventKind
	Input   int64
	Target  uint64
	InRange bool
}

// NopRecorder discards all observations
type NopRecorder struct{}

func (NopRecorder) SensorInput(string, int64) {}
func (NopRecorder) SensorTarget(string, uint64) {}
func (NopRecorder) SensorFunctional(string, bool) {}
func (NopRecorder) SensorTimeout(string) {}
func (NopRecorder) FanFunctional(string, bool) {}

// Deps are the collaborators shared by every fan and sensor
type Deps struct {
	Bus       Bus
	Inventory Inventory
	Timers    TimerFactory
	Recorder  Recorder

	// Expectation overrides the fan's linear expectation when set
	Expectation Expectation
}
