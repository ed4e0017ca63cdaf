package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"codeberg.org/mutker/fanmon/internal/errors"
	"codeberg.org/mutker/fanmon/internal/logger"
	"codeberg.org/mutker/fanmon/internal/mode"
)

// FanConfig describes one physical fan and its tach sensors
type FanConfig struct {
	// Inventory is the fan's path relative to the inventory root
	Inventory string
	// Deviation is the allowed percentage between expected and actual speed
	Deviation int64
	// NumSensorFailsForNonFunc is how many non-functional sensors make the
	// fan non-functional. Zero disables the fan level verdict.
	NumSensorFailsForNonFunc int
	Sensors                  []SensorConfig
}

func (c FanConfig) Validate() error {
	errFactory := errors.New()

	if !strings.HasPrefix(c.Inventory, "/") {
		return errFactory.WithData(ErrInvalidFan, fmt.Sprintf("inventory path %q is not absolute", c.Inventory))
	}
	if len(c.Sensors) == 0 {
		return errFactory.WithData(ErrInvalidFan, fmt.Sprintf("%s: no sensors", c.Inventory))
	}
	if c.NumSensorFailsForNonFunc < 0 {
		return errFactory.WithData(ErrInvalidFan, fmt.Sprintf("%s: negative sensor fail count", c.Inventory))
	}

	return nil
}

// Fan aggregates its tach sensors into a fan level verdict. It is the only
// component that flips a sensor's functional state.
type Fan struct {
	name       string
	numFails   int
	sensors    []*TachSensor
	functional bool
	inventory  Inventory
	recorder   Recorder
}

// NewFan builds the fan and all its sensors. In control mode each sensor's
// timeout is armed once every sibling exists, since sensors without a
// target correlate against the fan's.
func NewFan(ctx context.Context, m mode.Mode, cfg FanConfig, deps Deps) (*Fan, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	recorder := deps.Recorder
	if recorder == nil {
		recorder = NopRecorder{}
	}

	f := &Fan{
		name:       cfg.Inventory,
		numFails:   cfg.NumSensorFailsForNonFunc,
		functional: true,
		inventory:  deps.Inventory,
		recorder:   recorder,
	}

	// Start from a known state of functional
	if err := f.updateInventory(true); err != nil {
		return nil, err
	}
	f.recorder.FanFunctional(f.name, true)

	expectation := deps.Expectation
	if expectation == nil {
		expectation = NewLinear(cfg.Deviation)
	}

	for _, sc := range cfg.Sensors {
		s, err := NewTachSensor(ctx, m, f, sc, cfg.Inventory, expectation, deps)
		if err != nil {
			f.Close()
			return nil, err
		}
		f.sensors = append(f.sensors, s)
	}

	if m == mode.Control {
		for _, s := range f.sensors {
			s.StartTimer()
		}
	}

	logger.Debug().
		Str("fan", f.name).
		Int("sensors", len(f.sensors)).
		Int("num_sensor_fails_for_nonfunc", f.numFails).
		Msg("Fan monitored")

	return f, nil
}

func (f *Fan) Name() string {
	return f.name
}

func (f *Fan) Sensors() []*TachSensor {
	return f.sensors
}

// Functional returns the fan level verdict
func (f *Fan) Functional() bool {
	return f.functional
}

// Target returns the target of the fan's first sensor that has one
func (f *Fan) Target() (uint64, bool) {
	for _, s := range f.sensors {
		if s.hasTarget {
			return s.target, true
		}
	}
	return 0, false
}

// TachChanged applies the fan's policy to a sensor event: a timeout makes the
// sensor non-functional, an in-range input makes it functional again.
func (f *Fan) TachChanged(sensor *TachSensor, ev Event) error {
	switch ev.Kind {
	case EventTimeout:
		if err := sensor.SetFunctional(false); err != nil {
			return err
		}
	case EventInputChanged:
		if ev.InRange && !sensor.Functional() {
			if err := sensor.SetFunctional(true); err != nil {
				return err
			}
		}
	case EventTargetChanged:
		if sensor.HasTarget() {
			f.rebaseline(sensor)
		}
	}

	return f.evaluate()
}

// rebaseline re-arms sensors that follow the fan's target after it moved
func (f *Fan) rebaseline(source *TachSensor) {
	target, ok := f.Target()
	if !ok || target != source.target {
		return
	}

	for _, s := range f.sensors {
		if s != source && !s.hasTarget {
			s.StartTimer()
		}
	}
}

func (f *Fan) nonFunctionalCount() int {
	count := 0
	for _, s := range f.sensors {
		if !s.Functional() {
			count++
		}
	}
	return count
}

func (f *Fan) evaluate() error {
	if f.numFails == 0 {
		return nil
	}

	return f.setFunctional(f.nonFunctionalCount() < f.numFails)
}

func (f *Fan) setFunctional(functional bool) error {
	if f.functional == functional {
		return nil
	}

	f.functional = functional
	f.recorder.FanFunctional(f.name, functional)

	if functional {
		logger.Info().Str("fan", f.name).Msg("Fan functional")
	} else {
		logger.Warn().
			Str("fan", f.name).
			Int("nonfunctional_sensors", f.nonFunctionalCount()).
			Msg("Fan non-functional")
	}

	return f.updateInventory(functional)
}

func (f *Fan) updateInventory(functional bool) error {
	if f.inventory == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), inventoryTimeout)
	defer cancel()

	if err := f.inventory.SetFunctional(ctx, f.name, functional); err != nil {
		return errors.New().WrapData(ErrInventoryUpdate, err, f.name)
	}
	return nil
}

// Close tears down every sensor of the fan
func (f *Fan) Close() error {
	var errs []error
	for _, s := range f.sensors {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MaxTimeout returns the longest timeout among the fan's sensors
func (f *Fan) MaxTimeout() time.Duration {
	var longest time.Duration
	for _, s := range f.sensors {
		if t := s.Timeout(); t > longest {
			longest = t
		}
	}
	return longest
}
