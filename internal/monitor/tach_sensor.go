package monitor

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"codeberg.org/mutker/fanmon/internal/errors"
	"codeberg.org/mutker/fanmon/internal/event"
	"codeberg.org/mutker/fanmon/internal/logger"
	"codeberg.org/mutker/fanmon/internal/mode"
)

const (
	// initTimeoutFactor stretches the timeout into a spin-up grace period
	// while running the init action
	initTimeoutFactor = 3

	inventoryTimeout = 5 * time.Second
)

// SensorConfig is the immutable identity of one tach input
type SensorConfig struct {
	Name      string
	HasTarget bool
	Factor    int64
	Offset    int64
	Timeout   time.Duration
}

func (c SensorConfig) Validate() error {
	errFactory := errors.New()

	if c.Name == "" || strings.Contains(c.Name, "/") {
		return errFactory.WithData(ErrInvalidSensor, fmt.Sprintf("invalid sensor name %q", c.Name))
	}
	if c.Timeout < 0 {
		return errFactory.WithData(ErrInvalidSensor, fmt.Sprintf("%s: negative timeout %s", c.Name, c.Timeout))
	}

	return nil
}

// TachSensor watches one tach input. It reports input changes, target
// changes and timeouts to its fan, which alone decides the functional
// verdict through SetFunctional.
//
// A TachSensor is created once and used by pointer for its whole life; the
// subscriptions and timer it registers keep referring to it.
type TachSensor struct {
	mode        mode.Mode
	fan         Aggregator
	name        string
	invName     string
	hasTarget   bool
	factor      int64
	offset      int64
	timeout     time.Duration
	expectation Expectation
	inventory   Inventory
	recorder    Recorder

	input      int64
	target     uint64
	functional bool

	timer   *event.Timer
	signals []io.Closer
}

// NewTachSensor reads the sensor's baseline and, in control mode, subscribes
// to its properties and registers its timeout timer. The timer is not armed
// until the owning fan calls StartTimer.
func NewTachSensor(
	ctx context.Context, m mode.Mode, fan Aggregator, cfg SensorConfig,
	fanInventory string, expectation Expectation, deps Deps,
) (*TachSensor, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	recorder := deps.Recorder
	if recorder == nil {
		recorder = NopRecorder{}
	}

	s := &TachSensor{
		mode:        m,
		fan:         fan,
		name:        cfg.Name,
		invName:     path.Join(fanInventory, cfg.Name),
		hasTarget:   cfg.HasTarget,
		factor:      cfg.Factor,
		offset:      cfg.Offset,
		timeout:     cfg.Timeout,
		expectation: expectation,
		inventory:   deps.Inventory,
		recorder:    recorder,
		functional:  true,
	}

	objPath := s.ObjectPath()

	input, err := deps.Bus.Property(ctx, objPath, ValueInterface, ValueProperty)
	if err != nil {
		return nil, errFactory.WrapData(ErrReadBaseline, err, objPath)
	}
	s.input = input
	s.recorder.SensorInput(s.name, input)

	if s.hasTarget {
		target, err := deps.Bus.Property(ctx, objPath, TargetInterface, TargetProperty)
		if err != nil {
			return nil, errFactory.WrapData(ErrReadBaseline, err, objPath)
		}
		s.target = toTarget(target)
		s.recorder.SensorTarget(s.name, s.target)
	}

	// Start from a known state in inventory
	if err := s.updateInventory(true); err != nil {
		return nil, err
	}
	s.recorder.SensorFunctional(s.name, true)

	if m != mode.Control {
		return s, nil
	}

	if s.hasTarget {
		sub, err := deps.Bus.Subscribe(objPath, TargetInterface, TargetProperty, s.handleTargetChange)
		if err != nil {
			return nil, errFactory.WrapData(ErrSubscribeFailed, err, objPath)
		}
		s.signals = append(s.signals, sub)
	}

	sub, err := deps.Bus.Subscribe(objPath, ValueInterface, ValueProperty, s.handleTachChange)
	if err != nil {
		s.closeSignals()
		return nil, errFactory.WrapData(ErrSubscribeFailed, err, objPath)
	}
	s.signals = append(s.signals, sub)

	s.timer, err = deps.Timers.NewTimer(s.handleTimeout)
	if err != nil {
		s.closeSignals()
		return nil, errFactory.WrapData(ErrTimerFailed, err, objPath)
	}

	logger.Debug().
		Str("sensor", s.name).
		Bool("has_target", s.hasTarget).
		Int64("input", s.input).
		Uint64("target", s.target).
		Dur("timeout", s.timeout).
		Msg("Tach sensor monitored")

	return s, nil
}

func (s *TachSensor) Name() string {
	return s.name
}

// ObjectPath returns the sensor's bus object path
func (s *TachSensor) ObjectPath() string {
	return SensorPath + s.name
}

// InventoryPath returns the sensor's path relative to the inventory root
func (s *TachSensor) InventoryPath() string {
	return s.invName
}

func (s *TachSensor) HasTarget() bool {
	return s.hasTarget
}

func (s *TachSensor) Factor() int64 {
	return s.factor
}

func (s *TachSensor) Offset() int64 {
	return s.offset
}

func (s *TachSensor) Input() int64 {
	return s.input
}

// Target returns the sensor's own target, or the fan's when the sensor has
// none.
func (s *TachSensor) Target() uint64 {
	if s.hasTarget {
		return s.target
	}

	target, _ := s.fan.Target()
	return target
}

// Expected returns the input the current target calls for. It reports false
// when no target is available to correlate against.
func (s *TachSensor) Expected() (int64, bool) {
	target := s.target
	if !s.hasTarget {
		var ok bool
		if target, ok = s.fan.Target(); !ok {
			return 0, false
		}
	}

	return s.expectation.Expected(target, s.factor, s.offset), true
}

// Functional returns the verdict last set by the fan
func (s *TachSensor) Functional() bool {
	return s.functional
}

// SetFunctional records the verdict and mirrors it to inventory. Setting the
// current value again writes nothing.
func (s *TachSensor) SetFunctional(functional bool) error {
	if s.functional == functional {
		return nil
	}

	s.functional = functional
	s.recorder.SensorFunctional(s.name, functional)

	if functional {
		logger.Info().Str("sensor", s.name).Int64("input", s.input).Msg("Tach sensor functional")
	} else {
		logger.Warn().Str("sensor", s.name).Int64("input", s.input).Uint64("target", s.Target()).
			Msg("Tach sensor non-functional")
	}

	return s.updateInventory(functional)
}

// Timeout returns how long the sensor may go without an accepted
// notification. The init action uses a longer spin-up grace.
func (s *TachSensor) Timeout() time.Duration {
	if s.mode == mode.Init {
		return s.timeout * initTimeoutFactor
	}
	return s.timeout
}

// TimerEnabled reports whether the sensor's dead-man timer is in use. It is
// off in init mode, with a zero timeout, and for sensors without a target on
// a fan that has no target to correlate against.
func (s *TachSensor) TimerEnabled() bool {
	if s.timer == nil || s.timeout <= 0 {
		return false
	}
	if !s.hasTarget {
		_, ok := s.fan.Target()
		return ok
	}
	return true
}

// TimerRunning reports whether a timeout is pending
func (s *TachSensor) TimerRunning() bool {
	return s.timer != nil && s.timer.Running()
}

// StartTimer (re)arms the timeout from now
func (s *TachSensor) StartTimer() {
	if !s.TimerEnabled() {
		return
	}
	s.timer.Start(s.Timeout(), event.Oneshot)
}

func (s *TachSensor) StopTimer() {
	if s.timer != nil {
		s.timer.Stop()
	}
}

// Close stops the timer and drops both subscriptions
func (s *TachSensor) Close() error {
	s.StopTimer()
	return s.closeSignals()
}

func (s *TachSensor) closeSignals() error {
	var errs []error
	for _, sub := range s.signals {
		if err := sub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.signals = nil

	if len(errs) > 0 {
		return errors.New().WrapData(ErrTeardown, errors.Join(errs...), s.name)
	}
	return nil
}

func (s *TachSensor) inRange() bool {
	expected, ok := s.Expected()
	if !ok {
		return true
	}
	return s.expectation.Consistent(s.input, expected)
}

func (s *TachSensor) handleTargetChange(value int64) error {
	if !s.hasTarget {
		return nil
	}

	s.target = toTarget(value)
	s.recorder.SensorTarget(s.name, s.target)

	// A new target is a new baseline; the old deadline no longer applies
	s.StartTimer()

	return s.fan.TachChanged(s, Event{
		Kind:    EventTargetChanged,
		Input:   s.input,
		Target:  s.target,
		InRange: s.inRange(),
	})
}

func (s *TachSensor) handleTachChange(value int64) error {
	s.input = value
	s.recorder.SensorInput(s.name, value)

	inRange := s.inRange()
	if inRange {
		s.StartTimer()
	}

	return s.fan.TachChanged(s, Event{
		Kind:    EventInputChanged,
		Input:   value,
		Target:  s.Target(),
		InRange: inRange,
	})
}

func (s *TachSensor) handleTimeout() error {
	logger.Debug().
		Str("sensor", s.name).
		Int64("input", s.input).
		Uint64("target", s.Target()).
		Dur("timeout", s.Timeout()).
		Msg("Tach sensor timed out")

	s.recorder.SensorTimeout(s.name)

	return s.fan.TachChanged(s, Event{
		Kind:   EventTimeout,
		Input:  s.input,
		Target: s.Target(),
	})
}

func (s *TachSensor) updateInventory(functional bool) error {
	if s.inventory == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), inventoryTimeout)
	defer cancel()

	if err := s.inventory.SetFunctional(ctx, s.invName, functional); err != nil {
		return errors.New().WrapData(ErrInventoryUpdate, err, s.invName)
	}
	return nil
}

func toTarget(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}
