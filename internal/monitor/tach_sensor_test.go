package monitor_test

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"codeberg.org/mutker/fanmon/internal/errors"
	"codeberg.org/mutker/fanmon/internal/mode"
	"codeberg.org/mutker/fanmon/internal/monitor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sensorInv = "/system/chassis/motherboard/fan0/fan0"

func TestStallIsDetectedAfterTimeout(t *testing.T) {
	h := newHarness(t)
	h.bus.SetSensor("fan0", 0, ptr(0))
	fan := h.fan(mode.Control, singleSensorFan("fan0", 5*time.Second))
	sensor := fan.Sensors()[0]

	h.bus.EmitTarget("fan0", 3000)
	h.dispatch()
	assert.Equal(t, uint64(3000), sensor.Target())

	h.clock.Add(100 * time.Millisecond)
	h.bus.EmitInput("fan0", 3000)
	h.dispatch()

	assert.True(t, sensor.Functional())
	assert.True(t, sensor.TimerRunning())
	expectedDeadline := h.clock.Now().Add(5 * time.Second)

	h.advance(4900 * time.Millisecond)
	assert.True(t, sensor.Functional(), "no timeout before t=5.1s")
	assert.Equal(t, 0, h.inventory.Count(sensorInv, false))

	h.advance(100 * time.Millisecond)
	assert.Equal(t, expectedDeadline, h.clock.Now())
	assert.False(t, sensor.Functional())
	assert.False(t, sensor.TimerRunning(), "timeout does not re-arm itself")
	assert.Equal(t, 1, h.inventory.Count(sensorInv, false))

	h.advance(time.Minute)
	assert.Equal(t, 1, h.inventory.Count(sensorInv, false))
}

func TestRapidInputsEachRearm(t *testing.T) {
	h := newHarness(t)
	h.bus.SetSensor("fan0", 3000, ptr(3000))
	fan := h.fan(mode.Control, singleSensorFan("fan0", 5*time.Second))
	sensor := fan.Sensors()[0]

	h.clock.Add(time.Second)
	h.bus.EmitInput("fan0", 2990)
	h.dispatch()

	h.clock.Add(50 * time.Millisecond)
	h.bus.EmitInput("fan0", 3010)
	h.dispatch()

	h.advance(4950 * time.Millisecond) // t=6.0s
	assert.True(t, sensor.Functional(), "first arming is superseded")

	h.advance(49 * time.Millisecond)
	assert.True(t, sensor.Functional())

	h.advance(time.Millisecond) // t=6.05s
	assert.False(t, sensor.Functional())
	assert.Equal(t, 1, h.inventory.Count(sensorInv, false))
}

func TestInputsWithinTimeoutNeverFire(t *testing.T) {
	h := newHarness(t)
	h.bus.SetSensor("fan0", 3000, ptr(3000))
	fan := h.fan(mode.Control, singleSensorFan("fan0", 5*time.Second))
	sensor := fan.Sensors()[0]

	for i := 0; i < 50; i++ {
		h.advance(4 * time.Second)
		h.bus.EmitInput("fan0", 3000+int64(i%3))
		h.dispatch()
	}

	assert.True(t, sensor.Functional())
	assert.True(t, sensor.TimerRunning())
	assert.Equal(t, 0, h.inventory.Count(sensorInv, false))
}

func TestOutOfRangeInputDoesNotRearm(t *testing.T) {
	h := newHarness(t)
	h.bus.SetSensor("fan0", 3000, ptr(3000))
	fan := h.fan(mode.Control, singleSensorFan("fan0", 5*time.Second))
	sensor := fan.Sensors()[0]

	h.clock.Add(4 * time.Second)
	h.bus.EmitInput("fan0", 500)
	h.dispatch()
	assert.True(t, sensor.TimerRunning())

	h.advance(time.Second)
	assert.False(t, sensor.Functional(), "deadline comes from the last accepted input")
}

func TestRecoveryAfterTimeout(t *testing.T) {
	h := newHarness(t)
	h.bus.SetSensor("fan0", 3000, ptr(3000))
	fan := h.fan(mode.Control, singleSensorFan("fan0", 5*time.Second))
	sensor := fan.Sensors()[0]

	h.advance(5 * time.Second)
	require.False(t, sensor.Functional())

	h.bus.EmitInput("fan0", 100)
	h.dispatch()
	assert.False(t, sensor.Functional(), "out of range input keeps the sensor non-functional")
	assert.False(t, sensor.TimerRunning())

	h.bus.EmitInput("fan0", 3050)
	h.dispatch()
	assert.True(t, sensor.Functional())
	assert.True(t, sensor.TimerRunning())
	assert.Equal(t, 2, h.inventory.Count(sensorInv, true), "initial state plus recovery")
}

func TestTargetChangeRearms(t *testing.T) {
	h := newHarness(t)
	h.bus.SetSensor("fan0", 3000, ptr(3000))
	fan := h.fan(mode.Control, singleSensorFan("fan0", 5*time.Second))
	sensor := fan.Sensors()[0]

	h.clock.Add(4 * time.Second)
	h.bus.EmitTarget("fan0", 6000)
	h.dispatch()

	h.advance(4 * time.Second)
	assert.True(t, sensor.Functional())

	h.advance(time.Second)
	assert.False(t, sensor.Functional())
}

func TestSetFunctionalIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.bus.SetSensor("fan0", 3000, ptr(3000))
	fan := h.fan(mode.Control, singleSensorFan("fan0", 5*time.Second))
	sensor := fan.Sensors()[0]

	before := h.inventory.Total()
	require.NoError(t, sensor.SetFunctional(true))
	require.NoError(t, sensor.SetFunctional(true))
	assert.Equal(t, before, h.inventory.Total())

	require.NoError(t, sensor.SetFunctional(false))
	require.NoError(t, sensor.SetFunctional(false))
	assert.Equal(t, 1, h.inventory.Count(sensorInv, false))
}

func TestSensorWithoutTargetNeverSubscribesToTarget(t *testing.T) {
	h := newHarness(t)
	h.bus.SetSensor("fan0", 3000, ptr(3000))
	h.bus.SetSensor("fan0_1", 3000, nil)

	cfg := singleSensorFan("fan0", 5*time.Second)
	cfg.Sensors = append(cfg.Sensors, monitor.SensorConfig{Name: "fan0_1", Factor: 1, Timeout: 5 * time.Second})
	fan := h.fan(mode.Control, cfg)
	readOnly := fan.Sensors()[1]

	assert.Equal(t, 0, h.bus.Subscribers("fan0_1", monitor.TargetInterface, monitor.TargetProperty))
	assert.Equal(t, 1, h.bus.Subscribers("fan0_1", monitor.ValueInterface, monitor.ValueProperty))

	h.bus.EmitTarget("fan0_1", 100)
	h.dispatch()
	assert.Equal(t, uint64(3000), readOnly.Target(), "follows the fan target")
}

func TestStopTimerTwice(t *testing.T) {
	h := newHarness(t)
	h.bus.SetSensor("fan0", 3000, ptr(3000))
	fan := h.fan(mode.Control, singleSensorFan("fan0", 5*time.Second))
	sensor := fan.Sensors()[0]

	require.True(t, sensor.TimerRunning())
	sensor.StopTimer()
	sensor.StopTimer()
	assert.False(t, sensor.TimerRunning())

	h.advance(time.Minute)
	assert.True(t, sensor.Functional())
}

func TestInitModeArmsNothing(t *testing.T) {
	h := newHarness(t)
	h.bus.SetSensor("fan0", 3000, ptr(3000))
	fan := h.fan(mode.Init, singleSensorFan("fan0", 5*time.Second))
	sensor := fan.Sensors()[0]

	assert.Equal(t, 0, h.bus.TotalSubscribers())
	assert.False(t, sensor.TimerEnabled())
	assert.False(t, sensor.TimerRunning())
	assert.Equal(t, 15*time.Second, sensor.Timeout())
	assert.Equal(t, 1, h.inventory.Count(sensorInv, true))
}

func TestControlModeTimeout(t *testing.T) {
	h := newHarness(t)
	h.bus.SetSensor("fan0", 3000, ptr(3000))
	fan := h.fan(mode.Control, singleSensorFan("fan0", 5*time.Second))

	assert.Equal(t, 5*time.Second, fan.Sensors()[0].Timeout())
}

func TestZeroTimeoutDisablesTimer(t *testing.T) {
	h := newHarness(t)
	h.bus.SetSensor("fan0", 3000, ptr(3000))
	fan := h.fan(mode.Control, singleSensorFan("fan0", 0))
	sensor := fan.Sensors()[0]

	assert.False(t, sensor.TimerRunning())
	h.bus.EmitInput("fan0", 3000)
	h.dispatch()
	assert.False(t, sensor.TimerRunning())
}

func TestBaselineReadFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	h.bus.SetSensor("fan0", 3000, nil)

	_, err := monitor.NewFan(context.Background(), mode.Control, singleSensorFan("fan0", time.Second), h.deps())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, monitor.ErrReadBaseline))
}

func TestInvalidSensorName(t *testing.T) {
	h := newHarness(t)
	cfg := singleSensorFan("fan0", time.Second)
	cfg.Sensors[0].Name = "a/b"

	_, err := monitor.NewFan(context.Background(), mode.Control, cfg, h.deps())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, monitor.ErrInvalidSensor))
}

func TestInventoryFailurePropagates(t *testing.T) {
	h := newHarness(t)
	h.bus.SetSensor("fan0", 3000, ptr(3000))
	fan := h.fan(mode.Control, singleSensorFan("fan0", 5*time.Second))

	boom := stderrors.New("inventory down")
	h.inventory.err = boom

	h.clock.Add(5 * time.Second)
	err := h.loop.Dispatch()
	require.ErrorIs(t, err, boom)
	assert.True(t, errors.HasCode(err, monitor.ErrInventoryUpdate))
	assert.False(t, fan.Sensors()[0].Functional())
}

func TestCloseTearsDownTogether(t *testing.T) {
	h := newHarness(t)
	h.bus.SetSensor("fan0", 3000, ptr(3000))
	fan := h.fan(mode.Control, singleSensorFan("fan0", 5*time.Second))

	require.Equal(t, 2, h.bus.TotalSubscribers())
	require.Equal(t, 1, h.loop.ActiveTimers())

	require.NoError(t, fan.Close())
	assert.Equal(t, 0, h.bus.TotalSubscribers())
	assert.Equal(t, 0, h.loop.ActiveTimers())
}

func TestAccessors(t *testing.T) {
	h := newHarness(t)
	h.bus.SetSensor("fan0", 2900, ptr(3000))
	cfg := singleSensorFan("fan0", 5*time.Second)
	cfg.Sensors[0].Factor = 2
	cfg.Sensors[0].Offset = 100
	fan := h.fan(mode.Control, cfg)
	sensor := fan.Sensors()[0]

	assert.Equal(t, "fan0", sensor.Name())
	assert.Equal(t, monitor.SensorPath+"fan0", sensor.ObjectPath())
	assert.Equal(t, sensorInv, sensor.InventoryPath())
	assert.True(t, sensor.HasTarget())
	assert.Equal(t, int64(2), sensor.Factor())
	assert.Equal(t, int64(100), sensor.Offset())
	assert.Equal(t, int64(2900), sensor.Input())

	expected, ok := sensor.Expected()
	require.True(t, ok)
	assert.Equal(t, int64(5900), expected)
}
