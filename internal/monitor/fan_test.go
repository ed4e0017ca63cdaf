package monitor_test

import (
	"testing"
	"time"

	"codeberg.org/mutker/fanmon/internal/mode"
	"codeberg.org/mutker/fanmon/internal/monitor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fanInv = "/system/chassis/motherboard/fan1"

func dualRotorFan(numFails int) monitor.FanConfig {
	return monitor.FanConfig{
		Inventory:                fanInv,
		Deviation:                15,
		NumSensorFailsForNonFunc: numFails,
		Sensors: []monitor.SensorConfig{
			{Name: "fan1_0", HasTarget: true, Factor: 1, Timeout: 5 * time.Second},
			{Name: "fan1_1", HasTarget: false, Factor: 1, Timeout: 5 * time.Second},
		},
	}
}

func TestFanGoesNonFunctionalAtThreshold(t *testing.T) {
	h := newHarness(t)
	h.bus.SetSensor("fan1_0", 8000, ptr(8000))
	h.bus.SetSensor("fan1_1", 8000, nil)
	fan := h.fan(mode.Control, dualRotorFan(2))

	// keep the first rotor alive, let the second stall
	h.advance(4 * time.Second)
	h.bus.EmitInput("fan1_0", 8000)
	h.dispatch()

	h.advance(time.Second)
	assert.True(t, fan.Sensors()[0].Functional())
	assert.False(t, fan.Sensors()[1].Functional())
	assert.True(t, fan.Functional(), "one failure is below the threshold")
	assert.Equal(t, 0, h.inventory.Count(fanInv, false))

	h.advance(4 * time.Second)
	assert.False(t, fan.Sensors()[0].Functional())
	assert.False(t, fan.Functional())
	assert.Equal(t, 1, h.inventory.Count(fanInv, false))

	h.bus.EmitInput("fan1_1", 7900)
	h.dispatch()
	assert.True(t, fan.Functional())
	assert.Equal(t, 2, h.inventory.Count(fanInv, true), "initial state plus recovery")
}

func TestFanVerdictDisabled(t *testing.T) {
	h := newHarness(t)
	h.bus.SetSensor("fan1_0", 8000, ptr(8000))
	h.bus.SetSensor("fan1_1", 8000, nil)
	fan := h.fan(mode.Control, dualRotorFan(0))

	h.advance(5 * time.Second)
	assert.False(t, fan.Sensors()[0].Functional())
	assert.False(t, fan.Sensors()[1].Functional())
	assert.True(t, fan.Functional())
	assert.Equal(t, 0, h.inventory.Count(fanInv, false))
}

func TestTargetChangeRebaselinesReadOnlySensors(t *testing.T) {
	h := newHarness(t)
	h.bus.SetSensor("fan1_0", 8000, ptr(8000))
	h.bus.SetSensor("fan1_1", 8000, nil)
	fan := h.fan(mode.Control, dualRotorFan(1))
	readOnly := fan.Sensors()[1]

	h.clock.Add(4 * time.Second)
	h.bus.EmitTarget("fan1_0", 4000)
	h.dispatch()

	deadline := h.clock.Now().Add(5 * time.Second)
	expected, ok := readOnly.Expected()
	require.True(t, ok)
	assert.Equal(t, int64(4000), expected)

	h.advance(4 * time.Second)
	assert.True(t, readOnly.Functional())

	h.advance(time.Second)
	assert.Equal(t, deadline, h.clock.Now())
	assert.False(t, readOnly.Functional())
	assert.False(t, fan.Functional())
}

func TestFanWithoutTargetDisablesTimers(t *testing.T) {
	h := newHarness(t)
	h.bus.SetSensor("fan2", 5000, nil)
	fan := h.fan(mode.Control, monitor.FanConfig{
		Inventory:                "/system/chassis/motherboard/fan2",
		NumSensorFailsForNonFunc: 1,
		Sensors:                  []monitor.SensorConfig{{Name: "fan2", Factor: 1, Timeout: 5 * time.Second}},
	})
	sensor := fan.Sensors()[0]

	_, ok := fan.Target()
	assert.False(t, ok)
	assert.False(t, sensor.TimerEnabled())
	assert.False(t, sensor.TimerRunning())

	_, ok = sensor.Expected()
	assert.False(t, ok)

	h.bus.EmitInput("fan2", 1)
	h.advance(time.Minute)
	assert.True(t, sensor.Functional())
	assert.True(t, fan.Functional())
}

func TestFanConfigValidation(t *testing.T) {
	assert.Error(t, monitor.FanConfig{Inventory: "relative", Sensors: []monitor.SensorConfig{{Name: "a"}}}.Validate())
	assert.Error(t, monitor.FanConfig{Inventory: "/fan"}.Validate())
	assert.Error(t, monitor.FanConfig{
		Inventory:                "/fan",
		NumSensorFailsForNonFunc: -1,
		Sensors:                  []monitor.SensorConfig{{Name: "a"}},
	}.Validate())
	assert.NoError(t, monitor.FanConfig{Inventory: "/fan", Sensors: []monitor.SensorConfig{{Name: "a"}}}.Validate())
}

func TestMaxTimeout(t *testing.T) {
	h := newHarness(t)
	h.bus.SetSensor("fan1_0", 8000, ptr(8000))
	h.bus.SetSensor("fan1_1", 8000, nil)
	cfg := dualRotorFan(1)
	cfg.Sensors[1].Timeout = 7 * time.Second

	assert.Equal(t, 7*time.Second, h.fan(mode.Control, cfg).MaxTimeout())
}
