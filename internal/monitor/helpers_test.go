package monitor_test

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/fanmon/internal/event"
	"codeberg.org/mutker/fanmon/internal/mode"
	"codeberg.org/mutker/fanmon/internal/monitor"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func key(path, iface, property string) string {
	return path + "|" + iface + "|" + property
}

// fakeBus delivers notifications through the loop like the real binding
type fakeBus struct {
	loop   *event.Loop
	values map[string]int64
	subs   map[string]map[int]func(int64) error
	nextID int
}

func newFakeBus(loop *event.Loop) *fakeBus {
	return &fakeBus{
		loop:   loop,
		values: map[string]int64{},
		subs:   map[string]map[int]func(int64) error{},
	}
}

func (b *fakeBus) SetSensor(name string, input int64, target *int64) {
	p := monitor.SensorPath + name
	b.values[key(p, monitor.ValueInterface, monitor.ValueProperty)] = input
	if target != nil {
		b.values[key(p, monitor.TargetInterface, monitor.TargetProperty)] = *target
	}
}

func (b *fakeBus) Property(_ context.Context, path, iface, property string) (int64, error) {
	v, ok := b.values[key(path, iface, property)]
	if !ok {
		return 0, fmt.Errorf("no property %s.%s on %s", iface, property, path)
	}
	return v, nil
}

type closer func() error

func (c closer) Close() error { return c() }

func (b *fakeBus) Subscribe(path, iface, property string, handler func(int64) error) (io.Closer, error) {
	k := key(path, iface, property)
	if b.subs[k] == nil {
		b.subs[k] = map[int]func(int64) error{}
	}
	id := b.nextID
	b.nextID++
	b.subs[k][id] = handler

	return closer(func() error {
		delete(b.subs[k], id)
		return nil
	}), nil
}

func (b *fakeBus) Subscribers(name, iface, property string) int {
	return len(b.subs[key(monitor.SensorPath+name, iface, property)])
}

func (b *fakeBus) TotalSubscribers() int {
	n := 0
	for _, m := range b.subs {
		n += len(m)
	}
	return n
}

func (b *fakeBus) emit(name, iface, property string, v int64) {
	for _, h := range b.subs[key(monitor.SensorPath+name, iface, property)] {
		h := h
		_ = b.loop.Post(func() error { return h(v) })
	}
}

func (b *fakeBus) EmitInput(name string, v int64) {
	b.emit(name, monitor.ValueInterface, monitor.ValueProperty, v)
}

func (b *fakeBus) EmitTarget(name string, v int64) {
	b.emit(name, monitor.TargetInterface, monitor.TargetProperty, v)
}

type write struct {
	path       string
	functional bool
}

type fakeInventory struct {
	mu     sync.Mutex
	writes []write
	err    error
}

func (i *fakeInventory) SetFunctional(_ context.Context, path string, functional bool) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.err != nil {
		return i.err
	}
	i.writes = append(i.writes, write{path: path, functional: functional})
	return nil
}

func (i *fakeInventory) Count(path string, functional bool) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	n := 0
	for _, w := range i.writes {
		if w.path == path && w.functional == functional {
			n++
		}
	}
	return n
}

func (i *fakeInventory) Total() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.writes)
}

type harness struct {
	t         *testing.T
	clock     *clock.Mock
	loop      *event.Loop
	bus       *fakeBus
	inventory *fakeInventory
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mock := clock.NewMock()
	loop := event.NewLoop(mock)
	t.Cleanup(loop.Close)

	return &harness{
		t:         t,
		clock:     mock,
		loop:      loop,
		bus:       newFakeBus(loop),
		inventory: &fakeInventory{},
	}
}

func (h *harness) deps() monitor.Deps {
	return monitor.Deps{
		Bus:       h.bus,
		Inventory: h.inventory,
		Timers:    h.loop,
	}
}

func (h *harness) fan(m mode.Mode, cfg monitor.FanConfig) *monitor.Fan {
	h.t.Helper()
	f, err := monitor.NewFan(context.Background(), m, cfg, h.deps())
	require.NoError(h.t, err)
	h.t.Cleanup(func() { _ = f.Close() })
	return f
}

// advance moves the clock and runs whatever became due
func (h *harness) advance(d time.Duration) {
	h.t.Helper()
	h.clock.Add(d)
	require.NoError(h.t, h.loop.Dispatch())
}

func (h *harness) dispatch() {
	h.t.Helper()
	require.NoError(h.t, h.loop.Dispatch())
}

func ptr(v int64) *int64 {
	return &v
}

func singleSensorFan(name string, timeout time.Duration) monitor.FanConfig {
	return monitor.FanConfig{
		Inventory: "/system/chassis/motherboard/" + name,
		Deviation: 15,
		Sensors: []monitor.SensorConfig{{
			Name:      name,
			HasTarget: true,
			Factor:    1,
			Offset:    0,
			Timeout:   timeout,
		}},
	}
}
