// Package manager owns the monitored fans and drives them for the selected
// mode.
package manager

import (
	"context"
	"time"

	"codeberg.org/mutker/fanmon/internal/errors"
	"codeberg.org/mutker/fanmon/internal/event"
	"codeberg.org/mutker/fanmon/internal/logger"
	"codeberg.org/mutker/fanmon/internal/mode"
	"codeberg.org/mutker/fanmon/internal/monitor"
	"github.com/benbjohnson/clock"
)

// Bus is the monitor's bus plus the write used by the init action
type Bus interface {
	monitor.Bus
	SetProperty(ctx context.Context, path, iface, property string, value any) error
}

type Options struct {
	Mode mode.Mode
	Fans []monitor.FanConfig
	// FullSpeed is written as the Target of every target-capable sensor
	// during init; zero skips the write
	FullSpeed uint64

	Bus       Bus
	Inventory monitor.Inventory
	Recorder  monitor.Recorder
	Loop      *event.Loop
	Clock     clock.Clock
}

type Manager struct {
	mode      mode.Mode
	fullSpeed uint64
	bus       Bus
	loop      *event.Loop
	clock     clock.Clock
	fans      []*monitor.Fan
	log       logger.Logger
}

// New builds every configured fan. Any construction failure tears down the
// fans built so far and is returned.
func New(ctx context.Context, opts Options) (*Manager, error) {
	errFactory := errors.New()

	if len(opts.Fans) == 0 {
		return nil, errFactory.New(ErrNoFans)
	}
	if opts.Loop == nil {
		return nil, errFactory.WithMessage(errors.ErrInvalidArgument, "event loop is required")
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}

	m := &Manager{
		mode:      opts.Mode,
		fullSpeed: opts.FullSpeed,
		bus:       opts.Bus,
		loop:      opts.Loop,
		clock:     clk,
		log:       logger.Component("manager"),
	}

	deps := monitor.Deps{
		Bus:       opts.Bus,
		Inventory: opts.Inventory,
		Timers:    opts.Loop,
		Recorder:  opts.Recorder,
	}

	for _, cfg := range opts.Fans {
		fan, err := monitor.NewFan(ctx, opts.Mode, cfg, deps)
		if err != nil {
			m.closeFans()
			return nil, err
		}
		m.fans = append(m.fans, fan)
	}

	m.log.Info().
		Str("mode", opts.Mode.String()).
		Int("fans", len(m.fans)).
		Msg("Fans monitored")

	return m, nil
}

func (m *Manager) Fans() []*monitor.Fan {
	return m.fans
}

// Run performs the mode's work. Init returns once the start-up action is
// done; control runs the event loop until ctx is canceled or a handler fails.
func (m *Manager) Run(ctx context.Context) error {
	if m.mode == mode.Init {
		if err := m.DoInit(ctx); err != nil {
			return errors.New().Wrap(ErrInitMode, err)
		}
		return nil
	}

	if err := m.loop.Run(ctx); err != nil {
		return errors.New().Wrap(ErrMainLoop, err)
	}
	return nil
}

// DoInit drives every target-capable sensor to full speed when configured,
// then waits out the longest start-up grace so the fans can spin up.
func (m *Manager) DoInit(ctx context.Context) error {
	if m.fullSpeed > 0 {
		for _, fan := range m.fans {
			for _, s := range fan.Sensors() {
				if !s.HasTarget() {
					continue
				}
				if err := m.bus.SetProperty(ctx, s.ObjectPath(), monitor.TargetInterface,
					monitor.TargetProperty, m.fullSpeed); err != nil {
					return errors.New().WrapData(ErrSetFullSpeed, err, s.Name())
				}
				m.log.Debug().Str("sensor", s.Name()).Uint64("target", m.fullSpeed).Msg("Set full speed")
			}
		}
	}

	grace := m.maxTimeout()
	if grace <= 0 {
		return nil
	}

	m.log.Info().Dur("grace", grace).Msg("Waiting for fans to spin up")

	t := m.clock.Timer(grace)
	defer t.Stop()

	select {
	case <-t.C:
	case <-ctx.Done():
	}

	return nil
}

func (m *Manager) maxTimeout() time.Duration {
	var out time.Duration
	for _, fan := range m.fans {
		if d := fan.MaxTimeout(); d > out {
			out = d
		}
	}
	return out
}

// Close tears down every sensor and then the loop
func (m *Manager) Close() error {
	err := m.closeFans()
	m.loop.Close()
	return err
}

func (m *Manager) closeFans() error {
	var errs []error
	for _, fan := range m.fans {
		if err := fan.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.fans = nil
	return errors.Join(errs...)
}
