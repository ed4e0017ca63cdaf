package main

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"codeberg.org/mutker/fanmon/internal/config"
	"codeberg.org/mutker/fanmon/internal/dbus"
	"codeberg.org/mutker/fanmon/internal/definitions"
	"codeberg.org/mutker/fanmon/internal/errors"
	"codeberg.org/mutker/fanmon/internal/event"
	"codeberg.org/mutker/fanmon/internal/inventory"
	"codeberg.org/mutker/fanmon/internal/logger"
	"codeberg.org/mutker/fanmon/internal/manager"
	"codeberg.org/mutker/fanmon/internal/metrics"
	"codeberg.org/mutker/fanmon/internal/mode"
	"codeberg.org/mutker/fanmon/internal/monitor"
	"codeberg.org/mutker/fanmon/internal/pid"
	"github.com/benbjohnson/clock"
	"github.com/oklog/run"
)

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	cfg, err := config.Load(args)
	if err != nil {
		if errors.HasCode(err, errors.ErrUsage) {
			config.Usage(os.Stderr)
			return 1
		}
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	logger.Init(cfg.LogLevel.String(), logger.IsService())
	logger.Debug().
		Str("mode", cfg.Mode.String()).
		Str("definitions", cfg.Definitions).
		Msg("Config loaded")

	defs, err := definitions.Load(cfg.Definitions)
	if err != nil {
		logFailure(err, "Failed to load fan definitions")
		return 1
	}

	if cfg.Mode == mode.Control {
		if err := pid.Write(cfg.PIDFile); err != nil {
			logFailure(err, "Failed to write PID file")
			return 1
		}
		defer func() {
			if err := pid.Remove(cfg.PIDFile); err != nil {
				logger.Warn().Err(err).Msg("Failed to remove PID file")
			}
		}()
	}

	clk := clock.New()
	loop := event.NewLoop(clk)

	conn, err := dbus.Connect(cfg.Bus, loop)
	if err != nil {
		logFailure(err, "Failed to connect to bus")
		return 1
	}
	defer conn.Close()

	store := inventory.Multi(conn.Inventory())
	if cfg.Journal.Enabled {
		journal, err := inventory.Open(cfg.Journal, logger.Component("journal"))
		if err != nil {
			logFailure(err, "Failed to open journal")
			return 1
		}
		defer func() {
			if err := journal.Close(); err != nil {
				logger.Warn().Err(err).Msg("Failed to close journal")
			}
		}()
		store = inventory.Multi(conn.Inventory(), journal)
	}

	var (
		recorder monitor.Recorder = monitor.NopRecorder{}
		exporter *metrics.Recorder
	)
	if cfg.Metrics.Enabled() {
		exporter, err = metrics.NewRecorder()
		if err != nil {
			logFailure(err, "Failed to create metrics recorder")
			return 1
		}
		recorder = exporter
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr, err := manager.New(ctx, manager.Options{
		Mode:      cfg.Mode,
		Fans:      defs.FanConfigs(),
		FullSpeed: defs.Init.FullSpeed,
		Bus:       conn,
		Inventory: store,
		Recorder:  recorder,
		Loop:      loop,
		Clock:     clk,
	})
	if err != nil {
		logFailure(err, "Failed to initialize fan monitor")
		return 1
	}
	defer func() {
		if err := mgr.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to tear down fan monitor")
		}
	}()

	if cfg.Mode == mode.Init {
		if err := mgr.Run(ctx); err != nil {
			logFailure(err, "Init failed")
			return 1
		}
		logger.Info().Msg("Fans set to a known state")
		return 0
	}

	var g run.Group
	g.Add(func() error {
		return mgr.Run(ctx)
	}, func(error) {
		cancel()
	})
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	if exporter != nil {
		g.Add(func() error {
			return exporter.Serve(ctx, cfg.Metrics)
		}, func(error) {
			cancel()
		})
	}

	logger.Info().Int("fans", len(mgr.Fans())).Msg("Monitoring fans")

	err = g.Run()

	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		logger.Info().Str("signal", sigErr.Signal.String()).Msg("Shutting down")
		return 0
	}
	if err != nil {
		logFailure(err, "Error in main loop")
		return 1
	}

	return 0
}

// logFailure logs err with its code, first reporting the bus object it
// concerns when it came from the bus.
func logFailure(err error, msg string) {
	if code, busCtx, ok := dbus.Describe(err); ok {
		logger.Error().
			Str("error_code", string(code)).
			Object("dbus", busCtx).
			Msgf("D-Bus %s failure", dbus.Kind(code))
	}

	var appErr errors.Error
	if errors.As(err, &appErr) {
		logger.ErrorWithCode(appErr).Msg(msg)
		return
	}

	logger.Error().Err(err).Msg(msg)
}
