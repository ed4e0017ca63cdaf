// Package config resolves the run mode from the command line and the daemon
// settings from a TOML file and the environment.
package config

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"codeberg.org/mutker/fanmon/internal/definitions"
	"codeberg.org/mutker/fanmon/internal/errors"
	"codeberg.org/mutker/fanmon/internal/inventory"
	"codeberg.org/mutker/fanmon/internal/metrics"
	"codeberg.org/mutker/fanmon/internal/mode"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultEnvPrefix  = "FANMON"
	defaultConfigPath = "/etc/fanmon/fanmon.toml"
	defaultPIDFile    = "/run/fanmon.pid"
	defaultBus        = "system"
	defaultLogLevel   = LogLevelInfo
)

type Config struct {
	Mode        mode.Mode
	LogLevel    LogLevel
	Bus         string
	Definitions string
	Journal     inventory.Config
	Metrics     metrics.Config
	PIDFile     string
}

// Load parses args, which must be exactly one of --init or --control, and
// reads the remaining settings. A usage problem is reported as ErrUsage.
func Load(args []string, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{envPrefix: defaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	m, err := parseMode(args)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := readConfigFile(v, o); err != nil {
		return nil, err
	}

	cfg := &Config{
		Mode:        m,
		LogLevel:    LogLevel(strings.ToLower(v.GetString("log_level"))),
		Bus:         v.GetString("bus"),
		Definitions: v.GetString("definitions"),
		Journal: inventory.Config{
			Enabled: v.GetBool("journal.enabled"),
			DBPath:  v.GetString("journal.db_path"),
		},
		Metrics: metrics.Config{
			Listen: v.GetString("metrics.listen"),
		},
		PIDFile: v.GetString("pid_file"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	errFactory := errors.New()

	if !c.LogLevel.IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel.String())
	}
	if c.Bus != "system" && c.Bus != "session" {
		return errFactory.WithData(errors.ErrInvalidConfig, fmt.Sprintf("bus %q", c.Bus))
	}
	if c.Definitions == "" {
		return errFactory.WithData(errors.ErrInvalidConfig, "definitions path is empty")
	}
	if err := c.Journal.Validate(); err != nil {
		return errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	return nil
}

func parseMode(args []string) (mode.Mode, error) {
	errFactory := errors.New()

	if len(args) != 1 {
		return 0, errFactory.WithData(errors.ErrUsage, fmt.Sprintf("expected 1 argument, got %d", len(args)))
	}

	flags := pflag.NewFlagSet("fanmon", pflag.ContinueOnError)
	flags.SetOutput(io.Discard)
	initFlag := flags.Bool(mode.Init.String(), false, "")
	controlFlag := flags.Bool(mode.Control.String(), false, "")

	if err := flags.Parse(args); err != nil {
		return 0, errFactory.Wrap(errors.ErrUsage, err)
	}
	if flags.NArg() != 0 {
		return 0, errFactory.WithData(errors.ErrUsage, fmt.Sprintf("unexpected argument %q", flags.Arg(0)))
	}

	switch {
	case *initFlag:
		return mode.Init, nil
	case *controlFlag:
		return mode.Control, nil
	default:
		return 0, errFactory.WithData(errors.ErrUsage, fmt.Sprintf("unexpected argument %q", args[0]))
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", defaultLogLevel.String())
	v.SetDefault("bus", defaultBus)
	v.SetDefault("definitions", definitions.DefaultPath)
	v.SetDefault("journal.enabled", inventory.DefaultConfig().Enabled)
	v.SetDefault("journal.db_path", inventory.DefaultConfig().DBPath)
	v.SetDefault("metrics.listen", "")
	v.SetDefault("pid_file", defaultPIDFile)
}

// readConfigFile reads the explicit or environment-selected file, or the
// default one when it exists.
func readConfigFile(v *viper.Viper, o options) error {
	path := o.configPath
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}

	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return nil
		}
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return errors.New().WrapData(errors.ErrReadConfig, err, path)
	}

	return nil
}

// Usage writes the command line synopsis
func Usage(w io.Writer) {
	fmt.Fprintf(w, "Usage: fanmon --%s | --%s\n", mode.Init, mode.Control)
	fmt.Fprintf(w, "  --%-8s set fans to a known state and exit\n", mode.Init)
	fmt.Fprintf(w, "  --%-8s monitor fan tach sensors until stopped\n", mode.Control)
}
