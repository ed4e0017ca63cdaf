// Package definitions loads the fan and tach sensor layout from YAML.
package definitions

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"codeberg.org/mutker/fanmon/internal/errors"
	"codeberg.org/mutker/fanmon/internal/monitor"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPath = "/etc/fanmon/fans.yaml"

	defaultDeviation = 15
	defaultFactor    = 1
)

// Definitions is the parsed layout
type Definitions struct {
	Init Init  `yaml:"init"`
	Fans []Fan `yaml:"fans"`
}

// Init configures the one-shot start-up action
type Init struct {
	// FullSpeed is written to every target-capable sensor; zero skips the write
	FullSpeed uint64 `yaml:"full_speed"`
}

type Fan struct {
	Inventory               string        `yaml:"inventory"`
	Deviation               *int64        `yaml:"deviation"`
	NumSensorsNonfuncForFan int           `yaml:"num_sensors_nonfunc_for_fan_nonfunc"`
	Timeout                 time.Duration `yaml:"timeout"`
	Sensors                 []Sensor      `yaml:"sensors"`
}

type Sensor struct {
	Name      string         `yaml:"name"`
	HasTarget bool           `yaml:"has_target"`
	Factor    *int64         `yaml:"factor"`
	Offset    int64          `yaml:"offset"`
	Timeout   *time.Duration `yaml:"timeout"`
}

// Load reads and validates the definitions at path
func Load(path string) (*Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New().WrapData(ErrReadDefinitions, err, path)
	}

	defs, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, errors.New().WrapData(ErrParseDefinitions, err, path)
	}

	return defs, nil
}

// Parse decodes definitions, rejecting unknown keys
func Parse(r io.Reader) (*Definitions, error) {
	var defs Definitions

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&defs); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.New().Wrap(ErrParseDefinitions, err)
	}

	if err := defs.Validate(); err != nil {
		return nil, err
	}

	return &defs, nil
}

func (d *Definitions) Validate() error {
	errFactory := errors.New()

	if len(d.Fans) == 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "no fans defined")
	}

	seen := make(map[string]string)
	for _, fan := range d.Fans {
		if fan.Deviation != nil && (*fan.Deviation < 0 || *fan.Deviation > 100) {
			return errFactory.WithData(ErrInvalidFan,
				fmt.Sprintf("%s: deviation %d outside 0..100", fan.Inventory, *fan.Deviation))
		}
		if fan.Timeout < 0 {
			return errFactory.WithData(ErrInvalidFan, fmt.Sprintf("%s: negative timeout", fan.Inventory))
		}

		cfg := fan.config()
		if err := cfg.Validate(); err != nil {
			return err
		}

		for _, sc := range cfg.Sensors {
			if err := sc.Validate(); err != nil {
				return err
			}
			if other, ok := seen[sc.Name]; ok {
				return errFactory.WithData(ErrDuplicateSensor,
					fmt.Sprintf("sensor %s defined by %s and %s", sc.Name, other, fan.Inventory))
			}
			seen[sc.Name] = fan.Inventory
		}
	}

	return nil
}

// FanConfigs converts the definitions into monitor configuration
func (d *Definitions) FanConfigs() []monitor.FanConfig {
	out := make([]monitor.FanConfig, 0, len(d.Fans))
	for _, fan := range d.Fans {
		out = append(out, fan.config())
	}
	return out
}

func (f Fan) config() monitor.FanConfig {
	deviation := int64(defaultDeviation)
	if f.Deviation != nil {
		deviation = *f.Deviation
	}

	cfg := monitor.FanConfig{
		Inventory:                f.Inventory,
		Deviation:                deviation,
		NumSensorFailsForNonFunc: f.NumSensorsNonfuncForFan,
		Sensors:                  make([]monitor.SensorConfig, 0, len(f.Sensors)),
	}

	for _, s := range f.Sensors {
		factor := int64(defaultFactor)
		if s.Factor != nil {
			factor = *s.Factor
		}
		timeout := f.Timeout
		if s.Timeout != nil {
			timeout = *s.Timeout
		}

		cfg.Sensors = append(cfg.Sensors, monitor.SensorConfig{
			Name:      s.Name,
			HasTarget: s.HasTarget,
			Factor:    factor,
			Offset:    s.Offset,
			Timeout:   timeout,
		})
	}

	return cfg
}
