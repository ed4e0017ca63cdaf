package metrics

import "time"

const (
	defaultPath            = "/metrics"
	defaultShutdownTimeout = 5 * time.Second
	defaultReadTimeout     = 10 * time.Second
)

type Config struct {
	// Listen is the address serving the metrics endpoint; empty disables it
	Listen string
	Path   string
}

func (c Config) Enabled() bool {
	return c.Listen != ""
}

func (c Config) path() string {
	if c.Path == "" {
		return defaultPath
	}
	return c.Path
}
