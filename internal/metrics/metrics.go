// Package metrics exports tach sensor and fan state as Prometheus series.
package metrics

import (
	"codeberg.org/mutker/fanmon/internal/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "fanmon"

// Recorder updates Prometheus series from monitor events
type Recorder struct {
	registry *prometheus.Registry

	input            *prometheus.GaugeVec
	target           *prometheus.GaugeVec
	sensorFunctional *prometheus.GaugeVec
	fanFunctional    *prometheus.GaugeVec
	timeouts         *prometheus.CounterVec
}

func NewRecorder() (*Recorder, error) {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		input: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tach_input",
			Help:      "Last tach reading per sensor.",
		}, []string{"sensor"}),
		target: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tach_target",
			Help:      "Last commanded target per sensor.",
		}, []string{"sensor"}),
		sensorFunctional: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensor_functional",
			Help:      "1 when the sensor is functional.",
		}, []string{"sensor"}),
		fanFunctional: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fan_functional",
			Help:      "1 when the fan is functional.",
		}, []string{"fan"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_timeouts_total",
			Help:      "Dead-man timer expiries per sensor.",
		}, []string{"sensor"}),
	}

	for _, c := range []prometheus.Collector{
		r.input,
		r.target,
		r.sensorFunctional,
		r.fanFunctional,
		r.timeouts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := r.registry.Register(c); err != nil {
			return nil, errors.New().Wrap(ErrRegisterFailed, err)
		}
	}

	return r, nil
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) SensorInput(sensor string, input int64) {
	r.input.WithLabelValues(sensor).Set(float64(input))
}

func (r *Recorder) SensorTarget(sensor string, target uint64) {
	r.target.WithLabelValues(sensor).Set(float64(target))
}

func (r *Recorder) SensorFunctional(sensor string, functional bool) {
	r.sensorFunctional.WithLabelValues(sensor).Set(boolToFloat(functional))
}

func (r *Recorder) SensorTimeout(sensor string) {
	r.timeouts.WithLabelValues(sensor).Inc()
}

func (r *Recorder) FanFunctional(fan string, functional bool) {
	r.fanFunctional.WithLabelValues(fan).Set(boolToFloat(functional))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
