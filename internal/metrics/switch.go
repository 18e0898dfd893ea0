package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jkaflik/impulse2mqtt/internal/cover/driver/impulse"
)

var _ impulse.Switch = (*CountingSwitch)(nil)

// CountingSwitch wraps a switch and counts the pulses it sends and the
// activations it reports, own pulse echoes included.
type CountingSwitch struct {
	impulse.Switch

	pulses      prometheus.Counter
	pulseErrors prometheus.Counter
	activations prometheus.Counter
}

func NewCountingSwitch(sw impulse.Switch, coverName string) *CountingSwitch {
	labels := prometheus.Labels{"cover": coverName}

	return &CountingSwitch{
		Switch: sw,
		pulses: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "impulse2mqtt_switch_pulses_total",
			Help:        "Pulses delivered to the switch",
			ConstLabels: labels,
		}),
		pulseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "impulse2mqtt_switch_pulse_errors_total",
			Help:        "Pulses that failed to deliver",
			ConstLabels: labels,
		}),
		activations: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "impulse2mqtt_switch_activations_total",
			Help:        "Activations observed on the switch",
			ConstLabels: labels,
		}),
	}
}

func (s *CountingSwitch) Pulse(ctx context.Context) error {
	if err := s.Switch.Pulse(ctx); err != nil {
		s.pulseErrors.Inc()
		return err
	}

	s.pulses.Inc()
	return nil
}

func (s *CountingSwitch) OnActivate(h impulse.ActivationHandler) {
	s.Switch.OnActivate(func(ctx context.Context) {
		s.activations.Inc()
		h(ctx)
	})
}

// Collectors returns the counters for registry registration.
func (s *CountingSwitch) Collectors() []prometheus.Collector {
	return []prometheus.Collector{s.pulses, s.pulseErrors, s.activations}
}
