package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jkaflik/impulse2mqtt/internal/cover"
)

// Collector scrapes every registered cover on each Prometheus pull, so the
// exported values always match the live estimate.
type Collector struct {
	registry *cover.Registry

	position   *prometheus.GaugeVec
	direction  *prometheus.GaugeVec
	travelTime *prometheus.GaugeVec
	pulseGap   *prometheus.GaugeVec
}

func NewCollector(registry *cover.Registry) *Collector {
	coverLabels := []string{"cover"}
	directionLabels := []string{"cover", "direction"}

	return &Collector{
		registry: registry,
		position: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "impulse2mqtt_cover_position_percent",
			Help: "Estimated cover position (0=closed, 100=open)",
		}, coverLabels),
		direction: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "impulse2mqtt_cover_direction",
			Help: "Current movement of the cover (1=active)",
		}, directionLabels),
		travelTime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "impulse2mqtt_cover_travel_time_seconds",
			Help: "Configured full travel time",
		}, coverLabels),
		pulseGap: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "impulse2mqtt_cover_pulse_gap_seconds",
			Help: "Configured gap between pulses of a sequence",
		}, coverLabels),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.position.Describe(ch)
	c.direction.Describe(ch)
	c.travelTime.Describe(ch)
	c.pulseGap.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.position.Reset()
	c.direction.Reset()
	c.travelTime.Reset()
	c.pulseGap.Reset()

	for _, cv := range c.registry.All() {
		s := cv.Snapshot()
		labels := prometheus.Labels{"cover": cv.Name()}

		c.position.With(labels).Set(s.Position)
		c.direction.With(prometheus.Labels{"cover": cv.Name(), "direction": string(s.Direction)}).Set(1)
		c.travelTime.With(labels).Set(s.TravelTime.Seconds())
		c.pulseGap.With(labels).Set(s.PulseGap.Seconds())
	}

	c.position.Collect(ch)
	c.direction.Collect(ch)
	c.travelTime.Collect(ch)
	c.pulseGap.Collect(ch)
}
