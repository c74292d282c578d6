package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Violation kinds reported by the conservation checks.
const (
	ViolationNetFlow  = "net_flow"
	ViolationExchange = "exchange"
)

// SimCollector bundles Prometheus metrics for a simulation run and exposes
// them over HTTP.
type SimCollector struct {
	gatherer prometheus.Gatherer

	StepsTotal        prometheus.Counter
	StepDuration      prometheus.Histogram
	SimTime           prometheus.Gauge
	ViolationsTotal   *prometheus.CounterVec
	ScenarioElements  prometheus.Gauge
	ScenarioLocations prometheus.Gauge
}

// NewSimCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
// Registering twice against the same registry reuses the existing
// collectors.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	steps, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_steps_total",
		Help: "Total number of committed simulation steps.",
	}), "sim_steps_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_step_duration_seconds",
		Help:    "Wall-clock time to relax, commit, advance and verify one step.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}), "sim_step_duration_seconds")
	if err != nil {
		return nil, err
	}

	simTime, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_time_seconds",
		Help: "Current simulation time as a Unix timestamp.",
	}), "sim_time_seconds")
	if err != nil {
		return nil, err
	}

	violations, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_conservation_violations_total",
		Help: "Conservation check failures, labeled by kind (net_flow or exchange).",
	}, []string{"kind"}), "sim_conservation_violations_total")
	if err != nil {
		return nil, err
	}

	elements, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_scenario_elements",
		Help: "Number of leaf elements in the loaded scenario.",
	}), "sim_scenario_elements")
	if err != nil {
		return nil, err
	}
	locations, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_scenario_locations",
		Help: "Number of Locations checked for conservation.",
	}), "sim_scenario_locations")
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:          gatherer,
		StepsTotal:        steps,
		StepDuration:      durations,
		SimTime:           simTime,
		ViolationsTotal:   violations,
		ScenarioElements:  elements,
		ScenarioLocations: locations,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := c.Gatherer()
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveStep records one committed step.
func (c *SimCollector) ObserveStep(took time.Duration, now time.Time) {
	if c == nil {
		return
	}
	if c.StepsTotal != nil {
		c.StepsTotal.Inc()
	}
	if c.StepDuration != nil {
		c.StepDuration.Observe(took.Seconds())
	}
	if c.SimTime != nil {
		c.SimTime.Set(float64(now.Unix()) + float64(now.Nanosecond())/1e9)
	}
}

// IncViolation counts one conservation check failure of the given kind.
func (c *SimCollector) IncViolation(kind string) {
	if c == nil || c.ViolationsTotal == nil {
		return
	}
	c.ViolationsTotal.WithLabelValues(kind).Inc()
}

// SetScenarioCounts records the size of the scenario being run.
func (c *SimCollector) SetScenarioCounts(elements, locations int) {
	if c == nil {
		return
	}
	if c.ScenarioElements != nil {
		c.ScenarioElements.Set(float64(elements))
	}
	if c.ScenarioLocations != nil {
		c.ScenarioLocations.Set(float64(locations))
	}
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
