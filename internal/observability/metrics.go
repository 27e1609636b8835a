package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/epidemic-simulator/core"
)

// Admission outcome label values.
const (
	OutcomeAdmitted        = "admitted"
	OutcomeFull            = "full"
	OutcomeAlreadyAdmitted = "already_admitted"
	OutcomeNegative        = "negative"
)

// SimulationCollector bundles Prometheus metrics for a simulation run. It
// implements core.MetricsRecorder.
type SimulationCollector struct {
	gatherer prometheus.Gatherer

	Agents           *prometheus.GaugeVec
	Hospitalized     prometheus.Gauge
	HospitalCapacity prometheus.Gauge
	Tick             prometheus.Gauge

	NewInfections  prometheus.Counter
	Admissions     *prometheus.CounterVec
	PhaseDurations *prometheus.HistogramVec
	StepDurations  prometheus.Histogram
}

var _ core.MetricsRecorder = (*SimulationCollector)(nil)

// NewSimulationCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimulationCollector(reg prometheus.Registerer) (*SimulationCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	agents, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "epidemic_agents",
		Help: "Current number of agents, labeled by health status.",
	}, []string{"status"}), "epidemic_agents")
	if err != nil {
		return nil, err
	}
	hospitalized, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "epidemic_hospitalized",
		Help: "Current number of occupied hospital slots.",
	}), "epidemic_hospitalized")
	if err != nil {
		return nil, err
	}
	capacity, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "epidemic_hospital_capacity",
		Help: "Configured number of hospital slots.",
	}), "epidemic_hospital_capacity")
	if err != nil {
		return nil, err
	}
	tick, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "epidemic_tick",
		Help: "Number of completed simulation ticks.",
	}), "epidemic_tick")
	if err != nil {
		return nil, err
	}

	infections, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "epidemic_new_infections_total",
		Help: "Cumulative number of transmissions.",
	}), "epidemic_new_infections_total")
	if err != nil {
		return nil, err
	}
	admissions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "epidemic_admission_tests_total",
		Help: "Diagnostic tests run by the admission pass, labeled by outcome.",
	}, []string{"outcome"}), "epidemic_admission_tests_total")
	if err != nil {
		return nil, err
	}
	phases, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "epidemic_phase_duration_seconds",
		Help:    "Duration of each phase of a simulation tick.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"phase"}), "epidemic_phase_duration_seconds")
	if err != nil {
		return nil, err
	}
	steps, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "epidemic_step_duration_seconds",
		Help:    "Duration of a whole simulation tick.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}), "epidemic_step_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &SimulationCollector{
		gatherer:         gatherer,
		Agents:           agents,
		Hospitalized:     hospitalized,
		HospitalCapacity: capacity,
		Tick:             tick,
		NewInfections:    infections,
		Admissions:       admissions,
		PhaseDurations:   phases,
		StepDurations:    steps,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimulationCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimulationCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetCapacity records the configured hospital capacity.
func (c *SimulationCollector) SetCapacity(capacity int) {
	if c == nil || c.HospitalCapacity == nil {
		return
	}
	c.HospitalCapacity.Set(float64(capacity))
}

// ObserveCensus sets the population gauges.
func (c *SimulationCollector) ObserveCensus(census core.Census) {
	if c == nil {
		return
	}
	if c.Agents != nil {
		c.Agents.WithLabelValues(core.StatusSusceptible.String()).Set(float64(census.Susceptible))
		c.Agents.WithLabelValues(core.StatusInfected.String()).Set(float64(census.Infected))
		c.Agents.WithLabelValues(core.StatusRecovered.String()).Set(float64(census.Recovered))
		c.Agents.WithLabelValues(core.StatusDead.String()).Set(float64(census.Dead))
	}
	if c.Hospitalized != nil {
		c.Hospitalized.Set(float64(census.Hospitalized))
	}
}

// ObservePhase records the duration of one tick phase.
func (c *SimulationCollector) ObservePhase(phase string, d time.Duration) {
	if c == nil || c.PhaseDurations == nil {
		return
	}
	c.PhaseDurations.WithLabelValues(phase).Observe(d.Seconds())
}

// ObserveStep records the summary of a completed tick.
func (c *SimulationCollector) ObserveStep(stats core.StepStats) {
	if c == nil {
		return
	}
	c.ObserveCensus(stats.Census)
	if c.Tick != nil {
		c.Tick.Set(float64(stats.Tick))
	}
	if c.NewInfections != nil {
		c.NewInfections.Add(float64(stats.NewInfections))
	}
	if c.StepDurations != nil {
		c.StepDurations.Observe(stats.Duration.Seconds())
	}
	if c.Admissions != nil {
		adm := stats.Admission
		c.Admissions.WithLabelValues(OutcomeAdmitted).Add(float64(adm.Admitted))
		c.Admissions.WithLabelValues(OutcomeFull).Add(float64(adm.Full))
		c.Admissions.WithLabelValues(OutcomeAlreadyAdmitted).Add(float64(adm.AlreadyAdmitted))
		c.Admissions.WithLabelValues(OutcomeNegative).Add(float64(adm.Tests - adm.Positive))
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

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
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
