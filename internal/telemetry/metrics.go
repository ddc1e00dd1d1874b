// Package telemetry exposes the engine's Prometheus metrics.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// Metrics holds the engine's Prometheus collectors. Each engine instance
// owns its registry, so several engines can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	// Evaluation pipeline
	EvaluationDuration *prometheus.HistogramVec
	Evaluations        *prometheus.CounterVec
	DecisionConfidence prometheus.Histogram
	InformationBits    prometheus.Histogram
	ConsensusStrength  prometheus.Gauge

	// Input hygiene
	SanitizerReplacements *prometheus.CounterVec
	StageAnomalies        *prometheus.CounterVec

	// Weight store
	ActiveSystems prometheus.Gauge
	SystemWeights *prometheus.GaugeVec

	// Learning
	OutcomesApplied prometheus.Counter
	OutcomesSkipped *prometheus.CounterVec

	// Exit monitoring
	ExitUrgency prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		EvaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fusion_evaluation_duration_seconds",
				Help:    "Duration of signal evaluations in seconds",
				Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
			},
			[]string{"kind", "action"},
		),

		Evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fusion_evaluations_total",
				Help: "Total evaluations by kind and resulting action",
			},
			[]string{"kind", "action"},
		),

		DecisionConfidence: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fusion_decision_confidence",
				Help:    "Fused confidence of emitted decisions",
				Buckets: prometheus.LinearBuckets(0.0, 0.1, 11),
			},
		),

		InformationBits: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fusion_information_bits",
				Help:    "Shannon information content of fused signal sets",
				Buckets: []float64{0.5, 1, 1.5, 2, 2.5, 3, 4, 5, 6},
			},
		),

		ConsensusStrength: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fusion_consensus_strength",
				Help: "Consensus strength of the most recent evaluation",
			},
		),

		SanitizerReplacements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fusion_sanitizer_replacements_total",
				Help: "Malformed values replaced by the numeric guard, by category",
			},
			[]string{"category"},
		),

		StageAnomalies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fusion_stage_anomalies_total",
				Help: "Pipeline stage failures resolved to the neutral decision, by stage",
			},
			[]string{"stage"},
		),

		ActiveSystems: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fusion_active_systems",
				Help: "Number of systems tracked by the weight store",
			},
		),

		SystemWeights: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fusion_system_weight",
				Help: "Normalized weight per contributing system",
			},
			[]string{"system"},
		),

		OutcomesApplied: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fusion_outcomes_applied_total",
				Help: "Realized outcomes folded into the weight store",
			},
		),

		OutcomesSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fusion_outcomes_skipped_total",
				Help: "Outcome contributions skipped, by reason",
			},
			[]string{"reason"},
		),

		ExitUrgency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fusion_exit_urgency",
				Help:    "Exit urgency scores from position re-evaluation",
				Buckets: prometheus.LinearBuckets(0.0, 0.1, 11),
			},
		),
	}

	m.registry.MustRegister(
		m.EvaluationDuration,
		m.Evaluations,
		m.DecisionConfidence,
		m.InformationBits,
		m.ConsensusStrength,
		m.SanitizerReplacements,
		m.StageAnomalies,
		m.ActiveSystems,
		m.SystemWeights,
		m.OutcomesApplied,
		m.OutcomesSkipped,
		m.ExitUrgency,
	)

	return m
}

// EvalTimer times one evaluation from start to decision.
type EvalTimer struct {
	metrics *Metrics
	kind    string
	start   time.Time
}

// StartEvalTimer begins timing an evaluation of the given kind
// ("entry" or "exit").
func (m *Metrics) StartEvalTimer(kind string) *EvalTimer {
	return &EvalTimer{metrics: m, kind: kind, start: time.Now()}
}

// Stop records the evaluation duration and outcome action.
func (t *EvalTimer) Stop(action string) {
	duration := time.Since(t.start)
	t.metrics.EvaluationDuration.WithLabelValues(t.kind, action).Observe(duration.Seconds())
	t.metrics.Evaluations.WithLabelValues(t.kind, action).Inc()

	log.Debug().
		Str("kind", t.kind).
		Str("action", action).
		Dur("duration", duration).
		Msg("evaluation completed")
}

// RecordDecision captures the fused quality gauges for one decision.
func (m *Metrics) RecordDecision(confidence, consensus, bits float64) {
	m.DecisionConfidence.Observe(confidence)
	m.ConsensusStrength.Set(consensus)
	m.InformationBits.Observe(bits)
}

// RecordReplacement counts one sanitizer replacement; wired as the numeric
// guard's replace hook.
func (m *Metrics) RecordReplacement(category string) {
	m.SanitizerReplacements.WithLabelValues(category).Inc()
}

// RecordAnomaly counts one stage failure that was resolved to a safe
// default instead of propagating.
func (m *Metrics) RecordAnomaly(stage string) {
	m.StageAnomalies.WithLabelValues(stage).Inc()
}

// RecordOutcome counts one learning pass.
func (m *Metrics) RecordOutcome(updated int, skipped map[string]string) {
	if updated > 0 {
		m.OutcomesApplied.Inc()
	}
	for _, reason := range skipped {
		m.OutcomesSkipped.WithLabelValues(reason).Inc()
	}
}

// UpdateWeights publishes the current weight distribution.
func (m *Metrics) UpdateWeights(weights map[string]float64) {
	m.ActiveSystems.Set(float64(len(weights)))
	for system, w := range weights {
		m.SystemWeights.WithLabelValues(system).Set(w)
	}
}

// RecordExitUrgency captures one exit evaluation's urgency score.
func (m *Metrics) RecordExitUrgency(urgency float64) {
	m.ExitUrgency.Observe(urgency)
}

// Handler serves this instance's registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gather exposes the raw metric families, used by status endpoints and tests.
func (m *Metrics) Gather() ([]*io_prometheus_client.MetricFamily, error) {
	return m.registry.Gather()
}

// ReplacementCount reads back the total sanitizer replacements across all
// categories from the live collectors.
func (m *Metrics) ReplacementCount() float64 {
	families, err := m.registry.Gather()
	if err != nil {
		return 0
	}
	var total float64
	for _, fam := range families {
		if fam.GetName() != "fusion_sanitizer_replacements_total" {
			continue
		}
		for _, metric := range fam.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

// CounterValue reads a single labeled counter's current value.
func CounterValue(vec *prometheus.CounterVec, labels ...string) float64 {
	c, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		return 0
	}
	var out io_prometheus_client.Metric
	if err := c.Write(&out); err != nil {
		return 0
	}
	return out.GetCounter().GetValue()
}
