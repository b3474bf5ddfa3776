package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	stageLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spamrag_stage_latency_ms",
		Help:    "Latency of assistant pipeline stages in milliseconds",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2000, 4000, 8000, 16000},
	}, []string{"stage"})

	stageErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spamrag_stage_errors_total",
		Help: "Assistant stage failures by stage and error kind",
	}, []string{"stage", "kind"})

	searchLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spamrag_search_latency_ms",
		Help:    "Latency of search calls in milliseconds",
		Buckets: []float64{10, 25, 50, 75, 100, 150, 200, 300, 500, 800, 1200},
	}, []string{"index", "mode"})

	searchResults = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spamrag_search_results",
		Help:    "Number of hits returned by a search call",
		Buckets: []float64{0, 1, 2, 5, 8, 10, 20, 50, 100},
	}, []string{"index"})

	dedupRemoved = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "spamrag_reduce_duplicates",
		Help:    "Hits dropped as duplicates per assistant turn",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
	})

	predictorLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spamrag_predictor_latency_ms",
		Help:    "Latency of a single predictor in milliseconds",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	}, []string{"predictor"})

	predictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spamrag_predictions_total",
		Help: "Predictions by predictor and outcome (spam, ham, empty, error)",
	}, []string{"predictor", "outcome"})
)

func ensureRegistered() {
	once.Do(func() {
		prometheus.MustRegister(Collectors()...)
	})
}

// ObserveStage records latency for an assistant stage.
func ObserveStage(stage string, d time.Duration) {
	ensureRegistered()
	stageLatency.WithLabelValues(stage).Observe(float64(d.Milliseconds()))
}

// IncStageError counts a failed stage.
func IncStageError(stage, kind string) {
	ensureRegistered()
	if kind == "" {
		kind = "unknown"
	}
	stageErrors.WithLabelValues(stage, kind).Inc()
}

// ObserveSearch records latency and result size for one search call.
func ObserveSearch(index, mode string, start time.Time, results int) {
	ensureRegistered()
	searchLatency.WithLabelValues(index, mode).Observe(float64(time.Since(start).Milliseconds()))
	searchResults.WithLabelValues(index).Observe(float64(results))
}

// ObserveDedup records how many hits the reduce step dropped.
func ObserveDedup(n int) {
	ensureRegistered()
	dedupRemoved.Observe(float64(n))
}

// ObservePrediction records one predictor outcome.
func ObservePrediction(predictor, outcome string, d time.Duration) {
	ensureRegistered()
	predictorLatency.WithLabelValues(predictor).Observe(float64(d.Milliseconds()))
	predictions.WithLabelValues(predictor, outcome).Inc()
}

// Collectors exposes all collectors for external registration with a custom registry.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		stageLatency, stageErrors, searchLatency, searchResults, dedupRemoved, predictorLatency, predictions,
	}
}
