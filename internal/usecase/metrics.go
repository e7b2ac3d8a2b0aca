package usecase

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records pipeline observability.
type Metrics struct {
	// Pipeline outcomes by terminal status and reason
	Outcomes *prometheus.CounterVec

	// Stage latency by stage name
	StageLatency *prometheus.HistogramVec

	// Full run latency, processing to terminal write
	RunLatency prometheus.Histogram
}

// NewMetrics registers the pipeline metrics with reg. A nil reg creates
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idverify_pipeline_outcomes_total",
			Help: "Verification pipeline outcomes by terminal status and reason",
		}, []string{"status", "reason"}),

		StageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "idverify_pipeline_stage_duration_seconds",
			Help:    "Duration of verification pipeline stages",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}, []string{"stage"}), // stage: "liveness", "face_compare", "fetch_documents", "extract", "profile"

		RunLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "idverify_pipeline_run_duration_seconds",
			Help:    "Duration of a full verification pipeline run",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
		}),
	}
}

// ObserveStage records the duration of one pipeline stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m != nil {
		m.StageLatency.WithLabelValues(stage).Observe(d.Seconds())
	}
}

// IncrementOutcome records a terminal pipeline outcome.
func (m *Metrics) IncrementOutcome(status, reason string) {
	if m != nil {
		m.Outcomes.WithLabelValues(status, reason).Inc()
	}
}

// ObserveRun records the total run duration.
func (m *Metrics) ObserveRun(d time.Duration) {
	if m != nil {
		m.RunLatency.Observe(d.Seconds())
	}
}

// MetricsSummary represents aggregated verification insights.
type MetricsSummary struct {
	TotalSessions          int64   `json:"total_sessions"`
	SuccessfulSessions     int64   `json:"successful_sessions"`
	FailedSessions         int64   `json:"failed_sessions"`
	ErroredSessions        int64   `json:"errored_sessions"`
	InFlightSessions       int64   `json:"in_flight_sessions"`
	SuccessRate            float64 `json:"success_rate"`
	AverageMatchConfidence float64 `json:"average_match_confidence"`
}

// GetMetricsSummary aggregates verification metrics from persisted sessions.
// The success rate is over sessions that reached a terminal status.
func (uc *VerificationUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalSessions:          aggregation.TotalCount,
		SuccessfulSessions:     aggregation.SuccessCount,
		FailedSessions:         aggregation.FailedCount,
		ErroredSessions:        aggregation.ErrorCount,
		InFlightSessions:       aggregation.InFlightCount,
		AverageMatchConfidence: aggregation.AverageMatchConfidence,
	}

	if finished := aggregation.SuccessCount + aggregation.FailedCount + aggregation.ErrorCount; finished > 0 {
		summary.SuccessRate = float64(aggregation.SuccessCount) / float64(finished)
	}

	return summary, nil
}
