package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/except-pass/telltale/pkg/diagnostic"
	"github.com/except-pass/telltale/pkg/truthtable"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run modes.
const (
	ModeSync  = "sync"
	ModeAsync = "async"
)

var (
	// diagnosticCalls counts engine calls.
	// Labels: operation (diagnose, recommend, explain), outcome (ok, unknown_input, error)
	diagnosticCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "telltale",
		Subsystem: "engine",
		Name:      "calls_total",
		Help:      "Total diagnostic engine calls",
	}, []string{"operation", "outcome"})

	diagnosticLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "telltale",
		Subsystem: "engine",
		Name:      "latency_seconds",
		Help:      "Diagnostic engine call latency in seconds",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	}, []string{"operation"})

	// configurationWarnings counts edges skipped as misconfigured.
	configurationWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "telltale",
		Subsystem: "engine",
		Name:      "configuration_warnings_total",
		Help:      "Total misconfigured edges skipped during evaluation",
	}, []string{"operation"})

	// truthTableRuns counts finished runs.
	// Labels: mode (sync, async), status (completed, failed)
	truthTableRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "telltale",
		Subsystem: "truth_table",
		Name:      "runs_total",
		Help:      "Total truth-table runs",
	}, []string{"mode", "status"})

	truthTableCases = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "telltale",
		Subsystem: "truth_table",
		Name:      "cases_total",
		Help:      "Total truth-table cases by status",
	}, []string{"status"})

	truthTableDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "telltale",
		Subsystem: "truth_table",
		Name:      "run_duration_seconds",
		Help:      "Truth-table run duration in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}, []string{"mode"})

	activeRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "telltale",
		Subsystem: "truth_table",
		Name:      "active_runs",
		Help:      "Truth-table runs currently executing",
	})
)

// ObserveCall records one engine call.
func ObserveCall(operation string, start time.Time, warnings int, err error) {
	outcome := "ok"
	var unknown *diagnostic.UnknownInputError
	var invalid *diagnostic.InvalidStateError
	switch {
	case errors.As(err, &unknown), errors.As(err, &invalid):
		outcome = "unknown_input"
	case err != nil:
		outcome = "error"
	}
	diagnosticCalls.WithLabelValues(operation, outcome).Inc()
	diagnosticLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if warnings > 0 {
		configurationWarnings.WithLabelValues(operation).Add(float64(warnings))
	}
}

// RunStarted marks a run as executing. The returned func marks it done.
func RunStarted() func() {
	activeRuns.Inc()
	return activeRuns.Dec
}

// ObserveRun records a finished truth-table run. summary may be nil for
// runs that failed before producing results.
func ObserveRun(mode string, start time.Time, summary *truthtable.Summary, err error) {
	status := "completed"
	if err != nil {
		status = "failed"
	}
	truthTableRuns.WithLabelValues(mode, status).Inc()
	truthTableDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	if summary == nil {
		return
	}
	truthTableCases.WithLabelValues(string(truthtable.StatusVerified)).Add(float64(summary.Verified))
	truthTableCases.WithLabelValues(string(truthtable.StatusSurprise)).Add(float64(summary.Surprises))
	truthTableCases.WithLabelValues(string(truthtable.StatusUnverified)).Add(float64(summary.Unverified))
	truthTableCases.WithLabelValues(string(truthtable.StatusError)).Add(float64(summary.Errors))
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
