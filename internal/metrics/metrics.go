// Package metrics holds the Prometheus counters exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/neulab/pr-arena/pkg/patch"
)

var (
	attemptsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prarena_attempts_total",
			Help: "Resolution attempts by outcome",
		},
		[]string{"outcome"},
	)

	runsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prarena_runs_total",
			Help: "Arena runs by stored status",
		},
		[]string{"status"},
	)

	patchFilesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prarena_patch_files_total",
			Help: "Patched file sections by result",
		},
		[]string{"result"},
	)

	decisionsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prarena_decisions_total",
			Help: "Recorded winner decisions",
		},
		[]string{"winner"},
	)
)

// Attempt outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeNoPatch   = "no_patch"
	OutcomeFailed    = "failed"
)

// ObserveAttempt counts one finished attempt.
func ObserveAttempt(outcome string) {
	attemptsCounter.WithLabelValues(outcome).Inc()
}

// ObserveRun counts one persisted run.
func ObserveRun(status string) {
	runsCounter.WithLabelValues(status).Inc()
}

// ObservePatch counts the file sections of an apply report.
func ObservePatch(r *patch.Report) {
	if r == nil {
		return
	}
	patchFilesCounter.WithLabelValues("written").Add(float64(len(r.Written)))
	patchFilesCounter.WithLabelValues("deleted").Add(float64(len(r.Deleted)))
	patchFilesCounter.WithLabelValues("skipped").Add(float64(len(r.Warnings)))
}

// ObserveDecision counts one recorded winner.
func ObserveDecision(winner string) {
	decisionsCounter.WithLabelValues(winner).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
