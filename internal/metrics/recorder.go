// Package metrics exposes pipeline counters through a private Prometheus
// registry, scraped by the daemon's /metrics endpoint.
package metrics

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns the registry and the relforge metric families.
type Recorder struct {
	registry *prom.Registry

	runsTotal      *prom.CounterVec
	targetsTotal   *prom.CounterVec
	publishRetries prom.Counter
	notifyFailures *prom.CounterVec
	activeJobs     prom.Gauge
	runDuration    prom.Histogram
}

// NewRecorder builds a recorder with its own registry, including the standard
// Go and process collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prom.NewRegistry(),
		runsTotal: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "relforge", Name: "runs_total", Help: "Pipeline runs by final status",
		}, []string{"status"}),
		targetsTotal: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "relforge", Name: "targets_total", Help: "Target build jobs by result",
		}, []string{"result"}),
		publishRetries: prom.NewCounter(prom.CounterOpts{
			Namespace: "relforge", Name: "publish_retries_total", Help: "Transient publish retries",
		}),
		notifyFailures: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "relforge", Name: "notify_failures_total", Help: "Failed announcement deliveries by channel",
		}, []string{"channel"}),
		activeJobs: prom.NewGauge(prom.GaugeOpts{
			Namespace: "relforge", Name: "active_jobs", Help: "Target build jobs currently running",
		}),
		runDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "relforge", Name: "run_duration_seconds", Help: "Pipeline run duration",
			Buckets: prom.ExponentialBuckets(30, 2, 8),
		}),
	}
	r.registry.MustRegister(r.runsTotal, r.targetsTotal, r.publishRetries, r.notifyFailures, r.activeJobs, r.runDuration)
	r.registry.MustRegister(promcollect.NewGoCollector(), promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}))
	return r
}

// RunFinished records a run's final status and duration in seconds.
func (r *Recorder) RunFinished(status string, seconds float64) {
	r.runsTotal.WithLabelValues(status).Inc()
	r.runDuration.Observe(seconds)
}

// TargetConcluded records one target job outcome.
func (r *Recorder) TargetConcluded(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	r.targetsTotal.WithLabelValues(result).Inc()
}

// PublishRetried counts one transient upload retry.
func (r *Recorder) PublishRetried() {
	r.publishRetries.Inc()
}

// NotifyFailed counts one failed channel delivery.
func (r *Recorder) NotifyFailed(channel string) {
	r.notifyFailures.WithLabelValues(channel).Inc()
}

// JobStarted and JobDone track the active-jobs gauge.
func (r *Recorder) JobStarted() { r.activeJobs.Inc() }
func (r *Recorder) JobDone()    { r.activeJobs.Dec() }

// Handler serves the registry for scraping.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
