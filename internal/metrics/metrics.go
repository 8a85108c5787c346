// Package metrics exposes job and relocation counters in the prometheus
// text format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tracksync/tracksync/internal/model"
)

// Collector implements service.Observer and relocate.Observer.
type Collector struct {
	registry *prometheus.Registry

	jobsStarted  prometheus.Counter
	jobsFinished *prometheus.CounterVec
	jobDuration  prometheus.Histogram
	jobsRunning  prometheus.Gauge
	tracks       *prometheus.CounterVec

	relocations  *prometheus.CounterVec
	movedFiles   prometheus.Counter
	lastDuration prometheus.Gauge
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracksync_jobs_started_total",
			Help: "Total number of started download jobs",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracksync_jobs_finished_total",
			Help: "Total number of finished download jobs by terminal status",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracksync_job_duration_seconds",
			Help:    "Duration of download jobs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracksync_jobs_running",
			Help: "Number of download jobs currently running",
		}),
		tracks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracksync_tracks_total",
			Help: "Tracks seen in download tool output by outcome",
		}, []string{"outcome"}),
		relocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracksync_relocations_total",
			Help: "Total number of library relocations by result",
		}, []string{"status"}),
		movedFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracksync_relocated_files_total",
			Help: "Total number of files moved or copied by relocations",
		}),
		lastDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracksync_last_relocation_seconds",
			Help: "Duration of the last library relocation",
		}),
	}
	c.registry.MustRegister(
		c.jobsStarted,
		c.jobsFinished,
		c.jobDuration,
		c.jobsRunning,
		c.tracks,
		c.relocations,
		c.movedFiles,
		c.lastDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) JobStarted(int64) {
	c.jobsStarted.Inc()
	c.jobsRunning.Inc()
}

func (c *Collector) JobFinished(_ int64, status model.JobStatus, elapsed time.Duration, counts model.Counts) {
	c.jobsRunning.Dec()
	c.jobsFinished.WithLabelValues(string(status)).Inc()
	c.jobDuration.Observe(elapsed.Seconds())
	c.tracks.WithLabelValues("added").Add(float64(counts.Added))
	c.tracks.WithLabelValues("removed").Add(float64(counts.Removed))
	c.tracks.WithLabelValues("skipped").Add(float64(counts.Skipped))
}

func (c *Collector) RelocationFinished(status string, moved int, elapsed time.Duration) {
	c.relocations.WithLabelValues(status).Inc()
	c.movedFiles.Add(float64(moved))
	c.lastDuration.Set(elapsed.Seconds())
}

// Registry is exposed for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collected metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
