package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	documentsLoaded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pageforge",
			Name:      "documents_loaded_total",
			Help:      "Total document load attempts by result (success, rejected)",
		},
		[]string{"result"},
	)

	pagesRendered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pageforge",
			Name:      "pages_rendered_total",
			Help:      "Total page render attempts by result (success, error)",
		},
		[]string{"result"},
	)

	renderDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pageforge",
			Name:      "render_duration_seconds",
			Help:      "Duration of single-page renders by output format",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"format"},
	)

	conversionRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pageforge",
			Name:      "conversion_runs_total",
			Help:      "Completed conversion runs by result (complete, partial, empty, cancelled)",
		},
		[]string{"result"},
	)

	insightReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pageforge",
			Name:      "insight_requests_total",
			Help:      "Insight provider requests by provider, model and result",
		},
		[]string{"provider", "model", "result"},
	)

	insightLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pageforge",
			Name:      "insight_request_duration_seconds",
			Help:      "Duration of insight provider requests by provider and model",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "model"},
	)

	archivesBuilt = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pageforge",
			Name:      "archives_built_total",
			Help:      "Total export archives built",
		},
	)

	archiveBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pageforge",
			Name:      "archive_size_bytes",
			Help:      "Size of built export archives in bytes",
			Buckets:   prometheus.ExponentialBuckets(64*1024, 4, 8),
		},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pageforge",
			Name:      "active_sessions",
			Help:      "Number of sessions currently held in memory",
		},
	)
)

// Init registers collectors.
func Init() {
	prometheus.MustRegister(documentsLoaded, pagesRendered, renderDuration,
		conversionRuns, insightReqs, insightLatency, archivesBuilt, archiveBytes, activeSessions)
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func IncDocumentLoaded(result string) { documentsLoaded.WithLabelValues(result).Inc() }

func ObserveRender(format, result string, dur time.Duration) {
	pagesRendered.WithLabelValues(result).Inc()
	renderDuration.WithLabelValues(format).Observe(dur.Seconds())
}

func IncConversionRun(result string) { conversionRuns.WithLabelValues(result).Inc() }

func ObserveInsight(provider, model, result string, dur time.Duration) {
	insightReqs.WithLabelValues(provider, model, result).Inc()
	insightLatency.WithLabelValues(provider, model).Observe(dur.Seconds())
}

func ObserveArchive(sizeBytes int) {
	archivesBuilt.Inc()
	archiveBytes.Observe(float64(sizeBytes))
}

func SetActiveSessions(n int) { activeSessions.Set(float64(n)) }
