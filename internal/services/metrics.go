package services

import "github.com/prometheus/client_golang/prometheus"

var (
	windowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifelog_windows_total",
			Help: "Windows that reached a terminal state, by state.",
		},
		[]string{"state"},
	)

	analysisFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lifelog_media_analysis_failures_total",
			Help: "Media items whose description fell back to the placeholder text.",
		},
	)

	finalizeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lifelog_finalize_duration_seconds",
			Help:    "Time spent publishing a window, from claim to terminal record.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(windowsTotal, analysisFailuresTotal, finalizeDuration)
}
