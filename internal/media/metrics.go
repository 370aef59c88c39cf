package media

import "github.com/prometheus/client_golang/prometheus"

// uploadsTotal counts upload attempts per provider and outcome. The outcome
// is "success" or the failure kind of the attempt.
var uploadsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "lifelog_media_uploads_total",
		Help: "Media upload attempts by provider and outcome.",
	},
	[]string{"provider", "outcome"},
)

func init() {
	prometheus.MustRegister(uploadsTotal)
}
