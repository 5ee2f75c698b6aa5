package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "autobrowse",
		Name:      "sessions_active",
		Help:      "Number of open browser sessions.",
	})
	metricLaunches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autobrowse",
		Name:      "launches_total",
		Help:      "Browser session launches by result.",
	}, []string{"result"})
	metricActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autobrowse",
		Name:      "actions_total",
		Help:      "Goto, click and type operations by result.",
	}, []string{"action", "result"})
	metricNavigationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "autobrowse",
		Name:      "navigation_duration_seconds",
		Help:      "Time spent in Goto including retries.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
	})
	metricIssues = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autobrowse",
		Name:      "page_issues_total",
		Help:      "Page issues seen by the detector.",
	}, []string{"issue"})
)

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
