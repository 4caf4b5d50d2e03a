// File: internal/harness/metrics.go
package harness

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	settleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "afterburner_settle_duration_seconds",
		Help:    "Time from the start of an action until its page settled.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
	}, []string{"action", "outcome"})

	ajaxRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "afterburner_ajax_requests_total",
		Help: "Background requests observed in the frame.",
	})
)

// outcomeLabel maps an action result to a metrics label.
func outcomeLabel(err error) string {
	switch err.(type) {
	case nil:
		return "resolved"
	case *TimeoutError:
		return "timeout"
	case *ProxyLoadError:
		return "proxy_error"
	case *PageLoadError:
		return "page_error"
	case *ElementNotFoundError:
		return "not_found"
	default:
		return "error"
	}
}
