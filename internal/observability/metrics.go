package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	apiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanlink_api_requests_total",
			Help: "Total number of backend API calls issued by the client.",
		},
		[]string{"route", "status"},
	)
	apiRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fanlink_api_request_duration_seconds",
			Help:    "Backend API call latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	channelActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fanlink_channel_open",
			Help: "Whether the push channel is currently open (0 or 1).",
		},
	)
	channelEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanlink_channel_events_total",
			Help: "Total number of push channel lifecycle events.",
		},
		[]string{"event"},
	)
	arrivalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanlink_message_arrivals_total",
			Help: "Total number of message arrival events, by how the store applied them.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		apiRequestsTotal,
		apiRequestDuration,
		channelActive,
		channelEventsTotal,
		arrivalsTotal,
	)
}

// ObserveAPIRequest records one completed backend call. A status of 0
// means the request never got an HTTP response.
func ObserveAPIRequest(route string, status int, elapsed time.Duration) {
	apiRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	apiRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func SetChannelOpen(open bool) {
	if open {
		channelActive.Set(1)
		return
	}
	channelActive.Set(0)
}

func IncChannelEvent(event string) {
	channelEventsTotal.WithLabelValues(event).Inc()
}

func IncArrival(outcome string) {
	arrivalsTotal.WithLabelValues(outcome).Inc()
}
