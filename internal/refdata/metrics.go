package refdata

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ProviderRequests - запросы к провайдеру по endpoint и результату
var ProviderRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "portsync",
		Subsystem: "refdata",
		Name:      "provider_requests_total",
		Help:      "Reference data provider requests by endpoint and outcome",
	},
	[]string{"endpoint", "outcome"},
)

// ProviderLatency - длительность запросов к провайдеру
var ProviderLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "portsync",
		Subsystem: "refdata",
		Name:      "provider_latency_seconds",
		Help:      "Reference data provider request latency in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	},
	[]string{"endpoint"},
)
