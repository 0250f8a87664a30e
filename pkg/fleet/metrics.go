package fleet

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	dhmetrics "github.com/deployhub/deployhub/pkg/metrics"
)

var (
	peerRequestDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "deployhub",
		Subsystem: "fleet",
		Name:      "peer_request_duration_seconds",
		Help:      "Duration of requests to builder peers, in seconds.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{dhmetrics.LabelRoute, dhmetrics.LabelSuccess})
	peersDiscovered = prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
		Namespace: "deployhub",
		Subsystem: "fleet",
		Name:      "peers",
		Help:      "Number of builder peers found at the last discovery.",
	}, []string{dhmetrics.LabelNamespace})
)
