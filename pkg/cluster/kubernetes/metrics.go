package kubernetes

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	dhmetrics "github.com/deployhub/deployhub/pkg/metrics"
)

var (
	reconcileDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "deployhub",
		Subsystem: "cluster",
		Name:      "reconcile_duration_seconds",
		Help:      "Duration of reconciling one manifest document, in seconds.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{dhmetrics.LabelKind, dhmetrics.LabelAction, dhmetrics.LabelSuccess})
)
