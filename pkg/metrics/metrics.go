package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EnquiriesCreated counts client enquiries accepted by the platform.
	EnquiriesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "skyquote_enquiries_created_total",
			Help: "Total number of enquiries created",
		},
	)

	// InvitesDispatched counts operator invites by outcome (sent|failed).
	InvitesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyquote_invites_dispatched_total",
			Help: "Total number of operator invites dispatched",
		},
		[]string{"result"},
	)

	// EmailsDelivered counts notification deliveries by template and terminal status.
	EmailsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyquote_emails_delivered_total",
			Help: "Total number of notification delivery attempts",
		},
		[]string{"template", "status"},
	)

	// ApplicationsReviewed counts pilot application review decisions.
	ApplicationsReviewed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyquote_applications_reviewed_total",
			Help: "Total number of pilot application review decisions",
		},
		[]string{"decision"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skyquote_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
