// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "api_http_requests_total", Help: "HTTP requests"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	MessagesSent = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dispatch_messages_sent_total", Help: "Messages accepted by the provider"},
	)
	MessagesFailed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dispatch_messages_failed_total", Help: "Recipients marked failed"},
	)
	AttachmentsSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dispatch_attachments_skipped_total", Help: "Attachments left out because they could not be read"},
	)
	QuotaExhausted = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dispatch_quota_exhausted_total", Help: "Runs stopped by the daily ceiling"},
	)
	Runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_runs_total", Help: "Finished campaign runs"},
		[]string{"state"},
	)
	SendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_send_duration_seconds",
			Help:    "Time spent in the provider send call",
			Buckets: prometheus.DefBuckets,
		},
	)
	ActiveCampaigns = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "dispatch_active_campaigns", Help: "Campaigns currently dispatching"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration,
		MessagesSent, MessagesFailed, AttachmentsSkipped, QuotaExhausted, Runs, SendDuration, ActiveCampaigns,
	)
}

func Handler() http.Handler { return promhttp.Handler() }
