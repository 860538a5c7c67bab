package services

import "github.com/prometheus/client_golang/prometheus"

var (
	generationsStartedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "generations_started_total",
		Help: "Total number of article generations started.",
	})
	generationsCompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "generations_completed_total",
		Help: "Total number of article generations that completed all phases.",
	})
	generationsFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "generations_failed_total",
		Help: "Total number of article generations that ended in a failed phase.",
	})
	validationParseFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "validation_parse_failures_total",
		Help: "Total number of validation results that could not be parsed and degraded to valid.",
	})
	webhookDeliveriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webhook_deliveries_total",
		Help: "Total number of publish webhooks delivered with a 2xx response.",
	})
	webhookFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webhook_failures_total",
		Help: "Total number of publish webhook deliveries that failed.",
	})
	queueItemsProcessedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "queue_items_processed_total",
		Help: "Total number of generation-queue items processed by the sweep.",
	})
)

func init() {
	prometheus.MustRegister(
		generationsStartedTotal,
		generationsCompletedTotal,
		generationsFailedTotal,
		validationParseFailuresTotal,
		webhookDeliveriesTotal,
		webhookFailuresTotal,
		queueItemsProcessedTotal,
	)
}
