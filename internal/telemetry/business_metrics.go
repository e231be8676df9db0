package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics holds Prometheus metrics for business-level observability.
type BusinessMetrics struct {
	// Checkout funnel
	CheckoutStarted   *prometheus.CounterVec
	CheckoutCompleted *prometheus.CounterVec

	// Subscriptions
	SubscriptionsCreated  *prometheus.CounterVec
	SubscriptionsCanceled *prometheus.CounterVec
	SubscriptionChurn     *prometheus.CounterVec
	PaymentFailed         *prometheus.CounterVec

	// Webhooks
	WebhookReceived  *prometheus.CounterVec
	WebhookProcessed *prometheus.CounterVec
	WebhookFailed    *prometheus.CounterVec
	WebhookDuplicate *prometheus.CounterVec
	WebhookLatency   *prometheus.HistogramVec

	// Accounts
	AccountsDeleted *prometheus.CounterVec

	// Email delivery
	EmailSent   *prometheus.CounterVec
	EmailFailed *prometheus.CounterVec
}

// NewBusinessMetrics creates and registers all business metrics
func NewBusinessMetrics(namespace string) *BusinessMetrics {
	if namespace == "" {
		namespace = "buddy"
	}

	subsystem := "business"

	m := &BusinessMetrics{
		// =======================================================================
		// Checkout Funnel
		// =======================================================================
		CheckoutStarted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "checkout_started_total",
				Help:      "Total checkout sessions created",
			},
			[]string{"plan"},
		),
		CheckoutCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "checkout_completed_total",
				Help:      "Total checkouts completed (via webhook)",
			},
			[]string{"plan"},
		),

		// =======================================================================
		// Subscriptions
		// =======================================================================
		SubscriptionsCreated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "subscriptions_created_total",
				Help:      "Total subscriptions created",
			},
			[]string{"plan", "status"}, // status: active, trialing
		),
		SubscriptionsCanceled: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "subscriptions_canceled_total",
				Help:      "Total subscriptions canceled",
			},
			[]string{"source"}, // source: user, provider, account_deletion
		),
		SubscriptionChurn: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "subscription_churn_total",
				Help:      "Total subscriptions churned (expired, payment failed permanently)",
			},
			[]string{"churn_reason"}, // churn_reason: payment_failed, canceled
		),
		PaymentFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payment_failed_total",
				Help:      "Total failed subscription payments",
			},
			[]string{"plan"},
		),

		// =======================================================================
		// Webhooks (Stripe)
		// =======================================================================
		WebhookReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_received_total",
				Help:      "Total webhooks received",
			},
			[]string{"event_type"},
		),
		WebhookProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_processed_total",
				Help:      "Total webhooks successfully processed",
			},
			[]string{"event_type"},
		),
		WebhookFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_failed_total",
				Help:      "Total webhook processing failures",
			},
			[]string{"event_type", "error_type"},
		),
		WebhookDuplicate: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_duplicate_total",
				Help:      "Total webhook deliveries skipped as already processed",
			},
			[]string{"event_type"},
		),
		WebhookLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_processing_seconds",
				Help:      "Webhook processing duration",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"event_type"},
		),

		// =======================================================================
		// Accounts
		// =======================================================================
		AccountsDeleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "accounts_deleted_total",
				Help:      "Total account deletions",
			},
			[]string{"had_subscription"}, // "true" or "false"
		),

		// =======================================================================
		// Email Delivery
		// =======================================================================
		EmailSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "emails_sent_total",
				Help:      "Total emails sent by type",
			},
			[]string{"email_type"}, // email_type: subscription_started, payment_failed, etc.
		),
		EmailFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "emails_failed_total",
				Help:      "Total email delivery failures",
			},
			[]string{"email_type"},
		),
	}

	return m
}

// Global instance for easy access from handlers
var Business *BusinessMetrics

// InitBusinessMetrics initializes the global business metrics instance
func InitBusinessMetrics(namespace string) *BusinessMetrics {
	Business = NewBusinessMetrics(namespace)
	return Business
}
