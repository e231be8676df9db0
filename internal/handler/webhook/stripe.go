package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v82"

	"github.com/martacalvinho/buddy-billing/internal/billing"
	"github.com/martacalvinho/buddy-billing/internal/service"
	"github.com/martacalvinho/buddy-billing/internal/telemetry"
)

// maxPayloadBytes caps webhook request bodies. Stripe events are small;
// anything larger is not a legitimate delivery.
const maxPayloadBytes = 1 << 20

// StripeHandler handles Stripe webhook events.
type StripeHandler struct {
	provider   billing.Provider
	reconciler *service.Reconciler
	config     StripeWebhookConfig
	logger     *slog.Logger
}

// StripeWebhookConfig contains configuration for Stripe webhook handling.
type StripeWebhookConfig struct {
	// WebhookSecret is the webhook signing secret from the Stripe dashboard
	WebhookSecret string
}

// NewStripeHandler creates a new Stripe webhook handler.
//
// Stripe CLI testing:
//
//	stripe listen --forward-to localhost:8080/webhooks/stripe
//	stripe trigger checkout.session.completed
func NewStripeHandler(provider billing.Provider, reconciler *service.Reconciler, config StripeWebhookConfig, logger *slog.Logger) *StripeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeHandler{
		provider:   provider,
		reconciler: reconciler,
		config:     config,
		logger:     logger.With("component", "stripe_webhook"),
	}
}

// HandleWebhook processes incoming Stripe webhook events.
//
// Response contract:
//   - invalid signature: 400, nothing touched
//   - duplicate event id: 200 with status "duplicate"
//   - processing failure: 500 so Stripe redelivers
//   - everything else, including unhandled event types: 200
func (h *StripeHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxPayloadBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Warn("failed to read webhook payload", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Unreadable payload"})
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if err := h.provider.VerifyWebhookSignature(payload, signature, h.config.WebhookSecret); err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid signature"})
		return
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Warn("failed to parse webhook event", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
		return
	}

	eventType := string(event.Type)
	h.logger.Info("webhook received", "event_id", event.ID, "event_type", eventType)

	if telemetry.Business != nil {
		telemetry.Business.WebhookReceived.WithLabelValues(eventType).Inc()
	}
	defer func() {
		if telemetry.Business != nil {
			telemetry.Business.WebhookLatency.WithLabelValues(eventType).Observe(time.Since(startTime).Seconds())
		}
	}()

	err = h.dispatch(r, event)

	if errors.Is(err, service.ErrDuplicateEvent) {
		h.logger.Info("duplicate webhook delivery", "event_id", event.ID, "event_type", eventType)
		if telemetry.Business != nil {
			telemetry.Business.WebhookDuplicate.WithLabelValues(eventType).Inc()
		}
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "status": "duplicate"})
		return
	}

	if err != nil {
		h.logger.Error("webhook processing failed", "event_id", event.ID, "event_type", eventType, "error", err)
		if telemetry.Business != nil {
			telemetry.Business.WebhookFailed.WithLabelValues(eventType, "processing_failed").Inc()
		}
		telemetry.CaptureErrorFromContext(r.Context(), err, map[string]interface{}{
			"event_id":   event.ID,
			"event_type": eventType,
		})
		// 500 tells Stripe to redeliver
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Processing failed"})
		return
	}

	if telemetry.Business != nil {
		telemetry.Business.WebhookProcessed.WithLabelValues(eventType).Inc()
	}
	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}

// dispatch parses the event payload and hands it to the reconciler.
func (h *StripeHandler) dispatch(r *http.Request, event stripe.Event) error {
	ctx := r.Context()
	eventTime := time.Unix(event.Created, 0)

	switch event.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			h.logger.Error("failed to parse checkout session", "event_id", event.ID, "error", err)
			return nil
		}
		return h.reconciler.ProcessCheckoutCompleted(ctx, service.CheckoutCompletedEvent{
			EventID:        event.ID,
			EventTime:      eventTime,
			SessionID:      session.ID,
			CustomerID:     customerID(session.Customer),
			SubscriptionID: subscriptionID(session.Subscription),
			CustomerEmail:  sessionEmail(&session),
			UserID:         sessionUserID(&session),
		})

	case "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			h.logger.Error("failed to parse subscription", "event_id", event.ID, "error", err)
			return nil
		}
		return h.reconciler.ProcessSubscriptionUpdated(ctx, service.SubscriptionUpdatedEvent{
			EventID:          event.ID,
			EventTime:        eventTime,
			SubscriptionID:   sub.ID,
			CustomerID:       customerID(sub.Customer),
			ProviderStatus:   string(sub.Status),
			CurrentPeriodEnd: subscriptionPeriodEnd(&sub),
			UserID:           sub.Metadata["user_id"],
		})

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			h.logger.Error("failed to parse subscription", "event_id", event.ID, "error", err)
			return nil
		}
		return h.reconciler.ProcessSubscriptionDeleted(ctx, service.SubscriptionDeletedEvent{
			EventID:        event.ID,
			EventTime:      eventTime,
			SubscriptionID: sub.ID,
			CustomerID:     customerID(sub.Customer),
		})

	case "invoice.payment_failed":
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			h.logger.Error("failed to parse invoice", "event_id", event.ID, "error", err)
			return nil
		}
		return h.reconciler.ProcessInvoicePaymentFailed(ctx, service.InvoicePaymentFailedEvent{
			EventID:        event.ID,
			EventTime:      eventTime,
			SubscriptionID: invoiceSubscriptionID(&invoice),
			CustomerID:     customerID(invoice.Customer),
		})

	default:
		h.logger.Debug("unhandled event type", "event_id", event.ID, "event_type", event.Type)
		return nil
	}
}

// sessionUserID extracts our user id from a checkout session. Metadata
// wins; the client reference id is the fallback for sessions created
// outside this service.
func sessionUserID(session *stripe.CheckoutSession) string {
	if id := session.Metadata["user_id"]; id != "" {
		return id
	}
	return session.ClientReferenceID
}

func sessionEmail(session *stripe.CheckoutSession) string {
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		return session.CustomerDetails.Email
	}
	return session.CustomerEmail
}

// invoiceSubscriptionID extracts the subscription id from an invoice.
// Returns "" for one-off invoices.
func invoiceSubscriptionID(invoice *stripe.Invoice) string {
	if invoice.Parent == nil || invoice.Parent.SubscriptionDetails == nil {
		return ""
	}
	return subscriptionID(invoice.Parent.SubscriptionDetails.Subscription)
}

func subscriptionPeriodEnd(sub *stripe.Subscription) time.Time {
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return time.Time{}
	}
	return time.Unix(sub.Items.Data[0].CurrentPeriodEnd, 0)
}

func customerID(customer *stripe.Customer) string {
	if customer == nil {
		return ""
	}
	return customer.ID
}

func subscriptionID(sub *stripe.Subscription) string {
	if sub == nil {
		return ""
	}
	return sub.ID
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
