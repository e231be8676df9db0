package billing

import (
	"context"
	"time"
)

// Provider defines the interface for the subscription billing backend.
// The production implementation uses Stripe; tests use MockProvider.
type Provider interface {
	// CreateCustomer creates a billing customer. Called once per user,
	// before their first checkout session.
	CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error)

	// CreateCheckoutSession creates a hosted checkout session for a new
	// subscription. The caller redirects the user to the returned URL.
	CreateCheckoutSession(ctx context.Context, params CreateCheckoutSessionParams) (*CheckoutSession, error)

	// CreatePortalSession creates a customer portal session where the
	// user can manage payment methods and cancel their subscription.
	CreatePortalSession(ctx context.Context, params CreatePortalSessionParams) (*PortalSession, error)

	// GetSubscription retrieves the current state of a subscription from
	// the provider. Used to reconcile after checkout completes.
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)

	// CancelSubscription cancels a subscription, either immediately or
	// at the end of the current billing period.
	CancelSubscription(ctx context.Context, params CancelSubscriptionParams) error

	// VerifyWebhookSignature verifies that a webhook request is authentic.
	VerifyWebhookSignature(payload []byte, signature string, secret string) error
}

// CreateCustomerParams contains parameters for creating a billing customer.
type CreateCustomerParams struct {
	Email string

	// Metadata is attached to the customer record. Always includes the
	// local user id.
	Metadata map[string]string
}

// Customer represents a billing customer.
type Customer struct {
	ID    string
	Email string
}

// CreateCheckoutSessionParams contains parameters for creating a checkout session.
type CreateCheckoutSessionParams struct {
	// PriceID is the provider's price identifier for the plan.
	PriceID string

	// CustomerID attaches the session to an existing billing customer.
	CustomerID string

	// CustomerEmail prefills the email field in the checkout page when
	// CustomerID is empty.
	CustomerEmail string

	// SuccessURL is where the user lands after completing payment.
	SuccessURL string

	// CancelURL is where the user lands after abandoning checkout.
	CancelURL string

	// TrialDays starts the subscription with a free trial when > 0.
	TrialDays int64

	// Metadata is attached to the created subscription. Always includes
	// the local user id so webhooks can be matched back to a user.
	Metadata map[string]string
}

// CheckoutSession represents a hosted checkout session.
type CheckoutSession struct {
	ID  string
	URL string
}

// CreatePortalSessionParams contains parameters for creating a portal session.
type CreatePortalSessionParams struct {
	CustomerID string
	ReturnURL  string
}

// PortalSession represents a customer portal session.
type PortalSession struct {
	ID  string
	URL string
}

// CancelSubscriptionParams contains parameters for canceling a subscription.
type CancelSubscriptionParams struct {
	SubscriptionID string

	// AtPeriodEnd keeps the subscription active until the period ends
	// instead of canceling immediately.
	AtPeriodEnd bool
}

// Subscription represents a subscription as known by the billing provider.
type Subscription struct {
	ID                string
	CustomerID        string
	Status            string // provider status: "active", "trialing", "past_due", ...
	CurrentPeriodEnd  time.Time
	CancelAtPeriodEnd bool
	Metadata          map[string]string
	CreatedAt         time.Time
}
