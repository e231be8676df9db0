package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	stripecustomer "github.com/stripe/stripe-go/v82/customer"
	stripesubscription "github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeProvider implements Provider using the Stripe API.
type StripeProvider struct {
	config StripeConfig
}

// NewStripeProvider creates a new Stripe billing provider.
// Sets the package-level API key used by the Stripe SDK.
func NewStripeProvider(config StripeConfig) (*StripeProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	stripe.Key = config.APIKey

	return &StripeProvider{config: config}, nil
}

// CreateCustomer creates a Stripe customer.
func (s *StripeProvider) CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error) {
	customerParams := &stripe.CustomerParams{
		Metadata: params.Metadata,
	}
	if params.Email != "" {
		customerParams.Email = stripe.String(params.Email)
	}
	customerParams.Context = ctx

	cust, err := stripecustomer.New(customerParams)
	if err != nil {
		return nil, wrapStripeError(err, "failed to create customer")
	}

	return &Customer{
		ID:    cust.ID,
		Email: cust.Email,
	}, nil
}

// CreateCheckoutSession creates a Stripe Checkout session in subscription mode.
func (s *StripeProvider) CreateCheckoutSession(ctx context.Context, params CreateCheckoutSessionParams) (*CheckoutSession, error) {
	if params.PriceID == "" {
		return nil, fmt.Errorf("%w: price ID is required", ErrCheckoutFailed)
	}
	if params.SuccessURL == "" || params.CancelURL == "" {
		return nil, fmt.Errorf("%w: success and cancel URLs are required", ErrCheckoutFailed)
	}

	checkoutParams := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(params.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(params.SuccessURL + "?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(params.CancelURL),
		// Metadata must be set on the session itself, not just the
		// subscription, so checkout.session.completed events carry it.
		Metadata: params.Metadata,
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: params.Metadata,
		},
		AllowPromotionCodes: stripe.Bool(true),
	}
	if userID := params.Metadata["user_id"]; userID != "" {
		checkoutParams.ClientReferenceID = stripe.String(userID)
	}
	if params.CustomerID != "" {
		checkoutParams.Customer = stripe.String(params.CustomerID)
	} else if params.CustomerEmail != "" {
		checkoutParams.CustomerEmail = stripe.String(params.CustomerEmail)
	}
	if params.TrialDays > 0 {
		checkoutParams.SubscriptionData.TrialPeriodDays = stripe.Int64(params.TrialDays)
	}
	checkoutParams.Context = ctx

	session, err := checkoutsession.New(checkoutParams)
	if err != nil {
		return nil, wrapStripeError(err, "failed to create checkout session")
	}

	return &CheckoutSession{
		ID:  session.ID,
		URL: session.URL,
	}, nil
}

// CreatePortalSession creates a Stripe Customer Portal session.
func (s *StripeProvider) CreatePortalSession(ctx context.Context, params CreatePortalSessionParams) (*PortalSession, error) {
	if params.CustomerID == "" {
		return nil, fmt.Errorf("billing: customer ID is required for portal session")
	}

	portalParams := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(params.CustomerID),
		ReturnURL: stripe.String(params.ReturnURL),
	}
	portalParams.Context = ctx

	session, err := portalsession.New(portalParams)
	if err != nil {
		return nil, wrapStripeError(err, "failed to create portal session")
	}

	return &PortalSession{
		ID:  session.ID,
		URL: session.URL,
	}, nil
}

// GetSubscription retrieves a subscription from Stripe.
func (s *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	getParams := &stripe.SubscriptionParams{}
	getParams.Context = ctx

	sub, err := stripesubscription.Get(subscriptionID, getParams)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return nil, ErrSubscriptionNotFound
		}
		return nil, wrapStripeError(err, "failed to get subscription")
	}

	return fromStripeSubscription(sub), nil
}

// CancelSubscription cancels a Stripe subscription. With AtPeriodEnd set,
// the subscription stays active until the period ends and Stripe emits
// customer.subscription.deleted at that point.
func (s *StripeProvider) CancelSubscription(ctx context.Context, params CancelSubscriptionParams) error {
	if params.SubscriptionID == "" {
		return fmt.Errorf("billing: subscription ID is required")
	}

	if params.AtPeriodEnd {
		updateParams := &stripe.SubscriptionParams{
			CancelAtPeriodEnd: stripe.Bool(true),
		}
		updateParams.Context = ctx

		_, err := stripesubscription.Update(params.SubscriptionID, updateParams)
		if err != nil {
			return wrapStripeError(err, "failed to schedule subscription cancellation")
		}
		return nil
	}

	cancelParams := &stripe.SubscriptionCancelParams{}
	cancelParams.Context = ctx

	_, err := stripesubscription.Cancel(params.SubscriptionID, cancelParams)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return ErrSubscriptionNotFound
		}
		return wrapStripeError(err, "failed to cancel subscription")
	}
	return nil
}

// VerifyWebhookSignature verifies a Stripe webhook signature.
// API version mismatches are tolerated so SDK upgrades don't break
// webhook ingestion.
func (s *StripeProvider) VerifyWebhookSignature(payload []byte, signature string, secret string) error {
	_, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWebhookSignature, err)
	}
	return nil
}

// fromStripeSubscription converts a Stripe subscription to our type.
// The current period end lives on the subscription items in the current
// Stripe API.
func fromStripeSubscription(sub *stripe.Subscription) *Subscription {
	out := &Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Metadata:          sub.Metadata,
		CreatedAt:         time.Unix(sub.Created, 0),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		out.CurrentPeriodEnd = time.Unix(sub.Items.Data[0].CurrentPeriodEnd, 0)
	}
	return out
}

// wrapStripeError converts Stripe SDK errors into StripeError.
func wrapStripeError(err error, message string) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return &StripeError{
			Message:       message,
			Code:          string(stripeErr.Code),
			RequestID:     stripeErr.RequestID,
			OriginalError: err,
		}
	}
	return &StripeError{
		Message:       message,
		OriginalError: err,
	}
}
