package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MockProvider is a mock billing provider for testing.
// Simulates billing flows without calling the Stripe API.
type MockProvider struct {
	// CreateCustomerFunc allows customizing customer creation behavior
	CreateCustomerFunc func(ctx context.Context, params CreateCustomerParams) (*Customer, error)

	// CreateCheckoutSessionFunc allows customizing checkout creation behavior
	CreateCheckoutSessionFunc func(ctx context.Context, params CreateCheckoutSessionParams) (*CheckoutSession, error)

	// CreatePortalSessionFunc allows customizing portal session behavior
	CreatePortalSessionFunc func(ctx context.Context, params CreatePortalSessionParams) (*PortalSession, error)

	// GetSubscriptionFunc allows customizing subscription retrieval behavior
	GetSubscriptionFunc func(ctx context.Context, subscriptionID string) (*Subscription, error)

	// CancelSubscriptionFunc allows customizing cancellation behavior
	CancelSubscriptionFunc func(ctx context.Context, params CancelSubscriptionParams) error

	// VerifyWebhookSignatureFunc allows customizing webhook verification behavior
	VerifyWebhookSignatureFunc func(payload []byte, signature string, secret string) error

	// Subscriptions stores subscriptions for retrieval by default behavior
	Subscriptions map[string]*Subscription

	// CallLog tracks method calls for test assertions
	CallLog []string
}

// NewMockProvider creates a new mock billing provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Subscriptions: make(map[string]*Subscription),
		CallLog:       []string{},
	}
}

// CreateCustomer creates a mock customer.
func (m *MockProvider) CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CreateCustomer(%s)", params.Email))

	if m.CreateCustomerFunc != nil {
		return m.CreateCustomerFunc(ctx, params)
	}

	return &Customer{
		ID:    "cus_test_" + uuid.New().String(),
		Email: params.Email,
	}, nil
}

// CreateCheckoutSession creates a mock checkout session.
func (m *MockProvider) CreateCheckoutSession(ctx context.Context, params CreateCheckoutSessionParams) (*CheckoutSession, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CreateCheckoutSession(%s, %s)", params.PriceID, params.CustomerEmail))

	if m.CreateCheckoutSessionFunc != nil {
		return m.CreateCheckoutSessionFunc(ctx, params)
	}

	id := "cs_test_" + uuid.New().String()
	return &CheckoutSession{
		ID:  id,
		URL: "https://checkout.stripe.com/c/pay/" + id,
	}, nil
}

// CreatePortalSession creates a mock portal session.
func (m *MockProvider) CreatePortalSession(ctx context.Context, params CreatePortalSessionParams) (*PortalSession, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CreatePortalSession(%s)", params.CustomerID))

	if m.CreatePortalSessionFunc != nil {
		return m.CreatePortalSessionFunc(ctx, params)
	}

	id := "bps_test_" + uuid.New().String()
	return &PortalSession{
		ID:  id,
		URL: "https://billing.stripe.com/p/session/" + id,
	}, nil
}

// GetSubscription returns a stored mock subscription.
func (m *MockProvider) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("GetSubscription(%s)", subscriptionID))

	if m.GetSubscriptionFunc != nil {
		return m.GetSubscriptionFunc(ctx, subscriptionID)
	}

	sub, exists := m.Subscriptions[subscriptionID]
	if !exists {
		return nil, ErrSubscriptionNotFound
	}
	return sub, nil
}

// CancelSubscription cancels a stored mock subscription.
func (m *MockProvider) CancelSubscription(ctx context.Context, params CancelSubscriptionParams) error {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CancelSubscription(%s, atPeriodEnd=%t)", params.SubscriptionID, params.AtPeriodEnd))

	if m.CancelSubscriptionFunc != nil {
		return m.CancelSubscriptionFunc(ctx, params)
	}

	sub, exists := m.Subscriptions[params.SubscriptionID]
	if !exists {
		return ErrSubscriptionNotFound
	}
	if params.AtPeriodEnd {
		sub.CancelAtPeriodEnd = true
	} else {
		sub.Status = "canceled"
	}
	return nil
}

// VerifyWebhookSignature verifies a mock webhook signature.
// Default behavior accepts any non-empty signature.
func (m *MockProvider) VerifyWebhookSignature(payload []byte, signature string, secret string) error {
	m.CallLog = append(m.CallLog, "VerifyWebhookSignature")

	if m.VerifyWebhookSignatureFunc != nil {
		return m.VerifyWebhookSignatureFunc(payload, signature, secret)
	}

	if signature == "" {
		return ErrInvalidWebhookSignature
	}
	return nil
}

// AddSubscription seeds a subscription for default mock behavior.
func (m *MockProvider) AddSubscription(sub *Subscription) {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	m.Subscriptions[sub.ID] = sub
}
