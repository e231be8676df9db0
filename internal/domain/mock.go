package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MockSubscriptionStore is an in-memory SubscriptionStore for testing.
// Default behaviors operate on the Subs and Events maps and mirror the
// guard semantics of the Postgres store. Each method can be overridden
// with a function field.
type MockSubscriptionStore struct {
	GetFunc                        func(ctx context.Context, userID uuid.UUID) (*Subscription, error)
	GetByStripeSubscriptionIDFunc  func(ctx context.Context, subscriptionID string) (*Subscription, error)
	GetByStripeCustomerIDFunc      func(ctx context.Context, customerID string) (*Subscription, error)
	UpsertFunc                     func(ctx context.Context, params UpsertSubscriptionParams) error
	UpdateStatusFunc               func(ctx context.Context, params UpdateStatusParams) (bool, error)
	SetCanceledFunc                func(ctx context.Context, userID uuid.UUID, eventTime time.Time) error
	DeleteFunc                     func(ctx context.Context, userID uuid.UUID) (bool, error)
	SeenEventFunc                  func(ctx context.Context, eventID, eventType string) (bool, error)
	ForgetEventFunc                func(ctx context.Context, eventID string) error

	// Subs holds subscription rows keyed by user id
	Subs map[uuid.UUID]*Subscription

	// Events holds recorded webhook event ids
	Events map[string]string

	// CallLog tracks method calls for test assertions
	CallLog []string
}

var _ SubscriptionStore = (*MockSubscriptionStore)(nil)

// NewMockSubscriptionStore creates an empty in-memory store.
func NewMockSubscriptionStore() *MockSubscriptionStore {
	return &MockSubscriptionStore{
		Subs:   make(map[uuid.UUID]*Subscription),
		Events: make(map[string]string),
	}
}

func (m *MockSubscriptionStore) Get(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("Get(%s)", userID))

	if m.GetFunc != nil {
		return m.GetFunc(ctx, userID)
	}

	sub, ok := m.Subs[userID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	copied := *sub
	return &copied, nil
}

func (m *MockSubscriptionStore) GetByStripeSubscriptionID(ctx context.Context, subscriptionID string) (*Subscription, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("GetByStripeSubscriptionID(%s)", subscriptionID))

	if m.GetByStripeSubscriptionIDFunc != nil {
		return m.GetByStripeSubscriptionIDFunc(ctx, subscriptionID)
	}

	for _, sub := range m.Subs {
		if sub.StripeSubscriptionID == subscriptionID && subscriptionID != "" {
			copied := *sub
			return &copied, nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (m *MockSubscriptionStore) GetByStripeCustomerID(ctx context.Context, customerID string) (*Subscription, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("GetByStripeCustomerID(%s)", customerID))

	if m.GetByStripeCustomerIDFunc != nil {
		return m.GetByStripeCustomerIDFunc(ctx, customerID)
	}

	for _, sub := range m.Subs {
		if sub.StripeCustomerID == customerID && customerID != "" {
			copied := *sub
			return &copied, nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (m *MockSubscriptionStore) Upsert(ctx context.Context, params UpsertSubscriptionParams) error {
	m.CallLog = append(m.CallLog, fmt.Sprintf("Upsert(%s)", params.UserID))

	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, params)
	}

	email := params.Email
	if email == "" {
		if existing, ok := m.Subs[params.UserID]; ok {
			email = existing.Email
		}
	}
	m.Subs[params.UserID] = &Subscription{
		UserID:               params.UserID,
		Email:                email,
		StripeCustomerID:     params.StripeCustomerID,
		StripeSubscriptionID: params.StripeSubscriptionID,
		Plan:                 params.Plan,
		Status:               params.Status,
		CurrentPeriodEnd:     params.CurrentPeriodEnd,
		UpdatedAt:            time.Now(),
	}
	return nil
}

func (m *MockSubscriptionStore) UpdateStatus(ctx context.Context, params UpdateStatusParams) (bool, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("UpdateStatus(%s, %s)", params.UserID, params.Status))

	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, params)
	}

	sub, ok := m.Subs[params.UserID]
	if !ok {
		return false, nil
	}
	if !params.EventTime.IsZero() && sub.UpdatedAt.After(params.EventTime) {
		return false, nil
	}
	if !CanTransition(sub.Status, params.Status) {
		return false, nil
	}

	sub.Status = params.Status
	if params.Plan != "" {
		sub.Plan = params.Plan
	}
	if !params.CurrentPeriodEnd.IsZero() {
		sub.CurrentPeriodEnd = params.CurrentPeriodEnd
	}
	sub.UpdatedAt = time.Now()
	return true, nil
}

func (m *MockSubscriptionStore) SetCanceled(ctx context.Context, userID uuid.UUID, eventTime time.Time) error {
	m.CallLog = append(m.CallLog, fmt.Sprintf("SetCanceled(%s)", userID))

	if m.SetCanceledFunc != nil {
		return m.SetCanceledFunc(ctx, userID, eventTime)
	}

	sub, ok := m.Subs[userID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	sub.Status = StatusCanceled
	sub.Plan = PlanFree
	sub.UpdatedAt = time.Now()
	return nil
}

func (m *MockSubscriptionStore) Delete(ctx context.Context, userID uuid.UUID) (bool, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("Delete(%s)", userID))

	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, userID)
	}

	if _, ok := m.Subs[userID]; !ok {
		return false, nil
	}
	delete(m.Subs, userID)
	return true, nil
}

func (m *MockSubscriptionStore) SeenEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("SeenEvent(%s)", eventID))

	if m.SeenEventFunc != nil {
		return m.SeenEventFunc(ctx, eventID, eventType)
	}

	if _, ok := m.Events[eventID]; ok {
		return false, nil
	}
	m.Events[eventID] = eventType
	return true, nil
}

func (m *MockSubscriptionStore) ForgetEvent(ctx context.Context, eventID string) error {
	m.CallLog = append(m.CallLog, fmt.Sprintf("ForgetEvent(%s)", eventID))

	if m.ForgetEventFunc != nil {
		return m.ForgetEventFunc(ctx, eventID)
	}

	delete(m.Events, eventID)
	return nil
}
