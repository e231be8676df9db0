package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// SUBSCRIPTION DOMAIN TYPES
// =============================================================================

// Plan represents the product tier a user is on.
type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

// ValidPlan reports whether p is a known plan value.
func ValidPlan(p Plan) bool {
	return p == PlanFree || p == PlanPro
}

// SubscriptionStatus represents the billing state of a subscription.
type SubscriptionStatus string

const (
	StatusActive   SubscriptionStatus = "active"
	StatusTrialing SubscriptionStatus = "trialing"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
)

// ValidStatus reports whether s is a known subscription status.
func ValidStatus(s SubscriptionStatus) bool {
	switch s {
	case StatusActive, StatusTrialing, StatusPastDue, StatusCanceled:
		return true
	}
	return false
}

// MapProviderStatus collapses a billing provider's subscription status
// into our internal status set. Provider states we don't model directly
// (incomplete, unpaid, paused) map to the nearest internal state.
func MapProviderStatus(providerStatus string) SubscriptionStatus {
	switch providerStatus {
	case "active":
		return StatusActive
	case "trialing":
		return StatusTrialing
	case "past_due", "unpaid":
		return StatusPastDue
	case "canceled", "incomplete_expired":
		return StatusCanceled
	case "incomplete", "paused":
		return StatusPastDue
	default:
		return StatusCanceled
	}
}

// =============================================================================
// STATUS TRANSITIONS
// =============================================================================

// StatusTransition is a directed edge in the subscription lifecycle.
type StatusTransition struct {
	From SubscriptionStatus
	To   SubscriptionStatus
}

// validTransitions enumerates the lifecycle edges a webhook is allowed
// to apply. Self transitions are always permitted since the provider
// resends the full object on any attribute change.
var validTransitions = map[StatusTransition]bool{
	{StatusTrialing, StatusActive}:   true,
	{StatusTrialing, StatusPastDue}:  true,
	{StatusTrialing, StatusCanceled}: true,
	{StatusActive, StatusPastDue}:    true,
	{StatusActive, StatusCanceled}:   true,
	{StatusPastDue, StatusActive}:    true,
	{StatusPastDue, StatusCanceled}:  true,
	{StatusCanceled, StatusActive}:   true,
	{StatusCanceled, StatusTrialing}: true,
}

// CanTransition reports whether a subscription may move from one status
// to another. Used to reject stale or out-of-order webhook deliveries.
func CanTransition(from, to SubscriptionStatus) bool {
	if from == to {
		return true
	}
	return validTransitions[StatusTransition{From: from, To: to}]
}

// =============================================================================
// SUBSCRIPTION RECORD
// =============================================================================

// Subscription is the billing record for a single user. There is at most
// one row per user; free users may have no row at all.
type Subscription struct {
	UserID               uuid.UUID
	Email                string
	StripeCustomerID     string
	StripeSubscriptionID string
	Plan                 Plan
	Status               SubscriptionStatus
	CurrentPeriodEnd     time.Time
	UpdatedAt            time.Time
}

// IsEntitled reports whether the subscription grants access to paid
// features. Past-due subscriptions retain access until the provider
// gives up retrying and cancels.
func (s *Subscription) IsEntitled() bool {
	if s == nil {
		return false
	}
	if s.Plan != PlanPro {
		return false
	}
	switch s.Status {
	case StatusActive, StatusTrialing, StatusPastDue:
		return true
	}
	return false
}

// EffectivePlan returns the plan access level the subscription grants,
// treating a missing or canceled subscription as free.
func (s *Subscription) EffectivePlan() Plan {
	if s.IsEntitled() {
		return PlanPro
	}
	return PlanFree
}

// =============================================================================
// STORE INTERFACE
// =============================================================================

// UpsertSubscriptionParams contains the full desired state of a
// subscription row written after checkout completes.
type UpsertSubscriptionParams struct {
	UserID               uuid.UUID
	Email                string
	StripeCustomerID     string
	StripeSubscriptionID string
	Plan                 Plan
	Status               SubscriptionStatus
	CurrentPeriodEnd     time.Time
}

// UpdateStatusParams contains a status change driven by a webhook.
// EventTime is the provider's event creation time and is used to
// discard deliveries older than the row's last update.
type UpdateStatusParams struct {
	UserID           uuid.UUID
	Status           SubscriptionStatus
	Plan             Plan
	CurrentPeriodEnd time.Time
	EventTime        time.Time
}

// SubscriptionStore persists subscription rows and webhook event ids.
type SubscriptionStore interface {
	// Get returns the subscription for a user, or ErrSubscriptionNotFound.
	Get(ctx context.Context, userID uuid.UUID) (*Subscription, error)

	// GetByStripeSubscriptionID looks up a subscription by the provider's
	// subscription id.
	GetByStripeSubscriptionID(ctx context.Context, subscriptionID string) (*Subscription, error)

	// GetByStripeCustomerID looks up a subscription by the provider's
	// customer id. Fallback path for payloads that omit metadata.
	GetByStripeCustomerID(ctx context.Context, customerID string) (*Subscription, error)

	// Upsert inserts or fully replaces the row for params.UserID.
	Upsert(ctx context.Context, params UpsertSubscriptionParams) error

	// UpdateStatus applies a guarded status change. Returns false without
	// error when the row is missing, the transition is not allowed, or
	// the row was updated after params.EventTime.
	UpdateStatus(ctx context.Context, params UpdateStatusParams) (bool, error)

	// SetCanceled forces the row to canceled/free regardless of its
	// current status. Used for provider-side subscription deletion.
	SetCanceled(ctx context.Context, userID uuid.UUID, eventTime time.Time) error

	// Delete removes the subscription row. Returns false when no row
	// existed.
	Delete(ctx context.Context, userID uuid.UUID) (bool, error)

	// SeenEvent records a webhook event id. Returns true if the id was
	// new, false if it was already recorded.
	SeenEvent(ctx context.Context, eventID, eventType string) (bool, error)

	// ForgetEvent removes a recorded event id so the provider's retry
	// can be reprocessed after a handler failure.
	ForgetEvent(ctx context.Context, eventID string) error
}

// =============================================================================
// DOMAIN ERRORS
// =============================================================================

// Subscription-specific errors.
var (
	ErrSubscriptionNotFound = &Error{Code: ENOTFOUND, Message: "Subscription not found"}
	ErrUnknownPlan          = &Error{Code: EINVALID, Message: "Unknown plan"}
	ErrStaleEvent           = &Error{Code: ECONFLICT, Message: "Event is older than current subscription state"}
)
