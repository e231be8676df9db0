package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/martacalvinho/buddy-billing/internal/domain"
)

// SubscriptionStore implements domain.SubscriptionStore using PostgreSQL.
type SubscriptionStore struct {
	pool *pgxpool.Pool
}

// Compile-time check to ensure SubscriptionStore implements domain.SubscriptionStore.
var _ domain.SubscriptionStore = (*SubscriptionStore)(nil)

// NewSubscriptionStore creates a new SubscriptionStore instance.
func NewSubscriptionStore(pool *pgxpool.Pool) *SubscriptionStore {
	return &SubscriptionStore{pool: pool}
}

const subscriptionColumns = `user_id, email, stripe_customer_id, stripe_subscription_id, plan, status, current_period_end, updated_at`

// scanSubscription reads one subscription row.
func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var sub domain.Subscription
	var periodEnd pgtype.Timestamptz

	err := row.Scan(
		&sub.UserID,
		&sub.Email,
		&sub.StripeCustomerID,
		&sub.StripeSubscriptionID,
		&sub.Plan,
		&sub.Status,
		&periodEnd,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if periodEnd.Valid {
		sub.CurrentPeriodEnd = periodEnd.Time
	}
	return &sub, nil
}

// Get returns the subscription for a user.
func (s *SubscriptionStore) Get(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = $1`

	sub, err := scanSubscription(s.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// GetByStripeSubscriptionID looks up a subscription by provider subscription id.
func (s *SubscriptionStore) GetByStripeSubscriptionID(ctx context.Context, subscriptionID string) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE stripe_subscription_id = $1`

	sub, err := scanSubscription(s.pool.QueryRow(ctx, query, subscriptionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription by provider id: %w", err)
	}
	return sub, nil
}

// GetByStripeCustomerID looks up a subscription by provider customer id.
func (s *SubscriptionStore) GetByStripeCustomerID(ctx context.Context, customerID string) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE stripe_customer_id = $1`

	sub, err := scanSubscription(s.pool.QueryRow(ctx, query, customerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription by customer id: %w", err)
	}
	return sub, nil
}

// Upsert inserts or fully replaces the row for params.UserID.
func (s *SubscriptionStore) Upsert(ctx context.Context, params domain.UpsertSubscriptionParams) error {
	query := `
		INSERT INTO subscriptions (user_id, email, stripe_customer_id, stripe_subscription_id, plan, status, current_period_end, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (user_id) DO UPDATE SET
			email = CASE WHEN EXCLUDED.email <> '' THEN EXCLUDED.email ELSE subscriptions.email END,
			stripe_customer_id = EXCLUDED.stripe_customer_id,
			stripe_subscription_id = EXCLUDED.stripe_subscription_id,
			plan = EXCLUDED.plan,
			status = EXCLUDED.status,
			current_period_end = EXCLUDED.current_period_end,
			updated_at = now()`

	periodEnd := pgtype.Timestamptz{Time: params.CurrentPeriodEnd, Valid: !params.CurrentPeriodEnd.IsZero()}

	_, err := s.pool.Exec(ctx, query,
		params.UserID,
		params.Email,
		params.StripeCustomerID,
		params.StripeSubscriptionID,
		params.Plan,
		params.Status,
		periodEnd,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// UpdateStatus applies a guarded status change inside a transaction.
// The row is locked, the lifecycle transition is validated, and events
// older than the row's last update are discarded. Returns false without
// error when the change is rejected.
func (s *SubscriptionStore) UpdateStatus(ctx context.Context, params domain.UpdateStatusParams) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = $1 FOR UPDATE`
	current, err := scanSubscription(tx.QueryRow(ctx, query, params.UserID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to lock subscription: %w", err)
	}

	if !params.EventTime.IsZero() && current.UpdatedAt.After(params.EventTime) {
		return false, nil
	}
	if !domain.CanTransition(current.Status, params.Status) {
		return false, nil
	}

	plan := params.Plan
	if plan == "" {
		plan = current.Plan
	}
	periodEnd := pgtype.Timestamptz{Time: params.CurrentPeriodEnd, Valid: !params.CurrentPeriodEnd.IsZero()}
	if !periodEnd.Valid && !current.CurrentPeriodEnd.IsZero() {
		periodEnd = pgtype.Timestamptz{Time: current.CurrentPeriodEnd, Valid: true}
	}

	update := `
		UPDATE subscriptions
		SET status = $2, plan = $3, current_period_end = $4, updated_at = now()
		WHERE user_id = $1`
	if _, err := tx.Exec(ctx, update, params.UserID, params.Status, plan, periodEnd); err != nil {
		return false, fmt.Errorf("failed to update subscription status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit status update: %w", err)
	}
	return true, nil
}

// SetCanceled forces the row to canceled/free regardless of current status.
func (s *SubscriptionStore) SetCanceled(ctx context.Context, userID uuid.UUID, eventTime time.Time) error {
	query := `
		UPDATE subscriptions
		SET status = 'canceled', plan = 'free', updated_at = now()
		WHERE user_id = $1`

	tag, err := s.pool.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("failed to cancel subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSubscriptionNotFound
	}
	return nil
}

// Delete removes the subscription row. Returns false when no row existed.
func (s *SubscriptionStore) Delete(ctx context.Context, userID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM subscriptions WHERE user_id = $1`, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete subscription: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SeenEvent records a webhook event id. Returns true if the id was new.
func (s *SubscriptionStore) SeenEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	query := `
		INSERT INTO webhook_events (event_id, event_type, received_at)
		VALUES ($1, $2, now())
		ON CONFLICT (event_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query, eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("failed to record webhook event: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ForgetEvent removes a recorded event id so a retry can be reprocessed.
func (s *SubscriptionStore) ForgetEvent(ctx context.Context, eventID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM webhook_events WHERE event_id = $1`, eventID); err != nil {
		return fmt.Errorf("failed to forget webhook event: %w", err)
	}
	return nil
}
