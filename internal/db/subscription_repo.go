package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"memberlane/internal/types"
)

// SubscriptionRepo provides data access for the subscriptions table, the
// local mirror of Stripe's recurring-billing objects.
//
// Key invariants:
//   - Exactly one row per stripe_subscription_id: every write is a single
//     INSERT ... ON CONFLICT upsert, never read-modify-write, so concurrent
//     deliveries of the same event cannot interleave into duplicates.
//   - Events arrive at least once and out of order; all mutations here are
//     safe to replay.
type SubscriptionRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewSubscriptionRepo creates a new SubscriptionRepo backed by the given
// database connection (pool or transaction).
func NewSubscriptionRepo(db DBTX, logger *slog.Logger) *SubscriptionRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionRepo{db: db, logger: logger}
}

const subscriptionColumns = `s.id, s.account_id, s.stripe_subscription_id, s.stripe_customer_id,
	s.status, s.tier, s.billing_cycle, s.unit_amount_cents,
	s.current_period_start, s.current_period_end, s.canceled_at, s.created_at, s.updated_at`

func scanSubscription(row pgx.Row) (*types.Subscription, error) {
	var s types.Subscription
	err := row.Scan(
		&s.ID,
		&s.AccountID,
		&s.StripeSubscriptionID,
		&s.StripeCustomerID,
		&s.Status,
		&s.Tier,
		&s.BillingCycle,
		&s.UnitAmountCents,
		&s.CurrentPeriodStart,
		&s.CurrentPeriodEnd,
		&s.CanceledAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Upsert inserts or updates a subscription keyed on its external ID in a
// single statement. canceled_at is preserved on update so a late replay of an
// older event cannot resurrect a canceled subscription's timestamp.
func (r *SubscriptionRepo) Upsert(ctx context.Context, s *types.Subscription) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO subscriptions
		   (id, account_id, stripe_subscription_id, stripe_customer_id, status, tier,
		    billing_cycle, unit_amount_cents, current_period_start, current_period_end,
		    canceled_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		 ON CONFLICT (stripe_subscription_id) DO UPDATE SET
		   account_id = EXCLUDED.account_id,
		   stripe_customer_id = EXCLUDED.stripe_customer_id,
		   status = EXCLUDED.status,
		   tier = EXCLUDED.tier,
		   billing_cycle = EXCLUDED.billing_cycle,
		   unit_amount_cents = EXCLUDED.unit_amount_cents,
		   current_period_start = EXCLUDED.current_period_start,
		   current_period_end = EXCLUDED.current_period_end,
		   canceled_at = COALESCE(subscriptions.canceled_at, EXCLUDED.canceled_at),
		   updated_at = NOW()`,
		uuid.NewString(),
		s.AccountID,
		s.StripeSubscriptionID,
		s.StripeCustomerID,
		s.Status,
		s.Tier,
		s.BillingCycle,
		s.UnitAmountCents,
		s.CurrentPeriodStart,
		s.CurrentPeriodEnd,
		s.CanceledAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert subscription", err)
	}
	return nil
}

// ExistsByStripeSubscriptionID reports whether a local row already mirrors the
// given external subscription.
func (r *SubscriptionRepo) ExistsByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM subscriptions WHERE stripe_subscription_id = $1)`,
		stripeSubscriptionID,
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check subscription existence", err)
	}
	return exists, nil
}

// GetByStripeSubscriptionID retrieves the local mirror of an external
// subscription. Returns ErrCodeNotFoundSubscription if none exists.
func (r *SubscriptionRepo) GetByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (*types.Subscription, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions s
		 WHERE s.stripe_subscription_id = $1`,
		stripeSubscriptionID,
	)
	s, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve subscription", err)
	}
	return s, nil
}

// MarkCanceled terminates the subscription, stamping canceled_at exactly once.
// Replays find canceled_at already set and leave it untouched. A missing row
// is reported as ErrCodeNotFoundSubscription so callers can decide whether to
// treat the event as skippable.
func (r *SubscriptionRepo) MarkCanceled(ctx context.Context, stripeSubscriptionID string, canceledAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET status = $1,
		     canceled_at = COALESCE(canceled_at, $2),
		     updated_at = NOW()
		 WHERE stripe_subscription_id = $3`,
		types.SubStatusCanceled,
		canceledAt,
		stripeSubscriptionID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to cancel subscription", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil)
	}
	return nil
}

// UpdateStatus sets the subscription status from a billing outcome event
// (invoice paid or failed). A missing row is reported as
// ErrCodeNotFoundSubscription; out-of-order deliveries before the
// subscription exists are the caller's decision to skip.
func (r *SubscriptionRepo) UpdateStatus(ctx context.Context, stripeSubscriptionID string, status types.SubscriptionStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET status = $1,
		     updated_at = NOW()
		 WHERE stripe_subscription_id = $2`,
		status,
		stripeSubscriptionID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription status", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil)
	}
	return nil
}
