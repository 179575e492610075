package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"memberlane/internal/types"
)

// AccountRepo provides data access for the accounts table. Accounts mirror
// the customer's billing linkage: Stripe customer and subscription IDs plus
// the next billing date.
type AccountRepo struct {
	db DBTX
}

// NewAccountRepo creates a new AccountRepo backed by the given database
// connection (pool or transaction).
func NewAccountRepo(db DBTX) *AccountRepo {
	return &AccountRepo{db: db}
}

const accountColumns = `a.id, a.email, a.stripe_customer_id, a.stripe_subscription_id,
	a.next_billing_at, a.last_assessment_id, a.created_at, a.updated_at`

func scanAccount(row pgx.Row) (*types.Account, error) {
	var a types.Account
	var (
		customerID   *string
		subID        *string
		assessmentID *string
	)
	err := row.Scan(
		&a.ID,
		&a.Email,
		&customerID,
		&subID,
		&a.NextBillingAt,
		&assessmentID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if customerID != nil {
		a.StripeCustomerID = *customerID
	}
	if subID != nil {
		a.StripeSubscriptionID = *subID
	}
	if assessmentID != nil {
		a.LastAssessmentID = *assessmentID
	}
	return &a, nil
}

// Upsert inserts or updates an account keyed on its ID (the identity ID).
// Replayed events hit the ON CONFLICT arm and overwrite billing linkage with
// identical values, so the operation is idempotent by construction.
func (r *AccountRepo) Upsert(ctx context.Context, a *types.Account) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO accounts (id, email, stripe_customer_id, stripe_subscription_id, next_billing_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		 ON CONFLICT (id) DO UPDATE SET
		   email = EXCLUDED.email,
		   stripe_customer_id = EXCLUDED.stripe_customer_id,
		   stripe_subscription_id = EXCLUDED.stripe_subscription_id,
		   next_billing_at = EXCLUDED.next_billing_at,
		   updated_at = NOW()`,
		a.ID,
		a.Email,
		nullIfEmpty(a.StripeCustomerID),
		nullIfEmpty(a.StripeSubscriptionID),
		a.NextBillingAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert account", err)
	}
	return nil
}

// GetByStripeCustomerID resolves an account from the Stripe customer ID
// carried on subscription and invoice events. Returns ErrCodeNotFoundAccount
// if no account is linked to the customer yet.
func (r *AccountRepo) GetByStripeCustomerID(ctx context.Context, customerID string) (*types.Account, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+accountColumns+`
		 FROM accounts a
		 WHERE a.stripe_customer_id = $1`,
		customerID,
	)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundAccount, "no account for stripe customer", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve account", err)
	}
	return a, nil
}

// GetByID retrieves an account by its primary key.
func (r *AccountRepo) GetByID(ctx context.Context, id string) (*types.Account, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+accountColumns+`
		 FROM accounts a
		 WHERE a.id = $1`,
		id,
	)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve account", err)
	}
	return a, nil
}

// UpdateBillingLinkage refreshes the account's cached subscription ID and
// next billing date from the authoritative subscription snapshot.
func (r *AccountRepo) UpdateBillingLinkage(ctx context.Context, accountID, stripeSubscriptionID string, nextBillingAt *time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE accounts
		 SET stripe_subscription_id = $1,
		     next_billing_at = $2,
		     updated_at = NOW()
		 WHERE id = $3`,
		nullIfEmpty(stripeSubscriptionID),
		nextBillingAt,
		accountID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update billing linkage", err)
	}
	return nil
}

// SetLastAssessment links the most recent assessment claimed during checkout.
// Callers treat failures here as best-effort.
func (r *AccountRepo) SetLastAssessment(ctx context.Context, accountID, assessmentID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE accounts
		 SET last_assessment_id = $1,
		     updated_at = NOW()
		 WHERE id = $2`,
		assessmentID,
		accountID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to link assessment", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
	}
	return nil
}

// nullIfEmpty maps empty strings to NULL so unique partial indexes on
// external IDs are not tripped by placeholder values.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
