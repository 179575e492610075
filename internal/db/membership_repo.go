package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"memberlane/internal/types"
)

// MembershipRepo provides data access for the memberships table.
//
// Key invariant: a checkout activates an existing pending membership in place
// rather than inserting a second row, so a signup-then-pay flow yields exactly
// one membership per account. Verification status is never touched by billing
// writes; the verification pipeline owns it.
type MembershipRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewMembershipRepo creates a new MembershipRepo backed by the given database
// connection (pool or transaction).
func NewMembershipRepo(db DBTX, logger *slog.Logger) *MembershipRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &MembershipRepo{db: db, logger: logger}
}

// ActivateOrInsert transitions the account's pending membership to active at
// the given tier, or inserts a fresh active membership if no pending row
// exists. Replays are absorbed by the second UPDATE arm, which refreshes the
// tier on an already-active row without creating duplicates.
func (r *MembershipRepo) ActivateOrInsert(ctx context.Context, accountID string, tier types.MembershipTier) error {
	// Activate a pending membership in place, claiming it for this checkout.
	// An account can carry several stale pending rows from abandoned signups;
	// only the newest may be promoted, or the one-active-per-account index
	// rejects the whole transaction.
	tag, err := r.db.Exec(ctx,
		`UPDATE memberships
		 SET status = $1,
		     tier = $2,
		     activated_at = NOW(),
		     updated_at = NOW()
		 WHERE id = (
		     SELECT id FROM memberships
		     WHERE account_id = $3
		       AND status = $4
		     ORDER BY created_at DESC
		     LIMIT 1
		 )`,
		types.MembershipActive,
		tier,
		accountID,
		types.MembershipPending,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to activate membership", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// No pending row. If an active membership already exists this is a
	// replayed or repeated checkout: refresh the tier and leave activated_at
	// as first set.
	tag, err = r.db.Exec(ctx,
		`UPDATE memberships
		 SET tier = $1,
		     updated_at = NOW()
		 WHERE account_id = $2
		   AND status = $3`,
		tier,
		accountID,
		types.MembershipActive,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to refresh active membership", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// First contact: insert directly in the active state. Verification starts
	// unverified until the member completes that flow.
	_, err = r.db.Exec(ctx,
		`INSERT INTO memberships (id, account_id, tier, status, verification_status, activated_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW(), NOW(), NOW())`,
		uuid.NewString(),
		accountID,
		tier,
		types.MembershipActive,
		types.VerificationUnverified,
	)
	if err != nil {
		if isUniqueViolation(err) {
			// A concurrent replay inserted the row between our UPDATE and
			// INSERT. The membership exists in the desired state.
			r.logger.InfoContext(ctx, "concurrent membership insert absorbed",
				slog.String("account_id", accountID),
			)
			return nil
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert membership", err)
	}
	return nil
}

// GetByAccountID retrieves the account's current membership, preferring the
// active row.
func (r *MembershipRepo) GetByAccountID(ctx context.Context, accountID string) (*types.Membership, error) {
	var m types.Membership
	err := r.db.QueryRow(ctx,
		`SELECT id, account_id, tier, status, verification_status, activated_at, created_at, updated_at
		 FROM memberships
		 WHERE account_id = $1
		 ORDER BY (status = $2) DESC, created_at DESC
		 LIMIT 1`,
		accountID,
		types.MembershipActive,
	).Scan(&m.ID, &m.AccountID, &m.Tier, &m.Status, &m.VerificationStatus, &m.ActivatedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundMembership, "membership not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve membership", err)
	}
	return &m, nil
}
