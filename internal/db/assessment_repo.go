package db

import (
	"context"

	"memberlane/internal/types"
)

// AssessmentRepo provides the claim operation on lead-funnel assessments.
// The funnel owns the rest of the assessment lifecycle; billing only stamps
// which account claimed a result during checkout.
type AssessmentRepo struct {
	db DBTX
}

// NewAssessmentRepo creates a new AssessmentRepo backed by the given database
// connection (pool or transaction).
func NewAssessmentRepo(db DBTX) *AssessmentRepo {
	return &AssessmentRepo{db: db}
}

// MarkClaimed stamps the assessment as claimed by the account. Claiming is
// first-writer-wins: a replay finds claimed_at already set and leaves it.
// Returns ErrCodeNotFoundAssessment for an unknown reference so callers can
// log it; this write is always best-effort at the call site.
func (r *AssessmentRepo) MarkClaimed(ctx context.Context, assessmentRef, accountID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE assessments
		 SET claimed_by_account_id = COALESCE(claimed_by_account_id, $1),
		     claimed_at = COALESCE(claimed_at, NOW())
		 WHERE external_ref = $2`,
		accountID,
		assessmentRef,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to claim assessment", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundAssessment, "assessment not found", nil)
	}
	return nil
}
