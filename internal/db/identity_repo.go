package db

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"memberlane/internal/types"
)

// IdentityRepo provides data access for the identities table. Identities are
// the authentication records that accounts key on: an account's ID always
// equals its identity's ID.
type IdentityRepo struct {
	db DBTX
}

// NewIdentityRepo creates a new IdentityRepo backed by the given database
// connection (pool or transaction).
func NewIdentityRepo(db DBTX) *IdentityRepo {
	return &IdentityRepo{db: db}
}

// GetByEmail retrieves an identity by email, matched case-insensitively.
// Returns ErrCodeNotFoundIdentity if no identity exists.
func (r *IdentityRepo) GetByEmail(ctx context.Context, email string) (*types.Identity, error) {
	var id types.Identity
	err := r.db.QueryRow(ctx,
		`SELECT id, email, created_at
		 FROM identities
		 WHERE lower(email) = lower($1)`,
		strings.TrimSpace(email),
	).Scan(&id.ID, &id.Email, &id.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundIdentity, "identity not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve identity", err)
	}
	return &id, nil
}

// Insert creates a new identity with a credential hash. Returns
// ErrCodeConflictEmail if another identity already holds the email; callers
// racing on the same email should re-read by email and use the winner's row.
func (r *IdentityRepo) Insert(ctx context.Context, identity *types.Identity, credentialHash string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO identities (id, email, credential_hash, created_at)
		 VALUES ($1, $2, $3, NOW())`,
		identity.ID,
		strings.TrimSpace(identity.Email),
		credentialHash,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictEmail, "email already registered", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert identity", err)
	}
	return nil
}
