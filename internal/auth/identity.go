// Package auth provides identity provisioning for the Memberlane backend.
// The billing reconciler uses it to resolve a checkout's customer email to a
// durable identity, creating one when the purchase came from a guest checkout
// with no prior signup.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"memberlane/internal/types"
)

// IdentityStore is the repository surface the service needs.
type IdentityStore interface {
	GetByEmail(ctx context.Context, email string) (*types.Identity, error)
	Insert(ctx context.Context, identity *types.Identity, credentialHash string) error
}

// IdentityService resolves emails to identities, provisioning new ones on
// first contact.
type IdentityService struct {
	store  IdentityStore
	logger *slog.Logger
}

// NewIdentityService creates an IdentityService backed by the given store.
func NewIdentityService(store IdentityStore, logger *slog.Logger) *IdentityService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdentityService{store: store, logger: logger}
}

// EnsureIdentity returns the identity for the given email, creating one if
// none exists. Lookup is case-insensitive; the stored email preserves the
// caller's casing from first contact.
//
// A freshly provisioned identity gets an unguessable random credential so the
// row is never loginable until the member completes a password reset flow.
// Concurrent provisioning of the same email is resolved by re-reading after a
// unique violation: the loser adopts the winner's row.
func (s *IdentityService) EnsureIdentity(ctx context.Context, email string) (*types.Identity, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "email is required", nil)
	}

	identity, err := s.store.GetByEmail(ctx, email)
	if err == nil {
		return identity, nil
	}
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeNotFoundIdentity {
		return nil, err
	}

	credentialHash, err := randomCredentialHash()
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to generate initial credential", err)
	}

	identity = &types.Identity{
		ID:    uuid.NewString(),
		Email: email,
	}
	if err := s.store.Insert(ctx, identity, credentialHash); err != nil {
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictEmail {
			// Lost a provisioning race; the winner's row is authoritative.
			s.logger.InfoContext(ctx, "identity provisioning race resolved by re-read",
				slog.String("email", email),
			)
			return s.store.GetByEmail(ctx, email)
		}
		return nil, err
	}

	s.logger.InfoContext(ctx, "identity provisioned",
		slog.String("identity_id", identity.ID),
	)
	return identity, nil
}

// randomCredentialHash produces a bcrypt hash of a random 32-byte secret that
// is never stored or revealed.
func randomCredentialHash() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(buf)
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing credential: %w", err)
	}
	return string(hash), nil
}
