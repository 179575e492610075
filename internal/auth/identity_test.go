package auth

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"memberlane/internal/types"
)

type fakeIdentityStore struct {
	byEmail       map[string]*types.Identity
	insertErr     error
	insertedHash  string
	insertedCount int
	failFirstGet  bool
}

func newFakeIdentityStore() *fakeIdentityStore {
	return &fakeIdentityStore{byEmail: map[string]*types.Identity{}}
}

func (f *fakeIdentityStore) GetByEmail(ctx context.Context, email string) (*types.Identity, error) {
	if f.failFirstGet {
		f.failFirstGet = false
		return nil, types.NewAppError(types.ErrCodeNotFoundIdentity, "identity not found", nil)
	}
	if id, ok := f.byEmail[email]; ok {
		return id, nil
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundIdentity, "identity not found", nil)
}

func (f *fakeIdentityStore) Insert(ctx context.Context, identity *types.Identity, credentialHash string) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.insertedCount++
	f.insertedHash = credentialHash
	f.byEmail[identity.Email] = identity
	return nil
}

func TestEnsureIdentity_ReturnsExisting(t *testing.T) {
	store := newFakeIdentityStore()
	store.byEmail["a@b.com"] = &types.Identity{ID: "idn-1", Email: "a@b.com"}
	svc := NewIdentityService(store, slog.Default())

	identity, err := svc.EnsureIdentity(context.Background(), "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "idn-1", identity.ID)
	assert.Zero(t, store.insertedCount, "existing identities must not be re-inserted")
}

func TestEnsureIdentity_ProvisionsNew(t *testing.T) {
	store := newFakeIdentityStore()
	svc := NewIdentityService(store, slog.Default())

	identity, err := svc.EnsureIdentity(context.Background(), "new@b.com")
	require.NoError(t, err)
	assert.NotEmpty(t, identity.ID)
	assert.Equal(t, "new@b.com", identity.Email)
	assert.Equal(t, 1, store.insertedCount)

	// The generated credential is a real bcrypt hash, not a placeholder.
	_, err = bcrypt.Cost([]byte(store.insertedHash))
	assert.NoError(t, err)
}

func TestEnsureIdentity_EmptyEmailRejected(t *testing.T) {
	svc := NewIdentityService(newFakeIdentityStore(), slog.Default())

	_, err := svc.EnsureIdentity(context.Background(), "   ")
	require.Error(t, err)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationMissingField, appErr.Code)
}

func TestEnsureIdentity_ConflictRaceResolvedByReRead(t *testing.T) {
	store := newFakeIdentityStore()
	// Simulate the concurrent winner committing between our read and insert:
	// the first lookup misses, the insert hits the unique constraint, and the
	// re-read finds the winner's row.
	store.failFirstGet = true
	store.insertErr = types.NewAppError(types.ErrCodeConflictEmail, "email already registered", nil)
	store.byEmail["race@b.com"] = &types.Identity{ID: "idn-winner", Email: "race@b.com"}
	svc := NewIdentityService(store, slog.Default())

	identity, err := svc.EnsureIdentity(context.Background(), "race@b.com")
	require.NoError(t, err)
	assert.Equal(t, "idn-winner", identity.ID)
}
