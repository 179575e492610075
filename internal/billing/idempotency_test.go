package billing

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memberlane/internal/types"
)

func TestIdempotencyGuard_RegisteredCheck(t *testing.T) {
	guard := NewIdempotencyGuard(slog.Default())
	seen := map[string]bool{"sub_dup": true}
	guard.Register("checkout.session.completed", func(ctx context.Context, key string) (bool, error) {
		return seen[key], nil
	})

	dup, err := guard.AlreadyProcessed(context.Background(), "checkout.session.completed", "sub_dup")
	require.NoError(t, err)
	assert.True(t, dup)

	fresh, err := guard.AlreadyProcessed(context.Background(), "checkout.session.completed", "sub_new")
	require.NoError(t, err)
	assert.False(t, fresh)
}

func TestIdempotencyGuard_UnregisteredKindPassesThrough(t *testing.T) {
	guard := NewIdempotencyGuard(slog.Default())

	dup, err := guard.AlreadyProcessed(context.Background(), "invoice.paid", "in_1")
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestIdempotencyGuard_EmptyKeyPassesThrough(t *testing.T) {
	guard := NewIdempotencyGuard(slog.Default())
	guard.Register("checkout.session.completed", func(ctx context.Context, key string) (bool, error) {
		t.Fatal("check must not run for an empty key")
		return false, nil
	})

	dup, err := guard.AlreadyProcessed(context.Background(), "checkout.session.completed", "")
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestIdempotencyGuard_LookupFailurePropagates(t *testing.T) {
	guard := NewIdempotencyGuard(slog.Default())
	guard.Register("checkout.session.completed", func(ctx context.Context, key string) (bool, error) {
		return false, errors.New("connection reset")
	})

	_, err := guard.AlreadyProcessed(context.Background(), "checkout.session.completed", "sub_1")
	require.Error(t, err)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}
