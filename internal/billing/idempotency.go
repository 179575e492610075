package billing

import (
	"context"
	"log/slog"

	"memberlane/internal/types"
)

// ExistenceCheck reports whether the natural key of an event has already been
// recorded, meaning the event's side effects were applied by an earlier
// delivery.
type ExistenceCheck func(ctx context.Context, key string) (bool, error)

// IdempotencyGuard detects duplicate event deliveries before any non-upsert
// side effect runs. Checks are registered per event kind against that kind's
// natural key, so every handler with provisioning side effects goes through
// the same gate instead of carrying its own ad hoc lookup.
//
// Event kinds with no registered check pass through: their handlers must be
// composed purely of idempotent upserts.
type IdempotencyGuard struct {
	checks map[string]ExistenceCheck
	logger *slog.Logger
}

// NewIdempotencyGuard creates an empty guard.
func NewIdempotencyGuard(logger *slog.Logger) *IdempotencyGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdempotencyGuard{
		checks: make(map[string]ExistenceCheck),
		logger: logger,
	}
}

// Register installs the existence check for an event kind. Registration
// happens once during wiring; the guard is read-only afterwards.
func (g *IdempotencyGuard) Register(eventKind string, check ExistenceCheck) {
	g.checks[eventKind] = check
}

// AlreadyProcessed reports whether the event identified by (eventKind, key)
// is a duplicate delivery. A lookup failure is returned to the caller so the
// event is retried rather than double-processed.
func (g *IdempotencyGuard) AlreadyProcessed(ctx context.Context, eventKind, key string) (bool, error) {
	check, ok := g.checks[eventKind]
	if !ok {
		return false, nil
	}
	if key == "" {
		return false, nil
	}

	processed, err := check(ctx, key)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "idempotency lookup failed", err)
	}
	if processed {
		g.logger.InfoContext(ctx, "duplicate event delivery detected",
			slog.String("event_kind", eventKind),
			slog.String("natural_key", key),
		)
	}
	return processed, nil
}
