// Package billing implements the billing-event reconciliation core: it turns
// payment-processor webhook events into consistent account, membership,
// subscription, and invoice state.
package billing

import (
	"context"
	"log/slog"

	"memberlane/internal/types"
)

// TierResolver derives the internal membership tier for a subscription.
// Precedence: explicit metadata override, then the price-ID catalog, then the
// lowest tier with a warning. An unmapped price never fails an event; if the
// catalog has drifted from the processor's product configuration the member
// lands on the lowest tier until the catalog is corrected.
type TierResolver struct {
	priceToTier map[string]types.MembershipTier
	logger      *slog.Logger
}

// NewTierResolver builds a resolver from the price-ID catalog supplied at
// process start. The map is held by reference and never mutated.
func NewTierResolver(priceToTier map[string]types.MembershipTier, logger *slog.Logger) *TierResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &TierResolver{priceToTier: priceToTier, logger: logger}
}

// Resolve returns the tier for the given metadata override and price ID.
func (t *TierResolver) Resolve(ctx context.Context, metadataTier, priceID string) types.MembershipTier {
	if metadataTier != "" {
		if tier, ok := types.ParseMembershipTier(metadataTier); ok {
			return tier
		}
		t.logger.WarnContext(ctx, "unrecognized tier override in event metadata",
			slog.String("metadata_tier", metadataTier),
			slog.String("price_id", priceID),
		)
	}

	if tier, ok := t.priceToTier[priceID]; ok {
		return tier
	}

	t.logger.WarnContext(ctx, "price id not in tier catalog; defaulting to lowest tier",
		slog.String("price_id", priceID),
		slog.String("fallback_tier", string(types.LowestTier)),
	)
	return types.LowestTier
}
