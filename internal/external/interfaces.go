package external

import (
	"context"

	"memberlane/internal/types"
)

// Event kinds delivered by the payment processor that the reconciler handles.
// Any other kind is acknowledged and ignored.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventSubCreated        = "customer.subscription.created"
	EventSubUpdated        = "customer.subscription.updated"
	EventSubDeleted        = "customer.subscription.deleted"
	EventInvoicePaid       = "invoice.paid"
	EventInvoiceFailed     = "invoice.payment_failed"
)

// WebhookVerifier validates a raw webhook payload against its signature
// header and the shared signing secret.
type WebhookVerifier interface {
	Verify(payload []byte, header string, secret string) error
}

// SubscriptionFetcher retrieves the authoritative state of a subscription
// from the payment processor's query API. The reconciler uses this instead of
// trusting event payloads, which may be stale by the time they are delivered.
type SubscriptionFetcher interface {
	FetchSubscription(ctx context.Context, stripeSubscriptionID string) (*types.SubscriptionState, error)
}
