// Package handlers contains the HTTP handler implementations for the
// Memberlane API.
//
// The billing webhook handler is NOT behind auth middleware -- it is called
// directly by Stripe. Security is provided by verifying the Stripe-Signature
// header over the raw body before any payload parsing.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"memberlane/internal/billing"
	"memberlane/internal/core"
	"memberlane/internal/external"
	"memberlane/internal/types"
)

// maxWebhookBodySize is the maximum allowed size of a webhook payload (64 KB).
// Stripe webhook payloads are typically small; this limit protects against abuse.
const maxWebhookBodySize = 64 * 1024

// EventReconciler is the subset of the billing reconciler the webhook handler
// dispatches into.
type EventReconciler interface {
	HandleCheckoutCompleted(ctx context.Context, ev billing.CheckoutEvent) error
	HandleSubscriptionChange(ctx context.Context, ev billing.SubscriptionEvent) error
	HandleSubscriptionDeleted(ctx context.Context, stripeSubscriptionID string) error
	HandleInvoicePaid(ctx context.Context, ev billing.InvoiceEvent) error
	HandleInvoiceFailed(ctx context.Context, ev billing.InvoiceEvent) error
}

// BillingWebhookHandler receives asynchronous billing events from Stripe,
// verifies their origin, and dispatches them to the reconciler.
//
// Acknowledgment policy:
//   - bad or missing signature: 401, Stripe treats the delivery as rejected
//   - processed, duplicate, skippable, or unknown kind: 200, never retried
//   - required-write failure: 500/502, Stripe retries the delivery later
type BillingWebhookHandler struct {
	verifier   external.WebhookVerifier
	reconciler EventReconciler
	secret     string
	logger     *slog.Logger
}

// NewBillingWebhookHandler creates a BillingWebhookHandler with the provided
// dependencies.
func NewBillingWebhookHandler(
	verifier external.WebhookVerifier,
	reconciler EventReconciler,
	secret string,
	logger *slog.Logger,
) *BillingWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingWebhookHandler{
		verifier:   verifier,
		reconciler: reconciler,
		secret:     secret,
		logger:     logger,
	}
}

// RegisterRoutes mounts the webhook endpoint. Kept separate from any
// authenticated route group because Stripe calls it without a session.
func (h *BillingWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle processes an incoming webhook delivery:
//  1. Reads the raw body with a size limit.
//  2. Verifies the Stripe-Signature header over the raw bytes.
//  3. Decodes the event envelope and routes by event kind.
//  4. Maps the outcome to the acknowledgment status.
func (h *BillingWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"failed to read request body",
			err,
		))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		h.logger.WarnContext(r.Context(), "missing Stripe-Signature header")
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthSignatureMissing,
			"missing Stripe-Signature header",
			nil,
		))
		return
	}

	if err := h.verifier.Verify(payload, sigHeader, h.secret); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthSignatureInvalid,
			"webhook signature verification failed",
			err,
		))
		return
	}

	var event billingEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to parse webhook event JSON", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"invalid webhook event JSON",
			err,
		))
		return
	}

	h.logger.InfoContext(r.Context(), "processing billing event",
		"event_id", event.ID,
		"event_type", event.Type,
	)

	if err := h.routeEvent(r.Context(), &event); err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeEventSkipped {
			// Structurally unprocessable or intentionally ignored; a retry
			// cannot change the outcome, so acknowledge it.
			h.logger.InfoContext(r.Context(), "billing event skipped",
				"event_id", event.ID,
				"event_type", event.Type,
				"reason", appErr.Message,
			)
			core.JSON(w, r, http.StatusOK, webhookAck{Received: true, Skipped: true})
			return
		}

		// Required write failed; a non-2xx response makes Stripe redeliver.
		h.logger.ErrorContext(r.Context(), "billing event processing failed",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, webhookAck{Received: true})
}

// webhookAck is the acknowledgment body returned to the processor.
type webhookAck struct {
	Received bool `json:"received"`
	Skipped  bool `json:"skipped,omitempty"`
}

// routeEvent dispatches the event to the reconciler method for its kind.
// Unrecognized kinds are acknowledged and dropped for forward compatibility
// with processor additions.
func (h *BillingWebhookHandler) routeEvent(ctx context.Context, event *billingEvent) error {
	switch event.Type {
	case external.EventCheckoutCompleted:
		return h.reconciler.HandleCheckoutCompleted(ctx, event.checkoutEvent())

	case external.EventSubCreated, external.EventSubUpdated:
		return h.reconciler.HandleSubscriptionChange(ctx, event.subscriptionEvent())

	case external.EventSubDeleted:
		return h.reconciler.HandleSubscriptionDeleted(ctx, event.subscriptionEvent().StripeSubscriptionID)

	case external.EventInvoicePaid:
		return h.reconciler.HandleInvoicePaid(ctx, event.invoiceEvent())

	case external.EventInvoiceFailed:
		return h.reconciler.HandleInvoiceFailed(ctx, event.invoiceEvent())

	default:
		h.logger.InfoContext(ctx, "ignoring unhandled webhook event type",
			"event_type", event.Type,
		)
		return nil
	}
}

// ---------------------------------------------------------------------------
// Event Parsing
// ---------------------------------------------------------------------------

// billingEvent is a minimal representation of a Stripe webhook event tailored
// to extract the fields needed for routing and processing. We avoid importing
// the full stripe.Event type to keep the handler decoupled from the stripe-go
// library and to make testing straightforward.
type billingEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    json.RawMessage `json:"data"`
}

// billingEventData wraps the event data object.
type billingEventData struct {
	Object json.RawMessage `json:"object"`
}

// checkoutSessionObj holds the minimal fields from a
// checkout.session.completed event's data object.
type checkoutSessionObj struct {
	Customer      string                   `json:"customer"`
	CustomerEmail string                   `json:"customer_email"`
	Subscription  string                   `json:"subscription"`
	Metadata      map[string]string        `json:"metadata"`
	CustomerInfo  *checkoutCustomerDetails `json:"customer_details"`
}

type checkoutCustomerDetails struct {
	Email string `json:"email"`
}

// subscriptionObj holds the minimal fields from a customer.subscription.*
// event's data object.
type subscriptionObj struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
}

// invoiceObj holds the minimal fields from an invoice event's data object.
type invoiceObj struct {
	ID               string `json:"id"`
	Customer         string `json:"customer"`
	Subscription     string `json:"subscription"`
	AmountDue        int64  `json:"amount_due"`
	AmountPaid       int64  `json:"amount_paid"`
	Currency         string `json:"currency"`
	HostedInvoiceURL string `json:"hosted_invoice_url"`
	Created          int64  `json:"created"`
}

func (e *billingEvent) object() json.RawMessage {
	var data billingEventData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil
	}
	return data.Object
}

// checkoutEvent extracts the reconciler's view of a checkout-completed
// payload. Missing fields come back empty; the reconciler decides whether an
// absence is skippable.
func (e *billingEvent) checkoutEvent() billing.CheckoutEvent {
	var session checkoutSessionObj
	if obj := e.object(); obj != nil {
		_ = json.Unmarshal(obj, &session)
	}

	email := session.CustomerEmail
	if email == "" && session.CustomerInfo != nil {
		email = session.CustomerInfo.Email
	}

	return billing.CheckoutEvent{
		Email:                email,
		StripeCustomerID:     session.Customer,
		StripeSubscriptionID: session.Subscription,
		MetadataTier:         session.Metadata["tier"],
		AssessmentRef:        session.Metadata["assessment_id"],
	}
}

// subscriptionEvent extracts the reconciler's view of a subscription payload.
func (e *billingEvent) subscriptionEvent() billing.SubscriptionEvent {
	var sub subscriptionObj
	if obj := e.object(); obj != nil {
		_ = json.Unmarshal(obj, &sub)
	}
	return billing.SubscriptionEvent{
		StripeSubscriptionID: sub.ID,
		StripeCustomerID:     sub.Customer,
	}
}

// invoiceEvent extracts the reconciler's view of an invoice payload.
func (e *billingEvent) invoiceEvent() billing.InvoiceEvent {
	var inv invoiceObj
	if obj := e.object(); obj != nil {
		_ = json.Unmarshal(obj, &inv)
	}

	amount := inv.AmountPaid
	if amount == 0 {
		amount = inv.AmountDue
	}

	var invoicedAt time.Time
	if inv.Created > 0 {
		invoicedAt = time.Unix(inv.Created, 0).UTC()
	}

	return billing.InvoiceEvent{
		StripeInvoiceID:      inv.ID,
		StripeCustomerID:     inv.Customer,
		StripeSubscriptionID: inv.Subscription,
		AmountCents:          amount,
		Currency:             inv.Currency,
		HostedInvoiceURL:     inv.HostedInvoiceURL,
		InvoicedAt:           invoicedAt,
	}
}
