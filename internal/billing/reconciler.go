package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"memberlane/internal/external"
	"memberlane/internal/types"
)

// IdentityProvider resolves an email to a durable identity, provisioning one
// on first contact.
type IdentityProvider interface {
	EnsureIdentity(ctx context.Context, email string) (*types.Identity, error)
}

// SubscriptionFetcher retrieves the authoritative current subscription object
// from the payment processor.
type SubscriptionFetcher interface {
	FetchSubscription(ctx context.Context, stripeSubscriptionID string) (*types.SubscriptionState, error)
}

// CheckoutEvent carries the fields the reconciler needs from a
// checkout-completed payload.
type CheckoutEvent struct {
	Email                string
	StripeCustomerID     string
	StripeSubscriptionID string
	MetadataTier         string
	AssessmentRef        string
}

// SubscriptionEvent carries the fields the reconciler needs from
// subscription-created/updated payloads.
type SubscriptionEvent struct {
	StripeSubscriptionID string
	StripeCustomerID     string
}

// InvoiceEvent carries the fields the reconciler needs from invoice outcome
// payloads.
type InvoiceEvent struct {
	StripeInvoiceID      string
	StripeCustomerID     string
	StripeSubscriptionID string
	AmountCents          int64
	Currency             string
	HostedInvoiceURL     string
	InvoicedAt           time.Time
}

// Reconciler converts verified billing events into consistent local state.
//
// Error policy is two-tier: required writes (account, membership,
// subscription) propagate so the processor retries the whole event, and
// best-effort writes (invoice history, assessment linkage) are logged and
// swallowed. Skippable conditions (missing fields, unresolvable account)
// return a types.SkipEvent error, which the transport layer acknowledges with
// success so the processor does not retry the unfixable.
type Reconciler struct {
	repos      types.RepositoryRegistry
	identities IdentityProvider
	fetcher    SubscriptionFetcher
	tiers      *TierResolver
	guard      *IdempotencyGuard
	logger     *slog.Logger
	now        func() time.Time // injected in tests
}

// NewReconciler wires the reconciler and registers the idempotency check for
// checkout-completed events: a subscription row already mirroring the event's
// subscription ID means provisioning already ran.
func NewReconciler(
	repos types.RepositoryRegistry,
	identities IdentityProvider,
	fetcher SubscriptionFetcher,
	tiers *TierResolver,
	logger *slog.Logger,
) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}

	guard := NewIdempotencyGuard(logger)
	guard.Register(external.EventCheckoutCompleted, func(ctx context.Context, key string) (bool, error) {
		return repos.Subscriptions().ExistsByStripeSubscriptionID(ctx, key)
	})

	return &Reconciler{
		repos:      repos,
		identities: identities,
		fetcher:    fetcher,
		tiers:      tiers,
		guard:      guard,
		logger:     logger,
		now:        time.Now,
	}
}

// HandleCheckoutCompleted provisions the full entity chain for a completed
// checkout: identity, account, membership activation, and the subscription
// mirror, followed by best-effort assessment linkage.
func (r *Reconciler) HandleCheckoutCompleted(ctx context.Context, ev CheckoutEvent) error {
	if ev.StripeSubscriptionID == "" {
		return types.SkipEvent("checkout event carries no subscription id")
	}

	duplicate, err := r.guard.AlreadyProcessed(ctx, external.EventCheckoutCompleted, ev.StripeSubscriptionID)
	if err != nil {
		return err
	}
	if duplicate {
		return nil
	}

	if ev.Email == "" {
		return types.SkipEvent("checkout event carries no customer email")
	}

	identity, err := r.identities.EnsureIdentity(ctx, ev.Email)
	if err != nil {
		return err
	}

	// The event payload may be stale; the processor's current subscription
	// object is the state we mirror.
	state, err := r.fetcher.FetchSubscription(ctx, ev.StripeSubscriptionID)
	if err != nil {
		return err
	}

	customerID := ev.StripeCustomerID
	if customerID == "" {
		customerID = state.StripeCustomerID
	}
	tier := r.tiers.Resolve(ctx, ev.MetadataTier, state.PriceID)
	nextBilling := state.CurrentPeriodEnd

	err = r.repos.WithinTx(ctx, func(tx types.RepositoryRegistry) error {
		if err := tx.Accounts().Upsert(ctx, &types.Account{
			ID:                   identity.ID,
			Email:                identity.Email,
			StripeCustomerID:     customerID,
			StripeSubscriptionID: state.StripeSubscriptionID,
			NextBillingAt:        &nextBilling,
		}); err != nil {
			return err
		}

		if err := tx.Memberships().ActivateOrInsert(ctx, identity.ID, tier); err != nil {
			return err
		}

		return tx.Subscriptions().Upsert(ctx, r.subscriptionFromState(identity.ID, customerID, tier, state))
	})
	if err != nil {
		return err
	}

	if ev.AssessmentRef != "" {
		r.bestEffort(ctx, "link_assessment", func() error {
			if err := r.repos.Accounts().SetLastAssessment(ctx, identity.ID, ev.AssessmentRef); err != nil {
				return err
			}
			return r.repos.Assessments().MarkClaimed(ctx, ev.AssessmentRef, identity.ID)
		})
	}

	r.logger.InfoContext(ctx, "checkout reconciled",
		slog.String("account_id", identity.ID),
		slog.String("stripe_subscription_id", state.StripeSubscriptionID),
		slog.String("tier", string(tier)),
	)
	return nil
}

// HandleSubscriptionChange mirrors a created or updated subscription. The
// account must already exist; if it does not, this delivery raced ahead of
// checkout-completed and is acknowledged without effect -- the checkout
// delivery converges the state.
//
// Membership is deliberately untouched here: activation belongs exclusively
// to the checkout path so two handlers never race to activate the same row.
func (r *Reconciler) HandleSubscriptionChange(ctx context.Context, ev SubscriptionEvent) error {
	if ev.StripeSubscriptionID == "" {
		return types.SkipEvent("subscription event carries no subscription id")
	}
	if ev.StripeCustomerID == "" {
		return types.SkipEvent("subscription event carries no customer id")
	}

	account, err := r.repos.Accounts().GetByStripeCustomerID(ctx, ev.StripeCustomerID)
	if err != nil {
		if isCode(err, types.ErrCodeNotFoundAccount) {
			r.logger.InfoContext(ctx, "subscription event before account exists; acknowledging",
				slog.String("stripe_customer_id", ev.StripeCustomerID),
				slog.String("stripe_subscription_id", ev.StripeSubscriptionID),
			)
			return types.SkipEvent("no account for customer yet")
		}
		return err
	}

	state, err := r.fetcher.FetchSubscription(ctx, ev.StripeSubscriptionID)
	if err != nil {
		return err
	}
	tier := r.tiers.Resolve(ctx, "", state.PriceID)
	nextBilling := state.CurrentPeriodEnd

	return r.repos.WithinTx(ctx, func(tx types.RepositoryRegistry) error {
		if err := tx.Subscriptions().Upsert(ctx, r.subscriptionFromState(account.ID, ev.StripeCustomerID, tier, state)); err != nil {
			return err
		}
		return tx.Accounts().UpdateBillingLinkage(ctx, account.ID, state.StripeSubscriptionID, &nextBilling)
	})
}

// HandleSubscriptionDeleted flips the subscription mirror to canceled. The
// cancellation timestamp is stamped once; replays are no-ops.
func (r *Reconciler) HandleSubscriptionDeleted(ctx context.Context, stripeSubscriptionID string) error {
	if stripeSubscriptionID == "" {
		return types.SkipEvent("subscription-deleted event carries no subscription id")
	}

	err := r.repos.Subscriptions().MarkCanceled(ctx, stripeSubscriptionID, r.now().UTC())
	if err != nil {
		if isCode(err, types.ErrCodeNotFoundSubscription) {
			r.logger.InfoContext(ctx, "deletion event for unknown subscription; acknowledging",
				slog.String("stripe_subscription_id", stripeSubscriptionID),
			)
			return types.SkipEvent("no local subscription to cancel")
		}
		return err
	}
	return nil
}

// HandleInvoicePaid marks the subscription active again (a successful payment
// ends any dunning state) and best-effort appends the invoice to the billing
// history.
func (r *Reconciler) HandleInvoicePaid(ctx context.Context, ev InvoiceEvent) error {
	if err := r.applyInvoiceOutcome(ctx, ev.StripeSubscriptionID, types.SubStatusActive); err != nil {
		return err
	}

	r.bestEffort(ctx, "append_invoice", func() error {
		return r.appendInvoice(ctx, ev, types.InvoicePaid)
	})
	return nil
}

// HandleInvoiceFailed marks the subscription past due. The invoice append is
// optional for failed attempts but recorded when the payload allows it.
func (r *Reconciler) HandleInvoiceFailed(ctx context.Context, ev InvoiceEvent) error {
	if err := r.applyInvoiceOutcome(ctx, ev.StripeSubscriptionID, types.SubStatusPastDue); err != nil {
		return err
	}

	r.bestEffort(ctx, "append_invoice", func() error {
		return r.appendInvoice(ctx, ev, types.InvoiceFailed)
	})
	return nil
}

// applyInvoiceOutcome sets the subscription status for a billing outcome. A
// missing subscription means the invoice event raced ahead of subscription
// creation; it is acknowledged and the processor's later deliveries converge.
func (r *Reconciler) applyInvoiceOutcome(ctx context.Context, stripeSubscriptionID string, status types.SubscriptionStatus) error {
	if stripeSubscriptionID == "" {
		return types.SkipEvent("invoice event carries no subscription id")
	}

	err := r.repos.Subscriptions().UpdateStatus(ctx, stripeSubscriptionID, status)
	if err != nil {
		if isCode(err, types.ErrCodeNotFoundSubscription) {
			r.logger.InfoContext(ctx, "invoice event before subscription exists; acknowledging",
				slog.String("stripe_subscription_id", stripeSubscriptionID),
				slog.String("target_status", string(status)),
			)
			return types.SkipEvent("no local subscription for invoice")
		}
		return err
	}
	return nil
}

// appendInvoice resolves the account and upserts the invoice row.
func (r *Reconciler) appendInvoice(ctx context.Context, ev InvoiceEvent, status types.InvoiceStatus) error {
	if ev.StripeInvoiceID == "" || ev.StripeCustomerID == "" {
		return nil
	}
	account, err := r.repos.Accounts().GetByStripeCustomerID(ctx, ev.StripeCustomerID)
	if err != nil {
		return err
	}

	invoicedAt := ev.InvoicedAt
	if invoicedAt.IsZero() {
		invoicedAt = r.now().UTC()
	}
	return r.repos.Invoices().Upsert(ctx, &types.Invoice{
		AccountID:        account.ID,
		StripeInvoiceID:  ev.StripeInvoiceID,
		AmountCents:      ev.AmountCents,
		Currency:         ev.Currency,
		Status:           status,
		HostedInvoiceURL: ev.HostedInvoiceURL,
		InvoicedAt:       invoicedAt,
	})
}

// subscriptionFromState builds the local mirror row from the authoritative
// snapshot.
func (r *Reconciler) subscriptionFromState(accountID, customerID string, tier types.MembershipTier, state *types.SubscriptionState) *types.Subscription {
	periodStart := state.CurrentPeriodStart
	periodEnd := state.CurrentPeriodEnd
	sub := &types.Subscription{
		AccountID:            accountID,
		StripeSubscriptionID: state.StripeSubscriptionID,
		StripeCustomerID:     customerID,
		Status:               state.Status,
		Tier:                 tier,
		BillingCycle:         state.BillingCycle,
		UnitAmountCents:      state.UnitAmountCents,
		CurrentPeriodStart:   &periodStart,
		CurrentPeriodEnd:     &periodEnd,
	}
	if state.Status == types.SubStatusCanceled {
		canceledAt := r.now().UTC()
		sub.CanceledAt = &canceledAt
	}
	return sub
}

// bestEffort runs fn and logs a warning on failure instead of propagating.
// Used for the writes whose loss must never fail an otherwise-processed
// event.
func (r *Reconciler) bestEffort(ctx context.Context, op string, fn func() error) {
	if err := fn(); err != nil {
		r.logger.WarnContext(ctx, "best-effort write failed",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
	}
}

// isCode reports whether err is an AppError with the given code.
func isCode(err error, code types.ErrorCode) bool {
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code == code
}
