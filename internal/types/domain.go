package types

import "time"

// Account is the internal identity of a paying customer. Its ID equals the
// authentication identity ID so that session-based access control resolves
// to the same primary key later.
type Account struct {
	ID                   string
	Email                string
	StripeCustomerID     string
	StripeSubscriptionID string
	NextBillingAt        *time.Time
	LastAssessmentID     string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Membership represents a customer's current tier and verification lifecycle.
// At most one active row per account drives visible entitlements; prior rows
// remain in pending or canceled states as history.
type Membership struct {
	ID                 string
	AccountID          string
	Tier               MembershipTier
	Status             MembershipStatus
	VerificationStatus VerificationStatus
	ActivatedAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Subscription mirrors the payment processor's recurring-billing object.
// Exactly one row exists per external subscription ID; all writes are upserts
// keyed on that ID.
type Subscription struct {
	ID                   string
	AccountID            string
	StripeSubscriptionID string
	StripeCustomerID     string
	Status               SubscriptionStatus
	Tier                 MembershipTier
	BillingCycle         BillingCycle
	UnitAmountCents      int64
	CurrentPeriodStart   *time.Time
	CurrentPeriodEnd     *time.Time
	CanceledAt           *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Invoice is an append-only record of a billing attempt. Rows are never
// mutated after creation except by idempotent re-upsert of the same
// external invoice ID.
type Invoice struct {
	ID               string
	AccountID        string
	StripeInvoiceID  string
	AmountCents      int64
	Currency         string
	Status           InvoiceStatus
	HostedInvoiceURL string
	InvoicedAt       time.Time
	CreatedAt        time.Time
}

// Identity is an authentication identity record. Its ID is the durable
// reference that Account rows key on.
type Identity struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

// SubscriptionState is the authoritative snapshot of a subscription,
// re-fetched from the payment processor's query API rather than trusted from
// a (possibly stale) webhook payload.
type SubscriptionState struct {
	StripeSubscriptionID string
	StripeCustomerID     string
	Status               SubscriptionStatus
	PriceID              string
	BillingCycle         BillingCycle
	UnitAmountCents      int64
	CurrentPeriodStart   time.Time
	CurrentPeriodEnd     time.Time
	CancelAtPeriodEnd    bool
}
