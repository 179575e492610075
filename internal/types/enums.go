package types

// MembershipTier identifies the entitlement level of a membership.
// Tier names mirror the product catalog exposed to members.
type MembershipTier string

const (
	TierBasic    MembershipTier = "Basic"
	TierSilver   MembershipTier = "Silver"
	TierGold     MembershipTier = "Gold"
	TierPlatinum MembershipTier = "Platinum"
)

// LowestTier is the fallback tier used when a price identifier cannot be
// resolved against the catalog mapping.
const LowestTier = TierBasic

// ParseMembershipTier returns the tier matching s, or false if s is not a
// recognized tier name.
func ParseMembershipTier(s string) (MembershipTier, bool) {
	switch MembershipTier(s) {
	case TierBasic, TierSilver, TierGold, TierPlatinum:
		return MembershipTier(s), true
	default:
		return "", false
	}
}

// MembershipStatus represents the lifecycle state of a membership row.
type MembershipStatus string

const (
	MembershipPending  MembershipStatus = "pending"
	MembershipActive   MembershipStatus = "active"
	MembershipCanceled MembershipStatus = "canceled"
)

// VerificationStatus tracks the member identity verification lifecycle,
// which proceeds independently of billing.
type VerificationStatus string

const (
	VerificationUnverified VerificationStatus = "unverified"
	VerificationPending    VerificationStatus = "pending"
	VerificationVerified   VerificationStatus = "verified"
)

// SubscriptionStatus represents the state of a billing subscription,
// mirrored from the payment processor's vocabulary.
type SubscriptionStatus string

const (
	SubStatusActive            SubscriptionStatus = "active"
	SubStatusPastDue           SubscriptionStatus = "past_due"
	SubStatusCanceled          SubscriptionStatus = "canceled"
	SubStatusIncomplete        SubscriptionStatus = "incomplete"
	SubStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubStatusTrialing          SubscriptionStatus = "trialing"
	SubStatusUnpaid            SubscriptionStatus = "unpaid"
)

// BillingCycle is the recurrence interval of a subscription.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleAnnual  BillingCycle = "annual"
)

// InvoiceStatus represents the outcome of a billing attempt.
type InvoiceStatus string

const (
	InvoicePaid    InvoiceStatus = "paid"
	InvoiceFailed  InvoiceStatus = "failed"
	InvoicePending InvoiceStatus = "pending"
)
