package types

import (
	"context"
	"time"
)

// IdentityRepository provides data access for authentication identities.
type IdentityRepository interface {
	GetByEmail(ctx context.Context, email string) (*Identity, error)
	Insert(ctx context.Context, identity *Identity, credentialHash string) error
}

// AccountRepository provides data access for accounts.
type AccountRepository interface {
	Upsert(ctx context.Context, a *Account) error
	GetByID(ctx context.Context, id string) (*Account, error)
	GetByStripeCustomerID(ctx context.Context, customerID string) (*Account, error)
	UpdateBillingLinkage(ctx context.Context, accountID, stripeSubscriptionID string, nextBillingAt *time.Time) error
	SetLastAssessment(ctx context.Context, accountID, assessmentID string) error
}

// MembershipRepository provides data access for memberships.
type MembershipRepository interface {
	ActivateOrInsert(ctx context.Context, accountID string, tier MembershipTier) error
	GetByAccountID(ctx context.Context, accountID string) (*Membership, error)
}

// SubscriptionRepository provides data access for subscription mirrors.
type SubscriptionRepository interface {
	Upsert(ctx context.Context, s *Subscription) error
	ExistsByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (bool, error)
	GetByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (*Subscription, error)
	MarkCanceled(ctx context.Context, stripeSubscriptionID string, canceledAt time.Time) error
	UpdateStatus(ctx context.Context, stripeSubscriptionID string, status SubscriptionStatus) error
}

// InvoiceRepository provides data access for billing history.
type InvoiceRepository interface {
	Upsert(ctx context.Context, inv *Invoice) error
	ListByAccountID(ctx context.Context, accountID string, limit int) ([]Invoice, error)
}

// AssessmentRepository provides the claim operation the reconciler performs
// on lead-funnel assessments referenced from checkout metadata.
type AssessmentRepository interface {
	MarkClaimed(ctx context.Context, assessmentRef, accountID string) error
}

// RepositoryRegistry bundles all repositories behind a single injection
// point. The db package provides the PostgreSQL-backed implementation;
// tests substitute fakes.
//
// WithinTx yields a registry whose repositories share one database
// transaction, committing on nil return and rolling back otherwise.
type RepositoryRegistry interface {
	Identities() IdentityRepository
	Accounts() AccountRepository
	Memberships() MembershipRepository
	Subscriptions() SubscriptionRepository
	Invoices() InvoiceRepository
	Assessments() AssessmentRepository

	WithinTx(ctx context.Context, fn func(RepositoryRegistry) error) error
}
