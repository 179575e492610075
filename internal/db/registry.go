package db

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"memberlane/internal/types"
)

// Registry is the PostgreSQL-backed implementation of
// types.RepositoryRegistry. A pool-bound registry serves ordinary reads and
// best-effort writes; WithinTx hands callers a transaction-bound registry for
// the required-write sequence.
type Registry struct {
	pool   *pgxpool.Pool
	logger *slog.Logger

	identities    *IdentityRepo
	accounts      *AccountRepo
	memberships   *MembershipRepo
	subscriptions *SubscriptionRepo
	invoices      *InvoiceRepo
	assessments   *AssessmentRepo
}

var _ types.RepositoryRegistry = (*Registry)(nil)

// NewRegistry creates a Registry with all repositories bound to the pool.
func NewRegistry(pool *pgxpool.Pool, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{pool: pool, logger: logger}
	r.bind(pool)
	return r
}

func (r *Registry) bind(db DBTX) {
	r.identities = NewIdentityRepo(db)
	r.accounts = NewAccountRepo(db)
	r.memberships = NewMembershipRepo(db, r.logger)
	r.subscriptions = NewSubscriptionRepo(db, r.logger)
	r.invoices = NewInvoiceRepo(db)
	r.assessments = NewAssessmentRepo(db)
}

func (r *Registry) Identities() types.IdentityRepository        { return r.identities }
func (r *Registry) Accounts() types.AccountRepository           { return r.accounts }
func (r *Registry) Memberships() types.MembershipRepository     { return r.memberships }
func (r *Registry) Subscriptions() types.SubscriptionRepository { return r.subscriptions }
func (r *Registry) Invoices() types.InvoiceRepository           { return r.invoices }
func (r *Registry) Assessments() types.AssessmentRepository     { return r.assessments }

// WithinTx runs fn against a registry whose repositories share a single
// transaction. Nested calls are not supported; a transaction-bound registry
// returns an error if asked to open another.
func (r *Registry) WithinTx(ctx context.Context, fn func(types.RepositoryRegistry) error) error {
	if r.pool == nil {
		return types.NewAppError(types.ErrCodeInternalDB, "nested transactions are not supported", nil)
	}
	return WithinTx(ctx, r.pool, func(tx DBTX) error {
		txReg := &Registry{logger: r.logger}
		txReg.bind(tx)
		return fn(txReg)
	})
}

// Close releases the underlying connection pool. Satisfies the optional
// closer the server shutdown path looks for.
func (r *Registry) Close() error {
	if r.pool != nil {
		r.pool.Close()
	}
	return nil
}
