package db

import (
	"context"

	"github.com/google/uuid"

	"memberlane/internal/types"
)

// InvoiceRepo provides data access for the invoices table, an append-only
// billing history. Duplicate deliveries of the same external invoice collapse
// into a single row via upsert on stripe_invoice_id.
type InvoiceRepo struct {
	db DBTX
}

// NewInvoiceRepo creates a new InvoiceRepo backed by the given database
// connection (pool or transaction).
func NewInvoiceRepo(db DBTX) *InvoiceRepo {
	return &InvoiceRepo{db: db}
}

// Upsert records a billing attempt keyed on the external invoice ID. The
// status update arm lets a paid event supersede an earlier failed record of
// the same invoice after a successful retry.
func (r *InvoiceRepo) Upsert(ctx context.Context, inv *types.Invoice) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO invoices
		   (id, account_id, stripe_invoice_id, amount_cents, currency, status,
		    hosted_invoice_url, invoiced_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		 ON CONFLICT (stripe_invoice_id) DO UPDATE SET
		   status = EXCLUDED.status,
		   amount_cents = EXCLUDED.amount_cents,
		   hosted_invoice_url = EXCLUDED.hosted_invoice_url`,
		uuid.NewString(),
		inv.AccountID,
		inv.StripeInvoiceID,
		inv.AmountCents,
		inv.Currency,
		inv.Status,
		inv.HostedInvoiceURL,
		inv.InvoicedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert invoice", err)
	}
	return nil
}

// ListByAccountID returns the account's billing history, newest first.
func (r *InvoiceRepo) ListByAccountID(ctx context.Context, accountID string, limit int) ([]types.Invoice, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, account_id, stripe_invoice_id, amount_cents, currency, status,
		        hosted_invoice_url, invoiced_at, created_at
		 FROM invoices
		 WHERE account_id = $1
		 ORDER BY invoiced_at DESC
		 LIMIT $2`,
		accountID,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list invoices", err)
	}
	defer rows.Close()

	var out []types.Invoice
	for rows.Next() {
		var inv types.Invoice
		if err := rows.Scan(
			&inv.ID, &inv.AccountID, &inv.StripeInvoiceID, &inv.AmountCents,
			&inv.Currency, &inv.Status, &inv.HostedInvoiceURL, &inv.InvoicedAt, &inv.CreatedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan invoice", err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate invoices", err)
	}
	return out, nil
}
