package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/set-night/billingd/internal/domain"
	"github.com/shopspring/decimal"
)

const getLastInvoiceNumber = `
SELECT invoice_number
FROM invoices
WHERE invoice_number LIKE $1 ESCAPE '\'
ORDER BY id DESC
LIMIT 1`

// GetLastInvoiceNumber returns the most recently inserted invoice number
// matching pattern, or pgx.ErrNoRows.
func (q *Queries) GetLastInvoiceNumber(ctx context.Context, pattern string) (string, error) {
	var number string
	err := q.db.QueryRow(ctx, getLastInvoiceNumber, pattern).Scan(&number)
	return number, err
}

const createInvoice = `
INSERT INTO invoices (invoice_number, authorization_code, issue_date, amount, batch_id, pending_id)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`

type CreateInvoiceParams struct {
	InvoiceNumber     string
	AuthorizationCode string
	IssueDate         domain.Date
	Amount            decimal.Decimal
	BatchID           int64
	PendingID         int64
}

// CreateInvoices inserts all invoices in a single round trip and returns
// their ids in input order.
func (q *Queries) CreateInvoices(ctx context.Context, arg []CreateInvoiceParams) ([]int64, error) {
	if len(arg) == 0 {
		return nil, nil
	}

	batch := &pgx.Batch{}
	for _, a := range arg {
		batch.Queue(createInvoice,
			a.InvoiceNumber,
			a.AuthorizationCode,
			dateToPgDate(a.IssueDate),
			a.Amount,
			a.BatchID,
			a.PendingID,
		)
	}

	br := q.db.SendBatch(ctx, batch)
	defer br.Close()

	ids := make([]int64, len(arg))
	for i := range arg {
		if err := br.QueryRow().Scan(&ids[i]); err != nil {
			return nil, fmt.Errorf("insert invoice %s: %w", arg[i].InvoiceNumber, err)
		}
	}
	return ids, nil
}

const listBatchInvoicesForExport = `
SELECT i.id, i.invoice_number, i.authorization_code, i.issue_date, i.amount,
       i.batch_id, i.pending_id, i.created_at, s.customer_id
FROM invoices i
JOIN billing_pendings p ON p.id = i.pending_id
JOIN services s ON s.id = p.service_id
WHERE i.batch_id = $1
ORDER BY i.id`

func (q *Queries) ListBatchInvoicesForExport(ctx context.Context, batchID int64) ([]domain.ExportInvoice, error) {
	rows, err := q.db.Query(ctx, listBatchInvoicesForExport, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.ExportInvoice
	for rows.Next() {
		var (
			i         domain.ExportInvoice
			issueDate pgtype.Date
			createdAt pgtype.Timestamptz
		)
		if err := rows.Scan(
			&i.ID,
			&i.InvoiceNumber,
			&i.AuthorizationCode,
			&issueDate,
			&i.Amount,
			&i.BatchID,
			&i.PendingID,
			&createdAt,
			&i.CustomerID,
		); err != nil {
			return nil, fmt.Errorf("scan export invoice: %w", err)
		}
		i.IssueDate = pgDateToDate(issueDate)
		i.CreatedAt = pgTimestamptzToTime(createdAt)
		items = append(items, i)
	}
	return items, rows.Err()
}
