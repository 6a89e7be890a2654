package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/set-night/billingd/internal/domain"
)

const lockReceiptBook = `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`

// LockReceiptBook serializes sequence allocation for one receipt-book until
// the surrounding transaction ends.
func (q *Queries) LockReceiptBook(ctx context.Context, receiptBook string) error {
	_, err := q.db.Exec(ctx, lockReceiptBook, receiptBook)
	return err
}

const createBatch = `
INSERT INTO billing_batches (issue_date, receipt_book, status)
VALUES ($1, $2, $3)
RETURNING id, issue_date, receipt_book, status, created_at`

type CreateBatchParams struct {
	IssueDate   domain.Date
	ReceiptBook string
	Status      domain.BatchStatus
}

func (q *Queries) CreateBatch(ctx context.Context, arg CreateBatchParams) (domain.BillingBatch, error) {
	row := q.db.QueryRow(ctx, createBatch, dateToPgDate(arg.IssueDate), arg.ReceiptBook, string(arg.Status))
	return scanBatch(row)
}

const getBatch = `
SELECT id, issue_date, receipt_book, status, created_at
FROM billing_batches
WHERE id = $1`

func (q *Queries) GetBatch(ctx context.Context, id int64) (domain.BillingBatch, error) {
	return scanBatch(q.db.QueryRow(ctx, getBatch, id))
}

func scanBatch(row interface{ Scan(dest ...any) error }) (domain.BillingBatch, error) {
	var (
		i         domain.BillingBatch
		issueDate pgtype.Date
		status    string
		createdAt pgtype.Timestamptz
	)
	err := row.Scan(&i.ID, &issueDate, &i.ReceiptBook, &status, &createdAt)
	i.IssueDate = pgDateToDate(issueDate)
	i.Status = domain.BatchStatus(status)
	i.CreatedAt = pgTimestamptzToTime(createdAt)
	return i, err
}
