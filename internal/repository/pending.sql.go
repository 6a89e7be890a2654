package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/set-night/billingd/internal/domain"
)

const createPendingsForDeliveredServices = `
INSERT INTO billing_pendings (service_id, amount, status)
SELECT s.id, s.amount, 'PENDING'
FROM services s
LEFT JOIN billing_pendings p ON p.service_id = s.id
WHERE s.status = 'DELIVERED' AND p.id IS NULL
ORDER BY s.id
RETURNING id, service_id, amount, status, created_at, updated_at`

// CreatePendingsForDeliveredServices creates one PENDING pending for every
// delivered service that has none, snapshotting the service amount.
func (q *Queries) CreatePendingsForDeliveredServices(ctx context.Context) ([]domain.BillingPending, error) {
	rows, err := q.db.Query(ctx, createPendingsForDeliveredServices)
	if err != nil {
		return nil, err
	}
	return scanPendings(rows)
}

const listOpenPendings = `
SELECT p.id, p.service_id, p.amount, p.status, p.created_at, p.updated_at,
       s.customer_id, s.service_date
FROM billing_pendings p
JOIN services s ON s.id = p.service_id
WHERE p.status = 'PENDING'
ORDER BY p.id`

func (q *Queries) ListOpenPendings(ctx context.Context) ([]domain.OpenPending, error) {
	rows, err := q.db.Query(ctx, listOpenPendings)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.OpenPending
	for rows.Next() {
		var (
			i                    domain.OpenPending
			status               string
			createdAt, updatedAt pgtype.Timestamptz
			serviceDate          pgtype.Date
		)
		if err := rows.Scan(
			&i.ID,
			&i.ServiceID,
			&i.Amount,
			&status,
			&createdAt,
			&updatedAt,
			&i.CustomerID,
			&serviceDate,
		); err != nil {
			return nil, fmt.Errorf("scan open pending: %w", err)
		}
		i.Status = domain.PendingStatus(status)
		i.CreatedAt = pgTimestamptzToTime(createdAt)
		i.UpdatedAt = pgTimestamptzToTime(updatedAt)
		i.ServiceDate = pgDateToDate(serviceDate)
		items = append(items, i)
	}
	return items, rows.Err()
}

const lockPendingsForUpdate = `
SELECT id, service_id, amount, status, created_at, updated_at
FROM billing_pendings
WHERE id = ANY($1::bigint[]) AND status = 'PENDING'
ORDER BY id
FOR UPDATE`

// LockPendingsForUpdate row-locks the still PENDING pendings among ids in
// ascending id order. Pendings that are missing or already invoiced are not
// returned.
func (q *Queries) LockPendingsForUpdate(ctx context.Context, ids []int64) ([]domain.BillingPending, error) {
	rows, err := q.db.Query(ctx, lockPendingsForUpdate, ids)
	if err != nil {
		return nil, err
	}
	return scanPendings(rows)
}

const markPendingsInvoiced = `
UPDATE billing_pendings
SET status = 'INVOICED', updated_at = NOW()
WHERE id = ANY($1::bigint[]) AND status = 'PENDING'`

func (q *Queries) MarkPendingsInvoiced(ctx context.Context, ids []int64) (int64, error) {
	tag, err := q.db.Exec(ctx, markPendingsInvoiced, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanPendings(rows pgx.Rows) ([]domain.BillingPending, error) {
	defer rows.Close()

	var items []domain.BillingPending
	for rows.Next() {
		var (
			i                    domain.BillingPending
			status               string
			createdAt, updatedAt pgtype.Timestamptz
		)
		if err := rows.Scan(
			&i.ID,
			&i.ServiceID,
			&i.Amount,
			&status,
			&createdAt,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		i.Status = domain.PendingStatus(status)
		i.CreatedAt = pgTimestamptzToTime(createdAt)
		i.UpdatedAt = pgTimestamptzToTime(updatedAt)
		items = append(items, i)
	}
	return items, rows.Err()
}
