package domain

import (
	"fmt"
	"strings"
	"time"
)

type BatchStatus string

const (
	BatchStatusProcessed BatchStatus = "PROCESSED"
	BatchStatusError     BatchStatus = "ERROR"
)

type BillingBatch struct {
	ID          int64
	IssueDate   Date
	ReceiptBook string
	Status      BatchStatus
	CreatedAt   time.Time
}

// BatchRequest asks for a set of pendings to be invoiced under one
// receipt-book and issue date. It is also the payload of the processing job.
//
// Repeated pending ids are accepted and collapsed by Normalize, so
// [1, 2, 1] invoices pendings 1 and 2. The receipt-book must not contain
// InvoiceNumberSeparator because it prefixes every invoice number.
type BatchRequest struct {
	PendingIDs  []int64 `json:"pendingIds" binding:"required,min=1,dive,gt=0"`
	ReceiptBook string  `json:"receiptBook" binding:"required"`
	IssueDate   Date    `json:"issueDate"`
}

func (r BatchRequest) Validate() error {
	if len(r.PendingIDs) == 0 {
		return fmt.Errorf("%w: no pending IDs provided", ErrValidation)
	}
	for _, id := range r.PendingIDs {
		if id <= 0 {
			return fmt.Errorf("%w: pending id %d is not positive", ErrValidation, id)
		}
	}

	book := strings.TrimSpace(r.ReceiptBook)
	if book == "" {
		return fmt.Errorf("%w: receiptBook is required", ErrValidation)
	}
	if strings.Contains(book, InvoiceNumberSeparator) {
		return fmt.Errorf("%w: receiptBook %q must not contain %q, it is reserved as the separator between receipt-book and sequence in invoice numbers",
			ErrValidation, book, InvoiceNumberSeparator)
	}

	if r.IssueDate.IsZero() {
		return fmt.Errorf("%w: issueDate is required", ErrValidation)
	}
	return nil
}

// Normalize trims the receipt-book and drops repeated pending ids, keeping
// the first occurrence of each.
func (r BatchRequest) Normalize() BatchRequest {
	seen := make(map[int64]struct{}, len(r.PendingIDs))
	ids := make([]int64, 0, len(r.PendingIDs))
	for _, id := range r.PendingIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	return BatchRequest{
		PendingIDs:  ids,
		ReceiptBook: strings.TrimSpace(r.ReceiptBook),
		IssueDate:   r.IssueDate,
	}
}

// BatchResult is the completion value of a processing job.
type BatchResult struct {
	BatchID           int64 `json:"batchId"`
	InvoicesGenerated int   `json:"invoicesGenerated"`
}

// BatchAccepted is returned by intake once the processing job is queued.
type BatchAccepted struct {
	Message string `json:"message"`
	JobID   string `json:"jobId"`
	Status  string `json:"status"`
	Info    string `json:"info"`
}
