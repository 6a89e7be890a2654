package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PendingStatus string

const (
	PendingStatusPending   PendingStatus = "PENDING"
	PendingStatusInvoiced  PendingStatus = "INVOICED"
	PendingStatusCancelled PendingStatus = "CANCELLED"
)

// BillingPending is a billing-eligible snapshot of a delivered service.
// Amount is copied from the service when the pending is created and does not
// follow later changes to the service.
type BillingPending struct {
	ID        int64           `json:"id"`
	ServiceID int64           `json:"serviceId"`
	Amount    decimal.Decimal `json:"amount"`
	Status    PendingStatus   `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// OpenPending is a pending still awaiting invoicing, together with the
// service it was created from.
type OpenPending struct {
	BillingPending
	CustomerID  int64 `json:"customerId"`
	ServiceDate Date  `json:"serviceDate"`
}

// GenerateResult reports a pending generation run.
type GenerateResult struct {
	Message   string  `json:"message"`
	Count     int     `json:"count"`
	SampleIDs []int64 `json:"sampleIds,omitempty"`
}
