package events

import (
	"time"

	"github.com/set-night/billingd/internal/domain"
)

const (
	BatchProcessed = "billing.batch.processed"
	BatchFailed    = "billing.batch.failed"
)

const envelopeVersion = 1

type Envelope struct {
	Event      string    `json:"event"`
	Version    int       `json:"version"`
	OccurredAt time.Time `json:"occurredAt"`
	Data       any       `json:"data"`
}

func NewEnvelope(event string, data any, at time.Time) Envelope {
	return Envelope{Event: event, Version: envelopeVersion, OccurredAt: at.UTC(), Data: data}
}

type BatchProcessedData struct {
	JobID             string      `json:"jobId"`
	BatchID           int64       `json:"batchId"`
	InvoicesGenerated int         `json:"invoicesGenerated"`
	ReceiptBook       string      `json:"receiptBook"`
	IssueDate         domain.Date `json:"issueDate"`
}

type BatchFailedData struct {
	JobID        string  `json:"jobId"`
	ReceiptBook  string  `json:"receiptBook"`
	PendingIDs   []int64 `json:"pendingIds"`
	AttemptsMade int     `json:"attemptsMade"`
	Reason       string  `json:"reason"`
}
