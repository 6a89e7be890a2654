package domain

import (
	"encoding/json"
	"time"
)

const (
	ERPDocumentType = "FACTURA_A"
	ERPItemConcept  = "Logistics service"
)

// ERPExport is the payload handed to the ERP for one batch.
type ERPExport struct {
	Header  ERPHeader   `json:"header"`
	Records []ERPRecord `json:"records"`
}

type ERPHeader struct {
	BatchReference string    `json:"batch_reference"`
	ProcessDate    time.Time `json:"process_date"`
	TotalRecords   int       `json:"total_records"`
}

type ERPRecord struct {
	ExternalID        int64     `json:"external_id"`
	DocumentType      string    `json:"document_type"`
	DocumentNumber    string    `json:"document_number"`
	IssueDate         Date      `json:"issue_date"`
	CustomerID        int64     `json:"customer_id"`
	Items             []ERPItem `json:"items"`
	AuthorizationCode string    `json:"authorization_code"`
}

// ERPItem amounts are JSON numbers with two fraction digits.
type ERPItem struct {
	Concept   string      `json:"concept"`
	NetAmount json.Number `json:"net_amount"`
	VATRate   json.Number `json:"vat_rate"`
	VATAmount json.Number `json:"vat_amount"`
}

// ExportInvoice is an invoice of a batch joined with the customer of the
// service it bills.
type ExportInvoice struct {
	Invoice
	CustomerID int64
}
