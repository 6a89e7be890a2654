package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/set-night/billingd/internal/config"
	"github.com/set-night/billingd/internal/domain"
	"github.com/shopspring/decimal"
)

type ExportQueries interface {
	GetBatch(ctx context.Context, id int64) (domain.BillingBatch, error)
	ListBatchInvoicesForExport(ctx context.Context, batchID int64) ([]domain.ExportInvoice, error)
}

type ExportService struct {
	queries ExportQueries
}

func NewExportService(queries ExportQueries) *ExportService {
	return &ExportService{queries: queries}
}

var hundred = decimal.NewFromInt(100)

// ExportBatch builds the ERP payload of a processed batch. The header's
// process date is the batch creation time, so repeated exports are identical.
func (s *ExportService) ExportBatch(ctx context.Context, batchID int64) (*domain.ERPExport, error) {
	batch, err := s.queries.GetBatch(ctx, batchID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}

	invoices, err := s.queries.ListBatchInvoicesForExport(ctx, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("list batch invoices: %w", err)
	}

	records := make([]domain.ERPRecord, len(invoices))
	for i, inv := range invoices {
		records[i] = domain.ERPRecord{
			ExternalID:        inv.ID,
			DocumentType:      domain.ERPDocumentType,
			DocumentNumber:    inv.InvoiceNumber,
			IssueDate:         inv.IssueDate,
			CustomerID:        inv.CustomerID,
			Items:             []domain.ERPItem{erpItem(inv.Amount)},
			AuthorizationCode: inv.AuthorizationCode,
		}
	}

	return &domain.ERPExport{
		Header: domain.ERPHeader{
			BatchReference: fmt.Sprintf("BATCH-%d", batch.ID),
			ProcessDate:    batch.CreatedAt.UTC(),
			TotalRecords:   len(records),
		},
		Records: records,
	}, nil
}

func erpItem(net decimal.Decimal) domain.ERPItem {
	vat := net.Mul(config.VATRate).Div(hundred).Round(2)
	return domain.ERPItem{
		Concept:   domain.ERPItemConcept,
		NetAmount: json.Number(net.StringFixed(2)),
		VATRate:   json.Number(config.VATRate.String()),
		VATAmount: json.Number(vat.StringFixed(2)),
	}
}
