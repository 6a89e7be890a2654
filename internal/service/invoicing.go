package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/set-night/billingd/internal/domain"
	"github.com/set-night/billingd/internal/repository"
)

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// InvoicingQueries is the part of repository.Queries the engine runs inside
// its transaction.
type InvoicingQueries interface {
	LockPendingsForUpdate(ctx context.Context, ids []int64) ([]domain.BillingPending, error)
	LockReceiptBook(ctx context.Context, receiptBook string) error
	CreateBatch(ctx context.Context, arg repository.CreateBatchParams) (domain.BillingBatch, error)
	GetLastInvoiceNumber(ctx context.Context, pattern string) (string, error)
	MarkPendingsInvoiced(ctx context.Context, ids []int64) (int64, error)
	CreateInvoices(ctx context.Context, arg []repository.CreateInvoiceParams) ([]int64, error)
}

// InvoicingService turns a set of pendings into a batch of invoices in one
// database transaction.
type InvoicingService struct {
	db     TxBeginner
	withTx func(pgx.Tx) InvoicingQueries
	issuer AuthorizationIssuer
	logger *slog.Logger
}

func NewInvoicingService(db TxBeginner, queries *repository.Queries, issuer AuthorizationIssuer, logger *slog.Logger) *InvoicingService {
	return &InvoicingService{
		db:     db,
		withTx: func(tx pgx.Tx) InvoicingQueries { return queries.WithTx(tx) },
		issuer: issuer,
		logger: logger,
	}
}

// ProcessBatch locks the requested pendings, creates the batch header and
// one invoice per pending with consecutive numbers of the receipt-book, and
// marks the pendings as invoiced. Either everything is committed or nothing
// is. When any requested pending is missing or no longer PENDING the call
// fails with domain.ErrPendingsUnavailable.
func (s *InvoicingService) ProcessBatch(ctx context.Context, req domain.BatchRequest) (domain.BatchResult, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return domain.BatchResult{}, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return domain.BatchResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	qtx := s.withTx(tx)

	// Row locks are taken in ascending id order so overlapping batches
	// cannot deadlock.
	pendings, err := qtx.LockPendingsForUpdate(ctx, req.PendingIDs)
	if err != nil {
		return domain.BatchResult{}, fmt.Errorf("lock pendings: %w", err)
	}
	if len(pendings) != len(req.PendingIDs) {
		return domain.BatchResult{}, fmt.Errorf("%w: requested %d, available %d",
			domain.ErrPendingsUnavailable, len(req.PendingIDs), len(pendings))
	}

	// Batches over disjoint pendings still share the receipt-book sequence.
	if err := qtx.LockReceiptBook(ctx, req.ReceiptBook); err != nil {
		return domain.BatchResult{}, fmt.Errorf("lock receipt book: %w", err)
	}

	batch, err := qtx.CreateBatch(ctx, repository.CreateBatchParams{
		IssueDate:   req.IssueDate,
		ReceiptBook: req.ReceiptBook,
		Status:      domain.BatchStatusProcessed,
	})
	if err != nil {
		return domain.BatchResult{}, fmt.Errorf("create batch: %w", err)
	}

	seq, err := lastSequence(ctx, qtx, req.ReceiptBook)
	if err != nil {
		return domain.BatchResult{}, err
	}

	invoices := make([]repository.CreateInvoiceParams, len(pendings))
	ids := make([]int64, len(pendings))
	for i, p := range pendings {
		seq++
		number := domain.FormatInvoiceNumber(req.ReceiptBook, seq)

		code, err := s.issuer.Authorize(ctx, number, p.Amount)
		if err != nil {
			return domain.BatchResult{}, fmt.Errorf("authorize invoice %s: %w", number, err)
		}

		invoices[i] = repository.CreateInvoiceParams{
			InvoiceNumber:     number,
			AuthorizationCode: code,
			IssueDate:         req.IssueDate,
			Amount:            p.Amount,
			BatchID:           batch.ID,
			PendingID:         p.ID,
		}
		ids[i] = p.ID
	}

	marked, err := qtx.MarkPendingsInvoiced(ctx, ids)
	if err != nil {
		return domain.BatchResult{}, fmt.Errorf("mark pendings invoiced: %w", err)
	}
	if marked != int64(len(ids)) {
		return domain.BatchResult{}, fmt.Errorf("%w: marked %d of %d",
			domain.ErrPendingsUnavailable, marked, len(ids))
	}

	if _, err := qtx.CreateInvoices(ctx, invoices); err != nil {
		return domain.BatchResult{}, fmt.Errorf("create invoices: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.BatchResult{}, fmt.Errorf("commit: %w", err)
	}

	s.logger.Info("batch invoiced",
		"batch_id", batch.ID,
		"receipt_book", req.ReceiptBook,
		"invoices", len(invoices),
		"first_number", invoices[0].InvoiceNumber,
		"last_number", invoices[len(invoices)-1].InvoiceNumber,
	)

	return domain.BatchResult{BatchID: batch.ID, InvoicesGenerated: len(invoices)}, nil
}

// lastSequence returns the sequence of the newest invoice of the
// receipt-book, or 0 when the book has none.
func lastSequence(ctx context.Context, qtx InvoicingQueries, receiptBook string) (int64, error) {
	number, err := qtx.GetLastInvoiceNumber(ctx, domain.InvoiceNumberPattern(receiptBook))
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get last invoice number: %w", err)
	}

	seq, err := domain.ParseInvoiceSequence(number)
	if err != nil {
		return 0, fmt.Errorf("last invoice of %s: %w", receiptBook, err)
	}
	return seq, nil
}
