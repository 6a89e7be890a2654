package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/set-night/billingd/internal/domain"
	"github.com/set-night/billingd/internal/repository"
	"github.com/shopspring/decimal"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory stand-in for the billing tables. Transactions
// take per-row and per-receipt-book locks and only publish their writes on
// commit.
type memStore struct {
	mu          sync.Mutex
	pendings    map[int64]domain.BillingPending
	batches     map[int64]domain.BillingBatch
	invoices    []domain.Invoice
	rowLocks    map[int64]*sync.Mutex
	bookLocks   map[string]*sync.Mutex
	nextBatch   int64
	nextInvoice int64
	begins      int

	failInvoices error
}

func newMemStore(pendings ...domain.BillingPending) *memStore {
	s := &memStore{
		pendings:  make(map[int64]domain.BillingPending),
		batches:   make(map[int64]domain.BillingBatch),
		rowLocks:  make(map[int64]*sync.Mutex),
		bookLocks: make(map[string]*sync.Mutex),
	}
	for _, p := range pendings {
		s.pendings[p.ID] = p
	}
	return s
}

func pending(id int64, amount string) domain.BillingPending {
	return domain.BillingPending{
		ID:        id,
		ServiceID: id,
		Amount:    decimal.RequireFromString(amount),
		Status:    domain.PendingStatusPending,
	}
}

func (s *memStore) Begin(context.Context) (pgx.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begins++
	return &memTx{store: s}, nil
}

func (s *memStore) withTx(tx pgx.Tx) InvoicingQueries {
	return &memQueries{tx: tx.(*memTx)}
}

func (s *memStore) setFailInvoices(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failInvoices = err
}

func (s *memStore) status(id int64) domain.PendingStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendings[id].Status
}

func (s *memStore) committedInvoices() []domain.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.invoices)
}

func (s *memStore) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

type memTx struct {
	pgx.Tx

	store    *memStore
	held     []*sync.Mutex
	batches  []domain.BillingBatch
	invoices []domain.Invoice
	invoiced []int64
	closed   bool
}

func (t *memTx) Commit(context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	s := t.store
	s.mu.Lock()
	for _, b := range t.batches {
		s.batches[b.ID] = b
	}
	s.invoices = append(s.invoices, t.invoices...)
	for _, id := range t.invoiced {
		p := s.pendings[id]
		p.Status = domain.PendingStatusInvoiced
		s.pendings[id] = p
	}
	s.mu.Unlock()

	t.release()
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.release()
	return nil
}

func (t *memTx) release() {
	t.closed = true
	for _, m := range t.held {
		m.Unlock()
	}
	t.held = nil
}

type memQueries struct {
	tx *memTx
}

func (q *memQueries) LockPendingsForUpdate(_ context.Context, ids []int64) ([]domain.BillingPending, error) {
	s := q.tx.store
	sorted := slices.Compact(slices.Sorted(slices.Values(ids)))

	var out []domain.BillingPending
	for _, id := range sorted {
		s.mu.Lock()
		_, exists := s.pendings[id]
		m, ok := s.rowLocks[id]
		if !ok {
			m = &sync.Mutex{}
			s.rowLocks[id] = m
		}
		s.mu.Unlock()
		if !exists {
			continue
		}

		m.Lock()
		q.tx.held = append(q.tx.held, m)

		s.mu.Lock()
		p := s.pendings[id]
		s.mu.Unlock()
		if p.Status == domain.PendingStatusPending {
			out = append(out, p)
		}
	}
	return out, nil
}

func (q *memQueries) LockReceiptBook(_ context.Context, receiptBook string) error {
	s := q.tx.store
	s.mu.Lock()
	m, ok := s.bookLocks[receiptBook]
	if !ok {
		m = &sync.Mutex{}
		s.bookLocks[receiptBook] = m
	}
	s.mu.Unlock()

	m.Lock()
	q.tx.held = append(q.tx.held, m)
	return nil
}

func (q *memQueries) CreateBatch(_ context.Context, arg repository.CreateBatchParams) (domain.BillingBatch, error) {
	s := q.tx.store
	s.mu.Lock()
	s.nextBatch++
	id := s.nextBatch
	s.mu.Unlock()

	b := domain.BillingBatch{ID: id, IssueDate: arg.IssueDate, ReceiptBook: arg.ReceiptBook, Status: arg.Status}
	q.tx.batches = append(q.tx.batches, b)
	return b, nil
}

func (q *memQueries) GetLastInvoiceNumber(_ context.Context, pattern string) (string, error) {
	prefix := strings.NewReplacer(`\\`, `\`, `\%`, `%`, `\_`, `_`).Replace(strings.TrimSuffix(pattern, "%"))

	s := q.tx.store
	s.mu.Lock()
	all := append(slices.Clone(s.invoices), q.tx.invoices...)
	s.mu.Unlock()

	var (
		last   string
		lastID int64
	)
	for _, inv := range all {
		if strings.HasPrefix(inv.InvoiceNumber, prefix) && inv.ID > lastID {
			last, lastID = inv.InvoiceNumber, inv.ID
		}
	}
	if lastID == 0 {
		return "", pgx.ErrNoRows
	}
	return last, nil
}

func (q *memQueries) MarkPendingsInvoiced(_ context.Context, ids []int64) (int64, error) {
	s := q.tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, id := range ids {
		if p, ok := s.pendings[id]; ok && p.Status == domain.PendingStatusPending {
			q.tx.invoiced = append(q.tx.invoiced, id)
			n++
		}
	}
	return n, nil
}

func (q *memQueries) CreateInvoices(_ context.Context, arg []repository.CreateInvoiceParams) ([]int64, error) {
	s := q.tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failInvoices != nil {
		return nil, s.failInvoices
	}

	taken := make(map[string]bool)
	for _, inv := range s.invoices {
		taken[inv.InvoiceNumber] = true
	}

	ids := make([]int64, len(arg))
	for i, a := range arg {
		if taken[a.InvoiceNumber] {
			return nil, fmt.Errorf("duplicate invoice number %s", a.InvoiceNumber)
		}
		taken[a.InvoiceNumber] = true

		s.nextInvoice++
		ids[i] = s.nextInvoice
		q.tx.invoices = append(q.tx.invoices, domain.Invoice{
			ID:                s.nextInvoice,
			InvoiceNumber:     a.InvoiceNumber,
			AuthorizationCode: a.AuthorizationCode,
			IssueDate:         a.IssueDate,
			Amount:            a.Amount,
			BatchID:           a.BatchID,
			PendingID:         a.PendingID,
		})
	}
	return ids, nil
}
