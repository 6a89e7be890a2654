package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	InvoiceNumberSeparator = "-"

	// InvoiceSequenceDigits is the zero-padded width of the sequence part.
	InvoiceSequenceDigits = 8
)

type Invoice struct {
	ID                int64
	InvoiceNumber     string
	AuthorizationCode string
	IssueDate         Date
	Amount            decimal.Decimal
	BatchID           int64
	PendingID         int64
	CreatedAt         time.Time
}

// FormatInvoiceNumber renders "{receiptBook}-{sequence}" with the sequence
// zero-padded to InvoiceSequenceDigits.
func FormatInvoiceNumber(receiptBook string, seq int64) string {
	return fmt.Sprintf("%s%s%0*d", receiptBook, InvoiceNumberSeparator, InvoiceSequenceDigits, seq)
}

// ParseInvoiceSequence returns the numeric suffix of an invoice number.
func ParseInvoiceSequence(number string) (int64, error) {
	i := strings.LastIndex(number, InvoiceNumberSeparator)
	if i < 0 || i == len(number)-1 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidInvoiceNumber, number)
	}

	suffix := number[i+1:]
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidInvoiceNumber, number)
		}
	}

	seq, err := strconv.ParseInt(suffix, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidInvoiceNumber, number)
	}
	return seq, nil
}

// InvoiceNumberPattern builds a LIKE pattern matching every invoice number of
// a receipt-book. LIKE wildcards inside the receipt-book are escaped.
func InvoiceNumberPattern(receiptBook string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(receiptBook) + InvoiceNumberSeparator + "%"
}
