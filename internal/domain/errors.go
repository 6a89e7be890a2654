package domain

import "errors"

var (
	ErrValidation           = errors.New("validation failed")
	ErrPendingsUnavailable  = errors.New("some pendings do not exist or are already invoiced")
	ErrBatchNotFound        = errors.New("batch not found")
	ErrJobNotFound          = errors.New("job not found")
	ErrInvalidInvoiceNumber = errors.New("invalid invoice number")
)
