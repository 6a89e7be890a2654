package service

import (
	"context"
	"math/rand/v2"
	"strconv"

	"github.com/set-night/billingd/internal/config"
	"github.com/shopspring/decimal"
)

// AuthorizationIssuer obtains the tax-authority authorization code for an
// invoice.
type AuthorizationIssuer interface {
	Authorize(ctx context.Context, invoiceNumber string, amount decimal.Decimal) (string, error)
}

var authCodeMin, authCodeSpan = authCodeRange(config.AuthorizationCodeDigits)

func authCodeRange(digits int) (int64, int64) {
	low := int64(1)
	for range digits - 1 {
		low *= 10
	}
	return low, 9 * low
}

// MockAuthorizationIssuer returns pseudo-random numeric codes of
// config.AuthorizationCodeDigits digits without calling any authority.
type MockAuthorizationIssuer struct{}

func (MockAuthorizationIssuer) Authorize(context.Context, string, decimal.Decimal) (string, error) {
	return strconv.FormatInt(authCodeMin+rand.Int64N(authCodeSpan), 10), nil
}
