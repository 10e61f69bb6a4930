// Package quote provides point-in-time priced snapshots of assets, the
// QuoteSource collaborator contract, execution-price estimators, and an
// explicit (symbol, date) quote cache.
//
// All monetary values use shopspring/decimal — never float64 for money.
package quote

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/philipodonnell/paperbroker/internal/asset"
	"github.com/philipodonnell/paperbroker/internal/greeks"
)

var (
	// ErrNoQuote is returned when no price is available for an asset on
	// the requested date.
	ErrNoQuote = errors.New("quote: no quote available")

	// ErrNotPriceable is returned when an estimator cannot derive an
	// execution price from a quote (missing or zero bid/ask).
	ErrNotPriceable = errors.New("quote: bid and ask required to estimate a price")
)

// Quote is a priced snapshot of one asset on one date. For options,
// DaysToExpiration, UnderlyingPrice, and Greeks are populated when the
// source has enough information; Greeks is nil otherwise.
type Quote struct {
	Asset asset.Asset     `json:"asset"`
	Date  time.Time       `json:"quote_date"`
	Bid   decimal.Decimal `json:"bid"`
	Ask   decimal.Decimal `json:"ask"`
	Price decimal.Decimal `json:"price"` // midpoint unless set explicitly

	DaysToExpiration int             `json:"days_to_expiration,omitempty"`
	UnderlyingPrice  decimal.Decimal `json:"underlying_price,omitempty"`
	Greeks           *greeks.Greeks  `json:"greeks,omitempty"`
}

// New builds a quote from a bid/ask pair, deriving the midpoint price.
// For options it also derives days-to-expiration from the quote date.
func New(a asset.Asset, date time.Time, bid, ask decimal.Decimal) *Quote {
	q := &Quote{Asset: a, Date: date, Bid: bid, Ask: ask}
	if !bid.Add(ask).IsZero() {
		q.Price = bid.Add(ask).Div(decimal.NewFromInt(2))
	}
	if a.IsOption() {
		q.DaysToExpiration = int(a.Expiration.Sub(midnight(date)).Hours() / 24)
	}
	return q
}

// AttachUnderlying records the underlying's price and computes greeks from
// it. Greeks stay nil when inputs are insufficient (expired, unpriceable).
func (q *Quote) AttachUnderlying(underlyingPrice decimal.Decimal) {
	if !q.Asset.IsOption() {
		return
	}
	q.UnderlyingPrice = underlyingPrice
	q.Greeks = greeks.Compute(q.Asset.Type, q.Asset.Strike, underlyingPrice, q.DaysToExpiration, q.Price)
}

// IsPriceable reports whether the quote carries a usable price.
func (q *Quote) IsPriceable() bool {
	return !q.Price.IsZero()
}

// IntrinsicValue is the option payoff at the attached underlying price.
func (q *Quote) IntrinsicValue() decimal.Decimal {
	return q.Asset.IntrinsicValue(q.UnderlyingPrice)
}

// Source is the quote collaborator contract. Implementations must fail fast
// with ErrNoQuote rather than block when a price is unavailable.
type Source interface {
	// GetQuote returns the current quote for an asset.
	GetQuote(ctx context.Context, a asset.Asset) (*Quote, error)

	// GetOptions returns quotes for the option chain of an underlying at
	// one expiration date.
	GetOptions(ctx context.Context, underlying asset.Asset, expiration time.Time) ([]*Quote, error)

	// GetExpirationDates returns the known expiration dates for an
	// underlying, ascending.
	GetExpirationDates(ctx context.Context, underlying asset.Asset) ([]time.Time, error)
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
