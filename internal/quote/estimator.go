package quote

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Estimator converts a quote plus a trade direction into an assumed
// per-unit execution price. Quantity is used for direction only.
type Estimator interface {
	Estimate(q *Quote, quantity int64) (decimal.Decimal, error)
}

// Midpoint estimates every execution at the bid/ask midpoint, rounded to
// cents. This is the default estimator.
type Midpoint struct{}

func (Midpoint) Estimate(q *Quote, _ int64) (decimal.Decimal, error) {
	if q.Bid.IsZero() || q.Ask.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNotPriceable, q.Asset.Symbol)
	}
	return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2)).Round(2), nil
}

// Slippage estimates execution at a biased point within the bid/ask spread.
//
// Factor is in [-1, 1]:
//
//	+1.0 most favorable (buy at bid / sell at ask)
//	 0.0 midpoint
//	-1.0 least favorable (buy at ask / sell at bid)
type Slippage struct {
	Factor decimal.Decimal
}

func (s Slippage) Estimate(q *Quote, quantity int64) (decimal.Decimal, error) {
	if q.Bid.IsZero() || q.Ask.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNotPriceable, q.Asset.Symbol)
	}
	if quantity == 0 {
		return decimal.Zero, fmt.Errorf("%w: a signed quantity is required for slippage", ErrNotPriceable)
	}

	halfSpread := q.Ask.Sub(q.Bid).Div(decimal.NewFromInt(2))
	mid := q.Bid.Add(halfSpread)

	if quantity > 0 {
		return mid.Sub(halfSpread.Mul(s.Factor)), nil
	}
	return mid.Add(halfSpread.Mul(s.Factor)), nil
}

// Fixed estimates every execution at one fixed price, regardless of the
// quote. Used to force settlements at a known level.
type Fixed struct {
	Price decimal.Decimal
}

func (f Fixed) Estimate(_ *Quote, _ int64) (decimal.Decimal, error) {
	return f.Price, nil
}
