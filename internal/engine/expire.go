package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/philipodonnell/paperbroker/internal/account"
	"github.com/philipodonnell/paperbroker/internal/asset"
	"github.com/philipodonnell/paperbroker/internal/quote"
)

var hundred = decimal.NewFromInt(100)

// ResolveExpirations settles every option position whose expiration date
// falls strictly before asOf. Out-of-the-money options vanish with no cash
// effect. In-the-money options settle at intrinsic value: long options are
// exercised into equity positions at the strike, short options are assigned
// against held equity when enough shares are available (100 per contract)
// and against the market otherwise.
//
// The account is mutated in place. Running it twice for the same date is a
// no-op the second time, since settled positions are purged.
func ResolveExpirations(ctx context.Context, acct *account.Account, src quote.Source, asOf time.Time) error {
	if len(acct.Positions) == 0 {
		return nil
	}

	underlyings := make(map[string]bool)
	for _, p := range acct.Positions {
		if p.Asset.IsOption() && p.Asset.ExpiresBefore(asOf) {
			underlyings[p.Asset.Underlying] = true
		}
	}
	if len(underlyings) == 0 {
		return nil
	}

	ordered := make([]string, 0, len(underlyings))
	for u := range underlyings {
		ordered = append(ordered, u)
	}
	sort.Strings(ordered)

	for _, underlying := range ordered {
		if err := settleUnderlying(ctx, acct, src, asOf, underlying); err != nil {
			return err
		}
	}

	acct.Compact()
	return nil
}

func settleUnderlying(ctx context.Context, acct *account.Account, src quote.Source, asOf time.Time, underlying string) error {
	equity := asset.Asset{Symbol: underlying, Type: asset.Equity}

	q, err := src.GetQuote(ctx, equity)
	if err != nil {
		return fmt.Errorf("expiration quote for %s: %w", underlying, err)
	}
	if !q.IsPriceable() {
		return fmt.Errorf("expiration quote for %s: %w", underlying, quote.ErrNotPriceable)
	}
	underlyingPrice := q.Price

	var longEquity, shortEquity int64
	for _, p := range acct.Positions {
		if p.Asset.IsOption() || p.Asset.Symbol != underlying {
			continue
		}
		if p.Quantity > 0 {
			longEquity += p.Quantity
		} else {
			shortEquity += p.Quantity
		}
	}

	for _, p := range acct.Positions {
		if !p.Asset.IsOption() || p.Asset.Underlying != underlying || !p.Asset.ExpiresBefore(asOf) {
			continue
		}

		intrinsic := p.Asset.IntrinsicValue(underlyingPrice)
		if intrinsic.IsPositive() {
			switch {
			case p.Asset.Type == asset.Call && p.Quantity > 0:
				// Exercise: buy shares at the strike, fold the option's
				// cost basis into the new equity position.
				qty := decimal.NewFromInt(p.Quantity)
				acct.Cash = acct.Cash.Sub(p.Asset.Strike.Mul(qty).Mul(hundred))
				acct.Positions = append(acct.Positions, &account.Position{
					Asset:     equity,
					Quantity:  p.Quantity * 100,
					CostBasis: p.Asset.Strike.Add(p.CostBasis.Abs()),
				})

			case p.Asset.Type == asset.Put && p.Quantity > 0:
				// Exercise: sell short at the strike.
				qty := decimal.NewFromInt(absInt(p.Quantity))
				acct.Cash = acct.Cash.Add(p.Asset.Strike.Mul(qty).Mul(hundred))
				acct.Positions = append(acct.Positions, &account.Position{
					Asset:     equity,
					Quantity:  -absInt(p.Quantity) * 100,
					CostBasis: p.Asset.Strike.Sub(p.CostBasis.Abs()),
				})

			case p.Asset.Type == asset.Call && p.Quantity < 0:
				// Assignment: deliver held shares, or buy at market and
				// deliver at the strike.
				for i := int64(0); i < absInt(p.Quantity); i++ {
					if longEquity >= 100 {
						acct.Drain(equity, -100)
						longEquity -= 100
					} else {
						acct.Cash = acct.Cash.Sub(underlyingPrice.Mul(hundred))
						acct.Cash = acct.Cash.Add(p.Asset.Strike.Mul(hundred))
					}
				}

			case p.Asset.Type == asset.Put && p.Quantity < 0:
				// Assignment: buy back a held short at market, or buy at
				// market and unload at the strike.
				for i := int64(0); i < absInt(p.Quantity); i++ {
					if shortEquity <= -100 {
						acct.Drain(equity, 100)
						acct.Cash = acct.Cash.Sub(underlyingPrice.Mul(hundred))
						shortEquity += 100
					} else {
						acct.Cash = acct.Cash.Sub(underlyingPrice.Mul(hundred))
						acct.Cash = acct.Cash.Add(p.Asset.Strike.Mul(hundred))
					}
				}
			}
		}

		p.Quantity = 0
	}

	return nil
}
