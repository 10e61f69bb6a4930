// Package engine implements the order-fill engine, the basic-strategy
// classifier, the maintenance margin calculator, and the option expiration
// resolver. These share one invariant model (account, position, order) and
// mutate accounts in place; callers wanting previews operate on clones.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/philipodonnell/paperbroker/internal/account"
	"github.com/philipodonnell/paperbroker/internal/order"
	"github.com/philipodonnell/paperbroker/internal/quote"
)

var (
	// ErrInsufficientPosition is returned when a closing leg exceeds the
	// quantity available to close.
	ErrInsufficientPosition = errors.New("engine: not enough open positions to close")
)

// Fill applies one order against one account: estimates a per-unit
// execution price for every leg, settles cash, opens positions for opening
// legs, and drains existing opposite-sign positions for closing legs.
//
// A limit order fills only when its aggregate price is strictly below the
// estimated total order price; otherwise nothing mutates and the order
// stays Open — a no-fill outcome, not an error.
//
// All validation (quotes, estimates, sign consistency, closable quantity)
// happens before any mutation, so a returned error leaves the account
// exactly as it was.
func Fill(ctx context.Context, acct *account.Account, ord *order.Order, src quote.Source, est quote.Estimator) error {
	if acct == nil {
		return errors.New("engine: an account is required")
	}
	if src == nil {
		return errors.New("engine: a quote source is required")
	}
	if est == nil {
		est = quote.Midpoint{}
	}
	if err := ord.Validate(); err != nil {
		return err
	}

	// Stage: price every leg and accumulate the estimated order total.
	// Leg prices are oriented by quantity sign (sells negative).
	legPrices := make([]decimal.Decimal, len(ord.Legs))
	orderPrice := decimal.Zero
	for i, leg := range ord.Legs {
		q, err := src.GetQuote(ctx, leg.Asset)
		if err != nil {
			return err
		}
		p, err := est.Estimate(q, leg.Quantity)
		if err != nil {
			return err
		}
		signed := p.Mul(signDecimal(leg.Quantity))
		legPrices[i] = signed
		orderPrice = orderPrice.Add(signed.Mul(decimal.NewFromInt(absInt(leg.Quantity))))
	}

	if ord.Condition == order.Limit && !ord.Price.LessThan(orderPrice) {
		return nil // unmet limit: no fill, order stays open
	}

	// Stage: validate every leg before mutating anything.
	for i, leg := range ord.Legs {
		costBasis := legPrices[i]
		if leg.Role.IsBuy() && (leg.Quantity < 0 || costBasis.IsNegative()) {
			return fmt.Errorf("%w: %s legs must resolve to positive quantity and price", order.ErrInvalidOrder, leg.Role)
		}
		if !leg.Role.IsBuy() && (leg.Quantity > 0 || costBasis.IsPositive()) {
			return fmt.Errorf("%w: %s legs must resolve to negative quantity and price", order.ErrInvalidOrder, leg.Role)
		}

		if !leg.Role.IsOpening() {
			available := acct.QuantityClosable(leg.Asset, leg.Quantity)
			if available == 0 {
				return fmt.Errorf("%w: no open positions in %s", ErrInsufficientPosition, leg.Asset.Symbol)
			}
			if absInt(available) < absInt(leg.Quantity) {
				return fmt.Errorf("%w: %s has %d available, leg needs %d",
					ErrInsufficientPosition, leg.Asset.Symbol, absInt(available), absInt(leg.Quantity))
			}
		}
	}

	// Commit: cash effects and position changes.
	for i, leg := range ord.Legs {
		costBasis := legPrices[i]

		// Buying reduces cash, selling increases it, scaled by the
		// contract multiplier.
		amount := costBasis.Abs().
			Mul(decimal.NewFromInt(absInt(leg.Quantity))).
			Mul(leg.Asset.Multiplier())
		if leg.Quantity > 0 {
			acct.Cash = acct.Cash.Sub(amount)
		} else {
			acct.Cash = acct.Cash.Add(amount)
		}

		if leg.Role.IsOpening() {
			acct.Positions = append(acct.Positions, &account.Position{
				Asset:     leg.Asset,
				Quantity:  leg.Quantity,
				CostBasis: costBasis,
			})
		} else {
			acct.Drain(leg.Asset, leg.Quantity)
		}
	}

	acct.Compact()
	ord.Status = order.Filled
	return nil
}

func signDecimal(q int64) decimal.Decimal {
	if q < 0 {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

func absInt(q int64) int64 {
	if q < 0 {
		return -q
	}
	return q
}
