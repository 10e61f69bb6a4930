package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/philipodonnell/paperbroker/internal/account"
	"github.com/philipodonnell/paperbroker/internal/asset"
	"github.com/philipodonnell/paperbroker/internal/quote"
)

// ErrMarginUnrepresentable is returned when a position set contains a
// strategy this model carries no margin rule for, such as a naked short
// option. Callers treat the account's requirement as unknown, not zero.
var ErrMarginUnrepresentable = errors.New("maintenance margin unrepresentable")

// MaintenanceMargin totals the requirement across a strategy set.
//
// Rules: long holdings and covered shorts require nothing. Short equity
// requires the full current market value, so a quote source is consulted.
// Debit spreads require nothing; credit spreads require the strike
// difference times 100 per contract. Naked short options have no rule and
// surface ErrMarginUnrepresentable.
func MaintenanceMargin(ctx context.Context, strategies []Strategy, src quote.Source) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, s := range strategies {
		m, err := strategyMargin(ctx, s, src)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(m)
	}
	return total, nil
}

// MaintenanceMarginForPositions classifies and totals in one step.
func MaintenanceMarginForPositions(ctx context.Context, positions []*account.Position, src quote.Source) (decimal.Decimal, error) {
	strategies, err := Classify(positions)
	if err != nil {
		return decimal.Zero, err
	}
	return MaintenanceMargin(ctx, strategies, src)
}

func strategyMargin(ctx context.Context, s Strategy, src quote.Source) (decimal.Decimal, error) {
	switch s := s.(type) {
	case CoveredStrategy:
		return decimal.Zero, nil

	case SpreadStrategy:
		if s.SpreadType == Debit {
			return decimal.Zero, nil
		}
		var width decimal.Decimal
		if s.SellOption.Type == asset.Put {
			width = s.SellOption.Strike.Sub(s.BuyOption.Strike)
		} else {
			width = s.BuyOption.Strike.Sub(s.SellOption.Strike)
		}
		qty := decimal.NewFromInt(s.Quantity)
		return width.Mul(qty).Mul(decimal.NewFromInt(100)), nil

	case AssetStrategy:
		if s.Direction == Long {
			return decimal.Zero, nil
		}
		if s.Asset.IsOption() {
			return decimal.Zero, fmt.Errorf("%w: naked short %s", ErrMarginUnrepresentable, s.Asset.Symbol)
		}
		q, err := src.GetQuote(ctx, s.Asset)
		if err != nil {
			return decimal.Zero, fmt.Errorf("margin quote for %s: %w", s.Asset.Symbol, err)
		}
		if !q.IsPriceable() {
			return decimal.Zero, fmt.Errorf("margin quote for %s: %w", s.Asset.Symbol, quote.ErrNotPriceable)
		}
		qty := decimal.NewFromInt(absInt(s.Quantity))
		return q.Price.Mul(qty), nil

	default:
		return decimal.Zero, fmt.Errorf("%w: unknown strategy kind", ErrMarginUnrepresentable)
	}
}
