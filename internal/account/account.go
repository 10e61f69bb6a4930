// Package account holds the virtual brokerage account model: cash,
// positions, derived maintenance margin, and the position-draining
// primitive shared by closing legs and option settlement.
//
// All monetary values use shopspring/decimal — never float64 for money.
package account

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/philipodonnell/paperbroker/internal/asset"
	"github.com/philipodonnell/paperbroker/internal/quote"
)

// Position is a signed-quantity holding of one asset with a per-unit cost
// basis. Sign encodes long/short. A position driven to exactly zero is
// removed from its account, never retained.
type Position struct {
	Asset     asset.Asset     `json:"asset"`
	Quantity  int64           `json:"quantity"`
	CostBasis decimal.Decimal `json:"cost_basis"`

	// Quote is an optional attached snapshot enabling derived metrics.
	// Transient: never persisted.
	Quote *quote.Quote `json:"-"`
}

// TotalCost is the signed dollar cost of the position:
// cost basis × quantity × multiplier.
func (p *Position) TotalCost() decimal.Decimal {
	return p.CostBasis.Mul(decimal.NewFromInt(p.Quantity)).Mul(p.Asset.Multiplier())
}

// MarketValue is the signed dollar value at the attached quote's price.
// Zero when no quote is attached.
func (p *Position) MarketValue() decimal.Decimal {
	if p.Quote == nil {
		return decimal.Zero
	}
	return p.Quote.Price.Mul(decimal.NewFromInt(p.Quantity)).Mul(p.Asset.Multiplier())
}

// UnrealizedProfit is market value minus total cost. Zero without a quote.
func (p *Position) UnrealizedProfit() decimal.Decimal {
	if p.Quote == nil {
		return decimal.Zero
	}
	return p.MarketValue().Sub(p.TotalCost())
}

// Account is one virtual brokerage account. Positions keep insertion order
// (open order); the order matters only as the drain tie-break. The account
// is a single unit of mutation: callers must serialize access.
type Account struct {
	AccountID string          `json:"account_id"`
	Cash      decimal.Decimal `json:"cash"`
	Positions []*Position     `json:"positions"`

	// MaintenanceMargin is recomputed after every mutation. Valid=false
	// means the margin is unrepresentable (for example a naked short
	// option), which is distinct from a margin of zero.
	MaintenanceMargin decimal.NullDecimal `json:"maintenance_margin"`
}

// DefaultStartingCash seeds newly opened accounts.
var DefaultStartingCash = decimal.NewFromInt(10000)

// New creates an account with a generated ID and the default starting cash.
func New() *Account {
	return &Account{
		AccountID:         "account-" + uuid.New().String(),
		Cash:              DefaultStartingCash,
		MaintenanceMargin: decimal.NewNullDecimal(decimal.Zero),
	}
}

// Clone returns a deep copy of the account. Simulations run against clones
// so callers can preview an order without touching shared state.
func (a *Account) Clone() *Account {
	c := &Account{
		AccountID:         a.AccountID,
		Cash:              a.Cash,
		MaintenanceMargin: a.MaintenanceMargin,
		Positions:         make([]*Position, len(a.Positions)),
	}
	for i, p := range a.Positions {
		cp := *p
		c.Positions[i] = &cp
	}
	return c
}

// PositionsIn returns the positions of, or deriving from, one underlying:
// the equity itself plus every option on it.
func (a *Account) PositionsIn(underlying string) []*Position {
	var out []*Position
	for _, p := range a.Positions {
		if p.Asset.Symbol == underlying || (p.Asset.IsOption() && p.Asset.Underlying == underlying) {
			out = append(out, p)
		}
	}
	return out
}

// QuantityClosable sums position quantity in the given asset with sign
// opposite to the closing quantity — the amount a closing leg or forced
// settlement can drain.
func (a *Account) QuantityClosable(target asset.Asset, closingQuantity int64) int64 {
	var total int64
	for _, p := range a.Positions {
		if p.Asset.Equal(target) && sign(p.Quantity) == -sign(closingQuantity) {
			total += p.Quantity
		}
	}
	return total
}

// Drain reduces positions in the target asset by the signed quantity,
// oldest first. A drain quantity of -100 removes 100 units from long
// positions; +100 removes 100 units from shorts. Positions are reduced in
// their current list order, each absorbing as much as it can. Returns the
// quantity that could not be drained (zero when fully applied).
//
// Draining leaves zero-quantity husks in place; call Compact to purge them.
func (a *Account) Drain(target asset.Asset, quantity int64) int64 {
	remaining := quantity
	for _, p := range a.Positions {
		if remaining == 0 {
			break
		}
		if !p.Asset.Equal(target) || sign(p.Quantity) != -sign(quantity) {
			continue
		}
		if abs(remaining) <= abs(p.Quantity) {
			p.Quantity += remaining
			return 0
		}
		remaining += p.Quantity
		p.Quantity = 0
	}
	return remaining
}

// Compact removes positions with exactly zero quantity.
func (a *Account) Compact() {
	kept := a.Positions[:0]
	for _, p := range a.Positions {
		if p.Quantity != 0 {
			kept = append(kept, p)
		}
	}
	a.Positions = kept
}

func sign(q int64) int64 {
	switch {
	case q > 0:
		return 1
	case q < 0:
		return -1
	}
	return 0
}

func abs(q int64) int64 {
	if q < 0 {
		return -q
	}
	return q
}
