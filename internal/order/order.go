// Package order models trade instructions: multi-leg orders, leg roles,
// and thin builders for the common single-leg cases.
package order

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/philipodonnell/paperbroker/internal/asset"
)

// Role is a leg's opening/closing role. Opening roles create new exposure;
// closing roles reduce existing exposure.
type Role string

const (
	BuyToOpen   Role = "bto"
	SellToOpen  Role = "sto"
	BuyToClose  Role = "btc"
	SellToClose Role = "stc"
)

// Condition controls when an order may fill.
type Condition string

const (
	Market Condition = "market"
	Limit  Condition = "limit"
)

// Status is an order's lifecycle state. An unmet limit condition leaves the
// order Open — a valid terminal outcome, not a failure.
type Status string

const (
	Open   Status = "open"
	Filled Status = "filled"
	Failed Status = "failed"
)

var (
	// ErrInvalidOrder covers empty orders, duplicate assets within one
	// order, unknown roles, and zero quantities.
	ErrInvalidOrder = errors.New("order: invalid order")
)

// IsOpening reports whether the role creates new exposure.
func (r Role) IsOpening() bool { return r == BuyToOpen || r == SellToOpen }

// IsBuy reports whether the role resolves to positive quantity and price.
func (r Role) IsBuy() bool { return r == BuyToOpen || r == BuyToClose }

func (r Role) valid() bool {
	switch r {
	case BuyToOpen, SellToOpen, BuyToClose, SellToClose:
		return true
	}
	return false
}

// Leg is one instrument plus signed quantity plus role within an order.
// Quantity sign is derived from the role: buy roles force positive,
// sell roles force negative.
type Leg struct {
	Asset    asset.Asset     `json:"asset"`
	Quantity int64           `json:"quantity"`
	Role     Role            `json:"role"`
	Price    decimal.Decimal `json:"price,omitempty"` // per-unit limit, optional
}

// Order owns an ordered sequence of legs, each referencing a unique asset.
type Order struct {
	OrderID   string          `json:"order_id"`
	Legs      []Leg           `json:"legs"`
	Condition Condition       `json:"condition"`
	Price     decimal.Decimal `json:"price"` // aggregate limit price
	Status    Status          `json:"status"`
}

// Clone returns an independent copy of the order.
func (o *Order) Clone() *Order {
	dup := *o
	dup.Legs = make([]Leg, len(o.Legs))
	copy(dup.Legs, o.Legs)
	return &dup
}

// New creates an empty market order.
func New() *Order {
	return &Order{OrderID: "order-" + uuid.New().String(), Condition: Market, Status: Open}
}

// NewLimit creates an empty limit order with the given aggregate price.
func NewLimit(price decimal.Decimal) *Order {
	return &Order{OrderID: "order-" + uuid.New().String(), Condition: Limit, Price: price, Status: Open}
}

// AddLeg appends a leg, forcing the quantity sign to match the role.
// The same asset may not appear twice in one order.
func (o *Order) AddLeg(a asset.Asset, quantity int64, role Role) error {
	if !role.valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidOrder, role)
	}
	if quantity == 0 {
		return fmt.Errorf("%w: zero quantity for %s", ErrInvalidOrder, a.Symbol)
	}
	for _, leg := range o.Legs {
		if leg.Asset.Equal(a) {
			return fmt.Errorf("%w: %s already exists within this order", ErrInvalidOrder, a.Symbol)
		}
	}

	if quantity < 0 {
		quantity = -quantity
	}
	if !role.IsBuy() {
		quantity = -quantity
	}

	o.Legs = append(o.Legs, Leg{Asset: a, Quantity: quantity, Role: role})
	return nil
}

// Validate checks the order shape before any fill attempt.
func (o *Order) Validate() error {
	if len(o.Legs) == 0 {
		return fmt.Errorf("%w: orders must have one or more legs", ErrInvalidOrder)
	}
	for i, leg := range o.Legs {
		if !leg.Role.valid() {
			return fmt.Errorf("%w: leg %d has unknown role %q", ErrInvalidOrder, i, leg.Role)
		}
		if leg.Quantity == 0 {
			return fmt.Errorf("%w: leg %d has zero quantity", ErrInvalidOrder, i)
		}
		if leg.Role.IsBuy() && leg.Quantity < 0 {
			return fmt.Errorf("%w: leg %d: %s legs must be positive quantity", ErrInvalidOrder, i, leg.Role)
		}
		if !leg.Role.IsBuy() && leg.Quantity > 0 {
			return fmt.Errorf("%w: leg %d: %s legs must be negative quantity", ErrInvalidOrder, i, leg.Role)
		}
		for _, other := range o.Legs[:i] {
			if other.Asset.Equal(leg.Asset) {
				return fmt.Errorf("%w: %s appears in more than one leg", ErrInvalidOrder, leg.Asset.Symbol)
			}
		}
	}
	if o.Condition != Market && o.Condition != Limit {
		return fmt.Errorf("%w: unknown condition %q", ErrInvalidOrder, o.Condition)
	}
	return nil
}

// Single builds a one-leg market order.
func Single(a asset.Asset, quantity int64, role Role) (*Order, error) {
	o := New()
	if err := o.AddLeg(a, quantity, role); err != nil {
		return nil, err
	}
	return o, nil
}
