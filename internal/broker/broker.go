// Package broker orchestrates accounts, orders, and quote sources into a
// paper trading brokerage: simulate-then-commit order entry with cash and
// margin admission checks, option expiration processing, and persistence.
//
// All monetary values use shopspring/decimal — never float64 for money.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/philipodonnell/paperbroker/internal/account"
	"github.com/philipodonnell/paperbroker/internal/asset"
	"github.com/philipodonnell/paperbroker/internal/engine"
	"github.com/philipodonnell/paperbroker/internal/metrics"
	"github.com/philipodonnell/paperbroker/internal/order"
	"github.com/philipodonnell/paperbroker/internal/quote"
)

// ErrAccountConstraint is returned when a simulated fill would leave the
// account with negative cash or with less cash than its maintenance margin
// requirement. The live account is never mutated in that case.
var ErrAccountConstraint = errors.New("order violates account constraints")

// Config carries broker tunables.
type Config struct {
	StartingCash decimal.Decimal // zero → account.DefaultStartingCash
	Estimator    quote.Estimator // nil → quote.Midpoint
}

// pendingOrder is an order accepted but not yet swept into a fill.
type pendingOrder struct {
	accountID string
	ord       *order.Order
	est       quote.Estimator
}

// Broker coordinates fills against a quote source and an account store.
// A mutex serializes all account mutation (single-instance). For horizontal
// scaling, replace with per-account distributed locking.
type Broker struct {
	quotes       quote.Source
	accounts     account.Store
	estimator    quote.Estimator
	startingCash decimal.Decimal

	mu      sync.Mutex
	pending []*pendingOrder
}

// New creates a broker over a quote source and an account store.
func New(quotes quote.Source, accounts account.Store, cfg Config) *Broker {
	est := cfg.Estimator
	if est == nil {
		est = quote.Midpoint{}
	}
	cash := cfg.StartingCash
	if cash.IsZero() {
		cash = account.DefaultStartingCash
	}
	return &Broker{
		quotes:       quotes,
		accounts:     accounts,
		estimator:    est,
		startingCash: cash,
	}
}

// OpenAccount creates and persists a new account funded with the broker's
// starting cash.
func (b *Broker) OpenAccount(ctx context.Context) (*account.Account, error) {
	acct := account.New()
	acct.Cash = b.startingCash

	if err := b.accounts.Put(ctx, acct); err != nil {
		return nil, fmt.Errorf("open account: %w", err)
	}
	metrics.OpenAccounts.Inc()

	slog.Info("account opened", "account_id", acct.AccountID, "cash", acct.Cash.String())
	return acct, nil
}

// GetAccount loads an account from the store.
func (b *Broker) GetAccount(ctx context.Context, accountID string) (*account.Account, error) {
	return b.accounts.Get(ctx, accountID)
}

// GetQuote returns the current quote for an asset.
func (b *Broker) GetQuote(ctx context.Context, a asset.Asset) (*quote.Quote, error) {
	return b.quotes.GetQuote(ctx, a)
}

// GetOptionQuotes returns the option chain for one underlying and expiration.
func (b *Broker) GetOptionQuotes(ctx context.Context, underlying asset.Asset, expiration time.Time) ([]*quote.Quote, error) {
	return b.quotes.GetOptions(ctx, underlying, expiration)
}

// GetExpirationDates returns the known expiration dates for an underlying.
func (b *Broker) GetExpirationDates(ctx context.Context, underlying asset.Asset) ([]time.Time, error) {
	return b.quotes.GetExpirationDates(ctx, underlying)
}

// SimulateOrder previews an order's effect without touching shared state.
// It deep-copies the account, replays any pending orders held for it, then
// fills a copy of the candidate order, returning the resulting account.
func (b *Broker) SimulateOrder(ctx context.Context, acct *account.Account, ord *order.Order) (*account.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.simulateLocked(ctx, acct, ord, b.estimator)
}

func (b *Broker) simulateLocked(ctx context.Context, acct *account.Account, ord *order.Order, est quote.Estimator) (*account.Account, error) {
	sim := acct.Clone()

	for _, p := range b.pending {
		if p.accountID != acct.AccountID {
			continue
		}
		if err := engine.Fill(ctx, sim, p.ord.Clone(), b.quotes, p.est); err != nil {
			return nil, fmt.Errorf("replay pending order: %w", err)
		}
	}

	if err := engine.Fill(ctx, sim, ord.Clone(), b.quotes, est); err != nil {
		return nil, err
	}
	return sim, nil
}

// OrderImpact summarizes the effect of a fill on an account.
type OrderImpact struct {
	Before *account.Account
	After  *account.Account
	Order  *order.Order

	ChangeInCash              decimal.Decimal
	ChangeInMaintenanceMargin decimal.NullDecimal // Valid only when both sides are representable
}

// EnterOrder fills an order against the live account after admitting it via
// simulation: the simulated post-fill account must have non-negative cash
// and, when its maintenance margin is representable, cash covering the
// margin. Rejected orders leave the account untouched and are marked failed.
// On success the account's margin is recomputed and the account persisted.
func (b *Broker) EnterOrder(ctx context.Context, acct *account.Account, ord *order.Order) (*OrderImpact, error) {
	return b.enterOrder(ctx, acct, ord, b.estimator)
}

// EnterOrderWithEstimator is EnterOrder with a per-order estimator override.
func (b *Broker) EnterOrderWithEstimator(ctx context.Context, acct *account.Account, ord *order.Order, est quote.Estimator) (*OrderImpact, error) {
	if est == nil {
		est = b.estimator
	}
	return b.enterOrder(ctx, acct, ord, est)
}

func (b *Broker) enterOrder(ctx context.Context, acct *account.Account, ord *order.Order, est quote.Estimator) (*OrderImpact, error) {
	start := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	before := acct.Clone()

	sim, err := b.simulateLocked(ctx, acct, ord, est)
	if err != nil {
		ord.Status = order.Failed
		metrics.FillsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	simMargin, err := b.computeMargin(ctx, sim.Positions)
	if err != nil {
		ord.Status = order.Failed
		metrics.FillsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	if sim.Cash.IsNegative() {
		ord.Status = order.Failed
		metrics.ConstraintRejections.Inc()
		metrics.FillsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: cash would be %s", ErrAccountConstraint, sim.Cash)
	}
	if simMargin.Valid && sim.Cash.LessThan(simMargin.Decimal) {
		ord.Status = order.Failed
		metrics.ConstraintRejections.Inc()
		metrics.FillsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: cash %s below maintenance margin %s",
			ErrAccountConstraint, sim.Cash, simMargin.Decimal)
	}

	if err := engine.Fill(ctx, acct, ord, b.quotes, est); err != nil {
		// Simulation passed but the live fill did not; account unchanged.
		ord.Status = order.Failed
		metrics.FillsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	if ord.Status != order.Filled {
		// Limit order away from the market: queue it for a later sweep.
		b.pending = append(b.pending, &pendingOrder{accountID: acct.AccountID, ord: ord, est: est})
		metrics.FillsTotal.WithLabelValues("unfilled").Inc()
		slog.Info("order pending", "account_id", acct.AccountID, "legs", len(ord.Legs), "limit", ord.Price.String())
		return &OrderImpact{Before: before, After: acct.Clone(), Order: ord}, nil
	}

	acct.MaintenanceMargin, err = b.computeMargin(ctx, acct.Positions)
	if err != nil {
		return nil, err
	}

	if err := b.accounts.Put(ctx, acct); err != nil {
		return nil, fmt.Errorf("persist account: %w", err)
	}

	metrics.FillsTotal.WithLabelValues("filled").Inc()
	metrics.FillLatency.Observe(time.Since(start).Seconds())

	impact := &OrderImpact{
		Before:       before,
		After:        acct.Clone(),
		Order:        ord,
		ChangeInCash: acct.Cash.Sub(before.Cash),
	}
	if acct.MaintenanceMargin.Valid && before.MaintenanceMargin.Valid {
		impact.ChangeInMaintenanceMargin = decimal.NullDecimal{
			Decimal: acct.MaintenanceMargin.Decimal.Sub(before.MaintenanceMargin.Decimal),
			Valid:   true,
		}
	}

	slog.Info("order filled",
		"account_id", acct.AccountID,
		"legs", len(ord.Legs),
		"cash", acct.Cash.String(),
		"cash_change", impact.ChangeInCash.String(),
	)
	return impact, nil
}

// FillPendingOrders sweeps the pending queue, attempting each order once.
// Each attempt runs the same admission check as EnterOrder: the simulated
// post-fill account must have non-negative cash covering any representable
// maintenance margin, or the order is not committed. Filled orders leave the
// queue; orders still away from the market stay queued. Failed orders
// (constraint violations, missing quotes) are retained for the next sweep,
// or cancelled when cancelOnFailure is set.
func (b *Broker) FillPendingOrders(ctx context.Context, cancelOnFailure bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var remaining []*pendingOrder
	for _, p := range b.pending {
		filled, err := b.fillPendingLocked(ctx, p)
		if err != nil {
			metrics.FillsTotal.WithLabelValues("failed").Inc()
			if cancelOnFailure {
				p.ord.Status = order.Failed
				slog.Warn("pending order cancelled", "account_id", p.accountID, "error", err)
			} else {
				remaining = append(remaining, p)
				slog.Warn("pending order retained after failure", "account_id", p.accountID, "error", err)
			}
			continue
		}
		if !filled {
			remaining = append(remaining, p)
		}
	}

	b.pending = remaining
	return nil
}

// fillPendingLocked attempts one queued order: simulate, admit, commit.
// Returns false with a nil error when the limit is still away from the
// market. The live account is only touched after the admission check.
func (b *Broker) fillPendingLocked(ctx context.Context, p *pendingOrder) (bool, error) {
	acct, err := b.accounts.Get(ctx, p.accountID)
	if err != nil {
		return false, fmt.Errorf("load account: %w", err)
	}

	sim := acct.Clone()
	candidate := p.ord.Clone()
	if err := engine.Fill(ctx, sim, candidate, b.quotes, p.est); err != nil {
		return false, err
	}
	if candidate.Status != order.Filled {
		return false, nil
	}

	margin, err := b.computeMargin(ctx, sim.Positions)
	if err != nil {
		return false, err
	}
	if sim.Cash.IsNegative() {
		metrics.ConstraintRejections.Inc()
		return false, fmt.Errorf("%w: cash would be %s", ErrAccountConstraint, sim.Cash)
	}
	if margin.Valid && sim.Cash.LessThan(margin.Decimal) {
		metrics.ConstraintRejections.Inc()
		return false, fmt.Errorf("%w: cash %s below maintenance margin %s",
			ErrAccountConstraint, sim.Cash, margin.Decimal)
	}

	if err := engine.Fill(ctx, acct, p.ord, b.quotes, p.est); err != nil {
		return false, err
	}
	acct.MaintenanceMargin = margin

	if err := b.accounts.Put(ctx, acct); err != nil {
		return false, fmt.Errorf("persist account: %w", err)
	}
	metrics.FillsTotal.WithLabelValues("filled").Inc()
	slog.Info("pending order filled", "account_id", p.accountID, "cash", acct.Cash.String())
	return true, nil
}

// ExpireOptions settles any of the account's option positions expired as of
// asOf, recomputes margin, and persists.
func (b *Broker) ExpireOptions(ctx context.Context, acct *account.Account, asOf time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	expired := int64(0)
	for _, p := range acct.Positions {
		if p.Asset.IsOption() && p.Asset.ExpiresBefore(asOf) {
			expired += abs(p.Quantity)
		}
	}

	if err := engine.ResolveExpirations(ctx, acct, b.quotes, asOf); err != nil {
		return err
	}

	margin, err := b.computeMargin(ctx, acct.Positions)
	if err != nil {
		return err
	}
	acct.MaintenanceMargin = margin

	if err := b.accounts.Put(ctx, acct); err != nil {
		return fmt.Errorf("persist account: %w", err)
	}

	if expired > 0 {
		metrics.ExpirationsTotal.Add(float64(expired))
		slog.Info("expirations settled",
			"account_id", acct.AccountID,
			"contracts", expired,
			"cash", acct.Cash.String(),
		)
	}
	return nil
}

// BuyToOpen enters a market order opening a long position.
func (b *Broker) BuyToOpen(ctx context.Context, acct *account.Account, a asset.Asset, quantity int64) (*OrderImpact, error) {
	return b.single(ctx, acct, a, quantity, order.BuyToOpen)
}

// SellToOpen enters a market order opening a short position.
func (b *Broker) SellToOpen(ctx context.Context, acct *account.Account, a asset.Asset, quantity int64) (*OrderImpact, error) {
	return b.single(ctx, acct, a, quantity, order.SellToOpen)
}

// BuyToClose enters a market order closing a short position.
func (b *Broker) BuyToClose(ctx context.Context, acct *account.Account, a asset.Asset, quantity int64) (*OrderImpact, error) {
	return b.single(ctx, acct, a, quantity, order.BuyToClose)
}

// SellToClose enters a market order closing a long position.
func (b *Broker) SellToClose(ctx context.Context, acct *account.Account, a asset.Asset, quantity int64) (*OrderImpact, error) {
	return b.single(ctx, acct, a, quantity, order.SellToClose)
}

func (b *Broker) single(ctx context.Context, acct *account.Account, a asset.Asset, quantity int64, role order.Role) (*OrderImpact, error) {
	ord, err := order.Single(a, quantity, role)
	if err != nil {
		return nil, err
	}
	return b.EnterOrder(ctx, acct, ord)
}

// ClosePosition enters a market order flattening one position.
func (b *Broker) ClosePosition(ctx context.Context, acct *account.Account, p *account.Position) (*OrderImpact, error) {
	role := order.SellToClose
	if p.Quantity < 0 {
		role = order.BuyToClose
	}
	return b.single(ctx, acct, p.Asset, -p.Quantity, role)
}

// ClosePositions flattens every position in the account, one order each.
func (b *Broker) ClosePositions(ctx context.Context, acct *account.Account) error {
	// Snapshot first: fills mutate the position list.
	targets := make([]account.Position, 0, len(acct.Positions))
	for _, p := range acct.Positions {
		targets = append(targets, *p)
	}
	for i := range targets {
		if _, err := b.ClosePosition(ctx, acct, &targets[i]); err != nil {
			return err
		}
	}
	return nil
}

// MaintenanceMargin computes the account's current requirement.
func (b *Broker) MaintenanceMargin(ctx context.Context, acct *account.Account) (decimal.NullDecimal, error) {
	return b.computeMargin(ctx, acct.Positions)
}

// computeMargin wraps the engine calculation in the NullDecimal convention:
// an unrepresentable margin is Valid=false, any other failure is an error.
func (b *Broker) computeMargin(ctx context.Context, positions []*account.Position) (decimal.NullDecimal, error) {
	m, err := engine.MaintenanceMarginForPositions(ctx, positions, b.quotes)
	if err != nil {
		if errors.Is(err, engine.ErrMarginUnrepresentable) {
			metrics.MarginCalculationsTotal.WithLabelValues("false").Inc()
			return decimal.NullDecimal{}, nil
		}
		return decimal.NullDecimal{}, err
	}
	metrics.MarginCalculationsTotal.WithLabelValues("true").Inc()
	return decimal.NullDecimal{Decimal: m, Valid: true}, nil
}

func abs(q int64) int64 {
	if q < 0 {
		return -q
	}
	return q
}
