package engine_test

import (
	"context"
	"testing"

	"github.com/philipodonnell/paperbroker/internal/account"
	"github.com/philipodonnell/paperbroker/internal/engine"
	"github.com/philipodonnell/paperbroker/internal/quote"
)

// expiredSource answers for 2017-02-04, the day after the fixture options'
// 2017-02-03 expiration. AAL mid is 46.95.
func expiredSource(t *testing.T) *quote.StaticSource {
	t.Helper()
	src := newTestSource(t)
	src.SetCurrentDate(day("2017-02-04"))
	return src
}

func resolve(t *testing.T, acct *account.Account, src quote.Source) {
	t.Helper()
	if err := engine.ResolveExpirations(context.Background(), acct, src, day("2017-02-04")); err != nil {
		t.Fatalf("ResolveExpirations: %v", err)
	}
}

func TestResolveExpirations_NoOptions(t *testing.T) {
	acct := newTestAccount("1000")
	acct.Positions = append(acct.Positions, pos("AAL", 100, "47.36"))

	resolve(t, acct, expiredSource(t))

	if !acct.Cash.Equal(d("1000")) || len(acct.Positions) != 1 {
		t.Error("equity-only account must be untouched")
	}
}

func TestResolveExpirations_OutOfTheMoneyVanishes(t *testing.T) {
	acct := newTestAccount("1000")
	acct.Positions = append(acct.Positions,
		pos("AAL170203C00047500", 1, "0.50"),   // 46.95 < 47.5, worthless
		pos("AAL170203P00046500", 1, "0.51"),   // 46.95 > 46.5, worthless
		pos("AAL170203P00046500", -1, "-0.51"), // short side too
	)

	resolve(t, acct, expiredSource(t))

	if !acct.Cash.Equal(d("1000")) {
		t.Errorf("cash = %s, want 1000 (no cash effect)", acct.Cash)
	}
	if len(acct.Positions) != 0 {
		t.Errorf("positions = %d, want 0", len(acct.Positions))
	}
}

func TestResolveExpirations_LongCallExercises(t *testing.T) {
	acct := newTestAccount("10000")
	acct.Positions = append(acct.Positions, pos("AAL170203C00046000", 1, "0.95"))

	resolve(t, acct, expiredSource(t))

	// Charged the strike: 10000 - 46 × 100 = 5400.
	if !acct.Cash.Equal(d("5400")) {
		t.Errorf("cash = %s, want 5400", acct.Cash)
	}
	if len(acct.Positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(acct.Positions))
	}
	p := acct.Positions[0]
	if p.Asset.Symbol != "AAL" || p.Quantity != 100 {
		t.Errorf("position = %s qty %d, want AAL qty 100", p.Asset.Symbol, p.Quantity)
	}
	// Cost basis folds in the option premium: 46 + 0.95.
	if !p.CostBasis.Equal(d("46.95")) {
		t.Errorf("cost basis = %s, want 46.95", p.CostBasis)
	}
}

func TestResolveExpirations_LongPutExercises(t *testing.T) {
	acct := newTestAccount("1000")
	acct.Positions = append(acct.Positions, pos("AAL170203P00047500", 1, "0.94"))

	resolve(t, acct, expiredSource(t))

	// Credited the strike: 1000 + 47.5 × 100 = 5750.
	if !acct.Cash.Equal(d("5750")) {
		t.Errorf("cash = %s, want 5750", acct.Cash)
	}
	if len(acct.Positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(acct.Positions))
	}
	p := acct.Positions[0]
	if p.Quantity != -100 {
		t.Errorf("quantity = %d, want -100", p.Quantity)
	}
	if !p.CostBasis.Equal(d("46.56")) { // 47.5 - 0.94
		t.Errorf("cost basis = %s, want 46.56", p.CostBasis)
	}
}

func TestResolveExpirations_ShortCallAssignedFromInventory(t *testing.T) {
	acct := newTestAccount("1000")
	acct.Positions = append(acct.Positions,
		pos("AAL", 100, "47.36"),
		pos("AAL170203C00046000", -1, "-0.95"),
	)

	resolve(t, acct, expiredSource(t))

	// Shares delivered from inventory; no cash effect.
	if !acct.Cash.Equal(d("1000")) {
		t.Errorf("cash = %s, want 1000", acct.Cash)
	}
	if len(acct.Positions) != 0 {
		t.Errorf("positions = %d, want 0", len(acct.Positions))
	}
}

func TestResolveExpirations_ShortCallAssignedAtMarket(t *testing.T) {
	acct := newTestAccount("10000")
	acct.Positions = append(acct.Positions, pos("AAL170203C00046000", -1, "-0.95"))

	resolve(t, acct, expiredSource(t))

	// Buy at 46.95, deliver at 46: 10000 - 4695 + 4600 = 9905.
	if !acct.Cash.Equal(d("9905")) {
		t.Errorf("cash = %s, want 9905", acct.Cash)
	}
	if len(acct.Positions) != 0 {
		t.Errorf("positions = %d, want 0", len(acct.Positions))
	}
}

func TestResolveExpirations_ShortCallPartialInventory(t *testing.T) {
	// 100 shares cover one of two assigned contracts; the other settles
	// against the market.
	acct := newTestAccount("10000")
	acct.Positions = append(acct.Positions,
		pos("AAL", 100, "47.36"),
		pos("AAL170203C00046000", -2, "-0.95"),
	)

	resolve(t, acct, expiredSource(t))

	if !acct.Cash.Equal(d("9905")) {
		t.Errorf("cash = %s, want 9905", acct.Cash)
	}
	if len(acct.Positions) != 0 {
		t.Errorf("positions = %d, want 0", len(acct.Positions))
	}
}

func TestResolveExpirations_ShortPutAssignedAgainstShortEquity(t *testing.T) {
	acct := newTestAccount("10000")
	acct.Positions = append(acct.Positions,
		pos("AAL", -100, "-47.00"),
		pos("AAL170203P00047500", -1, "-0.94"),
	)

	resolve(t, acct, expiredSource(t))

	// The short is bought back at market: 10000 - 46.95 × 100 = 5305.
	if !acct.Cash.Equal(d("5305")) {
		t.Errorf("cash = %s, want 5305", acct.Cash)
	}
	if len(acct.Positions) != 0 {
		t.Errorf("positions = %d, want 0", len(acct.Positions))
	}
}

func TestResolveExpirations_ShortPutAssignedAtMarket(t *testing.T) {
	acct := newTestAccount("10000")
	acct.Positions = append(acct.Positions, pos("AAL170203P00047500", -1, "-0.94"))

	resolve(t, acct, expiredSource(t))

	// Buy at 46.95, unload at 47.5: 10000 - 4695 + 4750 = 10055.
	if !acct.Cash.Equal(d("10055")) {
		t.Errorf("cash = %s, want 10055", acct.Cash)
	}
	if len(acct.Positions) != 0 {
		t.Errorf("positions = %d, want 0", len(acct.Positions))
	}
}

func TestResolveExpirations_NotYetExpiredUntouched(t *testing.T) {
	acct := newTestAccount("1000")
	acct.Positions = append(acct.Positions, pos("AAL170203P00046500", 1, "0.51"))

	// On the expiration date itself the option has not yet expired.
	if err := engine.ResolveExpirations(context.Background(), acct, expiredSource(t), day("2017-02-03")); err != nil {
		t.Fatalf("ResolveExpirations: %v", err)
	}
	if len(acct.Positions) != 1 {
		t.Error("option expiring today must not settle yet")
	}
}

func TestResolveExpirations_Idempotent(t *testing.T) {
	acct := newTestAccount("10000")
	acct.Positions = append(acct.Positions, pos("AAL170203C00046000", 1, "0.95"))
	src := expiredSource(t)

	resolve(t, acct, src)
	cash := acct.Cash
	positions := len(acct.Positions)

	resolve(t, acct, src)
	if !acct.Cash.Equal(cash) || len(acct.Positions) != positions {
		t.Error("second resolution must be a no-op")
	}
}
