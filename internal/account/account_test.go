package account_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/philipodonnell/paperbroker/internal/account"
	"github.com/philipodonnell/paperbroker/internal/asset"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func pos(symbol string, quantity int64, costBasis string) *account.Position {
	return &account.Position{
		Asset:     asset.MustParse(symbol),
		Quantity:  quantity,
		CostBasis: d(costBasis),
	}
}

func TestNew(t *testing.T) {
	a := account.New()
	if a.AccountID == "" {
		t.Error("expected a generated account ID")
	}
	if !a.Cash.Equal(account.DefaultStartingCash) {
		t.Errorf("cash = %s, want %s", a.Cash, account.DefaultStartingCash)
	}
	if !a.MaintenanceMargin.Valid || !a.MaintenanceMargin.Decimal.IsZero() {
		t.Errorf("margin = %+v, want valid zero", a.MaintenanceMargin)
	}
}

func TestClone_Independent(t *testing.T) {
	a := account.New()
	a.Positions = append(a.Positions, pos("AAL", 100, "47.36"))

	c := a.Clone()
	c.Cash = d("1")
	c.Positions[0].Quantity = 50
	c.Positions = append(c.Positions, pos("SPY", 10, "200"))

	if a.Cash.Equal(d("1")) {
		t.Error("clone cash mutation leaked into original")
	}
	if a.Positions[0].Quantity != 100 {
		t.Error("clone position mutation leaked into original")
	}
	if len(a.Positions) != 1 {
		t.Error("clone append leaked into original")
	}
}

func TestPosition_Values(t *testing.T) {
	p := pos("AAL170203P00046500", 2, "0.51")
	if !p.TotalCost().Equal(d("102")) {
		t.Errorf("total cost = %s, want 102", p.TotalCost())
	}

	eq := pos("AAL", 100, "47.36")
	if !eq.TotalCost().Equal(d("4736")) {
		t.Errorf("equity total cost = %s, want 4736", eq.TotalCost())
	}
}

func TestQuantityClosable(t *testing.T) {
	a := account.New()
	a.Positions = append(a.Positions,
		pos("AAL", 100, "47.36"),
		pos("AAL", 50, "46.00"),
		pos("AAL", -30, "-47.00"),
		pos("SPY", 10, "200"),
	)
	aal := asset.MustParse("AAL")

	// Selling to close drains longs.
	if got := a.QuantityClosable(aal, -120); got != 150 {
		t.Errorf("closable against longs = %d, want 150", got)
	}
	// Buying to close drains shorts.
	if got := a.QuantityClosable(aal, 10); got != -30 {
		t.Errorf("closable against shorts = %d, want -30", got)
	}
}

func TestDrain(t *testing.T) {
	aal := asset.MustParse("AAL")

	t.Run("across positions oldest first", func(t *testing.T) {
		a := account.New()
		a.Positions = append(a.Positions,
			pos("AAL", 100, "47.36"),
			pos("AAL", 50, "46.00"),
		)

		if rem := a.Drain(aal, -120); rem != 0 {
			t.Fatalf("remaining = %d, want 0", rem)
		}
		if a.Positions[0].Quantity != 0 {
			t.Errorf("first position quantity = %d, want 0", a.Positions[0].Quantity)
		}
		if a.Positions[1].Quantity != 30 {
			t.Errorf("second position quantity = %d, want 30", a.Positions[1].Quantity)
		}
	})

	t.Run("partial drain reports remainder", func(t *testing.T) {
		a := account.New()
		a.Positions = append(a.Positions, pos("AAL", 100, "47.36"))

		if rem := a.Drain(aal, -150); rem != -50 {
			t.Errorf("remaining = %d, want -50", rem)
		}
	})

	t.Run("positive drain hits shorts only", func(t *testing.T) {
		a := account.New()
		a.Positions = append(a.Positions,
			pos("AAL", 100, "47.36"),
			pos("AAL", -100, "-47.00"),
		)

		if rem := a.Drain(aal, 100); rem != 0 {
			t.Fatalf("remaining = %d, want 0", rem)
		}
		if a.Positions[0].Quantity != 100 {
			t.Error("long position should be untouched by a positive drain")
		}
		if a.Positions[1].Quantity != 0 {
			t.Errorf("short position quantity = %d, want 0", a.Positions[1].Quantity)
		}
	})
}

func TestCompact(t *testing.T) {
	a := account.New()
	a.Positions = append(a.Positions,
		pos("AAL", 0, "47.36"),
		pos("SPY", 10, "200"),
		pos("AAL", 0, "46.00"),
	)

	a.Compact()
	if len(a.Positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(a.Positions))
	}
	if a.Positions[0].Asset.Symbol != "SPY" {
		t.Errorf("kept %s, want SPY", a.Positions[0].Asset.Symbol)
	}
}

func TestPositionsIn(t *testing.T) {
	a := account.New()
	a.Positions = append(a.Positions,
		pos("AAL", 100, "47.36"),
		pos("AAL170203P00046500", 1, "0.51"),
		pos("SPY", 10, "200"),
	)

	in := a.PositionsIn("AAL")
	if len(in) != 2 {
		t.Errorf("positions in AAL = %d, want 2", len(in))
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	st := account.NewMemoryStore()

	a := account.New()
	a.Positions = append(a.Positions, pos("AAL", 100, "47.36"))
	if err := st.Put(ctx, a); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := st.Get(ctx, a.AccountID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.AccountID != a.AccountID || len(got.Positions) != 1 {
		t.Errorf("got %+v, want stored account", got)
	}

	// Stored state is isolated from later mutation of the loaded copy.
	got.Positions[0].Quantity = 1
	again, _ := st.Get(ctx, a.AccountID)
	if again.Positions[0].Quantity != 100 {
		t.Error("mutating a loaded account changed stored state")
	}

	ids, err := st.ListIDs(ctx)
	if err != nil || len(ids) != 1 || ids[0] != a.AccountID {
		t.Errorf("ListIDs = %v, %v", ids, err)
	}

	if err := st.Delete(ctx, a.AccountID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := st.Get(ctx, a.AccountID); !errors.Is(err, account.ErrNotFound) {
		t.Errorf("Get after delete: err = %v, want ErrNotFound", err)
	}

	// Deleting a missing account is not an error.
	if err := st.Delete(ctx, "nope"); err != nil {
		t.Errorf("Delete missing: %v", err)
	}
}
