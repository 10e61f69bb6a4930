package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/philipodonnell/paperbroker/internal/account"
	"github.com/philipodonnell/paperbroker/internal/engine"
)

func TestMaintenanceMargin_MixedBook(t *testing.T) {
	// Covered call: 0. Credit 5/10 spread: 500. Two debit 15/10 spreads: 0.
	// Two credit 15/25 spreads: 2000. Total 2500.
	positions := []*account.Position{
		pos("AAL", 100, "47.36"),
		pos("AAL170203C00005000", -2, "-42.00"),
		pos("AAL170203C00010000", 3, "37.00"),
		pos("AAL170203C00015000", -4, "-32.00"),
		pos("AAL170203C00025000", 2, "22.00"),
	}

	m, err := engine.MaintenanceMarginForPositions(context.Background(), positions, newTestSource(t))
	if err != nil {
		t.Fatalf("MaintenanceMarginForPositions: %v", err)
	}
	if !m.Equal(d("2500")) {
		t.Errorf("margin = %s, want 2500", m)
	}
}

func TestMaintenanceMargin_LongHoldingsRequireNothing(t *testing.T) {
	positions := []*account.Position{
		pos("AAL", 100, "47.36"),
		pos("AAL170203P00046500", 2, "0.51"),
	}

	m, err := engine.MaintenanceMarginForPositions(context.Background(), positions, newTestSource(t))
	if err != nil {
		t.Fatalf("MaintenanceMarginForPositions: %v", err)
	}
	if !m.IsZero() {
		t.Errorf("margin = %s, want 0", m)
	}
}

func TestMaintenanceMargin_ShortEquityAtMarketValue(t *testing.T) {
	positions := []*account.Position{pos("AAL", -100, "-47.00")}

	// AAL mid on the source's current date is 47.36.
	m, err := engine.MaintenanceMarginForPositions(context.Background(), positions, newTestSource(t))
	if err != nil {
		t.Fatalf("MaintenanceMarginForPositions: %v", err)
	}
	if !m.Equal(d("4736")) {
		t.Errorf("margin = %s, want 4736", m)
	}
}

func TestMaintenanceMargin_NakedShortOptionUnrepresentable(t *testing.T) {
	positions := []*account.Position{pos("AAL170203P00046500", -1, "-0.51")}

	_, err := engine.MaintenanceMarginForPositions(context.Background(), positions, newTestSource(t))
	if !errors.Is(err, engine.ErrMarginUnrepresentable) {
		t.Errorf("err = %v, want ErrMarginUnrepresentable", err)
	}
}

func TestMaintenanceMargin_CoveredShortRequiresNothing(t *testing.T) {
	positions := []*account.Position{
		pos("AAL", 100, "47.36"),
		pos("AAL170203C00047500", -1, "-0.50"),
	}

	m, err := engine.MaintenanceMarginForPositions(context.Background(), positions, newTestSource(t))
	if err != nil {
		t.Fatalf("MaintenanceMarginForPositions: %v", err)
	}
	if !m.IsZero() {
		t.Errorf("margin = %s, want 0", m)
	}
}

func TestMaintenanceMargin_CreditSpreadWidth(t *testing.T) {
	// Put credit spread sell 47 / buy 45: (47 - 45) × 100 = 200 per contract.
	positions := []*account.Position{
		pos("AAL170203P00047000", -2, "-0.90"),
		pos("AAL170203P00045000", 2, "0.30"),
	}

	m, err := engine.MaintenanceMarginForPositions(context.Background(), positions, newTestSource(t))
	if err != nil {
		t.Fatalf("MaintenanceMarginForPositions: %v", err)
	}
	if !m.Equal(d("400")) {
		t.Errorf("margin = %s, want 400", m)
	}
}
