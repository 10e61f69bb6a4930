package quote_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/philipodonnell/paperbroker/internal/asset"
	"github.com/philipodonnell/paperbroker/internal/quote"
)

func TestMidpoint(t *testing.T) {
	q := quote.New(asset.MustParse("AAL170203P00046500"), day("2017-01-27"), d("0.49"), d("0.53"))

	p, err := quote.Midpoint{}.Estimate(q, 1)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if !p.Equal(d("0.51")) {
		t.Errorf("price = %s, want 0.51", p)
	}

	// Direction does not matter for the midpoint.
	p2, _ := quote.Midpoint{}.Estimate(q, -5)
	if !p2.Equal(p) {
		t.Errorf("sell price = %s, want %s", p2, p)
	}
}

func TestMidpoint_RoundsToCents(t *testing.T) {
	q := quote.New(asset.MustParse("AAL"), day("2017-01-27"), d("47.35"), d("47.38"))
	p, err := quote.Midpoint{}.Estimate(q, 1)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	// 47.365 rounds half away from zero.
	if !p.Equal(d("47.37")) {
		t.Errorf("price = %s, want 47.37", p)
	}
}

func TestMidpoint_ZeroBidAsk(t *testing.T) {
	q := quote.New(asset.MustParse("AAL"), day("2017-01-27"), decimal.Zero, d("47.37"))
	if _, err := (quote.Midpoint{}).Estimate(q, 1); !errors.Is(err, quote.ErrNotPriceable) {
		t.Errorf("zero bid: err = %v, want ErrNotPriceable", err)
	}

	q = quote.New(asset.MustParse("AAL"), day("2017-01-27"), d("47.35"), decimal.Zero)
	if _, err := (quote.Midpoint{}).Estimate(q, 1); !errors.Is(err, quote.ErrNotPriceable) {
		t.Errorf("zero ask: err = %v, want ErrNotPriceable", err)
	}
}

func TestSlippage(t *testing.T) {
	// Bid 1.00, ask 2.00: mid 1.50, half spread 0.50.
	q := quote.New(asset.MustParse("AAL170203P00046500"), day("2017-01-27"), d("1.00"), d("2.00"))

	tests := []struct {
		name     string
		factor   string
		quantity int64
		want     string
	}{
		{"favorable buy at bid", "1", 1, "1.00"},
		{"favorable sell at ask", "1", -1, "2.00"},
		{"adverse buy at ask", "-1", 1, "2.00"},
		{"adverse sell at bid", "-1", -1, "1.00"},
		{"neutral buy at mid", "0", 1, "1.50"},
		{"half favorable buy", "0.5", 1, "1.25"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est := quote.Slippage{Factor: d(tt.factor)}
			p, err := est.Estimate(q, tt.quantity)
			if err != nil {
				t.Fatalf("Estimate: %v", err)
			}
			if !p.Equal(d(tt.want)) {
				t.Errorf("price = %s, want %s", p, tt.want)
			}
		})
	}
}

func TestSlippage_ZeroQuantity(t *testing.T) {
	q := quote.New(asset.MustParse("AAL"), day("2017-01-27"), d("1.00"), d("2.00"))
	if _, err := (quote.Slippage{Factor: d("1")}).Estimate(q, 0); !errors.Is(err, quote.ErrNotPriceable) {
		t.Errorf("err = %v, want ErrNotPriceable", err)
	}
}

func TestFixed(t *testing.T) {
	p, err := quote.Fixed{Price: d("46.5")}.Estimate(nil, -100)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if !p.Equal(d("46.5")) {
		t.Errorf("price = %s, want 46.5", p)
	}
}
