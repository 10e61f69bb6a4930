package quote_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/philipodonnell/paperbroker/internal/asset"
	"github.com/philipodonnell/paperbroker/internal/quote"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

// newTestSource builds a static source seeded with the AAL fixture data.
func newTestSource(t *testing.T, current string) *quote.StaticSource {
	t.Helper()
	src := quote.NewStaticSource(day(current))
	src.Add("AAL", day("2017-01-27"), d("47.35"), d("47.37"))
	src.Add("AAL", day("2017-01-28"), d("46.90"), d("47.00"))
	src.Add("AAL170203P00046500", day("2017-01-27"), d("0.49"), d("0.53"))
	src.Add("AAL170203P00047500", day("2017-01-27"), d("0.91"), d("0.97"))
	return src
}

func TestNew_DerivesMidpointAndDTE(t *testing.T) {
	a := asset.MustParse("AAL170203P00046500")
	q := quote.New(a, day("2017-01-27"), d("0.49"), d("0.53"))

	if !q.Price.Equal(d("0.51")) {
		t.Errorf("price = %s, want 0.51", q.Price)
	}
	if q.DaysToExpiration != 7 {
		t.Errorf("days to expiration = %d, want 7", q.DaysToExpiration)
	}
}

func TestNew_ZeroBidAskNotPriceable(t *testing.T) {
	q := quote.New(asset.MustParse("AAL"), day("2017-01-27"), decimal.Zero, decimal.Zero)
	if q.IsPriceable() {
		t.Error("quote with zero bid and ask should not be priceable")
	}
}

func TestStaticSource_GetQuote(t *testing.T) {
	src := newTestSource(t, "2017-01-27")
	ctx := context.Background()

	q, err := src.GetQuote(ctx, asset.MustParse("AAL"))
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if !q.Price.Equal(d("47.36")) {
		t.Errorf("AAL price = %s, want 47.36", q.Price)
	}

	// Option quotes pick up the underlying price and greeks.
	oq, err := src.GetQuote(ctx, asset.MustParse("AAL170203P00046500"))
	if err != nil {
		t.Fatalf("GetQuote option: %v", err)
	}
	if !oq.UnderlyingPrice.Equal(d("47.36")) {
		t.Errorf("underlying price = %s, want 47.36", oq.UnderlyingPrice)
	}
	if oq.Greeks == nil {
		t.Error("expected greeks for a live option quote")
	} else if oq.Greeks.Delta >= 0 {
		t.Errorf("put delta should be negative, got %f", oq.Greeks.Delta)
	}
}

func TestStaticSource_NoQuoteForDate(t *testing.T) {
	src := newTestSource(t, "2017-01-29")

	_, err := src.GetQuote(context.Background(), asset.MustParse("AAL"))
	if !errors.Is(err, quote.ErrNoQuote) {
		t.Errorf("err = %v, want ErrNoQuote", err)
	}

	src.SetCurrentDate(day("2017-01-28"))
	q, err := src.GetQuote(context.Background(), asset.MustParse("AAL"))
	if err != nil {
		t.Fatalf("GetQuote after date change: %v", err)
	}
	if !q.Price.Equal(d("46.95")) {
		t.Errorf("AAL price = %s, want 46.95", q.Price)
	}
}

func TestStaticSource_GetOptions(t *testing.T) {
	src := newTestSource(t, "2017-01-27")

	quotes, err := src.GetOptions(context.Background(), asset.MustParse("AAL"), day("2017-02-03"))
	if err != nil {
		t.Fatalf("GetOptions: %v", err)
	}
	if len(quotes) != 2 {
		t.Fatalf("got %d quotes, want 2", len(quotes))
	}
	// Sorted by strike ascending.
	if !quotes[0].Asset.Strike.Equal(d("46.5")) || !quotes[1].Asset.Strike.Equal(d("47.5")) {
		t.Errorf("strikes = %s, %s; want 46.5, 47.5", quotes[0].Asset.Strike, quotes[1].Asset.Strike)
	}
}

func TestStaticSource_GetExpirationDates(t *testing.T) {
	src := newTestSource(t, "2017-01-27")
	src.Add("AAL170210C00047000", day("2017-01-27"), d("0.80"), d("0.90"))

	dates, err := src.GetExpirationDates(context.Background(), asset.MustParse("AAL"))
	if err != nil {
		t.Fatalf("GetExpirationDates: %v", err)
	}
	if len(dates) != 2 {
		t.Fatalf("got %d dates, want 2", len(dates))
	}
	if !dates[0].Equal(day("2017-02-03")) || !dates[1].Equal(day("2017-02-10")) {
		t.Errorf("dates = %v, want 2017-02-03 then 2017-02-10", dates)
	}
}

func TestLoadCSV(t *testing.T) {
	csv := strings.Join([]string{
		"symbol,date,bid,ask",
		"AAL,2017-01-27,47.35,47.37",
		"AAL170203P00046500,2017-01-27,0.49,0.53",
	}, "\n")

	src := quote.NewStaticSource(day("2017-01-27"))
	if err := src.LoadCSV(strings.NewReader(csv)); err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}

	q, err := src.GetQuote(context.Background(), asset.MustParse("AAL170203P00046500"))
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if !q.Price.Equal(d("0.51")) {
		t.Errorf("price = %s, want 0.51", q.Price)
	}
}

func TestLoadCSV_BadRow(t *testing.T) {
	csv := "AAL,not-a-date,47.35,47.37"
	src := quote.NewStaticSource(day("2017-01-27"))
	if err := src.LoadCSV(strings.NewReader(csv)); err == nil {
		t.Error("expected an error for a malformed date")
	}
}

// countingSource wraps a source and counts GetQuote calls.
type countingSource struct {
	quote.Source
	calls int
}

func (c *countingSource) GetQuote(ctx context.Context, a asset.Asset) (*quote.Quote, error) {
	c.calls++
	return c.Source.GetQuote(ctx, a)
}

func TestCache_ReadThrough(t *testing.T) {
	inner := &countingSource{Source: newTestSource(t, "2017-01-27")}
	c := quote.NewCache(inner)
	ctx := context.Background()
	aal := asset.MustParse("AAL")

	for i := 0; i < 3; i++ {
		if _, err := c.GetQuote(ctx, aal); err != nil {
			t.Fatalf("GetQuote: %v", err)
		}
	}
	if inner.calls != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls)
	}

	c.Invalidate()
	if _, err := c.GetQuote(ctx, aal); err != nil {
		t.Fatalf("GetQuote after invalidate: %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("inner calls after invalidate = %d, want 2", inner.calls)
	}
}

func TestCache_KeysByCurrentDate(t *testing.T) {
	static := newTestSource(t, "2017-01-27")
	c := quote.NewCache(static)
	ctx := context.Background()
	aal := asset.MustParse("AAL")

	q1, err := c.GetQuote(ctx, aal)
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if !q1.Price.Equal(d("47.36")) {
		t.Errorf("price = %s, want 47.36", q1.Price)
	}

	// Advancing the source's date must not serve the cached price.
	static.SetCurrentDate(day("2017-01-28"))
	q2, err := c.GetQuote(ctx, aal)
	if err != nil {
		t.Fatalf("GetQuote after date change: %v", err)
	}
	if !q2.Price.Equal(d("46.95")) {
		t.Errorf("price = %s, want 46.95", q2.Price)
	}
}
