// Package asset models tradable instruments: equities identified by a plain
// symbol, and option contracts whose canonical symbol encodes underlying,
// expiration, type, and strike positionally (OCC-style).
//
// Strikes use shopspring/decimal — never float64 for money.
package asset

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Type tags the instrument kind.
type Type string

const (
	Equity Type = "equity"
	Call   Type = "call"
	Put    Type = "put"
)

var (
	// ErrInvalidAsset is returned for malformed symbols or option fields.
	ErrInvalidAsset = errors.New("asset: invalid asset")
)

// optionSymbolRegex matches {underlying}{YYMMDD}{C|P}{strike*1000, 8 digits}.
// Example: AAL170203P00046500 = AAL 2017-02-03 put, strike 46.50.
var optionSymbolRegex = regexp.MustCompile(`^([A-Z][A-Z0-9.]*?)(\d{6})([CP])(\d{8})$`)

// Asset identifies one instrument. Equality is by Symbol; option fields are
// fully derivable from the symbol and vice versa. Immutable once constructed.
type Asset struct {
	Symbol string `json:"symbol"`
	Type   Type   `json:"asset_type"`

	// Option-only fields; zero values for equities.
	Underlying string          `json:"underlying,omitempty"`
	Strike     decimal.Decimal `json:"strike,omitempty"`
	Expiration time.Time       `json:"expiration_date,omitempty"`
}

// Parse builds an Asset from a canonical symbol. Symbols longer than eight
// characters that match the positional option layout decode as options;
// everything else is an equity.
func Parse(symbol string) (Asset, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return Asset{}, fmt.Errorf("%w: empty symbol", ErrInvalidAsset)
	}

	// Anything longer than a plain ticker must decode as an option.
	if len(symbol) > 8 {
		m := optionSymbolRegex.FindStringSubmatch(symbol)
		if m == nil {
			return Asset{}, fmt.Errorf("%w: %q is not a valid option symbol", ErrInvalidAsset, symbol)
		}
		return parseOption(symbol, m)
	}

	return Asset{Symbol: symbol, Type: Equity}, nil
}

func parseOption(symbol string, m []string) (Asset, error) {
	expiration, err := time.Parse("060102", m[2])
	if err != nil {
		return Asset{}, fmt.Errorf("%w: bad expiration in %q", ErrInvalidAsset, symbol)
	}

	// Strike is encoded in thousandths of a dollar.
	strike, err := decimal.NewFromString(m[4])
	if err != nil {
		return Asset{}, fmt.Errorf("%w: bad strike in %q", ErrInvalidAsset, symbol)
	}
	strike = strike.Div(decimal.NewFromInt(1000))
	if !strike.IsPositive() {
		return Asset{}, fmt.Errorf("%w: strike must be > 0 in %q", ErrInvalidAsset, symbol)
	}

	typ := Put
	if m[3] == "C" {
		typ = Call
	}

	return Asset{
		Symbol:     symbol,
		Type:       typ,
		Underlying: m[1],
		Strike:     strike,
		Expiration: expiration,
	}, nil
}

// MustParse is Parse for known-good symbols; it panics on error.
// Intended for tests and literals.
func MustParse(symbol string) Asset {
	a, err := Parse(symbol)
	if err != nil {
		panic(err)
	}
	return a
}

// NewOption builds an option asset from explicit fields and derives its
// canonical symbol. Encoding then Parse returns an equal asset, with the
// strike preserved to 0.001.
func NewOption(underlying string, typ Type, strike decimal.Decimal, expiration time.Time) (Asset, error) {
	underlying = strings.ToUpper(strings.TrimSpace(underlying))
	if underlying == "" {
		return Asset{}, fmt.Errorf("%w: an underlying is required", ErrInvalidAsset)
	}
	if typ != Call && typ != Put {
		return Asset{}, fmt.Errorf("%w: option type must be call or put, got %q", ErrInvalidAsset, typ)
	}
	if !strike.IsPositive() {
		return Asset{}, fmt.Errorf("%w: strike must be > 0, got %s", ErrInvalidAsset, strike)
	}
	if expiration.IsZero() {
		return Asset{}, fmt.Errorf("%w: an expiration date is required", ErrInvalidAsset)
	}

	typeCode := "P"
	if typ == Call {
		typeCode = "C"
	}
	strike = strike.Round(3)
	thousandths := strike.Mul(decimal.NewFromInt(1000)).Round(0)

	symbol := fmt.Sprintf("%s%s%s%08d",
		underlying, expiration.Format("060102"), typeCode, thousandths.IntPart())

	return Asset{
		Symbol:     symbol,
		Type:       typ,
		Underlying: underlying,
		Strike:     strike,
		Expiration: time.Date(expiration.Year(), expiration.Month(), expiration.Day(), 0, 0, 0, 0, time.UTC),
	}, nil
}

// NewEquity builds an equity asset.
func NewEquity(symbol string) (Asset, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" || len(symbol) > 8 {
		return Asset{}, fmt.Errorf("%w: equity symbol %q", ErrInvalidAsset, symbol)
	}
	return Asset{Symbol: symbol, Type: Equity}, nil
}

// IsOption reports whether the asset is a call or a put.
func (a Asset) IsOption() bool {
	return a.Type == Call || a.Type == Put
}

// Equal compares assets by symbol, case-insensitively.
func (a Asset) Equal(b Asset) bool {
	return strings.EqualFold(a.Symbol, b.Symbol)
}

// Multiplier is the per-unit dollar multiplier: 100 for option contracts,
// 1 for equities.
func (a Asset) Multiplier() decimal.Decimal {
	if a.IsOption() {
		return decimal.NewFromInt(100)
	}
	return decimal.NewFromInt(1)
}

// IntrinsicValue is the in-the-money payoff at the given underlying price,
// floored at zero. Zero for equities.
func (a Asset) IntrinsicValue(underlyingPrice decimal.Decimal) decimal.Decimal {
	switch a.Type {
	case Call:
		if v := underlyingPrice.Sub(a.Strike); v.IsPositive() {
			return v
		}
	case Put:
		if v := a.Strike.Sub(underlyingPrice); v.IsPositive() {
			return v
		}
	}
	return decimal.Zero
}

// ExtrinsicValue is the option price net of intrinsic value.
func (a Asset) ExtrinsicValue(price, underlyingPrice decimal.Decimal) decimal.Decimal {
	if !a.IsOption() {
		return decimal.Zero
	}
	return price.Abs().Sub(a.IntrinsicValue(underlyingPrice))
}

// ExpiresBefore reports whether the option's expiration date falls strictly
// before the given calendar date. Always false for equities.
func (a Asset) ExpiresBefore(date time.Time) bool {
	if !a.IsOption() {
		return false
	}
	y1, m1, d1 := a.Expiration.Date()
	y2, m2, d2 := date.Date()
	e := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	c := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	return e.Before(c)
}

// UnderlyingAsset returns the underlying equity for options, or the asset
// itself for equities.
func (a Asset) UnderlyingAsset() Asset {
	if !a.IsOption() {
		return a
	}
	return Asset{Symbol: a.Underlying, Type: Equity}
}
