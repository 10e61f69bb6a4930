// Package greeks computes Black-Scholes implied volatility and greeks for
// European-style options.
//
// Monetary inputs arrive as shopspring/decimal and are converted to float64
// at the boundary: the transcendental math (exp, log, erf) has no exact
// decimal form, and the outputs are analytics, not money.
package greeks

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/philipodonnell/paperbroker/internal/asset"
)

// riskFreeRate approximates the treasury rate used for discounting.
const riskFreeRate = 0.02

// Greeks holds the option sensitivities derived from one quote.
type Greeks struct {
	IV    float64 `json:"iv"`
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Vega  float64 `json:"vega"`
	Theta float64 `json:"theta"` // per calendar day
	Rho   float64 `json:"rho"`
}

// Compute derives greeks from (option type, strike, underlying price,
// days to expiration, option price). Returns nil when the inputs are
// insufficient: non-option type, dte <= 0, missing prices, or when no
// implied volatility reproduces the observed option price.
func Compute(typ asset.Type, strike, underlyingPrice decimal.Decimal, daysToExpiration int, price decimal.Decimal) *Greeks {
	if typ != asset.Call && typ != asset.Put {
		return nil
	}
	if daysToExpiration <= 0 {
		return nil
	}
	if !strike.IsPositive() || !underlyingPrice.IsPositive() || !price.IsPositive() {
		return nil
	}

	s := underlyingPrice.InexactFloat64()
	k := strike.InexactFloat64()
	p := price.InexactFloat64()
	t := float64(daysToExpiration) / 365.0
	r := riskFreeRate

	isCall := typ == asset.Call

	iv, ok := impliedVolatility(isCall, s, k, r, t, p)
	if !ok {
		return nil
	}

	d1 := (math.Log(s/k) + (r+iv*iv/2)*t) / (iv * math.Sqrt(t))
	d2 := d1 - iv*math.Sqrt(t)

	g := &Greeks{IV: iv}

	if isCall {
		g.Delta = normCDF(d1)
		g.Theta = (-s*normPDF(d1)*iv/(2*math.Sqrt(t)) - r*k*math.Exp(-r*t)*normCDF(d2)) / 365
		g.Rho = k * t * math.Exp(-r*t) * normCDF(d2) / 100
	} else {
		g.Delta = normCDF(d1) - 1
		g.Theta = (-s*normPDF(d1)*iv/(2*math.Sqrt(t)) + r*k*math.Exp(-r*t)*normCDF(-d2)) / 365
		g.Rho = -k * t * math.Exp(-r*t) * normCDF(-d2) / 100
	}

	g.Gamma = normPDF(d1) / (s * iv * math.Sqrt(t))
	g.Vega = s * normPDF(d1) * math.Sqrt(t) / 100

	return g
}

// impliedVolatility inverts the Black-Scholes price by bisection.
// Reports ok=false when the observed price falls outside the range the
// model can produce, or the root does not converge.
func impliedVolatility(isCall bool, s, k, r, t, price float64) (float64, bool) {
	const (
		lo        = 1e-4
		hi        = 10.0
		tolerance = 1e-8
		maxIter   = 200
	)

	f := func(sigma float64) float64 {
		return bsPrice(isCall, s, k, r, t, sigma) - price
	}

	fLo, fHi := f(lo), f(hi)
	if fLo > 0 || fHi < 0 {
		return 0, false
	}

	a, b := lo, hi
	for i := 0; i < maxIter; i++ {
		mid := (a + b) / 2
		v := f(mid)
		if math.Abs(v) < tolerance || (b-a)/2 < tolerance {
			return mid, true
		}
		if v > 0 {
			b = mid
		} else {
			a = mid
		}
	}
	return (a + b) / 2, true
}

// bsPrice is the Black-Scholes price of a European option.
func bsPrice(isCall bool, s, k, r, t, sigma float64) float64 {
	d1 := (math.Log(s/k) + (r+sigma*sigma/2)*t) / (sigma * math.Sqrt(t))
	d2 := d1 - sigma*math.Sqrt(t)
	if isCall {
		return s*normCDF(d1) - k*math.Exp(-r*t)*normCDF(d2)
	}
	return k*math.Exp(-r*t)*normCDF(-d2) - s*normCDF(-d1)
}

func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

func normPDF(x float64) float64 {
	return math.Exp(-x*x/2) / math.Sqrt(2*math.Pi)
}
