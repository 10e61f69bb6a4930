package engine

import (
	"fmt"
	"sort"

	"github.com/philipodonnell/paperbroker/internal/account"
	"github.com/philipodonnell/paperbroker/internal/asset"
	"github.com/philipodonnell/paperbroker/internal/order"
)

// Kind tags a basic strategy variant.
type Kind string

const (
	KindAsset   Kind = "asset"
	KindCovered Kind = "covered"
	KindSpread  Kind = "spread"
)

// Direction is the exposure direction of an asset strategy.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// SpreadType distinguishes credit from debit spreads.
type SpreadType string

const (
	Credit SpreadType = "credit"
	Debit  SpreadType = "debit"
)

// Strategy is one canonical risk unit produced by Classify. Transient:
// computed per margin calculation, never persisted.
type Strategy interface {
	Kind() Kind
}

// AssetStrategy is a naked long or short holding of one asset.
type AssetStrategy struct {
	Asset     asset.Asset
	Quantity  int64
	Direction Direction
}

func (AssetStrategy) Kind() Kind { return KindAsset }

func newAssetStrategy(a asset.Asset, quantity int64) AssetStrategy {
	dir := Long
	if quantity < 0 {
		dir = Short
	}
	return AssetStrategy{Asset: a, Quantity: quantity, Direction: dir}
}

// CoveredStrategy is a short option whose assignment risk is offset by an
// equity holding in the same underlying (100 shares per contract).
type CoveredStrategy struct {
	Asset      asset.Asset // the covering equity
	SellOption asset.Asset
	Quantity   int64
}

func (CoveredStrategy) Kind() Kind { return KindCovered }

// SpreadStrategy is a matched pair of same-type options on one underlying
// with distinct strikes, one sold and one bought.
type SpreadStrategy struct {
	SellOption asset.Asset
	BuyOption  asset.Asset
	Quantity   int64
	SpreadType SpreadType
}

func (SpreadStrategy) Kind() Kind { return KindSpread }

// NewSpreadStrategy validates the spread invariants and derives its type:
// credit when the sold strike is the riskier one (below the bought strike
// for calls, above it for puts), debit otherwise.
func NewSpreadStrategy(sellOption, buyOption asset.Asset, quantity int64) (SpreadStrategy, error) {
	if sellOption.Type != buyOption.Type {
		return SpreadStrategy{}, fmt.Errorf("%w: spread option types must match (%s vs %s)",
			order.ErrInvalidOrder, sellOption.Type, buyOption.Type)
	}
	if sellOption.Underlying != buyOption.Underlying {
		return SpreadStrategy{}, fmt.Errorf("%w: spread underlyings must match (%s vs %s)",
			order.ErrInvalidOrder, sellOption.Underlying, buyOption.Underlying)
	}
	if sellOption.Strike.Equal(buyOption.Strike) {
		return SpreadStrategy{}, fmt.Errorf("%w: spread strikes must differ (%s)",
			order.ErrInvalidOrder, sellOption.Strike)
	}

	spreadType := Debit
	if sellOption.Type == asset.Put {
		if sellOption.Strike.GreaterThan(buyOption.Strike) {
			spreadType = Credit
		}
	} else {
		if sellOption.Strike.LessThan(buyOption.Strike) {
			spreadType = Credit
		}
	}

	if quantity < 0 {
		quantity = -quantity
	}
	return SpreadStrategy{
		SellOption: sellOption,
		BuyOption:  buyOption,
		Quantity:   quantity,
		SpreadType: spreadType,
	}, nil
}

// Classify groups an arbitrary set of positions, per underlying, into
// canonical basic strategies: covered shorts, spreads, and naked holdings.
// Pure: the input positions are not mutated.
//
// Pairing is decided contract-by-contract, so option positions expand into
// single-unit entries first. Shorts are processed riskiest-first (calls
// ascending strike, puts descending); long options available for pairing
// follow the same order. Each short is covered by 100 equity units if
// available, else paired into a spread with the next long of its type,
// else emitted naked. Leftover longs and residual equity follow.
func Classify(positions []*account.Position) ([]Strategy, error) {
	underlyings := make(map[string]bool)
	for _, p := range positions {
		underlyings[p.Asset.UnderlyingAsset().Symbol] = true
	}

	ordered := make([]string, 0, len(underlyings))
	for u := range underlyings {
		ordered = append(ordered, u)
	}
	sort.Strings(ordered)

	var strategies []Strategy
	for _, u := range ordered {
		s, err := classifyUnderlying(u, positions)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, s...)
	}
	return strategies, nil
}

func classifyUnderlying(underlying string, positions []*account.Position) ([]Strategy, error) {
	equity := asset.Asset{Symbol: underlying, Type: asset.Equity}

	var longEquity, shortEquity int64
	var shortCalls, shortPuts, longCalls, longPuts []asset.Asset

	expand := func(list []asset.Asset, a asset.Asset, n int64) []asset.Asset {
		for i := int64(0); i < n; i++ {
			list = append(list, a)
		}
		return list
	}

	for _, p := range positions {
		a := p.Asset
		if !a.IsOption() {
			if a.Symbol != underlying {
				continue
			}
			if p.Quantity > 0 {
				longEquity += p.Quantity
			} else {
				shortEquity += p.Quantity
			}
			continue
		}
		if a.Underlying != underlying {
			continue
		}

		n := absInt(p.Quantity)
		switch {
		case a.Type == asset.Call && p.Quantity < 0:
			shortCalls = expand(shortCalls, a, n)
		case a.Type == asset.Call && p.Quantity > 0:
			longCalls = expand(longCalls, a, n)
		case a.Type == asset.Put && p.Quantity < 0:
			shortPuts = expand(shortPuts, a, n)
		case a.Type == asset.Put && p.Quantity > 0:
			longPuts = expand(longPuts, a, n)
		}
	}

	// Most in-the-money shorts first; same order for pairing candidates.
	byStrikeAsc := func(s []asset.Asset) func(i, j int) bool {
		return func(i, j int) bool { return s[i].Strike.LessThan(s[j].Strike) }
	}
	byStrikeDesc := func(s []asset.Asset) func(i, j int) bool {
		return func(i, j int) bool { return s[i].Strike.GreaterThan(s[j].Strike) }
	}
	sort.SliceStable(shortCalls, byStrikeAsc(shortCalls))
	sort.SliceStable(longCalls, byStrikeAsc(longCalls))
	sort.SliceStable(shortPuts, byStrikeDesc(shortPuts))
	sort.SliceStable(longPuts, byStrikeDesc(longPuts))

	var strategies []Strategy

	for _, shortCall := range shortCalls {
		switch {
		case longEquity >= 100:
			strategies = append(strategies, CoveredStrategy{Asset: equity, SellOption: shortCall, Quantity: 1})
			longEquity -= 100
		case len(longCalls) > 0:
			longCall := longCalls[0]
			longCalls = longCalls[1:]
			spread, err := NewSpreadStrategy(shortCall, longCall, 1)
			if err != nil {
				return nil, err
			}
			strategies = append(strategies, spread)
		default:
			strategies = append(strategies, newAssetStrategy(shortCall, -1))
		}
	}

	for _, shortPut := range shortPuts {
		switch {
		case -shortEquity >= 100:
			strategies = append(strategies, CoveredStrategy{Asset: equity, SellOption: shortPut, Quantity: 1})
			shortEquity += 100
		case len(longPuts) > 0:
			longPut := longPuts[0]
			longPuts = longPuts[1:]
			spread, err := NewSpreadStrategy(shortPut, longPut, 1)
			if err != nil {
				return nil, err
			}
			strategies = append(strategies, spread)
		default:
			strategies = append(strategies, newAssetStrategy(shortPut, -1))
		}
	}

	for _, longCall := range longCalls {
		strategies = append(strategies, newAssetStrategy(longCall, 1))
	}
	for _, longPut := range longPuts {
		strategies = append(strategies, newAssetStrategy(longPut, 1))
	}
	if longEquity != 0 {
		strategies = append(strategies, newAssetStrategy(equity, longEquity))
	}
	if shortEquity != 0 {
		strategies = append(strategies, newAssetStrategy(equity, shortEquity))
	}

	return strategies, nil
}
