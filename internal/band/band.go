package band

import (
	"errors"

	"github.com/holiman/uint256"

	"futarchy-guard/internal/numeric"
)

const (
	// FeeScale is the basis-point denominator shared with every pool the
	// engine reads; a fee of FeeScale means 100%.
	FeeScale = 10_000

	// PriceScale is the fixed-point scale of all prices: stable units per
	// asset unit, scaled by 1e12.
	PriceScale = 1_000_000_000_000
)

var (
	ErrNoMarkets     = errors.New("no conditional markets provided")
	ErrBandViolation = errors.New("spot price outside no-arbitrage band")
)

// ConditionalMarket is a point-in-time view of one outcome market's AMM.
type ConditionalMarket struct {
	AssetReserve  uint64
	StableReserve uint64
	FeeBps        uint16
}

// SpotMarket exposes the read-only spot pool accessors the enforcer needs.
type SpotMarket interface {
	FeeBps() uint16
	SpotPrice() *uint256.Int
}

// Band is the closed interval of spot prices that cannot be profitably
// arbitraged against the conditional markets. It is only valid for the exact
// reserve snapshot it was computed from and must never be reused.
type Band struct {
	Floor   *uint256.Int
	Ceiling *uint256.Int
}

// ImpliedPrice returns the conditional market's stable-per-asset price on
// PriceScale, truncating. A drained asset reserve yields price zero.
func (m ConditionalMarket) ImpliedPrice() *uint256.Int {
	if m.AssetReserve == 0 {
		return new(uint256.Int)
	}
	return numeric.MulDiv(
		uint256.NewInt(m.StableReserve),
		uint256.NewInt(PriceScale),
		uint256.NewInt(m.AssetReserve),
	)
}

// ComputeBand derives the no-arbitrage floor and ceiling for the given spot
// fee and conditional markets.
//
// The floor bounds the buy-spot / mint-complete-set / sell-conditionals path:
// the attacker only needs the single cheapest conditional exit, so the floor
// takes the minimum fee-discounted implied price. The ceiling bounds the
// reverse path, which must pay into every conditional market, so it sums the
// fee-inflated implied prices. The spot fee is applied once on each side.
//
// A fee at or above 100% makes the corresponding side unreachable: the term
// saturates to the maximum representable value rather than faulting.
func ComputeBand(spotFeeBps uint16, markets []ConditionalMarket) (Band, error) {
	if len(markets) == 0 {
		return Band{}, ErrNoMarkets
	}
	scale := uint256.NewInt(FeeScale)
	oneMinusSpot := oneMinusFee(spotFeeBps)

	var minTerm *uint256.Int
	sumTerm := new(uint256.Int)
	for _, m := range markets {
		price := m.ImpliedPrice()
		oneMinus := oneMinusFee(m.FeeBps)

		floorTerm := numeric.MulDiv(price, oneMinus, scale)
		if minTerm == nil {
			minTerm = floorTerm
		} else {
			minTerm = numeric.Min(minTerm, floorTerm)
		}

		ceilTerm := numeric.MulDiv(price, scale, oneMinus)
		sumTerm = numeric.SatAdd(sumTerm, ceilTerm)
	}

	floor := numeric.MulDiv(minTerm, oneMinusSpot, scale)
	ceiling := numeric.MulDiv(sumTerm, scale, oneMinusSpot)
	return Band{Floor: floor, Ceiling: ceiling}, nil
}

// Contains reports whether price lies inside the band, both ends inclusive.
func (b Band) Contains(price *uint256.Int) bool {
	if price == nil || b.Floor == nil || b.Ceiling == nil {
		return false
	}
	return !price.Lt(b.Floor) && !price.Gt(b.Ceiling)
}

func oneMinusFee(feeBps uint16) *uint256.Int {
	if feeBps >= FeeScale {
		return new(uint256.Int)
	}
	return uint256.NewInt(FeeScale - uint64(feeBps))
}
