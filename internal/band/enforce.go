package band

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Check is the full diagnostic tuple for one band evaluation.
type Check struct {
	InBand  bool
	Price   *uint256.Int
	Floor   *uint256.Int
	Ceiling *uint256.Int
}

// AssertInBand recomputes the band from a fresh snapshot and fails with
// ErrBandViolation unless the current spot price lies inside it, both ends
// inclusive. A failure means the state at invocation time is arbitrageable
// and the enclosing operation, including any trade already applied, must be
// rolled back. The check says nothing about state after it returns, so it has
// to run as the last step before the enclosing trade commits.
func AssertInBand(spot SpotMarket, markets []ConditionalMarket) error {
	check, err := CheckInBand(spot, markets)
	if err != nil {
		return err
	}
	if !check.InBand {
		return fmt.Errorf("price %s not in [%s, %s]: %w",
			check.Price.Dec(), check.Floor.Dec(), check.Ceiling.Dec(), ErrBandViolation)
	}
	return nil
}

// CheckInBand performs the same computation as AssertInBand but reports the
// verdict instead of failing, so monitors and pre-trade dry runs can reason
// about margin without risking an abort. Given the same snapshot its InBand
// verdict is identical to AssertInBand's pass/fail outcome.
func CheckInBand(spot SpotMarket, markets []ConditionalMarket) (Check, error) {
	b, err := ComputeBand(spot.FeeBps(), markets)
	if err != nil {
		return Check{}, err
	}
	price := spot.SpotPrice()
	return Check{
		InBand:  b.Contains(price),
		Price:   price,
		Floor:   b.Floor,
		Ceiling: b.Ceiling,
	}, nil
}
