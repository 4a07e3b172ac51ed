package market

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"futarchy-guard/internal/band"
)

var ErrFamilyMismatch = errors.New("market family mismatch")

// SpotPool is a point-in-time view of the unconditional asset/stable pool.
// It satisfies band.SpotMarket.
type SpotPool struct {
	DAO        common.Address
	Pool       common.Address
	FeeRateBps uint16
	Price      *uint256.Int
}

func (p SpotPool) FeeBps() uint16 { return p.FeeRateBps }

func (p SpotPool) SpotPrice() *uint256.Int {
	if p.Price == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(p.Price)
}

// ConditionalPool is a point-in-time view of one outcome market's pool.
type ConditionalPool struct {
	DAO           common.Address
	Proposal      common.Hash
	Outcome       uint8
	AssetReserve  uint64
	StableReserve uint64
	FeeRateBps    uint16
}

// Snapshot is one consistent read of a proposal's spot and conditional pools.
// Bands derived from it are stale the moment any pool's reserves move, so a
// snapshot is fetched fresh for every check and never cached across checks.
type Snapshot struct {
	DAO          common.Address
	Proposal     common.Hash
	Seq          uint64
	Spot         SpotPool
	Conditionals []ConditionalPool
	ObservedAt   time.Time
}

// VerifyFamily checks that every pool in the snapshot belongs to the same DAO
// and proposal. Mixing reserves from unrelated markets would make the band
// meaningless, so this runs once before the engine is invoked.
func (s Snapshot) VerifyFamily() error {
	if s.Spot.DAO != s.DAO {
		return fmt.Errorf("spot pool dao %s != %s: %w", s.Spot.DAO.Hex(), s.DAO.Hex(), ErrFamilyMismatch)
	}
	for _, c := range s.Conditionals {
		if c.DAO != s.DAO {
			return fmt.Errorf("outcome %d pool dao %s != %s: %w", c.Outcome, c.DAO.Hex(), s.DAO.Hex(), ErrFamilyMismatch)
		}
		if c.Proposal != s.Proposal {
			return fmt.Errorf("outcome %d pool proposal %s != %s: %w", c.Outcome, c.Proposal.Hex(), s.Proposal.Hex(), ErrFamilyMismatch)
		}
	}
	return nil
}

// Markets converts the conditional pool views into the engine's input form.
func (s Snapshot) Markets() []band.ConditionalMarket {
	out := make([]band.ConditionalMarket, 0, len(s.Conditionals))
	for _, c := range s.Conditionals {
		out = append(out, band.ConditionalMarket{
			AssetReserve:  c.AssetReserve,
			StableReserve: c.StableReserve,
			FeeBps:        c.FeeRateBps,
		})
	}
	return out
}
