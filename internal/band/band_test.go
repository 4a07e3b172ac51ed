package band

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"futarchy-guard/internal/numeric"
)

func TestComputeBandNoMarkets(t *testing.T) {
	_, err := ComputeBand(30, nil)
	if !errors.Is(err, ErrNoMarkets) {
		t.Fatalf("expected ErrNoMarkets, got %v", err)
	}
	_, err = ComputeBand(30, []ConditionalMarket{})
	if !errors.Is(err, ErrNoMarkets) {
		t.Fatalf("expected ErrNoMarkets, got %v", err)
	}
}

func TestComputeBandSingleMarketWithFees(t *testing.T) {
	// 30 bps on both legs, implied price 2.0 on the 1e12 scale.
	b, err := ComputeBand(30, []ConditionalMarket{
		{AssetReserve: 1000, StableReserve: 2000, FeeBps: 30},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := uint256.NewInt(1_988_018_000_000); !b.Floor.Eq(want) {
		t.Fatalf("floor: expected %s, got %s", want.Dec(), b.Floor.Dec())
	}
	if want := uint256.NewInt(2_012_054_216_812); !b.Ceiling.Eq(want) {
		t.Fatalf("ceiling: expected %s, got %s", want.Dec(), b.Ceiling.Dec())
	}
	if !b.Contains(uint256.NewInt(2_000_000_000_000)) {
		t.Fatalf("implied price must sit inside the band")
	}
}

func TestComputeBandZeroFees(t *testing.T) {
	// With no fees the floor is the cheapest implied price and the ceiling
	// the sum of all implied prices, exactly.
	b, err := ComputeBand(0, []ConditionalMarket{
		{AssetReserve: 1000, StableReserve: 1000},
		{AssetReserve: 1000, StableReserve: 1200},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := uint256.NewInt(1_000_000_000_000); !b.Floor.Eq(want) {
		t.Fatalf("floor: expected %s, got %s", want.Dec(), b.Floor.Dec())
	}
	if want := uint256.NewInt(2_200_000_000_000); !b.Ceiling.Eq(want) {
		t.Fatalf("ceiling: expected %s, got %s", want.Dec(), b.Ceiling.Dec())
	}
}

func TestComputeBandIdenticalMarkets(t *testing.T) {
	market := ConditionalMarket{AssetReserve: 1000, StableReserve: 5000, FeeBps: 100}
	one, err := ComputeBand(50, []ConditionalMarket{market})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	three, err := ComputeBand(50, []ConditionalMarket{market, market, market})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The ceiling scales with the number of outcome markets, the floor does not.
	if !three.Floor.Eq(one.Floor) {
		t.Fatalf("floor changed with market count: %s vs %s", one.Floor.Dec(), three.Floor.Dec())
	}
	if want := uint256.NewInt(4_925_250_000_000); !three.Floor.Eq(want) {
		t.Fatalf("floor: expected %s, got %s", want.Dec(), three.Floor.Dec())
	}
	if want := uint256.NewInt(15_227_653_418_608); !three.Ceiling.Eq(want) {
		t.Fatalf("ceiling: expected %s, got %s", want.Dec(), three.Ceiling.Dec())
	}
}

func TestComputeBandFloorNotAboveCeiling(t *testing.T) {
	fees := []uint16{0, 1, 30, 100, 999, 5000, 9999}
	for _, spotFee := range fees {
		for _, condFee := range fees {
			b, err := ComputeBand(spotFee, []ConditionalMarket{
				{AssetReserve: 123_456, StableReserve: 654_321, FeeBps: condFee},
				{AssetReserve: 1, StableReserve: 1_000_000_000, FeeBps: condFee},
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if b.Floor.Gt(b.Ceiling) {
				t.Fatalf("floor %s above ceiling %s at fees %d/%d",
					b.Floor.Dec(), b.Ceiling.Dec(), spotFee, condFee)
			}
		}
	}
}

func TestComputeBandZeroReserveDisablesFloor(t *testing.T) {
	// A drained asset reserve prices that market at zero, which always wins
	// the floor minimum and collapses the floor to zero while the market is
	// in this state.
	b, err := ComputeBand(30, []ConditionalMarket{
		{AssetReserve: 1000, StableReserve: 2000, FeeBps: 30},
		{AssetReserve: 0, StableReserve: 5000, FeeBps: 30},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !b.Floor.IsZero() {
		t.Fatalf("expected zero floor, got %s", b.Floor.Dec())
	}
	if b.Ceiling.IsZero() {
		t.Fatalf("ceiling must still be driven by the live market")
	}
}

func TestComputeBandFullFeeSaturates(t *testing.T) {
	b, err := ComputeBand(30, []ConditionalMarket{
		{AssetReserve: 1000, StableReserve: 2000, FeeBps: 10_000},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !numeric.IsMaxU128(b.Ceiling) {
		t.Fatalf("expected saturated ceiling, got %s", b.Ceiling.Dec())
	}
	if !b.Floor.IsZero() {
		t.Fatalf("expected zero floor at 100%% conditional fee, got %s", b.Floor.Dec())
	}

	b, err = ComputeBand(10_000, []ConditionalMarket{
		{AssetReserve: 1000, StableReserve: 2000, FeeBps: 30},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !numeric.IsMaxU128(b.Ceiling) {
		t.Fatalf("expected saturated ceiling at 100%% spot fee, got %s", b.Ceiling.Dec())
	}
	if !b.Floor.IsZero() {
		t.Fatalf("expected zero floor at 100%% spot fee, got %s", b.Floor.Dec())
	}
}

func TestImpliedPriceTruncates(t *testing.T) {
	m := ConditionalMarket{AssetReserve: 3, StableReserve: 2}
	// 2e12/3 truncates.
	if want := uint256.NewInt(666_666_666_666); !m.ImpliedPrice().Eq(want) {
		t.Fatalf("expected %s, got %s", want.Dec(), m.ImpliedPrice().Dec())
	}
	m = ConditionalMarket{AssetReserve: 0, StableReserve: 2}
	if !m.ImpliedPrice().IsZero() {
		t.Fatalf("expected zero implied price for drained reserve")
	}
}
