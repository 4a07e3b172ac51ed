package numeric

import (
	"testing"

	"github.com/holiman/uint256"
)

func TestMulDivTruncates(t *testing.T) {
	got := MulDiv(uint256.NewInt(7), uint256.NewInt(3), uint256.NewInt(2))
	if got.Uint64() != 10 {
		t.Fatalf("expected 10, got %s", got.Dec())
	}
}

func TestMulDivWideIntermediate(t *testing.T) {
	// a*b overflows 128 bits but the quotient fits.
	a := new(uint256.Int).Lsh(uint256.NewInt(1), 100)
	b := new(uint256.Int).Lsh(uint256.NewInt(1), 100)
	den := new(uint256.Int).Lsh(uint256.NewInt(1), 100)
	got := MulDiv(a, b, den)
	if !got.Eq(a) {
		t.Fatalf("expected 2^100, got %s", got.Dec())
	}
}

func TestMulDivZeroDenominatorSaturates(t *testing.T) {
	got := MulDiv(uint256.NewInt(1), uint256.NewInt(1), uint256.NewInt(0))
	if !IsMaxU128(got) {
		t.Fatalf("expected MaxU128, got %s", got.Dec())
	}
}

func TestMulDivQuotientOverflowSaturates(t *testing.T) {
	got := MulDiv(MaxU128(), uint256.NewInt(2), uint256.NewInt(1))
	if !IsMaxU128(got) {
		t.Fatalf("expected MaxU128, got %s", got.Dec())
	}
}

func TestSatAdd(t *testing.T) {
	got := SatAdd(uint256.NewInt(2), uint256.NewInt(3))
	if got.Uint64() != 5 {
		t.Fatalf("expected 5, got %s", got.Dec())
	}
	got = SatAdd(MaxU128(), uint256.NewInt(1))
	if !IsMaxU128(got) {
		t.Fatalf("expected MaxU128, got %s", got.Dec())
	}
}

func TestMinCopies(t *testing.T) {
	a := uint256.NewInt(4)
	b := uint256.NewInt(9)
	got := Min(a, b)
	if got.Uint64() != 4 {
		t.Fatalf("expected 4, got %s", got.Dec())
	}
	got.SetUint64(100)
	if a.Uint64() != 4 {
		t.Fatalf("Min must not alias its arguments")
	}
}

func TestClampU128(t *testing.T) {
	over := new(uint256.Int).Lsh(uint256.NewInt(1), 130)
	if got := ClampU128(over); !IsMaxU128(got) {
		t.Fatalf("expected MaxU128, got %s", got.Dec())
	}
	if got := ClampU128(uint256.NewInt(42)); got.Uint64() != 42 {
		t.Fatalf("expected 42, got %s", got.Dec())
	}
}
