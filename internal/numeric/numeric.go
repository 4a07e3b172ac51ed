package numeric

import "github.com/holiman/uint256"

// Prices and reserves coming off the chain are at most 128 bits wide, so all
// band arithmetic saturates at 2^128-1 rather than the full 256-bit range.
var maxU128 = func() *uint256.Int {
	z := new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	return z.Sub(z, uint256.NewInt(1))
}()

func MaxU128() *uint256.Int {
	return new(uint256.Int).Set(maxU128)
}

func IsMaxU128(x *uint256.Int) bool {
	return x != nil && x.Eq(maxU128)
}

// MulDiv returns (a*b)/den with a 256-bit intermediate product and truncating
// division. A zero denominator or a quotient wider than 128 bits saturates to
// MaxU128 instead of faulting.
func MulDiv(a, b, den *uint256.Int) *uint256.Int {
	if a == nil || b == nil {
		return new(uint256.Int)
	}
	if den == nil || den.IsZero() {
		return MaxU128()
	}
	z, overflow := new(uint256.Int).MulDivOverflow(a, b, den)
	if overflow || z.Gt(maxU128) {
		return MaxU128()
	}
	return z
}

// SatAdd returns a+b saturating at MaxU128.
func SatAdd(a, b *uint256.Int) *uint256.Int {
	if a == nil {
		a = new(uint256.Int)
	}
	if b == nil {
		b = new(uint256.Int)
	}
	z, carry := new(uint256.Int).AddOverflow(a, b)
	if carry || z.Gt(maxU128) {
		return MaxU128()
	}
	return z
}

func Min(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int).Set(b)
}

func ClampU128(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	if x.Gt(maxU128) {
		return MaxU128()
	}
	return new(uint256.Int).Set(x)
}
