package amm

import (
	"github.com/holiman/uint256"
)

const (
	// MinimumLiquidity is withheld from the first depositor's shares.
	MinimumLiquidity uint64 = 1_000
	// FeeDenominator is 100% expressed in basis points.
	FeeDenominator uint64 = 10_000
)

// mul64 multiplies two u64 values and fails instead of wrapping.
func mul64(a, b uint64) (uint64, error) {
	product, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(a), uint256.NewInt(b))
	if overflow || !product.IsUint64() {
		return 0, ErrMathOverflow
	}
	return product.Uint64(), nil
}

func sub64(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrMathOverflow
	}
	return a - b, nil
}

// mulDiv returns floor(a*b/c). The product is held in a wide intermediate,
// only the quotient has to fit in u64.
func mulDiv(a, b, c uint64) (uint64, error) {
	if c == 0 {
		return 0, ErrZeroDivision
	}
	product, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(a), uint256.NewInt(b))
	if overflow {
		return 0, ErrMathOverflow
	}
	return narrow(product.Div(product, uint256.NewInt(c)))
}

// constantProductOut returns floor(reserveOut*amountIn / (reserveIn+amountIn)).
func constantProductOut(amountIn, reserveIn, reserveOut uint64) (uint64, error) {
	in := uint256.NewInt(amountIn)

	numerator, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(reserveOut), in)
	if overflow {
		return 0, ErrMathOverflow
	}
	denominator, overflow := new(uint256.Int).AddOverflow(uint256.NewInt(reserveIn), in)
	if overflow {
		return 0, ErrMathOverflow
	}
	if denominator.IsZero() {
		return 0, ErrZeroDivision
	}
	return narrow(numerator.Div(numerator, denominator))
}

// isqrt returns floor(sqrt(x)).
func isqrt(x uint64) uint64 {
	return new(uint256.Int).Sqrt(uint256.NewInt(x)).Uint64()
}

func narrow(v *uint256.Int) (uint64, error) {
	if !v.IsUint64() {
		return 0, ErrMathOverflow
	}
	return v.Uint64(), nil
}

// product returns a*b without narrowing.
func product(a, b uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
}
