package amm

import "errors"

// Precondition violations.
var (
	ErrAlreadyInitialized = errors.New("pool already initialized")
	ErrNotInitialized     = errors.New("pool not initialized")
	ErrZeroAmount         = errors.New("amount must be greater than zero")
	ErrSameTokenSwap      = errors.New("cannot swap an asset for itself")
	ErrInvalidMint        = errors.New("asset does not belong to pool")
	ErrInvalidFee         = errors.New("fee must be between 0 and 10000 basis points")
)

// Arithmetic failures.
var (
	ErrMathOverflow = errors.New("integer overflow or underflow")
	ErrZeroDivision = errors.New("division by zero")
)

// Economic policy rejections.
var (
	ErrInsufficientInitialLiquidity = errors.New("initial liquidity must exceed minimum liquidity")
	ErrInsufficientLiquidity        = errors.New("insufficient liquidity")
	ErrLiquidityRatioMismatch       = errors.New("liquidity amounts do not match pool ratio")
	ErrMinimumOutput                = errors.New("output below minimum amount out")
)

// ErrInvalidObservedState is returned when a commit would leave the pool
// outside the empty/active states.
var ErrInvalidObservedState = errors.New("observed balances violate pool invariant")

// ErrorKind groups engine errors by who has to act on them.
type ErrorKind string

const (
	KindNone         ErrorKind = ""
	KindPrecondition ErrorKind = "precondition"
	KindArithmetic   ErrorKind = "arithmetic"
	KindPolicy       ErrorKind = "policy"
	KindState        ErrorKind = "state"
	KindUnknown      ErrorKind = "unknown"
)

// Kind classifies err. Wrapped engine errors are recognized through errors.Is.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrAlreadyInitialized),
		errors.Is(err, ErrNotInitialized),
		errors.Is(err, ErrZeroAmount),
		errors.Is(err, ErrSameTokenSwap),
		errors.Is(err, ErrInvalidMint),
		errors.Is(err, ErrInvalidFee):
		return KindPrecondition
	case errors.Is(err, ErrMathOverflow),
		errors.Is(err, ErrZeroDivision):
		return KindArithmetic
	case errors.Is(err, ErrInsufficientInitialLiquidity),
		errors.Is(err, ErrInsufficientLiquidity),
		errors.Is(err, ErrLiquidityRatioMismatch),
		errors.Is(err, ErrMinimumOutput):
		return KindPolicy
	case errors.Is(err, ErrInvalidObservedState):
		return KindState
	default:
		return KindUnknown
	}
}
