package amm

import "fmt"

// Direction is the side of the pair that receives the input.
type Direction uint8

const (
	AToB Direction = iota + 1
	BToA
)

func (d Direction) String() string {
	switch d {
	case AToB:
		return "a_to_b"
	case BToA:
		return "b_to_a"
	default:
		return "unknown"
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(text []byte) error {
	switch string(text) {
	case "a_to_b":
		*d = AToB
	case "b_to_a":
		*d = BToA
	default:
		return fmt.Errorf("unknown direction %q", text)
	}
	return nil
}

// SwapQuote is the outcome of pricing a swap against the current pool.
type SwapQuote struct {
	Direction        Direction `json:"direction"`
	AssetIn          AssetID   `json:"asset_in"`
	AssetOut         AssetID   `json:"asset_out"`
	AmountIn         uint64    `json:"amount_in"`
	FeeAmount        uint64    `json:"fee_amount"`
	AmountInAfterFee uint64    `json:"amount_in_after_fee"`
	AmountOut        uint64    `json:"amount_out"`
}

// QuoteSwap prices selling amountIn of asset from for the other pool asset.
// It does not mutate the pool.
func (p *Pool) QuoteSwap(from AssetID, amountIn, minOut uint64) (SwapQuote, error) {
	if !p.Initialized {
		return SwapQuote{}, ErrNotInitialized
	}
	to, ok := p.Counterpart(from)
	if ok && to == from {
		return SwapQuote{}, ErrSameTokenSwap
	}
	if amountIn == 0 {
		return SwapQuote{}, ErrZeroAmount
	}
	if !ok {
		return SwapQuote{}, ErrInvalidMint
	}
	return p.quote(from, amountIn, minOut)
}

// QuoteSwapPair is QuoteSwap with an explicit destination asset, which must
// be the counterpart of from.
func (p *Pool) QuoteSwapPair(from, to AssetID, amountIn, minOut uint64) (SwapQuote, error) {
	if !p.Initialized {
		return SwapQuote{}, ErrNotInitialized
	}
	if from == to {
		return SwapQuote{}, ErrSameTokenSwap
	}
	if amountIn == 0 {
		return SwapQuote{}, ErrZeroAmount
	}
	if counterpart, ok := p.Counterpart(from); !ok || counterpart != to {
		return SwapQuote{}, ErrInvalidMint
	}
	return p.quote(from, amountIn, minOut)
}

func (p *Pool) quote(from AssetID, amountIn, minOut uint64) (SwapQuote, error) {
	q := SwapQuote{AmountIn: amountIn}

	var reserveIn, reserveOut uint64
	if from == p.AssetA {
		q.Direction, q.AssetIn, q.AssetOut = AToB, p.AssetA, p.AssetB
		reserveIn, reserveOut = p.ReserveA, p.ReserveB
	} else {
		q.Direction, q.AssetIn, q.AssetOut = BToA, p.AssetB, p.AssetA
		reserveIn, reserveOut = p.ReserveB, p.ReserveA
	}
	if reserveIn == 0 || reserveOut == 0 {
		return SwapQuote{}, ErrInsufficientLiquidity
	}

	fee, err := mulDiv(amountIn, uint64(p.FeeBps), FeeDenominator)
	if err != nil {
		return SwapQuote{}, err
	}
	afterFee, err := sub64(amountIn, fee)
	if err != nil {
		return SwapQuote{}, err
	}
	out, err := constantProductOut(afterFee, reserveIn, reserveOut)
	if err != nil {
		return SwapQuote{}, err
	}
	if out < minOut {
		return SwapQuote{}, ErrMinimumOutput
	}

	q.FeeAmount = fee
	q.AmountInAfterFee = afterFee
	q.AmountOut = out
	return q, nil
}

// CommitSwap records the vault balances observed after the swap transfers.
// Share supply is carried over unchanged.
func (p *Pool) CommitSwap(reserveA, reserveB uint64) error {
	return p.commit(Observed{
		ReserveA:    reserveA,
		ReserveB:    reserveB,
		ShareSupply: p.ShareSupply,
	})
}
