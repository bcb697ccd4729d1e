package amm

// LiquidityQuote is the outcome of pricing a deposit against the current pool.
type LiquidityQuote struct {
	Shares   uint64 `json:"shares"`
	ChargedA uint64 `json:"charged_a"`
	ChargedB uint64 `json:"charged_b"`
	Initial  bool   `json:"initial"`
}

// QuoteAddLiquidity prices a deposit of amountA and amountB. It does not
// mutate the pool.
//
// The caller takes the full offered amounts into custody: anything above
// ChargedA/ChargedB stays in the vaults and is picked up by CommitLiquidity
// as part of the observed reserves.
func (p *Pool) QuoteAddLiquidity(amountA, amountB uint64) (LiquidityQuote, error) {
	if !p.Initialized {
		return LiquidityQuote{}, ErrNotInitialized
	}
	if amountA == 0 || amountB == 0 {
		return LiquidityQuote{}, ErrZeroAmount
	}
	if p.ShareSupply == 0 {
		return initialDeposit(amountA, amountB)
	}
	return p.proportionalDeposit(amountA, amountB)
}

func initialDeposit(amountA, amountB uint64) (LiquidityQuote, error) {
	k, err := mul64(amountA, amountB)
	if err != nil {
		return LiquidityQuote{}, err
	}
	shares, err := sub64(isqrt(k), MinimumLiquidity)
	if err != nil || shares == 0 {
		return LiquidityQuote{}, ErrInsufficientInitialLiquidity
	}
	return LiquidityQuote{
		Shares:   shares,
		ChargedA: amountA,
		ChargedB: amountB,
		Initial:  true,
	}, nil
}

func (p *Pool) proportionalDeposit(amountA, amountB uint64) (LiquidityQuote, error) {
	fromA, err := mulDiv(amountA, p.ShareSupply, p.ReserveA)
	if err != nil {
		return LiquidityQuote{}, err
	}
	fromB, err := mulDiv(amountB, p.ShareSupply, p.ReserveB)
	if err != nil {
		return LiquidityQuote{}, err
	}

	shares := min(fromA, fromB)
	if shares == 0 {
		return LiquidityQuote{}, ErrInsufficientLiquidity
	}

	chargedA, err := mulDiv(shares, p.ReserveA, p.ShareSupply)
	if err != nil {
		return LiquidityQuote{}, err
	}
	chargedB, err := mulDiv(shares, p.ReserveB, p.ShareSupply)
	if err != nil {
		return LiquidityQuote{}, err
	}
	if amountA < chargedA || amountB < chargedB {
		return LiquidityQuote{}, ErrLiquidityRatioMismatch
	}

	return LiquidityQuote{
		Shares:   shares,
		ChargedA: chargedA,
		ChargedB: chargedB,
	}, nil
}

// CommitLiquidity records the vault balances and share supply observed after
// the deposit transfers and the share mint have completed.
func (p *Pool) CommitLiquidity(obs Observed) error {
	return p.commit(obs)
}
