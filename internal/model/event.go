package model

// Event kinds recorded in the journal.
const (
	EventInitialize   = "initialize"
	EventAddLiquidity = "add_liquidity"
	EventSwap         = "swap"
)

// PoolEvent is one committed pool operation.
type PoolEvent struct {
	Kind        string `json:"kind"`
	PoolKey     string `json:"pool_key"`
	Actor       string `json:"actor,omitempty"`
	AssetIn     string `json:"asset_in,omitempty"`
	AssetOut    string `json:"asset_out,omitempty"`
	AmountA     uint64 `json:"amount_a,omitempty"`
	AmountB     uint64 `json:"amount_b,omitempty"`
	ChargedA    uint64 `json:"charged_a,omitempty"`
	ChargedB    uint64 `json:"charged_b,omitempty"`
	AmountIn    uint64 `json:"amount_in,omitempty"`
	FeeAmount   uint64 `json:"fee_amount,omitempty"`
	AmountOut   uint64 `json:"amount_out,omitempty"`
	Shares      uint64 `json:"shares,omitempty"`
	ReserveA    uint64 `json:"reserve_a"`
	ReserveB    uint64 `json:"reserve_b"`
	ShareSupply uint64 `json:"share_supply"`
	Version     uint64 `json:"version"`
	Timestamp   string `json:"timestamp"`
}
