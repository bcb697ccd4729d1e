// Package amm is the pricing and accounting core of a two-asset
// constant-product pool. It computes share mints, charges and swap outputs
// and commits observed balances; it never moves assets itself.
package amm

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AssetID identifies a reserve asset or a share token.
type AssetID = common.Address

// AccountID identifies a custody account (a user or a pool vault).
type AccountID = common.Address

// Pool is the persistent record of one trading pair.
//
// Reserves, ShareSupply and Version change only through CommitLiquidity and
// CommitSwap. Callers must hold the pool's lock from quote to commit.
type Pool struct {
	PoolKey     common.Hash `json:"pool_key"`
	AssetA      AssetID     `json:"asset_a"`
	AssetB      AssetID     `json:"asset_b"`
	ShareToken  AssetID     `json:"share_token"`
	VaultA      AccountID   `json:"vault_a"`
	VaultB      AccountID   `json:"vault_b"`
	Authority   AccountID   `json:"authority"`
	ReserveA    uint64      `json:"reserve_a"`
	ReserveB    uint64      `json:"reserve_b"`
	ShareSupply uint64      `json:"share_supply"`
	FeeBps      uint16      `json:"fee_bps"`
	Initialized bool        `json:"initialized"`
	Version     uint64      `json:"version"`
}

// InitParams are the identities and fee fixed at pool creation.
type InitParams struct {
	PoolKey    common.Hash
	AssetA     AssetID
	AssetB     AssetID
	ShareToken AssetID
	VaultA     AccountID
	VaultB     AccountID
	Authority  AccountID
	FeeBps     uint16
}

// Initialize sets up an empty pool. The record is untouched on error.
func (p *Pool) Initialize(params InitParams) error {
	if p.Initialized {
		return ErrAlreadyInitialized
	}
	if params.AssetA == params.AssetB || params.AssetA == (AssetID{}) || params.AssetB == (AssetID{}) {
		return ErrInvalidMint
	}
	if uint64(params.FeeBps) > FeeDenominator {
		return ErrInvalidFee
	}

	*p = Pool{
		PoolKey:     params.PoolKey,
		AssetA:      params.AssetA,
		AssetB:      params.AssetB,
		ShareToken:  params.ShareToken,
		VaultA:      params.VaultA,
		VaultB:      params.VaultB,
		Authority:   params.Authority,
		FeeBps:      params.FeeBps,
		Initialized: true,
	}
	return nil
}

// IsEmpty reports whether no shares have been minted yet.
func (p *Pool) IsEmpty() bool {
	return p.ShareSupply == 0 && p.ReserveA == 0 && p.ReserveB == 0
}

// IsActive reports whether the pool holds liquidity on both sides.
func (p *Pool) IsActive() bool {
	return p.ShareSupply > 0 && p.ReserveA > 0 && p.ReserveB > 0
}

// Validate checks the record invariants.
func (p *Pool) Validate() error {
	if !p.Initialized {
		return ErrNotInitialized
	}
	if p.AssetA == p.AssetB {
		return ErrInvalidMint
	}
	if uint64(p.FeeBps) > FeeDenominator {
		return ErrInvalidFee
	}
	if !p.IsEmpty() && !p.IsActive() {
		return ErrInvalidObservedState
	}
	return nil
}

// Invariant returns k = reserve_a * reserve_b.
func (p *Pool) Invariant() *uint256.Int {
	return product(p.ReserveA, p.ReserveB)
}

// Counterpart returns the other asset of the pair.
func (p *Pool) Counterpart(asset AssetID) (AssetID, bool) {
	switch asset {
	case p.AssetA:
		return p.AssetB, true
	case p.AssetB:
		return p.AssetA, true
	default:
		return AssetID{}, false
	}
}

// Observed are balances read back from custody after a transfer.
type Observed struct {
	ReserveA    uint64
	ReserveB    uint64
	ShareSupply uint64
}

func (p *Pool) commit(obs Observed) error {
	if !p.Initialized {
		return ErrNotInitialized
	}
	if obs.ShareSupply == 0 || obs.ReserveA == 0 || obs.ReserveB == 0 {
		return ErrInvalidObservedState
	}
	p.ReserveA = obs.ReserveA
	p.ReserveB = obs.ReserveB
	p.ShareSupply = obs.ShareSupply
	p.Version++
	return nil
}
