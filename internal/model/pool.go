package model

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"swapCore/internal/amm"
)

// Pool is the storage representation of an amm.Pool.
type Pool struct {
	PoolKey     string `json:"pool_key"`
	AssetA      string `json:"asset_a"`
	AssetB      string `json:"asset_b"`
	ShareToken  string `json:"share_token"`
	VaultA      string `json:"vault_a"`
	VaultB      string `json:"vault_b"`
	Authority   string `json:"authority"`
	ReserveA    uint64 `json:"reserve_a"`
	ReserveB    uint64 `json:"reserve_b"`
	ShareSupply uint64 `json:"share_supply"`
	FeeBps      uint16 `json:"fee_bps"`
	Initialized bool   `json:"initialized"`
	Version     uint64 `json:"version"`
}

// PoolRecord converts an engine pool into its storage record.
func PoolRecord(p amm.Pool) Pool {
	return Pool{
		PoolKey:     p.PoolKey.Hex(),
		AssetA:      p.AssetA.Hex(),
		AssetB:      p.AssetB.Hex(),
		ShareToken:  p.ShareToken.Hex(),
		VaultA:      p.VaultA.Hex(),
		VaultB:      p.VaultB.Hex(),
		Authority:   p.Authority.Hex(),
		ReserveA:    p.ReserveA,
		ReserveB:    p.ReserveB,
		ShareSupply: p.ShareSupply,
		FeeBps:      p.FeeBps,
		Initialized: p.Initialized,
		Version:     p.Version,
	}
}

// AMM converts the record back into an engine pool and checks its invariants.
func (p Pool) AMM() (amm.Pool, error) {
	addrs := map[string]string{
		"asset_a":     p.AssetA,
		"asset_b":     p.AssetB,
		"share_token": p.ShareToken,
		"vault_a":     p.VaultA,
		"vault_b":     p.VaultB,
		"authority":   p.Authority,
	}
	for field, value := range addrs {
		if !common.IsHexAddress(value) {
			return amm.Pool{}, fmt.Errorf("pool %s: invalid %s %q", p.PoolKey, field, value)
		}
	}

	out := amm.Pool{
		PoolKey:     common.HexToHash(p.PoolKey),
		AssetA:      common.HexToAddress(p.AssetA),
		AssetB:      common.HexToAddress(p.AssetB),
		ShareToken:  common.HexToAddress(p.ShareToken),
		VaultA:      common.HexToAddress(p.VaultA),
		VaultB:      common.HexToAddress(p.VaultB),
		Authority:   common.HexToAddress(p.Authority),
		ReserveA:    p.ReserveA,
		ReserveB:    p.ReserveB,
		ShareSupply: p.ShareSupply,
		FeeBps:      p.FeeBps,
		Initialized: p.Initialized,
		Version:     p.Version,
	}
	if err := out.Validate(); err != nil {
		return amm.Pool{}, fmt.Errorf("pool %s: %w", p.PoolKey, err)
	}
	return out, nil
}
