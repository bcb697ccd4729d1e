// Package ident derives pool, vault and share-token identifiers from the
// two asset ids of a pair.
package ident

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	seedPool      = []byte("pool_state")
	seedShare     = []byte("share_token")
	seedVault     = []byte("pool_vault")
	seedAuthority = []byte("pool_authority")
)

// ErrIdenticalAssets is returned when both sides of a pair are the same asset.
var ErrIdenticalAssets = errors.New("identical assets")

// SortAssets orders a pair bytewise so that (a, b) and (b, a) agree.
func SortAssets(a, b common.Address) (common.Address, common.Address) {
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		return b, a
	}
	return a, b
}

// PoolKey returns the canonical key of the pair, independent of argument order.
func PoolKey(a, b common.Address) (common.Hash, error) {
	if a == b {
		return common.Hash{}, ErrIdenticalAssets
	}
	lo, hi := SortAssets(a, b)
	return crypto.Keccak256Hash(seedPool, lo.Bytes(), hi.Bytes()), nil
}

// ShareToken returns the liquidity-share token id of a pool.
func ShareToken(key common.Hash) common.Address {
	return derive(seedShare, key.Bytes())
}

// Vault returns the pool-owned custody account holding asset.
func Vault(key common.Hash, asset common.Address) common.Address {
	return derive(seedVault, key.Bytes(), asset.Bytes())
}

// Authority returns the identity allowed to move funds out of the pool vaults.
func Authority(key common.Hash) common.Address {
	return derive(seedAuthority, key.Bytes())
}

func derive(parts ...[]byte) common.Address {
	return common.BytesToAddress(crypto.Keccak256(parts...)[12:])
}

// ParseAddress parses a 20-byte hex id.
func ParseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address: %s", input)
	}
	return common.HexToAddress(input), nil
}

// ParseAddresses parses a list of hex ids, skipping blanks.
func ParseAddresses(inputs []string) ([]common.Address, error) {
	addresses := make([]common.Address, 0, len(inputs))
	for _, input := range inputs {
		if strings.TrimSpace(input) == "" {
			continue
		}
		addr, err := ParseAddress(input)
		if err != nil {
			return nil, err
		}
		addresses = append(addresses, addr)
	}
	return addresses, nil
}

// ParsePoolKey parses a 32-byte hex pool key.
func ParsePoolKey(input string) (common.Hash, error) {
	input = strings.TrimSpace(input)
	data, err := hexutil.Decode(input)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid pool key: %s", input)
	}
	if len(data) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid pool key length: %s", input)
	}
	return common.BytesToHash(data), nil
}
