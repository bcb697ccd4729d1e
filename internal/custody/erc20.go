package custody

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// BalanceReader reports the balance an account holds of one asset.
type BalanceReader interface {
	BalanceOf(ctx context.Context, asset, account common.Address) (uint64, error)
}

// ContractCaller is the subset of the chain client used for eth_call.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

const erc20BalanceOfABIJSON = `[
  {"inputs": [{"internalType": "address", "name": "account", "type": "address"}], "name": "balanceOf", "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"}
]`

var (
	balanceOfABI    abi.ABI
	balanceOfOnce   sync.Once
	balanceOfABIErr error
)

func getBalanceOfABI() (abi.ABI, error) {
	balanceOfOnce.Do(func() {
		balanceOfABI, balanceOfABIErr = abi.JSON(strings.NewReader(erc20BalanceOfABIJSON))
	})
	return balanceOfABI, balanceOfABIErr
}

// RetryFunc matches chain.WithRetry.
type RetryFunc func(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func(context.Context) error) error

// ERC20Reader reads vault balances from token contracts on an EVM chain.
type ERC20Reader struct {
	caller     ContractCaller
	retry      RetryFunc
	maxRetries int
	baseDelay  time.Duration
	block      *big.Int
}

// NewERC20Reader builds a reader over caller. A nil retry disables retries.
func NewERC20Reader(caller ContractCaller, retry RetryFunc, maxRetries int, baseDelay time.Duration) *ERC20Reader {
	return &ERC20Reader{
		caller:     caller,
		retry:      retry,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
	}
}

// AtBlock pins reads to blockNumber. Zero reads the latest state.
func (r *ERC20Reader) AtBlock(blockNumber uint64) *ERC20Reader {
	next := *r
	next.block = nil
	if blockNumber > 0 {
		next.block = new(big.Int).SetUint64(blockNumber)
	}
	return &next
}

// BalanceOf calls balanceOf(account) on the asset contract.
func (r *ERC20Reader) BalanceOf(ctx context.Context, asset, account common.Address) (uint64, error) {
	if r == nil || r.caller == nil {
		return 0, fmt.Errorf("chain client is nil")
	}

	var balance *big.Int
	call := func(ctx context.Context) error {
		bal, err := balanceOf(ctx, r.caller, asset, account, r.block)
		if err != nil {
			return err
		}
		balance = bal
		return nil
	}

	var err error
	if r.retry != nil {
		err = r.retry(ctx, r.maxRetries, r.baseDelay, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return 0, err
	}
	if !balance.IsUint64() {
		return 0, fmt.Errorf("%w: balance of %s in %s exceeds 64 bits", ErrBalanceOverflow, account.Hex(), asset.Hex())
	}
	return balance.Uint64(), nil
}

func balanceOf(ctx context.Context, caller ContractCaller, token, owner common.Address, blockNumber *big.Int) (*big.Int, error) {
	balanceABI, err := getBalanceOfABI()
	if err != nil {
		return nil, err
	}

	data, err := balanceABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}

	msg := ethereum.CallMsg{To: &token, Data: data}
	resp, err := caller.CallContract(ctx, msg, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("call balanceOf: %w", err)
	}

	values, err := balanceABI.Unpack("balanceOf", resp)
	if err != nil {
		return nil, fmt.Errorf("unpack balanceOf: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("balanceOf return size %d", len(values))
	}
	bal, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf unexpected type %T", values[0])
	}
	return bal, nil
}
