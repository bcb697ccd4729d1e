// Package custody holds asset balances and executes transfers for the pools.
package custody

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"swapCore/internal/model"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrCapabilityRequired  = errors.New("vault transfer requires pool capability")
	ErrVaultRegistered     = errors.New("vault already registered")
	ErrBalanceOverflow     = errors.New("balance overflow")
	ErrTxDone              = errors.New("custody transaction already closed")
	ErrAssetNotLocked      = errors.New("asset not locked by transaction")
)

// Capability authorizes transfers out of one vault. It is issued once by
// RegisterVault and cannot be constructed outside this package.
type Capability struct {
	vault  common.Address
	serial uint64
}

// Vault returns the account this capability is bound to.
func (c *Capability) Vault() common.Address {
	if c == nil {
		return common.Address{}
	}
	return c.vault
}

// Op is one step of an atomic custody batch.
type Op interface {
	asset() common.Address
	apply(o *overlay) error
}

// Transfer moves Amount of Asset between accounts. Cap must be set when From
// is a registered vault.
type Transfer struct {
	Asset  common.Address
	From   common.Address
	To     common.Address
	Amount uint64
	Cap    *Capability
}

// Mint creates Amount of Asset in account To.
type Mint struct {
	Asset  common.Address
	To     common.Address
	Amount uint64
}

type balanceKey struct {
	asset   common.Address
	account common.Address
}

// book holds the balances and supply of one asset.
type book struct {
	mu       sync.Mutex
	balances map[common.Address]uint64
	supply   uint64
}

func newBook() *book {
	return &book{balances: make(map[common.Address]uint64)}
}

// Ledger is an in-memory custody book. Each asset has its own lock, so
// transactions over disjoint assets run in parallel.
type Ledger struct {
	// mu is held shared by transactions and reads, exclusively by Import
	// and Export.
	mu      sync.RWMutex
	booksMu sync.Mutex
	books   map[common.Address]*book

	vaultsMu sync.RWMutex
	vaults   map[common.Address]uint64
	serial   uint64
}

func NewLedger() *Ledger {
	return &Ledger{
		books:  make(map[common.Address]*book),
		vaults: make(map[common.Address]uint64),
	}
}

func (l *Ledger) book(asset common.Address) *book {
	l.booksMu.Lock()
	defer l.booksMu.Unlock()
	b, ok := l.books[asset]
	if !ok {
		b = newBook()
		l.books[asset] = b
	}
	return b
}

func (l *Ledger) lookup(asset common.Address) *book {
	l.booksMu.Lock()
	defer l.booksMu.Unlock()
	return l.books[asset]
}

func (l *Ledger) vaultSerial(account common.Address) (uint64, bool) {
	l.vaultsMu.RLock()
	defer l.vaultsMu.RUnlock()
	serial, ok := l.vaults[account]
	return serial, ok
}

// RegisterVault marks account as pool-owned and returns its capability.
func (l *Ledger) RegisterVault(account common.Address) (*Capability, error) {
	l.vaultsMu.Lock()
	defer l.vaultsMu.Unlock()

	if _, ok := l.vaults[account]; ok {
		return nil, fmt.Errorf("%w: %s", ErrVaultRegistered, account.Hex())
	}
	l.serial++
	l.vaults[account] = l.serial
	return &Capability{vault: account, serial: l.serial}, nil
}

// Reissue returns the capability of a vault, registering it if needed. It is
// used when pools are restored from a snapshot.
func (l *Ledger) Reissue(account common.Address) (*Capability, error) {
	l.vaultsMu.Lock()
	defer l.vaultsMu.Unlock()

	serial, ok := l.vaults[account]
	if !ok {
		l.serial++
		serial = l.serial
		l.vaults[account] = serial
	}
	return &Capability{vault: account, serial: serial}, nil
}

// Tx is an open custody transaction. It holds the locks of its assets until
// Commit or Rollback.
type Tx struct {
	l     *Ledger
	books map[common.Address]*book
	order []*book
	o     *overlay
	done  bool
}

// Begin opens a transaction over assets. Ops on any other asset fail with
// ErrAssetNotLocked. Callers must end it with Commit or Rollback.
func (l *Ledger) Begin(ctx context.Context, assets ...common.Address) (*Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sorted := append([]common.Address(nil), assets...)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Bytes(), sorted[j].Bytes()) < 0
	})

	l.mu.RLock()
	tx := &Tx{l: l, books: make(map[common.Address]*book, len(sorted))}
	for _, asset := range sorted {
		if _, ok := tx.books[asset]; ok {
			continue
		}
		b := l.book(asset)
		b.mu.Lock()
		tx.books[asset] = b
		tx.order = append(tx.order, b)
	}
	tx.o = newOverlay(tx)
	return tx, nil
}

// Apply stages ops in order. After an error the transaction must be rolled
// back.
func (tx *Tx) Apply(ops ...Op) error {
	if tx.done {
		return ErrTxDone
	}
	for i, op := range ops {
		if _, ok := tx.books[op.asset()]; !ok {
			return fmt.Errorf("op %d: %w: %s", i, ErrAssetNotLocked, op.asset().Hex())
		}
		if err := op.apply(tx.o); err != nil {
			return fmt.Errorf("op %d: %w", i, err)
		}
	}
	return nil
}

// Balance returns the staged balance of account in asset. Assets outside the
// transaction read as zero.
func (tx *Tx) Balance(asset, account common.Address) uint64 {
	return tx.o.balance(balanceKey{asset: asset, account: account})
}

// Supply returns the staged total supply of asset.
func (tx *Tx) Supply(asset common.Address) uint64 {
	return tx.o.supplyOf(asset)
}

// Commit publishes the staged changes and releases the assets.
func (tx *Tx) Commit() error {
	if tx.done {
		return ErrTxDone
	}
	tx.o.flush()
	tx.release()
	return nil
}

// Rollback discards the staged changes. It is a no-op after Commit.
func (tx *Tx) Rollback() {
	if tx.done {
		return
	}
	tx.release()
}

func (tx *Tx) release() {
	tx.done = true
	for i := len(tx.order) - 1; i >= 0; i-- {
		tx.order[i].mu.Unlock()
	}
	tx.l.mu.RUnlock()
}

// Apply executes ops atomically.
func (l *Ledger) Apply(ctx context.Context, ops ...Op) error {
	assets := make([]common.Address, 0, len(ops))
	for _, op := range ops {
		assets = append(assets, op.asset())
	}
	tx, err := l.Begin(ctx, assets...)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := tx.Apply(ops...); err != nil {
		return err
	}
	return tx.Commit()
}

// Balance returns the balance of account in asset.
func (l *Ledger) Balance(asset, account common.Address) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	b := l.lookup(asset)
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[account]
}

// Supply returns the total amount of asset held across all accounts.
func (l *Ledger) Supply(asset common.Address) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	b := l.lookup(asset)
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.supply
}

// BalanceOf implements BalanceReader.
func (l *Ledger) BalanceOf(_ context.Context, asset, account common.Address) (uint64, error) {
	return l.Balance(asset, account), nil
}

// Export returns all non-zero balances ordered by asset then account. It
// waits for open transactions to finish.
func (l *Ledger) Export() []model.Balance {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.vaultsMu.RLock()
	defer l.vaultsMu.RUnlock()

	var out []model.Balance
	for asset, b := range l.books {
		for account, amount := range b.balances {
			if amount == 0 {
				continue
			}
			_, vault := l.vaults[account]
			out = append(out, model.Balance{
				Asset:   asset.Hex(),
				Account: account.Hex(),
				Amount:  amount,
				Vault:   vault,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Asset != out[j].Asset {
			return out[i].Asset < out[j].Asset
		}
		return out[i].Account < out[j].Account
	})
	if out == nil {
		out = []model.Balance{}
	}
	return out
}

// Import replaces the ledger contents with balances.
func (l *Ledger) Import(balances []model.Balance) error {
	books := make(map[common.Address]*book)
	vaults := make(map[common.Address]uint64)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.vaultsMu.Lock()
	defer l.vaultsMu.Unlock()

	serial := l.serial
	for _, bal := range balances {
		if !common.IsHexAddress(bal.Asset) || !common.IsHexAddress(bal.Account) {
			return fmt.Errorf("invalid balance record %s/%s", bal.Asset, bal.Account)
		}
		asset := common.HexToAddress(bal.Asset)
		account := common.HexToAddress(bal.Account)

		b, ok := books[asset]
		if !ok {
			b = newBook()
			books[asset] = b
		}
		total, err := add(b.balances[account], bal.Amount)
		if err != nil {
			return err
		}
		b.balances[account] = total
		if b.supply, err = add(b.supply, bal.Amount); err != nil {
			return err
		}
		if bal.Vault {
			if _, ok := vaults[account]; !ok {
				serial++
				vaults[account] = serial
			}
		}
	}

	l.booksMu.Lock()
	l.books = books
	l.booksMu.Unlock()
	l.vaults = vaults
	l.serial = serial
	return nil
}

// overlay stages changes on top of the books a transaction holds.
type overlay struct {
	tx       *Tx
	balances map[balanceKey]uint64
	supply   map[common.Address]uint64
}

func newOverlay(tx *Tx) *overlay {
	return &overlay{
		tx:       tx,
		balances: make(map[balanceKey]uint64),
		supply:   make(map[common.Address]uint64),
	}
}

func (o *overlay) balance(key balanceKey) uint64 {
	if v, ok := o.balances[key]; ok {
		return v
	}
	if b, ok := o.tx.books[key.asset]; ok {
		return b.balances[key.account]
	}
	return 0
}

func (o *overlay) supplyOf(asset common.Address) uint64 {
	if v, ok := o.supply[asset]; ok {
		return v
	}
	if b, ok := o.tx.books[asset]; ok {
		return b.supply
	}
	return 0
}

func (o *overlay) flush() {
	for key, amount := range o.balances {
		b := o.tx.books[key.asset]
		if amount == 0 {
			delete(b.balances, key.account)
			continue
		}
		b.balances[key.account] = amount
	}
	for asset, amount := range o.supply {
		o.tx.books[asset].supply = amount
	}
}

func (t Transfer) asset() common.Address { return t.Asset }

func (t Transfer) apply(o *overlay) error {
	if t.Amount == 0 {
		return nil
	}
	if serial, ok := o.tx.l.vaultSerial(t.From); ok {
		if t.Cap == nil || t.Cap.vault != t.From || t.Cap.serial != serial {
			return fmt.Errorf("%w: %s", ErrCapabilityRequired, t.From.Hex())
		}
	}

	fromKey := balanceKey{asset: t.Asset, account: t.From}
	toKey := balanceKey{asset: t.Asset, account: t.To}
	held := o.balance(fromKey)
	if held < t.Amount {
		return fmt.Errorf("%w: %s holds %d of %s, needs %d",
			ErrInsufficientBalance, t.From.Hex(), held, t.Asset.Hex(), t.Amount)
	}
	if fromKey == toKey {
		return nil
	}
	credited, err := add(o.balance(toKey), t.Amount)
	if err != nil {
		return err
	}
	o.balances[fromKey] = held - t.Amount
	o.balances[toKey] = credited
	return nil
}

func (m Mint) asset() common.Address { return m.Asset }

func (m Mint) apply(o *overlay) error {
	if m.Amount == 0 {
		return nil
	}
	supply, err := add(o.supplyOf(m.Asset), m.Amount)
	if err != nil {
		return err
	}
	key := balanceKey{asset: m.Asset, account: m.To}
	balance, err := add(o.balance(key), m.Amount)
	if err != nil {
		return err
	}
	o.supply[m.Asset] = supply
	o.balances[key] = balance
	return nil
}

func add(a, b uint64) (uint64, error) {
	if a > ^uint64(0)-b {
		return 0, ErrBalanceOverflow
	}
	return a + b, nil
}
