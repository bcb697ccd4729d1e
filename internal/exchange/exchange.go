// Package exchange runs pool operations end to end: quote against the pool,
// move assets through custody, then commit the balances custody reports.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"swapCore/internal/amm"
	"swapCore/internal/custody"
	"swapCore/internal/ident"
	"swapCore/internal/model"
	"swapCore/internal/registry"
	"swapCore/internal/storage"
)

// PoolMirror durably records committed pools. CommitPool must fail when the
// stored pool is no longer at prevVersion.
type PoolMirror interface {
	CommitPool(ctx context.Context, pool model.Pool, prevVersion uint64) error
}

// ErrShareTokenMint is returned when Fund targets a pool share token.
var ErrShareTokenMint = errors.New("share tokens are only minted by liquidity deposits")

type capabilities struct {
	mu   sync.RWMutex
	byID map[common.Address]*custody.Capability
}

func (c *capabilities) get(vault common.Address) *custody.Capability {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byID[vault]
}

func (c *capabilities) put(caps ...*custody.Capability) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, capability := range caps {
		c.byID[capability.Vault()] = capability
	}
}

// Exchange owns the pool capabilities and serializes work per pool.
type Exchange struct {
	pools   *registry.Registry
	ledger  *custody.Ledger
	caps    *capabilities
	journal storage.Journal
	mirror  PoolMirror
	logger  *zap.Logger
	now     func() time.Time
}

type Option func(*Exchange)

func WithJournal(j storage.Journal) Option {
	return func(e *Exchange) { e.journal = j }
}

func WithMirror(m PoolMirror) Option {
	return func(e *Exchange) { e.mirror = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Exchange) { e.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(e *Exchange) { e.now = now }
}

func New(pools *registry.Registry, ledger *custody.Ledger, opts ...Option) *Exchange {
	e := &Exchange{
		pools:  pools,
		ledger: ledger,
		caps:   &capabilities{byID: make(map[common.Address]*custody.Capability)},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.journal == nil {
		e.journal = storage.NopJournal{}
	}
	return e
}

// Scoped returns an exchange sharing this one's pools, custody and
// capabilities but writing through mirror and journal. It is used to run one
// operation inside an external transaction.
func (e *Exchange) Scoped(mirror PoolMirror, journal storage.Journal) *Exchange {
	next := *e
	next.mirror = mirror
	if journal != nil {
		next.journal = journal
	}
	return &next
}

// CreatePool derives the pool identities, takes ownership of its vaults and
// registers an empty pool.
func (e *Exchange) CreatePool(ctx context.Context, assetA, assetB amm.AssetID, feeBps uint16) (amm.Pool, error) {
	log := e.logger.With(zap.String("op", "create_pool"), zap.String("asset_a", assetA.Hex()), zap.String("asset_b", assetB.Hex()))

	key, err := ident.PoolKey(assetA, assetB)
	if err != nil {
		err = fmt.Errorf("%w: %w", amm.ErrInvalidMint, err)
		e.reject(log, err)
		return amm.Pool{}, err
	}

	var pool amm.Pool
	err = pool.Initialize(amm.InitParams{
		PoolKey:    key,
		AssetA:     assetA,
		AssetB:     assetB,
		ShareToken: ident.ShareToken(key),
		VaultA:     ident.Vault(key, assetA),
		VaultB:     ident.Vault(key, assetB),
		Authority:  ident.Authority(key),
		FeeBps:     feeBps,
	})
	if err != nil {
		e.reject(log, err)
		return amm.Pool{}, err
	}
	if _, err := e.pools.Get(key); err == nil {
		err = fmt.Errorf("%w: %s", registry.ErrPoolExists, key.Hex())
		e.reject(log, err)
		return amm.Pool{}, err
	}

	capA, err := e.ledger.RegisterVault(pool.VaultA)
	if err != nil {
		return amm.Pool{}, err
	}
	capB, err := e.ledger.RegisterVault(pool.VaultB)
	if err != nil {
		return amm.Pool{}, err
	}
	e.caps.put(capA, capB)

	if e.mirror != nil {
		if err := e.mirror.CommitPool(ctx, model.PoolRecord(pool), 0); err != nil {
			return amm.Pool{}, fmt.Errorf("mirror pool: %w", err)
		}
	}
	if err := e.pools.Create(pool); err != nil {
		return amm.Pool{}, err
	}

	e.record(ctx, model.PoolEvent{Kind: model.EventInitialize}, pool)
	log.Info("pool created", zap.String("pool", key.Hex()), zap.Uint16("fee_bps", feeBps))
	return pool, nil
}

// LiquidityResult is a committed deposit.
type LiquidityResult struct {
	Quote amm.LiquidityQuote `json:"quote"`
	Pool  amm.Pool           `json:"pool"`
}

// AddLiquidity deposits the full offered amounts from provider and mints
// shares to it. Any amount above the ratio-correct charge stays in the pool.
func (e *Exchange) AddLiquidity(ctx context.Context, key common.Hash, provider amm.AccountID, amountA, amountB uint64) (LiquidityResult, error) {
	log := e.logger.With(zap.String("op", "add_liquidity"), zap.String("pool", key.Hex()), zap.String("provider", provider.Hex()))

	var result LiquidityResult
	err := e.pools.With(ctx, key, func(p *amm.Pool) error {
		prevVersion := p.Version
		quote, err := p.QuoteAddLiquidity(amountA, amountB)
		if err != nil {
			return err
		}

		tx, err := e.ledger.Begin(ctx, p.AssetA, p.AssetB, p.ShareToken)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		err = tx.Apply(
			custody.Transfer{Asset: p.AssetA, From: provider, To: p.VaultA, Amount: amountA},
			custody.Transfer{Asset: p.AssetB, From: provider, To: p.VaultB, Amount: amountB},
			custody.Mint{Asset: p.ShareToken, To: provider, Amount: quote.Shares},
		)
		if err != nil {
			return err
		}

		err = p.CommitLiquidity(amm.Observed{
			ReserveA:    tx.Balance(p.AssetA, p.VaultA),
			ReserveB:    tx.Balance(p.AssetB, p.VaultB),
			ShareSupply: tx.Supply(p.ShareToken),
		})
		if err != nil {
			return err
		}
		if err := e.mirrorCommit(ctx, *p, prevVersion); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		result = LiquidityResult{Quote: quote, Pool: *p}
		return nil
	})
	if err != nil {
		e.reject(log, err, zap.Uint64("amount_a", amountA), zap.Uint64("amount_b", amountB))
		return LiquidityResult{}, err
	}

	e.record(ctx, model.PoolEvent{
		Kind:     model.EventAddLiquidity,
		Actor:    provider.Hex(),
		AmountA:  amountA,
		AmountB:  amountB,
		ChargedA: result.Quote.ChargedA,
		ChargedB: result.Quote.ChargedB,
		Shares:   result.Quote.Shares,
	}, result.Pool)
	log.Info("liquidity added",
		zap.Uint64("shares", result.Quote.Shares),
		zap.Uint64("charged_a", result.Quote.ChargedA),
		zap.Uint64("charged_b", result.Quote.ChargedB),
		zap.Bool("initial", result.Quote.Initial),
		zap.Uint64("version", result.Pool.Version),
	)
	return result, nil
}

// SwapResult is a committed swap.
type SwapResult struct {
	Quote amm.SwapQuote `json:"quote"`
	Pool  amm.Pool      `json:"pool"`
}

// Swap sells amountIn of from for the counterpart asset. A zero to means the
// counterpart of from; otherwise to must be that counterpart.
func (e *Exchange) Swap(ctx context.Context, key common.Hash, trader amm.AccountID, from, to amm.AssetID, amountIn, minOut uint64) (SwapResult, error) {
	log := e.logger.With(zap.String("op", "swap"), zap.String("pool", key.Hex()), zap.String("trader", trader.Hex()))

	var result SwapResult
	err := e.pools.With(ctx, key, func(p *amm.Pool) error {
		prevVersion := p.Version
		quote, err := quoteSwap(p, from, to, amountIn, minOut)
		if err != nil {
			return err
		}

		vaultIn, vaultOut := p.VaultA, p.VaultB
		if quote.Direction == amm.BToA {
			vaultIn, vaultOut = p.VaultB, p.VaultA
		}

		tx, err := e.ledger.Begin(ctx, p.AssetA, p.AssetB)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		err = tx.Apply(
			custody.Transfer{Asset: quote.AssetIn, From: trader, To: vaultIn, Amount: quote.AmountIn},
			custody.Transfer{Asset: quote.AssetOut, From: vaultOut, To: trader, Amount: quote.AmountOut, Cap: e.caps.get(vaultOut)},
		)
		if err != nil {
			return err
		}

		if err := p.CommitSwap(tx.Balance(p.AssetA, p.VaultA), tx.Balance(p.AssetB, p.VaultB)); err != nil {
			return err
		}
		if err := e.mirrorCommit(ctx, *p, prevVersion); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		result = SwapResult{Quote: quote, Pool: *p}
		return nil
	})
	if err != nil {
		e.reject(log, err, zap.String("from", from.Hex()), zap.Uint64("amount_in", amountIn), zap.Uint64("min_out", minOut))
		return SwapResult{}, err
	}

	e.record(ctx, model.PoolEvent{
		Kind:      model.EventSwap,
		Actor:     trader.Hex(),
		AssetIn:   result.Quote.AssetIn.Hex(),
		AssetOut:  result.Quote.AssetOut.Hex(),
		AmountIn:  result.Quote.AmountIn,
		FeeAmount: result.Quote.FeeAmount,
		AmountOut: result.Quote.AmountOut,
	}, result.Pool)
	log.Info("swap executed",
		zap.Stringer("direction", result.Quote.Direction),
		zap.Uint64("amount_in", result.Quote.AmountIn),
		zap.Uint64("fee", result.Quote.FeeAmount),
		zap.Uint64("amount_out", result.Quote.AmountOut),
		zap.Uint64("version", result.Pool.Version),
	)
	return result, nil
}

// QuoteAddLiquidity prices a deposit without changing anything.
func (e *Exchange) QuoteAddLiquidity(key common.Hash, amountA, amountB uint64) (amm.LiquidityQuote, error) {
	pool, err := e.pools.Get(key)
	if err != nil {
		return amm.LiquidityQuote{}, err
	}
	return pool.QuoteAddLiquidity(amountA, amountB)
}

// QuoteSwap prices a swap without changing anything.
func (e *Exchange) QuoteSwap(key common.Hash, from, to amm.AssetID, amountIn, minOut uint64) (amm.SwapQuote, error) {
	pool, err := e.pools.Get(key)
	if err != nil {
		return amm.SwapQuote{}, err
	}
	return quoteSwap(&pool, from, to, amountIn, minOut)
}

// Pool returns a copy of one pool.
func (e *Exchange) Pool(key common.Hash) (amm.Pool, error) {
	return e.pools.Get(key)
}

// Lookup returns the pool of a pair in either order.
func (e *Exchange) Lookup(a, b amm.AssetID) (amm.Pool, error) {
	return e.pools.Lookup(a, b)
}

// Pools returns copies of all pools ordered by key.
func (e *Exchange) Pools() []amm.Pool {
	return e.pools.List()
}

// Balance returns the custody balance of account in asset.
func (e *Exchange) Balance(asset, account common.Address) uint64 {
	return e.ledger.Balance(asset, account)
}

// BalanceOf implements custody.BalanceReader over the local ledger.
func (e *Exchange) BalanceOf(ctx context.Context, asset, account common.Address) (uint64, error) {
	return e.ledger.BalanceOf(ctx, asset, account)
}

// Fund credits account with newly created units of asset.
func (e *Exchange) Fund(ctx context.Context, asset, account common.Address, amount uint64) error {
	for _, pool := range e.pools.List() {
		if pool.ShareToken == asset {
			return fmt.Errorf("%w: %s", ErrShareTokenMint, asset.Hex())
		}
	}
	if err := e.ledger.Apply(ctx, custody.Mint{Asset: asset, To: account, Amount: amount}); err != nil {
		return err
	}
	e.logger.Info("account funded", zap.String("asset", asset.Hex()), zap.String("account", account.Hex()), zap.Uint64("amount", amount))
	return nil
}

func quoteSwap(p *amm.Pool, from, to amm.AssetID, amountIn, minOut uint64) (amm.SwapQuote, error) {
	if to == (amm.AssetID{}) {
		return p.QuoteSwap(from, amountIn, minOut)
	}
	return p.QuoteSwapPair(from, to, amountIn, minOut)
}

func (e *Exchange) mirrorCommit(ctx context.Context, pool amm.Pool, prevVersion uint64) error {
	if e.mirror == nil {
		return nil
	}
	if err := e.mirror.CommitPool(ctx, model.PoolRecord(pool), prevVersion); err != nil {
		return fmt.Errorf("mirror pool: %w", err)
	}
	return nil
}

func (e *Exchange) record(ctx context.Context, event model.PoolEvent, pool amm.Pool) {
	event.PoolKey = pool.PoolKey.Hex()
	event.ReserveA = pool.ReserveA
	event.ReserveB = pool.ReserveB
	event.ShareSupply = pool.ShareSupply
	event.Version = pool.Version
	event.Timestamp = e.now().UTC().Format(time.RFC3339Nano)

	if err := e.journal.PutEventBatch(ctx, []model.PoolEvent{event}); err != nil {
		e.logger.Error("journal write failed", zap.String("pool", event.PoolKey), zap.String("kind", event.Kind), zap.Error(err))
	}
}

func (e *Exchange) reject(log *zap.Logger, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("kind", string(ErrorKind(err))), zap.Error(err))
	log.Warn("operation rejected", fields...)
}

// ErrorKind extends amm.Kind with the collaborator failures an exchange
// operation can surface.
func ErrorKind(err error) amm.ErrorKind {
	switch {
	case errors.Is(err, registry.ErrPoolNotFound), errors.Is(err, registry.ErrPoolExists):
		return KindRegistry
	case errors.Is(err, custody.ErrInsufficientBalance),
		errors.Is(err, custody.ErrCapabilityRequired),
		errors.Is(err, custody.ErrBalanceOverflow),
		errors.Is(err, custody.ErrVaultRegistered):
		return KindCustody
	}
	return amm.Kind(err)
}

const (
	KindRegistry amm.ErrorKind = "registry"
	KindCustody  amm.ErrorKind = "custody"
)
