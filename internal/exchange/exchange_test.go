package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"swapCore/internal/amm"
	"swapCore/internal/custody"
	"swapCore/internal/model"
	"swapCore/internal/registry"
)

var (
	tokenA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokenB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	tokenC = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	tokenD = common.HexToAddress("0x00000000000000000000000000000000000000dd")
	alice  = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type recordingJournal struct {
	mu     sync.Mutex
	events []model.PoolEvent
}

func (r *recordingJournal) PutEventBatch(_ context.Context, events []model.PoolEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

type fakeMirror struct {
	mu       sync.Mutex
	versions map[string]uint64
	fail     error
}

func (m *fakeMirror) CommitPool(_ context.Context, pool model.Pool, prevVersion uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	if m.versions == nil {
		m.versions = make(map[string]uint64)
	}
	if m.versions[pool.PoolKey] != prevVersion {
		return errors.New("version conflict")
	}
	m.versions[pool.PoolKey] = pool.Version
	return nil
}

// gateMirror stalls commits of one pool until released.
type gateMirror struct {
	hold    string
	entered chan struct{}
	release chan struct{}
}

func (m *gateMirror) CommitPool(_ context.Context, pool model.Pool, _ uint64) error {
	if m.hold != "" && pool.PoolKey == m.hold {
		m.entered <- struct{}{}
		<-m.release
	}
	return nil
}

type fixture struct {
	ex      *Exchange
	journal *recordingJournal
	logs    *observer.ObservedLogs
	pool    amm.Pool
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	journal := &recordingJournal{}
	clock := func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	opts = append([]Option{WithLogger(zap.New(core)), WithJournal(journal), WithClock(clock)}, opts...)
	ex := New(registry.New(), custody.NewLedger(), opts...)

	pool, err := ex.CreatePool(context.Background(), tokenA, tokenB, 30)
	require.NoError(t, err)
	return &fixture{ex: ex, journal: journal, logs: logs, pool: pool}
}

func (f *fixture) fund(t *testing.T, account common.Address, a, b uint64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.ex.Fund(ctx, tokenA, account, a))
	require.NoError(t, f.ex.Fund(ctx, tokenB, account, b))
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	f.fund(t, alice, 2_000_000, 1_000_000)
	_, err := f.ex.AddLiquidity(context.Background(), f.pool.PoolKey, alice, 1_000_000, 1_000_000)
	require.NoError(t, err)
}

func TestCreatePool(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.pool.Initialized)
	require.True(t, f.pool.IsEmpty())
	require.Equal(t, uint16(30), f.pool.FeeBps)

	got, err := f.ex.Lookup(tokenB, tokenA)
	require.NoError(t, err)
	require.Equal(t, f.pool, got)

	_, err = f.ex.CreatePool(context.Background(), tokenB, tokenA, 30)
	require.ErrorIs(t, err, registry.ErrPoolExists)

	_, err = f.ex.CreatePool(context.Background(), tokenC, tokenC, 30)
	require.ErrorIs(t, err, amm.ErrInvalidMint)

	_, err = f.ex.CreatePool(context.Background(), tokenA, tokenC, 10_001)
	require.ErrorIs(t, err, amm.ErrInvalidFee)

	require.Len(t, f.journal.events, 1)
	require.Equal(t, model.EventInitialize, f.journal.events[0].Kind)
}

func TestLiquidityThenSwap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, alice, 2_000_000, 1_000_000)

	added, err := f.ex.AddLiquidity(ctx, f.pool.PoolKey, alice, 1_000_000, 1_000_000)
	require.NoError(t, err)
	require.Equal(t, uint64(999_000), added.Quote.Shares)
	require.True(t, added.Quote.Initial)
	require.Equal(t, uint64(1_000_000), added.Pool.ReserveA)
	require.Equal(t, uint64(1_000_000), added.Pool.ReserveB)
	require.Equal(t, uint64(999_000), added.Pool.ShareSupply)
	require.Equal(t, uint64(999_000), f.ex.Balance(f.pool.ShareToken, alice))

	swapped, err := f.ex.Swap(ctx, f.pool.PoolKey, alice, tokenA, common.Address{}, 10_000, 9_871)
	require.NoError(t, err)
	require.Equal(t, uint64(30), swapped.Quote.FeeAmount)
	require.Equal(t, uint64(9_970), swapped.Quote.AmountInAfterFee)
	require.Equal(t, uint64(9_871), swapped.Quote.AmountOut)
	require.Equal(t, uint64(1_010_000), swapped.Pool.ReserveA)
	require.Equal(t, uint64(990_129), swapped.Pool.ReserveB)
	require.Equal(t, uint64(999_000), swapped.Pool.ShareSupply)
	require.Equal(t, uint64(2), swapped.Pool.Version)

	require.Equal(t, uint64(990_000), f.ex.Balance(tokenA, alice))
	require.Equal(t, uint64(9_871), f.ex.Balance(tokenB, alice))

	require.Len(t, f.journal.events, 3)
	last := f.journal.events[2]
	require.Equal(t, model.EventSwap, last.Kind)
	require.Equal(t, uint64(9_871), last.AmountOut)
	require.Equal(t, uint64(2), last.Version)
	require.Equal(t, "2024-01-01T00:00:00Z", last.Timestamp)
}

func TestExcessLiquidityStaysInPool(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.fund(t, bob, 100_000, 1_000)

	res, err := f.ex.AddLiquidity(context.Background(), f.pool.PoolKey, bob, 100_000, 1_000)
	require.NoError(t, err)
	require.Equal(t, uint64(999), res.Quote.Shares)
	require.Equal(t, uint64(1_000), res.Quote.ChargedA)
	require.Equal(t, uint64(1_000), res.Quote.ChargedB)

	require.Equal(t, uint64(1_100_000), res.Pool.ReserveA)
	require.Equal(t, uint64(1_001_000), res.Pool.ReserveB)
	require.Equal(t, uint64(999_999), res.Pool.ShareSupply)
	require.Zero(t, f.ex.Balance(tokenA, bob))
}

func TestRejectedOperationsLeaveStateUnchanged(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()
	before := f.ex.Snapshot()
	events := len(f.journal.events)

	cases := []struct {
		name string
		run  func() error
		want error
		kind amm.ErrorKind
	}{
		{"zero swap", func() error {
			_, err := f.ex.Swap(ctx, f.pool.PoolKey, alice, tokenA, tokenB, 0, 0)
			return err
		}, amm.ErrZeroAmount, amm.KindPrecondition},
		{"foreign asset", func() error {
			_, err := f.ex.Swap(ctx, f.pool.PoolKey, alice, tokenC, common.Address{}, 10, 0)
			return err
		}, amm.ErrInvalidMint, amm.KindPrecondition},
		{"wrong destination", func() error {
			_, err := f.ex.Swap(ctx, f.pool.PoolKey, alice, tokenA, tokenC, 10, 0)
			return err
		}, amm.ErrInvalidMint, amm.KindPrecondition},
		{"same token", func() error {
			_, err := f.ex.Swap(ctx, f.pool.PoolKey, alice, tokenA, tokenA, 10, 0)
			return err
		}, amm.ErrSameTokenSwap, amm.KindPrecondition},
		{"slippage", func() error {
			_, err := f.ex.Swap(ctx, f.pool.PoolKey, alice, tokenA, tokenB, 10_000, 9_872)
			return err
		}, amm.ErrMinimumOutput, amm.KindPolicy},
		{"skewed deposit", func() error {
			_, err := f.ex.AddLiquidity(ctx, f.pool.PoolKey, alice, 100, 1)
			return err
		}, amm.ErrInsufficientLiquidity, amm.KindPolicy},
		{"unfunded trader", func() error {
			_, err := f.ex.Swap(ctx, f.pool.PoolKey, bob, tokenA, tokenB, 10_000, 0)
			return err
		}, custody.ErrInsufficientBalance, KindCustody},
		{"unknown pool", func() error {
			_, err := f.ex.Swap(ctx, common.HexToHash("0x01"), alice, tokenA, tokenB, 10, 0)
			return err
		}, registry.ErrPoolNotFound, KindRegistry},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.run()
			require.ErrorIs(t, err, tc.want)
			require.Equal(t, tc.kind, ErrorKind(err))
			require.Equal(t, before, f.ex.Snapshot())
		})
	}
	require.Len(t, f.journal.events, events)

	rejected := f.logs.FilterMessage("operation rejected").All()
	require.Len(t, rejected, len(cases))
	require.Equal(t, zapcore.WarnLevel, rejected[0].Level)
	require.Equal(t, string(amm.KindPrecondition), rejected[0].ContextMap()["kind"])
}

func TestMirrorConflictRollsBackCustody(t *testing.T) {
	mirror := &fakeMirror{}
	f := newFixture(t, WithMirror(mirror))
	f.seed(t)
	before := f.ex.Snapshot()

	mirror.fail = errors.New("version conflict")
	_, err := f.ex.Swap(context.Background(), f.pool.PoolKey, alice, tokenA, tokenB, 10_000, 0)
	require.Error(t, err)
	require.Equal(t, before, f.ex.Snapshot())

	mirror.fail = nil
	res, err := f.ex.Swap(context.Background(), f.pool.PoolKey, alice, tokenA, tokenB, 10_000, 0)
	require.NoError(t, err)
	require.Equal(t, res.Pool.Version, mirror.versions[f.pool.PoolKey.Hex()])
}

func TestRestoreKeepsVaultsSpendable(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	snap := f.ex.Snapshot()

	restored := New(registry.New(), custody.NewLedger())
	require.NoError(t, restored.Restore(snap))
	require.Equal(t, snap, restored.Snapshot())

	res, err := restored.Swap(context.Background(), f.pool.PoolKey, alice, tokenA, tokenB, 1_000, 0)
	require.NoError(t, err)
	require.Equal(t, amm.AToB, res.Quote.Direction)
	require.Positive(t, res.Quote.AmountOut)
}

func TestReconcileDetectsDonation(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	report, err := f.ex.Reconcile(ctx, f.pool.PoolKey, f.ex.ledger)
	require.NoError(t, err)
	require.True(t, report.InSync)
	require.Equal(t, "0", report.DriftA)

	require.NoError(t, f.ex.Fund(ctx, tokenB, f.pool.VaultB, 5))
	report, err = f.ex.Reconcile(ctx, f.pool.PoolKey, f.ex.ledger)
	require.NoError(t, err)
	require.False(t, report.InSync)
	require.Equal(t, "0", report.DriftA)
	require.Equal(t, "5", report.DriftB)
}

func TestFundRejectsShareToken(t *testing.T) {
	f := newFixture(t)
	err := f.ex.Fund(context.Background(), f.pool.ShareToken, alice, 1)
	require.ErrorIs(t, err, ErrShareTokenMint)
}

func TestConcurrentSwapsStayReconciled(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	traders := make([]common.Address, 20)
	for i := range traders {
		traders[i] = common.HexToAddress(fmt.Sprintf("0x%040x", 0x1000+i))
		f.fund(t, traders[i], 1_000, 1_000)
	}
	k0 := f.ex.Snapshot().Pools[0]

	var wg sync.WaitGroup
	errs := make(chan error, len(traders))
	for i, trader := range traders {
		wg.Add(1)
		go func(i int, trader common.Address) {
			defer wg.Done()
			from, to := tokenA, tokenB
			if i%2 == 1 {
				from, to = tokenB, tokenA
			}
			_, err := f.ex.Swap(ctx, f.pool.PoolKey, trader, from, to, 1_000, 0)
			errs <- err
		}(i, trader)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	pool, err := f.ex.Pool(f.pool.PoolKey)
	require.NoError(t, err)
	require.Equal(t, uint64(1+len(traders)), pool.Version)

	before := amm.Pool{ReserveA: k0.ReserveA, ReserveB: k0.ReserveB}
	require.Equal(t, 1, pool.Invariant().Cmp(before.Invariant()))

	report, err := f.ex.Reconcile(ctx, f.pool.PoolKey, f.ex.ledger)
	require.NoError(t, err)
	require.True(t, report.InSync)
}

func TestSlowMirrorDoesNotBlockOtherPools(t *testing.T) {
	mirror := &gateMirror{entered: make(chan struct{}, 1), release: make(chan struct{})}
	f := newFixture(t, WithMirror(mirror))
	f.seed(t)
	ctx := context.Background()

	other, err := f.ex.CreatePool(ctx, tokenC, tokenD, 30)
	require.NoError(t, err)
	require.NoError(t, f.ex.Fund(ctx, tokenC, bob, 1_000_000))
	require.NoError(t, f.ex.Fund(ctx, tokenD, bob, 1_000_000))
	_, err = f.ex.AddLiquidity(ctx, other.PoolKey, bob, 500_000, 500_000)
	require.NoError(t, err)

	mirror.hold = f.pool.PoolKey.Hex()
	stalled := make(chan error, 1)
	go func() {
		_, err := f.ex.Swap(ctx, f.pool.PoolKey, alice, tokenA, tokenB, 10_000, 0)
		stalled <- err
	}()
	<-mirror.entered

	done := make(chan error, 1)
	go func() {
		_, err := f.ex.Swap(ctx, other.PoolKey, bob, tokenC, tokenD, 1_000, 0)
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		close(mirror.release)
		t.Fatalf("swap on an unrelated pool waited for another pool's mirror")
	}

	close(mirror.release)
	require.NoError(t, <-stalled)
}
