package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"swapCore/internal/custody"
	"swapCore/internal/exchange"
	"swapCore/internal/model"
	"swapCore/internal/registry"
	"swapCore/internal/storage"
)

type nopMirror struct{}

func (nopMirror) CommitPool(context.Context, model.Pool, uint64) error { return nil }

func TestRunLockedJournalsOnlyCommitted(t *testing.T) {
	ctx := context.Background()
	provider := common.HexToAddress(alice)
	ex := exchange.New(registry.New(), custody.NewLedger())
	pool, err := ex.CreatePool(ctx, common.HexToAddress(assetA), common.HexToAddress(assetB), 30)
	require.NoError(t, err)
	require.NoError(t, ex.Fund(ctx, pool.AssetA, provider, 10_000_000))
	require.NoError(t, ex.Fund(ctx, pool.AssetB, provider, 10_000_000))

	journal := storage.NewJsonlJournal(filepath.Join(t.TempDir(), "events.jsonl"))
	deposit := func(amount uint64) func(*exchange.Exchange) error {
		return func(ex *exchange.Exchange) error {
			_, err := ex.AddLiquidity(ctx, pool.PoolKey, provider, amount, amount)
			return err
		}
	}

	commitErr := errors.New("commit failed")
	failing := func(ctx context.Context, inner func(exchange.PoolMirror, storage.Journal) error) error {
		if err := inner(nopMirror{}, storage.NopJournal{}); err != nil {
			return err
		}
		return commitErr
	}
	err = runLocked(ctx, ex, journal, zap.NewNop(), failing, deposit(1_000_000))
	require.ErrorIs(t, err, commitErr)

	events, err := journal.ReadAll()
	require.NoError(t, err)
	require.Empty(t, events)

	var txEvents storage.MemoryJournal
	committing := func(ctx context.Context, inner func(exchange.PoolMirror, storage.Journal) error) error {
		return inner(nopMirror{}, &txEvents)
	}
	require.NoError(t, runLocked(ctx, ex, journal, zap.NewNop(), committing, deposit(10_000)))

	events, err = journal.ReadAll()
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, model.EventAddLiquidity, events[0].Kind)
	require.Equal(t, txEvents.Events(), events)
}
