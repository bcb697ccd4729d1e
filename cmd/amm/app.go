package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"swapCore/internal/config"
	"swapCore/internal/custody"
	"swapCore/internal/exchange"
	"swapCore/internal/ident"
	"swapCore/internal/model"
	"swapCore/internal/registry"
	"swapCore/internal/storage"
	"swapCore/internal/storage/postgres"
)

type app struct {
	cfg       config.Config
	logger    *zap.Logger
	ex        *exchange.Exchange
	snapshots *storage.SnapshotStore
	journal   *storage.JsonlJournal
	pg        *postgres.Store
}

func setup(ctx context.Context, cmd *cobra.Command) (*app, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := loadEnv(envFile); err != nil {
		return nil, err
	}

	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		snapshots: &storage.SnapshotStore{Path: cfg.StateFile},
		journal:   storage.NewJsonlJournal(cfg.Journal),
	}

	journals := storage.MultiJournal{a.journal}
	opts := []exchange.Option{exchange.WithLogger(logger)}
	if cfg.PGDSN != "" {
		a.pg, err = postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if cfg.PGMigrate {
			if err := a.pg.EnsureSchema(ctx); err != nil {
				a.close()
				return nil, err
			}
		}
		journals = append(journals, a.pg)
		opts = append(opts, exchange.WithMirror(a.pg))
	}
	opts = append(opts, exchange.WithJournal(journals))
	a.ex = exchange.New(registry.New(), custody.NewLedger(), opts...)

	snap, ok, err := a.snapshots.Load(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	if ok {
		if err := a.ex.Restore(snap); err != nil {
			a.close()
			return nil, err
		}
	}

	logger.Debug("state loaded",
		zap.String("state_file", cfg.StateFile),
		zap.Bool("existing", ok),
		zap.Int("pools", len(snap.Pools)),
		zap.Bool("postgres", a.pg != nil),
	)
	return a, nil
}

func (a *app) close() {
	if a.pg != nil {
		a.pg.Close()
	}
	_ = a.logger.Sync()
}

func (a *app) save(ctx context.Context) error {
	if err := a.snapshots.Save(ctx, a.ex.Snapshot()); err != nil {
		return err
	}
	if a.pg != nil {
		// backfills pools created before postgres was configured
		pools := a.ex.Snapshot().Pools
		if err := a.pg.UpsertPools(ctx, pools); err != nil {
			return fmt.Errorf("sync pools: %w", err)
		}
	}
	return nil
}

// locked runs fn against the exchange. With Postgres configured the pool row
// stays locked for the whole operation and the local snapshot must match the
// stored version.
func (a *app) locked(ctx context.Context, key common.Hash, fn func(ex *exchange.Exchange) error) error {
	if a.pg == nil {
		return fn(a.ex)
	}
	local, err := a.ex.Pool(key)
	if err != nil {
		return err
	}
	lock := func(ctx context.Context, inner func(exchange.PoolMirror, storage.Journal) error) error {
		return a.pg.WithPoolLock(ctx, key.Hex(), func(ctx context.Context, tx *postgres.Tx, current model.Pool, found bool) error {
			if found && current.Version != local.Version {
				return fmt.Errorf("%w: local state at version %d, database at %d",
					postgres.ErrVersionConflict, local.Version, current.Version)
			}
			return inner(tx, tx)
		})
	}
	return runLocked(ctx, a.ex, a.journal, a.logger, lock, fn)
}

// txLock runs inner inside an external transaction and commits it if inner
// succeeds. inner receives the mirror and journal bound to the transaction.
type txLock func(ctx context.Context, inner func(mirror exchange.PoolMirror, journal storage.Journal) error) error

// runLocked runs fn under lock. Events reach journal only after the
// transaction committed.
func runLocked(ctx context.Context, ex *exchange.Exchange, journal storage.Journal, logger *zap.Logger, lock txLock, fn func(*exchange.Exchange) error) error {
	var pending storage.MemoryJournal
	err := lock(ctx, func(mirror exchange.PoolMirror, txJournal storage.Journal) error {
		return fn(ex.Scoped(mirror, storage.MultiJournal{txJournal, &pending}))
	})
	if err != nil {
		return err
	}
	if err := journal.PutEventBatch(ctx, pending.Events()); err != nil {
		logger.Error("journal write failed", zap.Error(err))
	}
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

func resolvePool(cmd *cobra.Command, ex *exchange.Exchange) (common.Hash, error) {
	if raw, _ := cmd.Flags().GetString("pool"); raw != "" {
		return ident.ParsePoolKey(raw)
	}
	rawA, _ := cmd.Flags().GetString("asset-a")
	rawB, _ := cmd.Flags().GetString("asset-b")
	if rawA == "" || rawB == "" {
		return common.Hash{}, fmt.Errorf("either --pool or --asset-a and --asset-b are required")
	}
	assets, err := ident.ParseAddresses([]string{rawA, rawB})
	if err != nil {
		return common.Hash{}, err
	}
	pool, err := ex.Lookup(assets[0], assets[1])
	if err != nil {
		return common.Hash{}, err
	}
	return pool.PoolKey, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
