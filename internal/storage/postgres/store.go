package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"swapCore/internal/model"
)

// ErrVersionConflict is returned when a stored pool moved past the version
// the caller started from.
var ErrVersionConflict = errors.New("pool version conflict")

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Store provides Postgres persistence for pools and their events.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// UpsertPools inserts missing pool records and advances rows whose stored
// version is older. Rows at the same or a newer version are left alone.
func (s *Store) UpsertPools(ctx context.Context, pools []model.Pool) error {
	return upsertPools(ctx, s.pool, pools)
}

// InsertEvents appends pool events.
func (s *Store) InsertEvents(ctx context.Context, events []model.PoolEvent) error {
	return insertEvents(ctx, s.pool, events)
}

// PutEventBatch implements storage.Journal.
func (s *Store) PutEventBatch(ctx context.Context, events []model.PoolEvent) error {
	return s.InsertEvents(ctx, events)
}

// LoadPools returns every stored pool ordered by key.
func (s *Store) LoadPools(ctx context.Context) ([]model.Pool, error) {
	rows, err := s.pool.Query(ctx, selectPoolSQL+` ORDER BY pool_key`)
	if err != nil {
		return nil, fmt.Errorf("query pools: %w", err)
	}
	defer rows.Close()

	var pools []model.Pool
	for rows.Next() {
		pool, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		pools = append(pools, pool)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pools: %w", err)
	}
	return pools, nil
}

// CommitPool writes pool if the stored row is still at prevVersion. A missing
// row is inserted.
func (s *Store) CommitPool(ctx context.Context, pool model.Pool, prevVersion uint64) error {
	return commitPool(ctx, s.pool, pool, prevVersion)
}

// Tx is a transaction holding the row lock of one pool.
type Tx struct {
	tx pgx.Tx
}

// CommitPool is Store.CommitPool inside the locked transaction.
func (t *Tx) CommitPool(ctx context.Context, pool model.Pool, prevVersion uint64) error {
	return commitPool(ctx, t.tx, pool, prevVersion)
}

// PutEventBatch inserts events inside the locked transaction.
func (t *Tx) PutEventBatch(ctx context.Context, events []model.PoolEvent) error {
	return insertEvents(ctx, t.tx, events)
}

// WithPoolLock runs fn in a transaction that holds SELECT ... FOR UPDATE on
// the pool row for its whole duration. fn receives the locked row, or found
// false when the pool is not stored yet. The transaction commits only if fn
// succeeds.
func (s *Store) WithPoolLock(ctx context.Context, poolKey string, fn func(ctx context.Context, tx *Tx, current model.Pool, found bool) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := scanPool(tx.QueryRow(ctx, selectPoolSQL+` WHERE pool_key=$1 FOR UPDATE`, poolKey))
	found := true
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		found = false
	}

	if err := fn(ctx, &Tx{tx: tx}, current, found); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func upsertPools(ctx context.Context, q querier, pools []model.Pool) error {
	if len(pools) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, pool := range pools {
		batch.Queue(syncPoolSQL, poolArgs(pool)...)
	}

	br := q.SendBatch(ctx, batch)
	defer br.Close()

	for range pools {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func commitPool(ctx context.Context, q querier, pool model.Pool, prevVersion uint64) error {
	args := append(poolArgs(pool), strconv.FormatUint(prevVersion, 10))
	tag, err := q.Exec(ctx, commitPoolSQL, args...)
	if err != nil {
		return fmt.Errorf("commit pool %s: %w", pool.PoolKey, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s expected version %d", ErrVersionConflict, pool.PoolKey, prevVersion)
	}
	return nil
}

func insertEvents(ctx context.Context, q querier, events []model.PoolEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal pool event: %w", err)
		}
		batch.Queue(`
			INSERT INTO amm_pool_events (pool_key, kind, actor, version, payload, created_at)
			VALUES ($1, $2, $3, ($4::text)::numeric, $5, now())
		`,
			event.PoolKey,
			event.Kind,
			event.Actor,
			strconv.FormatUint(event.Version, 10),
			payload,
		)
	}

	br := q.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func poolArgs(pool model.Pool) []any {
	return []any{
		pool.PoolKey,
		pool.AssetA,
		pool.AssetB,
		pool.ShareToken,
		pool.VaultA,
		pool.VaultB,
		pool.Authority,
		strconv.FormatUint(pool.ReserveA, 10),
		strconv.FormatUint(pool.ReserveB, 10),
		strconv.FormatUint(pool.ShareSupply, 10),
		int32(pool.FeeBps),
		pool.Initialized,
		strconv.FormatUint(pool.Version, 10),
	}
}

func scanPool(row pgx.Row) (model.Pool, error) {
	var (
		pool                                model.Pool
		reserveA, reserveB, supply, version string
		feeBps                              int32
	)
	err := row.Scan(
		&pool.PoolKey,
		&pool.AssetA,
		&pool.AssetB,
		&pool.ShareToken,
		&pool.VaultA,
		&pool.VaultB,
		&pool.Authority,
		&reserveA,
		&reserveB,
		&supply,
		&feeBps,
		&pool.Initialized,
		&version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Pool{}, err
		}
		return model.Pool{}, fmt.Errorf("scan pool: %w", err)
	}

	fields := []struct {
		raw string
		dst *uint64
	}{
		{reserveA, &pool.ReserveA},
		{reserveB, &pool.ReserveB},
		{supply, &pool.ShareSupply},
		{version, &pool.Version},
	}
	for _, f := range fields {
		v, err := strconv.ParseUint(f.raw, 10, 64)
		if err != nil {
			return model.Pool{}, fmt.Errorf("pool %s: parse %q: %w", pool.PoolKey, f.raw, err)
		}
		*f.dst = v
	}
	if feeBps < 0 || feeBps > 10_000 {
		return model.Pool{}, fmt.Errorf("pool %s: fee_bps %d out of range", pool.PoolKey, feeBps)
	}
	pool.FeeBps = uint16(feeBps)
	return pool, nil
}
