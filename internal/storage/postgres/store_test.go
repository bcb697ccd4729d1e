package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"swapCore/internal/model"
)

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch ptr := d.(type) {
		case *string:
			*ptr = r.values[i].(string)
		case *int32:
			*ptr = r.values[i].(int32)
		case *bool:
			*ptr = r.values[i].(bool)
		}
	}
	return nil
}

func poolRow(reserveA string, fee int32) fakeRow {
	return fakeRow{values: []any{
		"0x01", "0xaa", "0xbb", "0xcc", "0xd1", "0xd2", "0xee",
		reserveA, "2000000", "18446744073709551615", fee, true, "7",
	}}
}

func TestScanPoolParsesNumericText(t *testing.T) {
	pool, err := scanPool(poolRow("1000000", 30))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if pool.ReserveA != 1_000_000 || pool.ReserveB != 2_000_000 {
		t.Fatalf("reserves mismatch: %+v", pool)
	}
	if pool.ShareSupply != ^uint64(0) {
		t.Fatalf("max u64 should survive numeric storage, got %d", pool.ShareSupply)
	}
	if pool.FeeBps != 30 || pool.Version != 7 || !pool.Initialized {
		t.Fatalf("fields mismatch: %+v", pool)
	}
}

func TestScanPoolRejectsBadValues(t *testing.T) {
	if _, err := scanPool(poolRow("-1", 30)); err == nil {
		t.Fatalf("expected parse error for negative reserve")
	}
	if _, err := scanPool(poolRow("1", 10_001)); err == nil {
		t.Fatalf("expected fee range error")
	}
	if _, err := scanPool(fakeRow{err: pgx.ErrNoRows}); !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("expected ErrNoRows, got %v", err)
	}
}

func TestPoolArgsMatchUpsertPlaceholders(t *testing.T) {
	args := poolArgs(model.Pool{ReserveA: ^uint64(0), FeeBps: 30, Version: 3})
	if len(args) != 13 {
		t.Fatalf("expected 13 args, got %d", len(args))
	}
	if !strings.Contains(upsertPoolSQL, "$13") || strings.Contains(upsertPoolSQL, "$14") {
		t.Fatalf("upsert placeholders out of sync with poolArgs")
	}
	if args[7] != "18446744073709551615" {
		t.Fatalf("reserve_a should be passed as decimal text, got %v", args[7])
	}
}

// versionTable tracks amm_pools versions the way the conflict clauses of the
// pool statements do.
type versionTable struct {
	versions map[string]uint64
	sql      []string
}

func (v *versionTable) apply(sql string, args []any) int64 {
	v.sql = append(v.sql, sql)
	key := args[0].(string)
	next, _ := strconv.ParseUint(args[12].(string), 10, 64)

	stored, exists := v.versions[key]
	switch {
	case !exists:
	case strings.Contains(sql, "amm_pools.version < EXCLUDED.version"):
		if stored >= next {
			return 0
		}
	case strings.Contains(sql, "amm_pools.version = ($14::text)::numeric"):
		prev, _ := strconv.ParseUint(args[13].(string), 10, 64)
		if stored != prev {
			return 0
		}
	}
	v.versions[key] = next
	return 1
}

func (v *versionTable) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(fmt.Sprintf("INSERT 0 %d", v.apply(sql, args))), nil
}

func (v *versionTable) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not supported")
}

func (v *versionTable) QueryRow(context.Context, string, ...any) pgx.Row {
	return fakeRow{err: errors.New("not supported")}
}

func (v *versionTable) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	results := &batchResults{}
	for _, q := range b.QueuedQueries {
		results.tags = append(results.tags, pgconn.NewCommandTag(fmt.Sprintf("INSERT 0 %d", v.apply(q.SQL, q.Arguments))))
	}
	return results
}

type batchResults struct {
	tags []pgconn.CommandTag
	next int
}

func (b *batchResults) Exec() (pgconn.CommandTag, error) {
	if b.next >= len(b.tags) {
		return pgconn.CommandTag{}, errors.New("no more results")
	}
	tag := b.tags[b.next]
	b.next++
	return tag, nil
}

func (b *batchResults) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }
func (b *batchResults) QueryRow() pgx.Row         { return fakeRow{err: errors.New("not supported")} }
func (b *batchResults) Close() error              { return nil }

func TestUpsertPoolsNeverMovesVersionBack(t *testing.T) {
	ctx := context.Background()
	table := &versionTable{versions: make(map[string]uint64)}

	if err := commitPool(ctx, table, model.Pool{PoolKey: "0x01", Version: 1}, 0); err != nil {
		t.Fatalf("commit v1: %v", err)
	}
	if err := commitPool(ctx, table, model.Pool{PoolKey: "0x01", Version: 2}, 1); err != nil {
		t.Fatalf("commit v2: %v", err)
	}

	stale := []model.Pool{{PoolKey: "0x01", Version: 1}, {PoolKey: "0x02", Version: 5}}
	if err := upsertPools(ctx, table, stale); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if table.versions["0x01"] != 2 {
		t.Fatalf("stale upsert lowered version to %d", table.versions["0x01"])
	}
	if table.versions["0x02"] != 5 {
		t.Fatalf("missing pool should be inserted, got %d", table.versions["0x02"])
	}

	if err := upsertPools(ctx, table, []model.Pool{{PoolKey: "0x01", Version: 3}}); err != nil {
		t.Fatalf("upsert newer: %v", err)
	}
	if table.versions["0x01"] != 3 {
		t.Fatalf("newer upsert should advance version, got %d", table.versions["0x01"])
	}
}

func TestCommitPoolVersionConflict(t *testing.T) {
	ctx := context.Background()
	table := &versionTable{versions: map[string]uint64{"0x01": 2}}

	err := commitPool(ctx, table, model.Pool{PoolKey: "0x01", Version: 2}, 1)
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	if table.versions["0x01"] != 2 {
		t.Fatalf("conflicting commit changed version to %d", table.versions["0x01"])
	}
}

func TestPoolUpdateKeepsFee(t *testing.T) {
	update := upsertPoolSQL[strings.Index(upsertPoolSQL, "DO UPDATE SET"):]
	if strings.Contains(update, "fee_bps") {
		t.Fatalf("fee is fixed at creation and must not be updated: %s", update)
	}
}
