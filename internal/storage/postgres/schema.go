package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS amm_pools (
	pool_key     TEXT PRIMARY KEY,
	asset_a      TEXT NOT NULL,
	asset_b      TEXT NOT NULL,
	share_token  TEXT NOT NULL,
	vault_a      TEXT NOT NULL,
	vault_b      TEXT NOT NULL,
	authority    TEXT NOT NULL,
	reserve_a    NUMERIC(20, 0) NOT NULL,
	reserve_b    NUMERIC(20, 0) NOT NULL,
	share_supply NUMERIC(20, 0) NOT NULL,
	fee_bps      INTEGER NOT NULL CHECK (fee_bps BETWEEN 0 AND 10000),
	initialized  BOOLEAN NOT NULL,
	version      NUMERIC(20, 0) NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS amm_pool_events (
	id         BIGSERIAL PRIMARY KEY,
	pool_key   TEXT NOT NULL,
	kind       TEXT NOT NULL,
	actor      TEXT NOT NULL,
	version    NUMERIC(20, 0) NOT NULL,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS amm_pool_events_pool_key_idx ON amm_pool_events (pool_key, version);
`

const upsertPoolSQL = `
	INSERT INTO amm_pools (
		pool_key, asset_a, asset_b, share_token, vault_a, vault_b, authority,
		reserve_a, reserve_b, share_supply, fee_bps, initialized, version, created_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7,
		($8::text)::numeric, ($9::text)::numeric, ($10::text)::numeric, $11, $12, ($13::text)::numeric, now(), now()
	)
	ON CONFLICT (pool_key)
	DO UPDATE SET
		reserve_a = EXCLUDED.reserve_a,
		reserve_b = EXCLUDED.reserve_b,
		share_supply = EXCLUDED.share_supply,
		initialized = EXCLUDED.initialized,
		version = EXCLUDED.version,
		updated_at = now()
`

// syncPoolSQL inserts missing pools and only replaces rows that are behind.
const syncPoolSQL = upsertPoolSQL + `	WHERE amm_pools.version < EXCLUDED.version
`

// commitPoolSQL writes a pool only over the version the caller read.
const commitPoolSQL = upsertPoolSQL + `	WHERE amm_pools.version = ($14::text)::numeric
`

const selectPoolSQL = `
	SELECT pool_key, asset_a, asset_b, share_token, vault_a, vault_b, authority,
		reserve_a::text, reserve_b::text, share_supply::text, fee_bps, initialized, version::text
	FROM amm_pools
`
