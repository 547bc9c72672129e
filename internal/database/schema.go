package database

// Embedded schemas keyed by database name. Embedding the SQL keeps tests and
// deployments free of fixture directories; every statement is idempotent.
var schemas = map[string]string{
	"ledger": ledgerSchema,
	"state":  stateSchema,
	"cache":  cacheSchema,
}

// ledgerSchema is the immutable financial audit trail: executed trades.
const ledgerSchema = `
CREATE TABLE IF NOT EXISTS trades (
    id            TEXT PRIMARY KEY,
    session_id    TEXT NOT NULL DEFAULT '',
    asset_id      TEXT NOT NULL,
    side          TEXT NOT NULL CHECK (side IN ('buy', 'sell')),
    order_type    TEXT NOT NULL DEFAULT 'limit',
    req_price     REAL NOT NULL,
    exec_price    REAL NOT NULL DEFAULT 0,
    req_quantity  REAL NOT NULL,
    exec_quantity REAL NOT NULL DEFAULT 0,
    fee           REAL NOT NULL DEFAULT 0,
    total         REAL NOT NULL DEFAULT 0,
    state         TEXT NOT NULL,
    order_id      TEXT NOT NULL DEFAULT '',
    executed_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_trades_asset ON trades(asset_id);
CREATE INDEX IF NOT EXISTS idx_trades_executed_at ON trades(executed_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_order_id ON trades(order_id) WHERE order_id != '';
`

// stateSchema holds current mutable state: positions, sessions, the trade
// queue, the watch list and the holiday table.
const stateSchema = `
CREATE TABLE IF NOT EXISTS positions (
    asset_id      TEXT PRIMARY KEY,
    name          TEXT NOT NULL DEFAULT '',
    market        TEXT NOT NULL DEFAULT 'stock',
    quantity      REAL NOT NULL CHECK (quantity > 0),
    avg_cost      REAL NOT NULL,
    current_price REAL NOT NULL DEFAULT 0,
    stop_loss     REAL NOT NULL DEFAULT 0,
    take_profit   REAL NOT NULL DEFAULT 0,
    stop_mode     TEXT NOT NULL DEFAULT 'user_approval',
    status        TEXT NOT NULL DEFAULT 'filled',
    risk_score    REAL NOT NULL DEFAULT 0,
    session_id    TEXT NOT NULL DEFAULT '',
    opened_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sessions (
    id               TEXT PRIMARY KEY,
    asset_id         TEXT NOT NULL,
    market           TEXT NOT NULL DEFAULT 'stock',
    stage            TEXT NOT NULL,
    approval         TEXT NOT NULL DEFAULT '',
    reanalysis_count INTEGER NOT NULL DEFAULT 0,
    error            TEXT NOT NULL DEFAULT '',
    payload          BLOB,
    created_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_sessions_asset ON sessions(asset_id);

CREATE TABLE IF NOT EXISTS queued_trades (
    id           TEXT PRIMARY KEY,
    status       TEXT NOT NULL DEFAULT 'pending',
    reason       TEXT NOT NULL DEFAULT '',
    payload      BLOB NOT NULL,
    queued_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    processed_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_queued_status ON queued_trades(status, queued_at);

CREATE TABLE IF NOT EXISTS watched_assets (
    asset_id      TEXT PRIMARY KEY,
    name          TEXT NOT NULL DEFAULT '',
    market        TEXT NOT NULL DEFAULT 'stock',
    signal        TEXT NOT NULL,
    confidence    REAL NOT NULL DEFAULT 0,
    current_price REAL NOT NULL DEFAULT 0,
    target_entry  REAL NOT NULL DEFAULT 0,
    stop_loss     REAL NOT NULL DEFAULT 0,
    take_profit   REAL NOT NULL DEFAULT 0,
    summary       TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL DEFAULT 'active',
    added_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS holidays (
    date        TEXT PRIMARY KEY,
    day_of_week TEXT NOT NULL DEFAULT '',
    name        TEXT NOT NULL DEFAULT '',
    year        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_holidays_year ON holidays(year);
`

// cacheSchema backs the L3 cache tier; values are msgpack blobs.
const cacheSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
    key        TEXT PRIMARY KEY,
    value      BLOB NOT NULL,
    expires_at INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache_entries(expires_at);
`
