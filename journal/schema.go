// journal/schema.go
package journal

// Times are UTC unix nanoseconds; decimals are canonical strings so no
// precision is lost to REAL columns.
const Schema = `
CREATE TABLE IF NOT EXISTS transactions (
	seq INTEGER PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	account TEXT NOT NULL DEFAULT '',
	instrument TEXT NOT NULL,
	quantity TEXT NOT NULL,
	price TEXT NOT NULL,
	time INTEGER NOT NULL,
	state TEXT NOT NULL,
	revision INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_transactions_instrument_time ON transactions(instrument, time);

CREATE TABLE IF NOT EXISTS conflicts (
	id TEXT PRIMARY KEY,
	remote_account TEXT NOT NULL DEFAULT '',
	remote_instrument TEXT NOT NULL,
	remote_quantity TEXT NOT NULL,
	remote_price TEXT NOT NULL,
	remote_time INTEGER NOT NULL,
	remote_revision INTEGER NOT NULL DEFAULT 0,
	reason TEXT NOT NULL DEFAULT '',
	detected INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS prices (
	instrument TEXT NOT NULL,
	time INTEGER NOT NULL,
	price TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	ingested INTEGER NOT NULL,
	PRIMARY KEY (instrument, time)
);

CREATE TABLE IF NOT EXISTS purged (
	id TEXT PRIMARY KEY,
	revision INTEGER NOT NULL DEFAULT 0,
	purged INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS cursors (
	collection TEXT PRIMARY KEY,
	revision INTEGER NOT NULL,
	updated INTEGER NOT NULL
);
`

// migrations bring stores created by older builds up to Schema.
var migrations = []struct {
	table, column, ddl string
}{
	{"conflicts", "reason", `ALTER TABLE conflicts ADD COLUMN reason TEXT NOT NULL DEFAULT ''`},
}
