package journal

const Schema = `
CREATE TABLE IF NOT EXISTS trades (
	trade_id TEXT PRIMARY KEY,
	instrument TEXT NOT NULL,
	direction TEXT NOT NULL,
	size REAL NOT NULL,
	entry_price REAL NOT NULL,
	exit_price REAL NOT NULL,
	open_time DATETIME NOT NULL,
	close_time DATETIME NOT NULL,
	realized_pl REAL NOT NULL,
	reason TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_close_time ON trades(close_time);

CREATE TABLE IF NOT EXISTS equity (
	time DATETIME NOT NULL,
	balance REAL NOT NULL,
	equity REAL NOT NULL,
	margin_used REAL NOT NULL,
	free_margin REAL NOT NULL,
	utilisation REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_equity_time ON equity(time);

CREATE TABLE IF NOT EXISTS reconciliations (
	pass_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	time DATETIME NOT NULL,
	instrument TEXT NOT NULL,
	discrepancy TEXT NOT NULL,
	journal_direction TEXT NOT NULL,
	journal_size REAL NOT NULL,
	broker_direction TEXT NOT NULL,
	broker_size REAL NOT NULL,
	broker_deal_id TEXT NOT NULL,
	message TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reconciliations_pass ON reconciliations(pass_id);
`
