package store

import "fmt"

// Schema is applied on every Open so any worker can provision a fresh
// database. Statements are idempotent; there is no migration framework
// because a single host owns the file.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS decisions (
		decision_id      TEXT PRIMARY KEY,
		signal_id        TEXT NOT NULL,
		correlation_id   TEXT NOT NULL,
		policy_version   TEXT NOT NULL,
		result           TEXT NOT NULL,
		stage            TEXT NOT NULL,
		reason_code      TEXT,
		reason           TEXT,
		gate_failed      INTEGER NOT NULL DEFAULT 0,
		gate_failed_name TEXT,
		hard_gate        INTEGER NOT NULL DEFAULT 0,
		fast_track       INTEGER NOT NULL DEFAULT 0,
		mode             TEXT NOT NULL,
		packet_json      TEXT,
		stage_millis     TEXT,
		created_at       INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_decisions_signal ON decisions(signal_id)`,
	`CREATE INDEX IF NOT EXISTS idx_decisions_created ON decisions(created_at)`,

	`CREATE TABLE IF NOT EXISTS positions (
		position_id      TEXT PRIMARY KEY,
		decision_id      TEXT NOT NULL UNIQUE,
		symbol           TEXT NOT NULL,
		token            TEXT NOT NULL,
		chain            TEXT,
		tier             TEXT,
		strategy_id      TEXT,
		regime_tag       TEXT,
		status           TEXT NOT NULL,
		side             TEXT NOT NULL,
		entry_price      TEXT NOT NULL,
		size             TEXT NOT NULL,
		notional_usd     TEXT,
		stop_loss_pct    REAL NOT NULL DEFAULT 0,
		take_profit_pct  REAL NOT NULL DEFAULT 0,
		entry_volume_24h TEXT,
		exit_price       TEXT,
		exit_reason      TEXT,
		gross_pnl_usd    TEXT,
		fee_usd          TEXT,
		net_pnl_usd      TEXT,
		risk_flag        TEXT,
		async_done       INTEGER NOT NULL DEFAULT 0,
		async_json       TEXT,
		mode             TEXT NOT NULL,
		opened_at        INTEGER NOT NULL,
		closed_at        INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status)`,
	`CREATE INDEX IF NOT EXISTS idx_positions_token ON positions(token)`,

	`CREATE TABLE IF NOT EXISTS async_tasks (
		task_id    TEXT PRIMARY KEY,
		task_type  TEXT NOT NULL,
		entity_id  TEXT NOT NULL,
		status     TEXT NOT NULL,
		attempts   INTEGER NOT NULL DEFAULT 0,
		next_run_at INTEGER NOT NULL,
		last_error TEXT,
		payload    TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_status_next ON async_tasks(status, next_run_at)`,

	`CREATE TABLE IF NOT EXISTS orders (
		client_order_id   TEXT PRIMARY KEY,
		exchange_order_id TEXT,
		position_id       TEXT,
		correlation_id    TEXT,
		strategy_id       TEXT,
		symbol            TEXT NOT NULL,
		side              TEXT NOT NULL,
		order_type        TEXT NOT NULL,
		time_in_force     TEXT,
		price             TEXT,
		quantity          TEXT NOT NULL,
		filled_quantity   TEXT NOT NULL DEFAULT '0',
		avg_fill_price    TEXT NOT NULL DEFAULT '0',
		fee_usd           TEXT NOT NULL DEFAULT '0',
		state             TEXT NOT NULL,
		retries           INTEGER NOT NULL DEFAULT 0,
		paper             INTEGER NOT NULL DEFAULT 0,
		venue             TEXT,
		last_error        TEXT,
		created_at        INTEGER NOT NULL,
		updated_at        INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_position ON orders(position_id)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_state ON orders(state)`,

	`CREATE TABLE IF NOT EXISTS order_fills (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		client_order_id TEXT NOT NULL,
		price           TEXT NOT NULL,
		quantity        TEXT NOT NULL,
		fee_usd         TEXT NOT NULL,
		filled_at       INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fills_order ON order_fills(client_order_id)`,

	`CREATE TABLE IF NOT EXISTS bandit_stats (
		strategy_id TEXT NOT NULL,
		regime_tag  TEXT NOT NULL,
		alpha       REAL NOT NULL DEFAULT 1,
		beta        REAL NOT NULL DEFAULT 1,
		trials      INTEGER NOT NULL DEFAULT 0,
		updated_at  INTEGER NOT NULL,
		PRIMARY KEY (strategy_id, regime_tag)
	)`,

	`CREATE TABLE IF NOT EXISTS source_ucb (
		source_id  TEXT PRIMARY KEY,
		pulls      INTEGER NOT NULL DEFAULT 0,
		reward_sum REAL NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS trade_history (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		position_id  TEXT NOT NULL,
		symbol       TEXT NOT NULL,
		token        TEXT NOT NULL,
		strategy_id  TEXT,
		regime_tag   TEXT,
		side         TEXT NOT NULL,
		entry_price  TEXT NOT NULL,
		exit_price   TEXT NOT NULL,
		size         TEXT NOT NULL,
		gross_pnl_usd TEXT NOT NULL,
		fee_usd      TEXT NOT NULL,
		net_pnl_usd  TEXT NOT NULL,
		exit_reason  TEXT NOT NULL,
		hold_seconds INTEGER NOT NULL,
		mode         TEXT NOT NULL,
		closed_at    INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_closed ON trade_history(closed_at)`,

	`CREATE TABLE IF NOT EXISTS spend_ledger (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		day        TEXT NOT NULL,
		month      TEXT NOT NULL,
		stage      TEXT NOT NULL,
		model      TEXT NOT NULL,
		cost_usd   REAL NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_spend_day ON spend_ledger(day)`,
	`CREATE INDEX IF NOT EXISTS idx_spend_month ON spend_ledger(month)`,

	`CREATE TABLE IF NOT EXISTS price_cache (
		symbol     TEXT PRIMARY KEY,
		price      TEXT NOT NULL,
		volume_24h TEXT,
		updated_at INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS price_history (
		id     INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		price  TEXT NOT NULL,
		ts     INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_price_history ON price_history(symbol, ts)`,

	`CREATE TABLE IF NOT EXISTS high_water_marks (
		position_id TEXT PRIMARY KEY,
		high_price  TEXT NOT NULL,
		updated_at  INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS router_state (
		day        TEXT PRIMARY KEY,
		run_count  INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS processed_signals (
		signal_id  TEXT NOT NULL,
		day        TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (signal_id, day)
	)`,

	`CREATE TABLE IF NOT EXISTS token_cooldowns (
		token      TEXT NOT NULL,
		kind       TEXT NOT NULL,
		until      INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (token, kind)
	)`,

	`CREATE TABLE IF NOT EXISTS portfolio (
		id              INTEGER PRIMARY KEY CHECK (id = 1),
		balance_usd     TEXT NOT NULL,
		equity_usd      TEXT NOT NULL,
		peak_equity_usd TEXT NOT NULL,
		daily_pnl_usd   TEXT NOT NULL,
		daily_pnl_day   TEXT NOT NULL,
		total_pnl_usd   TEXT NOT NULL,
		updated_at      INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS reconciliation (
		id          INTEGER PRIMARY KEY CHECK (id = 1),
		last_run_at INTEGER NOT NULL,
		mismatch    INTEGER NOT NULL DEFAULT 0,
		detail      TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS exit_signals (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		token      TEXT NOT NULL,
		source     TEXT NOT NULL,
		urgency    TEXT NOT NULL,
		reason     TEXT,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_exit_signals ON exit_signals(token, created_at)`,

	`CREATE TABLE IF NOT EXISTS execution_quality (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		position_id       TEXT NOT NULL,
		estimated_slip_bps INTEGER NOT NULL,
		realized_slip_bps INTEGER NOT NULL,
		submit_to_fill_ms INTEGER NOT NULL,
		partial_fills     INTEGER NOT NULL DEFAULT 0,
		recorded_at       INTEGER NOT NULL
	)`,
}

func (s *Store) migrate() error {
	for _, stmt := range schema {
		if _, err := s.writer.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
